package domain

// StreamStartedPayload is the payload for stream_started event.
type StreamStartedPayload struct {
	DocumentID string `json:"document_id"`
	Model      string `json:"model"`
	Position   int    `json:"position"`
}

// StreamDeltaPayload is the payload for stream_delta event.
type StreamDeltaPayload struct {
	Text string `json:"text"`
}

// StreamDonePayload is the payload for stream_done event. Start and End give
// the final inserted interval in the document.
type StreamDonePayload struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text,omitempty"`
}

// StreamFailedPayload is the payload for stream_failed event.
type StreamFailedPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Type    string    `json:"type,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// StreamAbortedPayload is the payload for stream_aborted event.
type StreamAbortedPayload struct {
	Reason string `json:"reason"`
}
