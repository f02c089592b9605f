package domain

// StartStreamRequest represents the request to start a streaming completion
// into a document.
type StartStreamRequest struct {
	DocumentID  string       `json:"document_id"`
	Position    int          `json:"position"`
	Messages    Conversation `json:"messages"`
	Model       string       `json:"model,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
}

// StartStreamResponse represents the response from starting a stream.
type StartStreamResponse struct {
	StreamID   string `json:"stream_id"`
	DocumentID string `json:"document_id"`
}

// EditRequest mirrors a user edit into a hosted document. Op is "insert" or
// "delete"; Text is required for inserts, Length for deletes.
type EditRequest struct {
	Op       string `json:"op"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// CancelIntentRequest reports one user gesture toward the escalation counter.
type CancelIntentRequest struct {
	Cancel bool `json:"cancel"`
}

// CancelIntentResponse reports escalation progress after a gesture.
type CancelIntentResponse struct {
	Count     int  `json:"count"`
	Remaining int  `json:"remaining"`
	Aborted   bool `json:"aborted"`
}

// ImageRequest represents the request to generate images from a prompt.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n,omitempty"`
}

// ImageResponse carries the generated image URLs or base64 payloads.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageData is one generated image.
type ImageData struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

// VisionRequest represents the request to describe an attached image.
type VisionRequest struct {
	Prompt   string `json:"prompt,omitempty"`
	ImageURL string `json:"image_url"`
	Model    string `json:"model,omitempty"`
}

// VisionResponse carries the model's description of the image.
type VisionResponse struct {
	Description string `json:"description"`
	Model       string `json:"model"`
}
