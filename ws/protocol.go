// Package ws provides the WebSocket surface for editor clients: a document
// mirror protocol plus the stream lifecycle events.
package ws

import "github.com/KarimAziev/elfai/domain"

// Message types from client to daemon
const (
	TypeHello        = "hello"
	TypeStartStream  = "start_stream"
	TypeEdit         = "edit"
	TypeCancelIntent = "cancel_intent"
	TypeAbortStream  = "abort_stream"
)

// Message types from daemon to client
const (
	TypeHelloAck      = "hello_ack"
	TypeStreamStarted = "stream_started"
	TypeDocEdit       = "doc_edit"
	TypeStreamDelta   = "stream_delta"
	TypeStatus        = "status"
	TypeDone          = "done"
	TypeStreamFailed  = "stream_failed"
	TypeAborted       = "aborted"
	TypeCancelState   = "cancel_state"
	TypeError         = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type       string `json:"type"`
	Ts         int64  `json:"ts"`
	RequestID  string `json:"request_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	StreamID   string `json:"stream_id,omitempty"`
}

// HelloMessage is sent by the client to bind to a document. An empty
// document_id asks the daemon to create a fresh one.
type HelloMessage struct {
	BaseMessage
	APIKey     string            `json:"api_key,omitempty"`
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckMessage carries the initial document mirror.
type HelloAckMessage struct {
	BaseMessage
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// StartStreamMessage asks the daemon to stream a completion into the bound
// document at the given position.
type StartStreamMessage struct {
	BaseMessage
	Position    int                 `json:"position"`
	Messages    domain.Conversation `json:"messages"`
	Model       string              `json:"model,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

// EditMessage applies a user edit to the bound document.
type EditMessage struct {
	BaseMessage
	Op       string `json:"op"` // "insert" or "delete"
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// CancelIntentMessage reports one user gesture; cancel=true is a cancel
// keypress, false is any other activity.
type CancelIntentMessage struct {
	BaseMessage
	Cancel bool `json:"cancel"`
}

// AbortStreamMessage aborts a single stream by id.
type AbortStreamMessage struct {
	BaseMessage
}

// DocEditMessage mirrors one document edit to subscribers.
type DocEditMessage struct {
	BaseMessage
	Kind     string `json:"kind"` // "insert" or "delete"
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
	Version  int64  `json:"version"`
}

// StreamDeltaMessage marks the interval one streamed fragment occupies. The
// text itself travels in the doc_edit message.
type StreamDeltaMessage struct {
	BaseMessage
	Start int `json:"start"`
	End   int `json:"end"`
}

// StatusMessage carries human-readable progress and warnings.
type StatusMessage struct {
	BaseMessage
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DoneMessage reports that a stream completed and its output stayed in the
// document. Start and end delimit the full inserted interval.
type DoneMessage struct {
	BaseMessage
	Start int `json:"start"`
	End   int `json:"end"`
}

// StreamFailedMessage reports a terminal stream failure. The partial output
// has already been rolled back when this arrives.
type StreamFailedMessage struct {
	BaseMessage
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
	Code      string `json:"code,omitempty"`
}

// AbortedMessage reports a user-initiated stream teardown.
type AbortedMessage struct {
	BaseMessage
}

// CancelStateMessage answers a cancel_intent gesture with the counter state.
type CancelStateMessage struct {
	BaseMessage
	Count     int  `json:"count"`
	Remaining int  `json:"remaining"`
	Aborted   bool `json:"aborted"`
}

// ErrorMessage is sent by the daemon when a request cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeUnauthorized     = "unauthorized"
	ErrorCodeDocumentRequired = "document_required"
	ErrorCodeStreamFail       = "stream_fail"
	ErrorCodeEditFail         = "edit_fail"
)
