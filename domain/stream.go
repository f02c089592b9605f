package domain

import (
	"encoding/json"
	"time"
)

// Stream is the persisted record of one streaming request.
type Stream struct {
	StreamID   string          `json:"stream_id"`
	DocumentID string          `json:"document_id"`
	Model      string          `json:"model"`
	Status     StreamStatus    `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// StreamMessage is an archived conversation message tied to a stream. Content
// is flattened to plain text for the transcript; image parts are dropped.
type StreamMessage struct {
	MessageID string    `json:"message_id"`
	StreamID  string    `json:"stream_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one entry on a stream's timeline.
type Event struct {
	EventID  string          `json:"event_id"`
	StreamID string          `json:"stream_id"`
	Ts       int64           `json:"ts"`
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
