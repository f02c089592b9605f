package domain

// StreamStatus tracks the lifecycle of a streaming session.
type StreamStatus string

const (
	StreamStatusPending    StreamStatus = "PENDING"
	StreamStatusStreaming  StreamStatus = "STREAMING"
	StreamStatusCompleting StreamStatus = "COMPLETING"
	StreamStatusDone       StreamStatus = "DONE"
	StreamStatusAborting   StreamStatus = "ABORTING"
	StreamStatusAborted    StreamStatus = "ABORTED"
	StreamStatusErroring   StreamStatus = "ERRORING"
	StreamStatusFailed     StreamStatus = "FAILED"
)

// Terminal reports whether the status is final. A terminal stream accepts no
// further deltas and cannot be aborted again.
func (s StreamStatus) Terminal() bool {
	switch s {
	case StreamStatusDone, StreamStatusAborted, StreamStatusFailed:
		return true
	}
	return false
}

// EventType identifies entries on a stream's event timeline.
type EventType string

const (
	EventTypeStreamStarted EventType = "stream_started"
	EventTypeStreamDelta   EventType = "stream_delta"
	EventTypeStreamDone    EventType = "stream_done"
	EventTypeStreamFailed  EventType = "stream_failed"
	EventTypeStreamAborted EventType = "stream_aborted"
)
