package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/sse"
)

// ResponseTag is the provenance tag attached to every span of streamed model
// output.
const ResponseTag = "elfai-response"

// Severity levels passed to status callbacks.
const (
	StatusInfo  = "info"
	StatusWarn  = "warn"
	StatusError = "error"
)

// Callbacks are the per-stream hooks exposed to collaborators. All hooks run
// synchronously on the session's goroutine (or on the aborting caller's),
// once per triggering event. Nil hooks are skipped.
type Callbacks struct {
	// OnRegistered fires with the assigned stream id after the session is
	// registered and strictly before any other hook can run.
	OnRegistered func(streamID string)
	// OnFinal fires exactly once when the stream completes normally, with
	// the interval the full response occupies in the document.
	OnFinal func(r document.Range)
	// OnError fires once with the failure detail. Not invoked for user
	// aborts.
	OnError func(err *domain.StreamError)
	// OnContentInserted fires after each delta insertion with the interval
	// the fragment occupies.
	OnContentInserted func(r document.Range)
	// OnStatusChange carries human-readable progress and warnings.
	OnStatusChange func(message, severity string)
}

// Session is one in-flight streaming request: the association between a
// transport connection, a target document position, cancellation state and
// completion callbacks. State transitions are driven by the reader goroutine
// and by abort calls; a mutex serializes the two so an abort never races a
// half-applied insertion.
type Session struct {
	id        string
	doc       *document.Document
	model     string
	startedAt time.Time
	engine    *Engine
	cb        Callbacks
	scanner   *sse.Scanner

	mu        sync.Mutex
	status    domain.StreamStatus
	isDone    bool
	insertion *document.Marker
	tracking  *document.Marker
	body      io.ReadCloser
	cancel    context.CancelFunc

	closeOnce sync.Once
}

// ID returns the stream id.
func (s *Session) ID() string { return s.id }

// DocumentID returns the id of the target document.
func (s *Session) DocumentID() string { return s.doc.ID() }

// Model returns the model the stream was opened with.
func (s *Session) Model() string { return s.model }

// StartedAt returns when the stream was issued.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Status returns the current lifecycle status.
func (s *Session) Status() domain.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// run opens the transport and drives the stream to a terminal state. Runs on
// its own goroutine, one per session; chunk processing and insertion happen
// strictly in arrival order.
func (s *Session) run(ctx context.Context, req *openai.ChatCompletionRequest) {
	body, err := s.engine.transport.OpenStream(ctx, req)
	if err != nil {
		s.fail(asStreamError(err))
		return
	}

	if !s.beginStreaming(body) {
		// Aborted while connecting; nothing was registered as live
		// transport yet, so close it here.
		body.Close()
		return
	}

	if err := s.engine.store.UpdateStreamStatus(context.Background(), s.id, domain.StreamStatusStreaming); err != nil {
		log.Printf("ERROR: failed to update stream status: %v", err)
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if serr := s.consume(buf[:n]); serr != nil {
				s.fail(serr)
				return
			}
			if s.scanner.Done() {
				s.complete()
				return
			}
		}
		if err != nil {
			s.finishRead(err)
			return
		}
	}
}

// beginStreaming records the live transport and moves Pending to Streaming.
// Returns false if an abort won the race while the connection was opening.
func (s *Session) beginStreaming(body io.ReadCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != domain.StreamStatusPending {
		return false
	}
	s.status = domain.StreamStatusStreaming
	s.body = body
	return true
}

// consume feeds one transport delivery through the parser and applies the
// complete payloads it yields, in order. On an error payload it stops
// immediately; the remaining lines of the delivery are not interpreted.
func (s *Session) consume(p []byte) *domain.StreamError {
	s.scanner.Feed(p)
	for {
		payload, ok := s.scanner.Next()
		if !ok {
			return nil
		}
		chunk, err := openai.ParseChunk(payload)
		if err != nil {
			return domain.NewParseError(err)
		}
		if chunk.Error != nil {
			return chunk.Error.StreamError()
		}
		if text := chunk.DeltaText(); text != "" {
			if !s.insertDelta(text) {
				// The session stopped streaming under us; the read loop
				// will observe the closed transport and exit.
				return nil
			}
		}
	}
}

// insertDelta appends one fragment at the tracking position. The tracking
// marker is materialized on the first fragment, at the insertion marker's
// current offset, with right gravity so repeated insertions append rather
// than prepend. Insertion is atomic with the status check, so a concurrent
// abort can never interleave between rollback and a late fragment.
func (s *Session) insertDelta(text string) bool {
	s.mu.Lock()
	if s.status != domain.StreamStatusStreaming {
		s.mu.Unlock()
		return false
	}
	if s.tracking == nil {
		m, err := s.doc.NewMarkerAt(s.insertion, document.GravityRight)
		if err != nil {
			s.mu.Unlock()
			log.Printf("ERROR: failed to create tracking marker for %s: %v", s.id, err)
			return false
		}
		s.tracking = m
	}
	r, err := s.doc.InsertAt(s.tracking, text, ResponseTag)
	s.mu.Unlock()
	if err != nil {
		log.Printf("ERROR: failed to insert delta for %s: %v", s.id, err)
		return false
	}

	if err := s.engine.recordEvent(s.id, domain.EventTypeStreamDelta, domain.StreamDeltaPayload{Text: text}); err != nil {
		log.Printf("ERROR: failed to record stream_delta event: %v", err)
	}
	if s.cb.OnContentInserted != nil {
		s.cb.OnContentInserted(r)
	}
	return true
}

// finishRead resolves the end of the transport read loop.
func (s *Session) finishRead(err error) {
	if errors.Is(err, io.EOF) {
		if s.scanner.Done() {
			s.complete()
			return
		}
		// The connection ended without the completion sentinel.
		s.fail(domain.NewTransportError(errors.New("stream closed before completion sentinel")))
		return
	}
	if s.stopped() {
		// Read failed because an abort tore the transport down.
		return
	}
	s.fail(domain.NewTransportError(err))
}

// complete finalizes a successful stream: compute the inserted interval,
// fire the final callback, record the result, then go terminal. The isDone
// guard makes this run at most once even if a sentinel and a connection
// close both arrive.
func (s *Session) complete() {
	s.mu.Lock()
	if s.isDone || s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.isDone = true
	s.status = domain.StreamStatusCompleting
	r := document.Range{Start: s.insertion.Offset()}
	r.End = r.Start
	if s.tracking != nil {
		r.End = s.tracking.Offset()
	}
	text, err := s.doc.Slice(r.Start, r.End)
	if err != nil {
		log.Printf("ERROR: failed to read inserted interval for %s: %v", s.id, err)
	}
	s.mu.Unlock()

	if s.cb.OnFinal != nil {
		s.cb.OnFinal(r)
	}
	if err := s.engine.recordEvent(s.id, domain.EventTypeStreamDone, domain.StreamDonePayload{Start: r.Start, End: r.End, Text: text}); err != nil {
		log.Printf("ERROR: failed to record stream_done event: %v", err)
	}
	s.engine.archiveResponse(s.id, text)
	if s.cb.OnStatusChange != nil {
		s.cb.OnStatusChange("response inserted", StatusInfo)
	}

	s.finish(domain.StreamStatusDone, nil)
}

// fail rolls back everything this session inserted, reports the error and
// goes terminal as Failed.
func (s *Session) fail(serr *domain.StreamError) {
	s.mu.Lock()
	if s.isDone || s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.isDone = true
	s.status = domain.StreamStatusErroring
	s.rollbackLocked()
	s.mu.Unlock()

	if s.cb.OnError != nil {
		s.cb.OnError(serr)
	}
	if s.cb.OnStatusChange != nil {
		s.cb.OnStatusChange(serr.Message, StatusError)
	}
	if err := s.engine.recordEvent(s.id, domain.EventTypeStreamFailed, domain.StreamFailedPayload{
		Kind:    serr.Kind,
		Message: serr.Message,
		Type:    serr.Type,
		Code:    serr.Code,
	}); err != nil {
		log.Printf("ERROR: failed to record stream_failed event: %v", err)
	}

	errData, _ := json.Marshal(serr)
	s.finish(domain.StreamStatusFailed, errData)
}

// abort performs the user-initiated teardown: same rollback as a failure,
// but no error callback. Idempotent; returns false if the session was
// already finishing.
func (s *Session) abort(reason string) bool {
	s.mu.Lock()
	if s.isDone || s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.isDone = true
	s.status = domain.StreamStatusAborting
	s.rollbackLocked()
	body := s.body
	s.mu.Unlock()

	s.teardown(body)
	if err := s.engine.recordEvent(s.id, domain.EventTypeStreamAborted, domain.StreamAbortedPayload{Reason: reason}); err != nil {
		log.Printf("ERROR: failed to record stream_aborted event: %v", err)
	}
	if s.cb.OnStatusChange != nil {
		s.cb.OnStatusChange("stream aborted", StatusWarn)
	}

	s.finish(domain.StreamStatusAborted, nil)
	return true
}

// rollbackLocked deletes the interval this session inserted, restoring the
// document to its pre-request state at the insertion point. Tags covering
// the interval go with it. Caller holds s.mu.
func (s *Session) rollbackLocked() {
	if s.tracking == nil {
		// Nothing was inserted.
		return
	}
	if _, err := s.doc.DeleteBetween(s.insertion, s.tracking); err != nil {
		log.Printf("ERROR: failed to roll back inserted content for %s: %v", s.id, err)
	}
}

// finish moves the session to its terminal status, tears the transport down
// and removes it from the registry.
func (s *Session) finish(status domain.StreamStatus, errData []byte) {
	s.mu.Lock()
	s.status = status
	body := s.body
	s.mu.Unlock()

	s.teardown(body)
	s.engine.finalizeStream(s, status, errData)
}

// teardown cancels the request context and closes the transport, exactly
// once across all paths that can reach a terminal state.
func (s *Session) teardown(body io.ReadCloser) {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if body != nil {
			body.Close()
		}
	})
}

// stopped reports whether the session has begun finishing.
func (s *Session) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDone || s.status.Terminal()
}

// releaseMarkers detaches the session's markers from the document.
func (s *Session) releaseMarkers() {
	s.mu.Lock()
	insertion, tracking := s.insertion, s.tracking
	s.mu.Unlock()
	if insertion != nil {
		insertion.Release()
	}
	if tracking != nil {
		tracking.Release()
	}
}

// asStreamError coerces a transport-layer error into a failure detail,
// keeping already-classified errors as they are.
func asStreamError(err error) *domain.StreamError {
	var serr *domain.StreamError
	if errors.As(err, &serr) {
		return serr
	}
	return domain.NewTransportError(err)
}
