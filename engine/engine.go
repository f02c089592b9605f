// Package engine implements the streaming request/response core: it opens
// chat completion streams, inserts decoded fragments into their target
// documents, and reconciles completion, mid-stream errors and user-initiated
// aborts so the document is always left consistent.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/sse"
	"github.com/KarimAziev/elfai/store"
)

// Engine owns the abort registry, the per-document cancel-intent counters
// and the transcript archive. One engine serves the whole process; sessions
// it starts run on their own goroutines.
type Engine struct {
	store     store.Store
	docs      *document.Registry
	transport openai.StreamOpener
	config    *config.Config
	registry  *Registry
	intents   *IntentTracker
}

// New creates an engine.
func New(st store.Store, docs *document.Registry, transport openai.StreamOpener, cfg *config.Config) *Engine {
	return &Engine{
		store:     st,
		docs:      docs,
		transport: transport,
		config:    cfg,
		registry:  NewRegistry(),
		intents:   NewIntentTracker(cfg.CancelThreshold),
	}
}

// Registry exposes the live-session index.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// StartStream validates the request, archives it, registers a session and
// starts streaming into the document at the requested position. The response
// returns as soon as the session is registered; connection failures are
// reported through the error callback like any other stream failure.
func (e *Engine) StartStream(ctx context.Context, req *domain.StartStreamRequest, cb Callbacks) (*domain.StartStreamResponse, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}
	if err := req.Messages.Validate(); err != nil {
		return nil, fmt.Errorf("invalid messages: %w", err)
	}

	doc, ok := e.docs.Get(req.DocumentID)
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}

	model := req.Model
	if model == "" {
		model = e.config.Model
	}
	temperature := req.Temperature
	if temperature == nil {
		t := e.config.Temperature
		temperature = &t
	}

	insertion, err := doc.NewMarker(req.Position, document.GravityLeft)
	if err != nil {
		return nil, fmt.Errorf("invalid position: %w", err)
	}

	streamID := "strm_" + uuid.New().String()[:8]
	now := time.Now()

	session := &Session{
		id:        streamID,
		doc:       doc,
		model:     model,
		startedAt: now,
		engine:    e,
		cb:        cb,
		scanner:   sse.NewScanner(),
		status:    domain.StreamStatusPending,
		insertion: insertion,
	}

	if err := e.store.CreateStream(ctx, &domain.Stream{
		StreamID:   streamID,
		DocumentID: req.DocumentID,
		Model:      model,
		Status:     domain.StreamStatusPending,
		StartedAt:  now,
	}); err != nil {
		insertion.Release()
		return nil, fmt.Errorf("failed to create stream record: %w", err)
	}

	// Archive the prompt messages
	for _, m := range req.Messages {
		msg := &domain.StreamMessage{
			MessageID: "msg_" + uuid.New().String()[:8],
			StreamID:  streamID,
			Role:      m.Role,
			Content:   m.Content.Flatten(),
			CreatedAt: now,
		}
		if err := e.store.CreateMessage(ctx, msg); err != nil {
			log.Printf("ERROR: failed to save prompt message: %v", err)
			// Continue anyway - archive failure shouldn't block the stream
		}
	}

	if err := e.recordEvent(streamID, domain.EventTypeStreamStarted, domain.StreamStartedPayload{
		DocumentID: req.DocumentID,
		Model:      model,
		Position:   req.Position,
	}); err != nil {
		log.Printf("ERROR: failed to record stream_started event: %v", err)
	}

	// The request starts counting as activity: it interrupts any cancel
	// streak on this document.
	e.intents.Reset(req.DocumentID)

	// The session context must exist before the session is visible: an
	// abort arriving right after registration has to be able to cancel it.
	sctx, cancel := context.WithCancel(context.Background())
	session.cancel = cancel

	e.registry.Add(session)

	if cb.OnRegistered != nil {
		cb.OnRegistered(streamID)
	}

	go session.run(sctx, &openai.ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temperature,
		Stream:      true,
	})

	return &domain.StartStreamResponse{StreamID: streamID, DocumentID: req.DocumentID}, nil
}

// AbortStream tears down one live stream. Idempotent: aborting an already
// finished stream is a no-op, aborting an unknown id is an error.
func (e *Engine) AbortStream(streamID string) error {
	if session, ok := e.registry.Get(streamID); ok {
		session.abort("aborted by user")
		return nil
	}

	stream, err := e.store.GetStream(context.Background(), streamID)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	if stream == nil {
		return domain.ErrStreamNotFound
	}
	return nil // Already terminal
}

// AbortAll aborts every stream live at the moment of the call. Streams
// started during the sweep are unaffected. Returns how many were aborted.
func (e *Engine) AbortAll() int {
	aborted := 0
	for _, session := range e.registry.Snapshot() {
		if session.abort("abort all") {
			aborted++
		}
	}
	return aborted
}

// AbortByDocument aborts every live stream targeting the given document.
func (e *Engine) AbortByDocument(documentID string) int {
	aborted := 0
	for _, session := range e.registry.ByDocument(documentID) {
		if session.abort("document aborted") {
			aborted++
		}
	}
	return aborted
}

// CancelIntent applies one user gesture to a document's escalation counter.
// Crossing the threshold aborts all live streams; below it, sessions on the
// document surface the remaining count through their status callbacks.
func (e *Engine) CancelIntent(documentID string, isCancel bool) (*domain.CancelIntentResponse, error) {
	if _, ok := e.docs.Get(documentID); !ok {
		return nil, domain.ErrDocumentNotFound
	}

	count, remaining, escalate := e.intents.Record(documentID, isCancel)
	if escalate {
		n := e.AbortAll()
		log.Printf("INFO: cancel threshold reached for %s, aborted %d stream(s)", documentID, n)
		return &domain.CancelIntentResponse{Count: 0, Remaining: e.intents.Threshold(), Aborted: true}, nil
	}

	if isCancel {
		msg := fmt.Sprintf("%d more cancel gesture(s) to abort", remaining)
		for _, session := range e.registry.ByDocument(documentID) {
			if session.cb.OnStatusChange != nil {
				session.cb.OnStatusChange(msg, StatusWarn)
			}
		}
	}
	return &domain.CancelIntentResponse{Count: count, Remaining: remaining, Aborted: false}, nil
}

// NotifyActivity resets a document's cancel streak on unrelated input, such
// as the user editing the document.
func (e *Engine) NotifyActivity(documentID string) {
	e.intents.Reset(documentID)
}

// SessionInfo is a snapshot of one live session.
type SessionInfo struct {
	StreamID   string              `json:"stream_id"`
	DocumentID string              `json:"document_id"`
	Model      string              `json:"model"`
	Status     domain.StreamStatus `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
}

// Sessions lists the live sessions, oldest first.
func (e *Engine) Sessions() []SessionInfo {
	snapshot := e.registry.Snapshot()
	out := make([]SessionInfo, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, SessionInfo{
			StreamID:   s.ID(),
			DocumentID: s.DocumentID(),
			Model:      s.Model(),
			Status:     s.Status(),
			StartedAt:  s.StartedAt(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// recordEvent records an event to the store.
func (e *Engine) recordEvent(streamID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID:  "evt_" + uuid.New().String()[:8],
		StreamID: streamID,
		Ts:       time.Now().UnixMilli(),
		Type:     eventType,
		Payload:  payloadBytes,
	}

	return e.store.CreateEvent(context.Background(), event)
}

// archiveResponse saves the assistant's final text to the transcript.
func (e *Engine) archiveResponse(streamID, text string) {
	if text == "" {
		return
	}
	msg := &domain.StreamMessage{
		MessageID: "msg_" + uuid.New().String()[:8],
		StreamID:  streamID,
		Role:      domain.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateMessage(context.Background(), msg); err != nil {
		log.Printf("ERROR: failed to save assistant message: %v", err)
	}
}

// finalizeStream runs the bookkeeping shared by every terminal transition:
// remove the session from the registry, detach its markers, archive the
// outcome, and clear the document's abort indicator once its last stream is
// gone.
func (e *Engine) finalizeStream(s *Session, status domain.StreamStatus, errData []byte) {
	e.registry.Remove(s.id)
	s.releaseMarkers()

	if err := e.store.UpdateStreamCompleted(context.Background(), s.id, status, errData); err != nil {
		log.Printf("ERROR: failed to update stream status: %v", err)
	}

	if e.registry.CountByDocument(s.doc.ID()) == 0 {
		e.intents.Reset(s.doc.ID())
	}
}
