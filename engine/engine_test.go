package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/store"
	"github.com/KarimAziev/elfai/tests/helpers"
)

func newTestEngine(t *testing.T) (*engine.Engine, *document.Registry, *openai.MockTransport, *store.SQLiteStore) {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	docs := document.NewRegistry()
	transport := openai.NewMockTransport()
	cfg := &config.Config{Model: "gpt-4o", Temperature: 1.0, CancelThreshold: 3}
	return engine.New(st, docs, transport, cfg), docs, transport, st
}

func conv(prompt string) domain.Conversation {
	return domain.Conversation{
		{Role: domain.RoleSystem, Content: domain.Text("You are a writing assistant.")},
		{Role: domain.RoleUser, Content: domain.Text(prompt)},
	}
}

// recorder collects callback invocations; the hooks run on session
// goroutines, so every access is locked.
type recorder struct {
	mu       sync.Mutex
	finals   []document.Range
	errs     []*domain.StreamError
	inserted []document.Range
	statuses []string
}

func (r *recorder) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnFinal: func(rg document.Range) {
			r.mu.Lock()
			r.finals = append(r.finals, rg)
			r.mu.Unlock()
		},
		OnError: func(err *domain.StreamError) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnContentInserted: func(rg document.Range) {
			r.mu.Lock()
			r.inserted = append(r.inserted, rg)
			r.mu.Unlock()
		},
		OnStatusChange: func(message, severity string) {
			r.mu.Lock()
			r.statuses = append(r.statuses, severity+": "+message)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) finalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals)
}

func (r *recorder) finalRange() document.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.finals) == 0 {
		return document.Range{}
	}
	return r.finals[0]
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) firstError() *domain.StreamError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

func (r *recorder) insertedRanges() []document.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]document.Range, len(r.inserted))
	copy(out, r.inserted)
	return out
}

func (r *recorder) statusLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitForStatus polls the archive until the stream reaches the wanted
// status. The archive write is the last step of finalization, so it doubles
// as a barrier for all the terminal bookkeeping.
func waitForStatus(t *testing.T, st *store.SQLiteStore, streamID string, want domain.StreamStatus) *domain.Stream {
	t.Helper()
	var got *domain.Stream
	waitFor(t, func() bool {
		s, err := st.GetStream(context.Background(), streamID)
		if err != nil || s == nil {
			return false
		}
		got = s
		return s.Status == want
	}, fmt.Sprintf("stream %s to reach %s", streamID, want))
	return got
}

func TestStreamHappyPath(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, err := docs.Create("doc1", "Hello world")
	assert.NoError(t, err)

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   5,
		Messages:   conv("continue this sentence"),
	}, rec.callbacks())
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.StreamID)

	s.Deliver(openai.ChunkLine(" one"))
	s.Deliver(openai.ChunkLine(" two"))
	s.Deliver(openai.DoneLine())
	s.End()

	stream := waitForStatus(t, st, resp.StreamID, domain.StreamStatusDone)
	assert.NotNil(t, stream.EndedAt)
	assert.Empty(t, stream.Error)
	assert.Equal(t, 1, rec.finalCount())
	assert.Equal(t, document.Range{Start: 5, End: 13}, rec.finalRange())
	assert.Equal(t, 0, rec.errorCount())
	assert.Equal(t, 0, eng.Registry().Len())
	assert.Equal(t, 1, s.CloseCalls())

	assert.Equal(t, "Hello one two world", doc.Text())
	assert.Equal(t, []document.Range{{Start: 5, End: 9}, {Start: 9, End: 13}}, rec.insertedRanges())
	assert.Equal(t, []document.Span{{Range: document.Range{Start: 5, End: 13}, Tag: engine.ResponseTag}},
		doc.SpansWithTag(engine.ResponseTag))

	// Defaults flow into the upstream request
	reqs := transport.Requests()
	assert.Len(t, reqs, 1)
	assert.True(t, reqs[0].Stream)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	if assert.NotNil(t, reqs[0].Temperature) {
		assert.Equal(t, 1.0, *reqs[0].Temperature)
	}

	// Transcript: the two prompt messages plus the assistant's response
	msgs, err := st.GetMessages(context.Background(), resp.StreamID, 0)
	assert.NoError(t, err)
	assert.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Equal(t, " one two", msgs[2].Content)

	events, err := st.GetEvents(context.Background(), resp.StreamID, 0, nil, 0)
	assert.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, domain.EventTypeStreamStarted, events[0].Type)
	assert.Equal(t, domain.EventTypeStreamDone, events[3].Type)
}

func TestStreamSplitDeliveries(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   0,
		Messages:   conv("write"),
	}, rec.callbacks())
	assert.NoError(t, err)

	// A line boundary falling mid-prefix: the first delivery carries a whole
	// line plus the opening bytes of the next, which must sit unparsed until
	// its remainder arrives.
	lineB := openai.ChunkLine("B")
	s.Deliver(openai.ChunkLine("A") + lineB[:2])
	s.Deliver(lineB[2:])
	s.Deliver(openai.DoneLine())
	s.End()

	waitForStatus(t, st, resp.StreamID, domain.StreamStatusDone)
	assert.Equal(t, "AB", doc.Text())
	assert.Equal(t, []document.Range{{Start: 0, End: 1}, {Start: 1, End: 2}}, rec.insertedRanges())
}

func TestStreamProviderError(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "Hello world")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   5,
		Messages:   conv("continue"),
	}, rec.callbacks())
	assert.NoError(t, err)

	s.Deliver(openai.ChunkLine(" partial"))
	waitFor(t, func() bool { return len(rec.insertedRanges()) == 1 }, "first delta")
	assert.Equal(t, "Hello partial world", doc.Text())

	// Numeric code, and a trailing delta in the same delivery that must
	// never be interpreted.
	s.Deliver(`data: {"error":{"message":"Rate limit exceeded","type":"rate_limit_error","code":429}}` + "\n\n" +
		openai.ChunkLine(" GHOST"))

	stream := waitForStatus(t, st, resp.StreamID, domain.StreamStatusFailed)
	assert.NotEmpty(t, stream.Error)

	serr := rec.firstError()
	if assert.NotNil(t, serr) {
		assert.Equal(t, domain.ErrorKindProtocol, serr.Kind)
		assert.Equal(t, "Rate limit exceeded", serr.Message)
		assert.Equal(t, "rate_limit_error", serr.Type)
		assert.Equal(t, "429", serr.Code)
	}
	assert.Equal(t, 0, rec.finalCount())

	// Rollback restored the document, spans included
	assert.Equal(t, "Hello world", doc.Text())
	assert.Empty(t, doc.SpansWithTag(engine.ResponseTag))
	assert.NotContains(t, doc.Text(), "GHOST")

	events, err := st.GetEvents(context.Background(), resp.StreamID, 0, []string{string(domain.EventTypeStreamFailed)}, 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStreamMalformedChunk(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "text")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   4,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	s.Deliver(openai.ChunkLine(" ok"))
	s.Deliver("data: {this is not json}\n\n")

	waitForStatus(t, st, resp.StreamID, domain.StreamStatusFailed)
	serr := rec.firstError()
	if assert.NotNil(t, serr) {
		assert.Equal(t, domain.ErrorKindParse, serr.Kind)
	}
	assert.Equal(t, "text", doc.Text())
}

func TestStreamPrematureEOF(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "keep")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   4,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	// Connection dies after one delta, no [DONE]
	s.Deliver(openai.ChunkLine(" gone"))
	s.End()

	waitForStatus(t, st, resp.StreamID, domain.StreamStatusFailed)
	serr := rec.firstError()
	if assert.NotNil(t, serr) {
		assert.Equal(t, domain.ErrorKindTransport, serr.Kind)
		assert.Contains(t, serr.Message, "sentinel")
	}
	assert.Equal(t, "keep", doc.Text())
}

func TestStreamOpenFailure(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "keep")
	transport.OpenErr = errors.New("connection refused")

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   0,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	waitForStatus(t, st, resp.StreamID, domain.StreamStatusFailed)
	serr := rec.firstError()
	if assert.NotNil(t, serr) {
		assert.Equal(t, domain.ErrorKindTransport, serr.Kind)
	}
	assert.Equal(t, "keep", doc.Text())
	assert.Equal(t, 0, eng.Registry().Len())
}

func TestAbortStream(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "Hello world")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   5,
		Messages:   conv("continue"),
	}, rec.callbacks())
	assert.NoError(t, err)

	s.Deliver(openai.ChunkLine(" draft"))
	s.Deliver(openai.ChunkLine(" text"))
	waitFor(t, func() bool { return len(rec.insertedRanges()) == 2 }, "two deltas")

	// The user keeps typing elsewhere while the stream runs
	assert.NoError(t, doc.Insert(0, ">> "))
	assert.Equal(t, ">> Hello draft text world", doc.Text())

	assert.NoError(t, eng.AbortStream(resp.StreamID))

	stream := waitForStatus(t, st, resp.StreamID, domain.StreamStatusAborted)
	assert.Empty(t, stream.Error)

	// Exactly the streamed interval is gone; the user's edit survives
	assert.Equal(t, ">> Hello world", doc.Text())
	assert.Empty(t, doc.SpansWithTag(engine.ResponseTag))
	assert.Equal(t, 0, rec.errorCount())
	assert.Equal(t, 0, rec.finalCount())
	assert.Equal(t, 1, s.CloseCalls())

	t.Run("Abort Finished Stream Is Noop", func(t *testing.T) {
		assert.NoError(t, eng.AbortStream(resp.StreamID))
		assert.Equal(t, 1, s.CloseCalls())
	})

	t.Run("Abort Unknown Stream", func(t *testing.T) {
		err := eng.AbortStream("strm_nope")
		assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	})
}

func TestAbortBeforeFirstDelta(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "untouched")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   0,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	assert.NoError(t, eng.AbortStream(resp.StreamID))
	waitForStatus(t, st, resp.StreamID, domain.StreamStatusAborted)
	assert.Equal(t, "untouched", doc.Text())
	assert.Equal(t, 0, rec.errorCount())
}

func TestAbortRemovesUserEditInsideInterval(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "AB")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   1,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	s.Deliver(openai.ChunkLine("xy"))
	waitFor(t, func() bool { return len(rec.insertedRanges()) == 1 }, "delta")

	// Typing inside the streamed block joins its fate: rollback removes
	// the whole covered interval.
	assert.NoError(t, doc.Insert(2, "!"))
	assert.Equal(t, "Ax!yB", doc.Text())

	assert.NoError(t, eng.AbortStream(resp.StreamID))
	waitForStatus(t, st, resp.StreamID, domain.StreamStatusAborted)
	assert.Equal(t, "AB", doc.Text())
}

func TestAbortAll(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc1, _ := docs.Create("doc1", "first")
	doc2, _ := docs.Create("doc2", "second")

	var mu sync.Mutex
	queue := []*openai.ScriptedStream{openai.NewScriptedStream(), openai.NewScriptedStream()}
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream {
		mu.Lock()
		defer mu.Unlock()
		s := queue[0]
		queue = queue[1:]
		return s
	}

	rec1, rec2 := &recorder{}, &recorder{}
	resp1, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1", Position: 5, Messages: conv("a"),
	}, rec1.callbacks())
	assert.NoError(t, err)
	resp2, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc2", Position: 6, Messages: conv("b"),
	}, rec2.callbacks())
	assert.NoError(t, err)

	waitFor(t, func() bool { return transport.LastStream() != nil && len(transport.Requests()) == 2 }, "both streams open")
	assert.Len(t, eng.Sessions(), 2)

	assert.Equal(t, 2, eng.AbortAll())

	waitForStatus(t, st, resp1.StreamID, domain.StreamStatusAborted)
	waitForStatus(t, st, resp2.StreamID, domain.StreamStatusAborted)
	assert.Equal(t, "first", doc1.Text())
	assert.Equal(t, "second", doc2.Text())
	assert.Equal(t, 0, eng.Registry().Len())

	// Nothing left to abort
	assert.Equal(t, 0, eng.AbortAll())
}

func TestCancelIntentEscalation(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	doc, _ := docs.Create("doc1", "draft")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   5,
		Messages:   conv("expand"),
	}, rec.callbacks())
	assert.NoError(t, err)

	s.Deliver(openai.ChunkLine(" body"))
	waitFor(t, func() bool { return len(rec.insertedRanges()) == 1 }, "delta")

	r1, err := eng.CancelIntent("doc1", true)
	assert.NoError(t, err)
	assert.Equal(t, &domain.CancelIntentResponse{Count: 1, Remaining: 2, Aborted: false}, r1)

	r2, err := eng.CancelIntent("doc1", true)
	assert.NoError(t, err)
	assert.Equal(t, &domain.CancelIntentResponse{Count: 2, Remaining: 1, Aborted: false}, r2)

	// The live session surfaced the countdown
	waitFor(t, func() bool { return len(rec.statusLines()) >= 2 }, "countdown status lines")
	lines := strings.Join(rec.statusLines(), "\n")
	assert.Contains(t, lines, "2 more cancel gesture(s) to abort")
	assert.Contains(t, lines, "1 more cancel gesture(s) to abort")

	r3, err := eng.CancelIntent("doc1", true)
	assert.NoError(t, err)
	assert.Equal(t, &domain.CancelIntentResponse{Count: 0, Remaining: 3, Aborted: true}, r3)

	waitForStatus(t, st, resp.StreamID, domain.StreamStatusAborted)
	assert.Equal(t, "draft", doc.Text())
	assert.Equal(t, 0, rec.errorCount())

	t.Run("Streak Restarts After Escalation", func(t *testing.T) {
		r, err := eng.CancelIntent("doc1", true)
		assert.NoError(t, err)
		assert.Equal(t, 1, r.Count)
		assert.False(t, r.Aborted)
	})

	t.Run("Unknown Document", func(t *testing.T) {
		_, err := eng.CancelIntent("doc_nope", true)
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})
}

func TestCancelIntentReset(t *testing.T) {
	eng, docs, _, _ := newTestEngine(t)
	docs.Create("doc1", "text")

	t.Run("Unrelated Gesture Resets Streak", func(t *testing.T) {
		eng.CancelIntent("doc1", true)
		eng.CancelIntent("doc1", true)
		r, err := eng.CancelIntent("doc1", false)
		assert.NoError(t, err)
		assert.Equal(t, 0, r.Count)
		assert.False(t, r.Aborted)

		// Streak starts over, no escalation carried across the reset
		r, _ = eng.CancelIntent("doc1", true)
		assert.Equal(t, 1, r.Count)
	})

	t.Run("Document Activity Resets Streak", func(t *testing.T) {
		eng.CancelIntent("doc1", true)
		eng.CancelIntent("doc1", true)
		eng.NotifyActivity("doc1")
		r, _ := eng.CancelIntent("doc1", true)
		assert.Equal(t, 1, r.Count)
		assert.False(t, r.Aborted)
	})

	t.Run("New Stream Resets Streak", func(t *testing.T) {
		eng2, docs2, transport2, st2 := newTestEngine(t)
		doc, _ := docs2.Create("doc1", "text")
		s := openai.NewScriptedStream()
		transport2.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

		eng2.CancelIntent("doc1", true)
		eng2.CancelIntent("doc1", true)

		rec := &recorder{}
		resp, err := eng2.StartStream(context.Background(), &domain.StartStreamRequest{
			DocumentID: "doc1",
			Position:   0,
			Messages:   conv("go"),
		}, rec.callbacks())
		assert.NoError(t, err)

		// Would have escalated without the reset
		r, _ := eng2.CancelIntent("doc1", true)
		assert.Equal(t, 1, r.Count)
		assert.False(t, r.Aborted)

		s.Deliver(openai.DoneLine())
		s.End()
		waitForStatus(t, st2, resp.StreamID, domain.StreamStatusDone)
		assert.Equal(t, "text", doc.Text())
	})
}

func TestCancelIntentStep(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		isCancel  bool
		threshold int
		wantCount int
		wantAbort bool
	}{
		{"First Cancel", 0, true, 3, 1, false},
		{"Second Cancel", 1, true, 3, 2, false},
		{"Threshold Crossed", 2, true, 3, 0, true},
		{"Non Cancel Resets", 2, false, 3, 0, false},
		{"Threshold One Aborts Immediately", 0, true, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, abort := engine.Step(tt.count, tt.isCancel, tt.threshold)
			assert.Equal(t, tt.wantCount, count)
			assert.Equal(t, tt.wantAbort, abort)
		})
	}
}

func TestStartStreamValidation(t *testing.T) {
	eng, docs, _, _ := newTestEngine(t)
	docs.Create("doc1", "0123456789")

	t.Run("Missing Document ID", func(t *testing.T) {
		_, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
			Messages: conv("go"),
		}, engine.Callbacks{})
		assert.Error(t, err)
	})

	t.Run("Unknown Document", func(t *testing.T) {
		_, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
			DocumentID: "doc_nope",
			Messages:   conv("go"),
		}, engine.Callbacks{})
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("Empty Conversation", func(t *testing.T) {
		_, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
			DocumentID: "doc1",
		}, engine.Callbacks{})
		assert.Error(t, err)
	})

	t.Run("Position Out Of Range", func(t *testing.T) {
		_, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
			DocumentID: "doc1",
			Position:   11,
			Messages:   conv("go"),
		}, engine.Callbacks{})
		assert.Error(t, err)
	})
}

func TestSessionsSnapshot(t *testing.T) {
	eng, docs, transport, st := newTestEngine(t)
	docs.Create("doc1", "text")

	s := openai.NewScriptedStream()
	transport.Script = func(*openai.ChatCompletionRequest) *openai.ScriptedStream { return s }

	rec := &recorder{}
	resp, err := eng.StartStream(context.Background(), &domain.StartStreamRequest{
		DocumentID: "doc1",
		Position:   0,
		Messages:   conv("go"),
	}, rec.callbacks())
	assert.NoError(t, err)

	sessions := eng.Sessions()
	if assert.Len(t, sessions, 1) {
		assert.Equal(t, resp.StreamID, sessions[0].StreamID)
		assert.Equal(t, "doc1", sessions[0].DocumentID)
		assert.Equal(t, "gpt-4o", sessions[0].Model)
	}

	s.Deliver(openai.DoneLine())
	s.End()
	waitForStatus(t, st, resp.StreamID, domain.StreamStatusDone)
	assert.Empty(t, eng.Sessions())
}
