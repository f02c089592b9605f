package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/KarimAziev/elfai/domain"
)

// MockTransport is a mock implementation of StreamOpener for testing and
// offline development. With a Script it hands out test-controlled streams;
// without one it synthesizes a canned completion from the last user message.
type MockTransport struct {
	// Script, when set, supplies the stream for each opened request.
	Script func(req *ChatCompletionRequest) *ScriptedStream
	// OpenErr, when set, fails every OpenStream call before any stream is
	// produced.
	OpenErr error

	mu       sync.Mutex
	requests []*ChatCompletionRequest
	streams  []*ScriptedStream
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Ensure MockTransport implements StreamOpener interface.
var _ StreamOpener = (*MockTransport)(nil)

// OpenStream records the request and returns a scripted or canned stream.
func (m *MockTransport) OpenStream(ctx context.Context, req *ChatCompletionRequest) (io.ReadCloser, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	var s *ScriptedStream
	if m.Script != nil {
		s = m.Script(req)
	} else {
		s = cannedStream(req)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.streams = append(m.streams, s)
	m.mu.Unlock()

	return s, nil
}

// Requests returns the requests opened so far.
func (m *MockTransport) Requests() []*ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatCompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastStream returns the most recently opened stream, or nil.
func (m *MockTransport) LastStream() *ScriptedStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// cannedStream synthesizes a short completion so the daemon can run without
// provider credentials.
func cannedStream(req *ChatCompletionRequest) *ScriptedStream {
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			lastUser = req.Messages[i].Content.Flatten()
			break
		}
	}
	content := "[MOCK] This is a mock response."
	if lastUser != "" {
		content = fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUser, 100))
	}

	s := NewScriptedStream()
	go func() {
		for _, chunk := range splitIntoChunks(content, 10) {
			s.Deliver(ChunkLine(chunk))
		}
		s.Deliver(DoneLine())
		s.End()
	}()
	return s
}

// ChunkLine renders one content delta as an SSE data line.
func ChunkLine(content string) string {
	chunk := StreamChunk{
		Object: "chat.completion.chunk",
		Choices: []Choice{
			{Index: 0, Delta: &Delta{Content: content}},
		},
	}
	b, _ := json.Marshal(chunk)
	return "data: " + string(b) + "\n\n"
}

// DoneLine renders the terminal sentinel line.
func DoneLine() string {
	return "data: [DONE]\n\n"
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// errStreamClosed mimics reading a response body after Close.
var errStreamClosed = errors.New("read on closed stream")

// ScriptedStream is an io.ReadCloser whose content arrives fragment by
// fragment, so tests control exactly how bytes are delivered: whole lines,
// split mid-line, or ending without the terminal sentinel.
type ScriptedStream struct {
	ch      chan []byte
	done    chan struct{}
	pending []byte

	endOnce   sync.Once
	closeOnce sync.Once

	mu         sync.Mutex
	closeCalls int
}

// NewScriptedStream creates an open stream with no deliveries yet.
func NewScriptedStream() *ScriptedStream {
	return &ScriptedStream{
		ch:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Deliver queues one transport delivery. Dropped if the stream was closed.
func (s *ScriptedStream) Deliver(fragment string) {
	select {
	case s.ch <- []byte(fragment):
	case <-s.done:
	}
}

// End closes the delivery side; Read returns io.EOF once drained. Ending
// without a prior [DONE] delivery models a connection that died mid-stream.
func (s *ScriptedStream) End() {
	s.endOnce.Do(func() { close(s.ch) })
}

// Read hands out queued fragments one at a time.
func (s *ScriptedStream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, errStreamClosed
	default:
	}

	if len(s.pending) == 0 {
		select {
		case frag, ok := <-s.ch:
			if !ok {
				return 0, io.EOF
			}
			s.pending = frag
		case <-s.done:
			return 0, errStreamClosed
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close tears the stream down and unblocks any pending Read.
func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// CloseCalls reports how many times Close was invoked.
func (s *ScriptedStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
