// Package sse implements incremental framing for server-sent-event streams
// as emitted by chat completion endpoints. A Scanner accepts raw transport
// fragments and yields complete data payloads; callers decode the payloads.
package sse

import (
	"bytes"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// compactThreshold bounds how many consumed bytes may accumulate at the
	// front of the buffer before it is reallocated.
	compactThreshold = 4096
)

// Scanner splits a byte stream into SSE data payloads. Feed appends a
// fragment; Next drains complete payloads one at a time. The scanner keeps a
// cursor into its buffer, so each byte is scanned once and a line split
// across two deliveries is reassembled when the rest arrives. The cursor
// only ever advances past complete lines; a partial trailing line stays
// buffered untouched.
type Scanner struct {
	buf  []byte
	pos  int
	done bool
}

// NewScanner returns a scanner positioned at the start of an empty stream.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed appends a transport fragment to the scan buffer.
func (s *Scanner) Feed(p []byte) {
	if s.pos >= compactThreshold || s.pos == len(s.buf) {
		// Reallocate so slices handed out by Next stay valid.
		s.buf = append([]byte(nil), s.buf[s.pos:]...)
		s.pos = 0
	}
	s.buf = append(s.buf, p...)
}

// Next returns the next complete data payload, or ok=false when the buffer
// holds no complete payload line or the terminal sentinel has been seen.
// Lines without the data prefix are protocol framing and are skipped. The
// returned slice is valid until the next call to Feed.
func (s *Scanner) Next() (payload []byte, ok bool) {
	for !s.done {
		i := bytes.IndexByte(s.buf[s.pos:], '\n')
		if i < 0 {
			return nil, false
		}
		line := s.buf[s.pos : s.pos+i]
		s.pos += i + 1
		line = bytes.TrimSuffix(line, []byte("\r"))

		rest, found := bytes.CutPrefix(line, []byte(dataPrefix))
		if !found {
			continue
		}
		rest = bytes.TrimPrefix(rest, []byte(" "))
		if string(rest) == doneSentinel {
			s.done = true
			return nil, false
		}
		return rest, true
	}
	return nil, false
}

// Done reports whether the terminal sentinel has been consumed.
func (s *Scanner) Done() bool {
	return s.done
}

// Buffered returns the number of unconsumed bytes, including any partial
// trailing line awaiting the rest of its delivery.
func (s *Scanner) Buffered() int {
	return len(s.buf) - s.pos
}
