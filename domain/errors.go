package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies terminal stream failures.
type ErrorKind string

const (
	// ErrorKindTransport covers connection, TLS, timeout and premature-EOF
	// failures: the HTTP layer broke before the stream finished cleanly.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindProtocol covers well-formed error payloads sent by the
	// provider inside the stream body.
	ErrorKindProtocol ErrorKind = "protocol"
	// ErrorKindParse covers malformed JSON in a data line. Parse failures
	// are fatal; a chunk is never silently skipped.
	ErrorKindParse ErrorKind = "parse"
)

// StreamError is the failure detail delivered to error callbacks and archived
// with the stream record.
type StreamError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Type    string    `json:"type,omitempty"`
	Code    string    `json:"code,omitempty"`
	cause   error
}

func (e *StreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s error: %s (type=%s code=%s)", e.Kind, e.Message, e.Type, e.Code)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.cause
}

// NewTransportError wraps a connection-level failure.
func NewTransportError(err error) *StreamError {
	return &StreamError{Kind: ErrorKindTransport, Message: err.Error(), cause: err}
}

// NewProtocolError builds a failure from an error payload the provider sent
// inside the stream.
func NewProtocolError(message, errType, code string) *StreamError {
	return &StreamError{Kind: ErrorKindProtocol, Message: message, Type: errType, Code: code}
}

// NewParseError wraps a JSON decode failure for a data line.
func NewParseError(err error) *StreamError {
	return &StreamError{Kind: ErrorKindParse, Message: err.Error(), cause: err}
}

// ErrStreamNotFound reports an operation against an unknown or already
// finished stream.
var ErrStreamNotFound = errors.New("stream not found")

// ErrDocumentNotFound reports an operation against an unknown document.
var ErrDocumentNotFound = errors.New("document not found")
