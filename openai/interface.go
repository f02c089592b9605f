package openai

import (
	"context"
	"io"
)

// StreamOpener is the transport contract consumed by the streaming engine:
// open one chat completion request and expose the raw response body as it
// arrives. Implementations classify pre-stream failures (connection vs.
// provider error body); everything after the first byte is the caller's to
// parse. Closing the returned body is how the caller tears the connection
// down, including mid-stream.
type StreamOpener interface {
	OpenStream(ctx context.Context, req *ChatCompletionRequest) (io.ReadCloser, error)
}

// Ensure Client implements StreamOpener interface.
var _ StreamOpener = (*Client)(nil)
