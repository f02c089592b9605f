// Package openai provides the client for OpenAI-compatible chat completion,
// image generation and model listing endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KarimAziev/elfai/domain"
)

// CredentialFunc resolves the bearer token for a request. Resolution runs on
// every call so rotated keys are picked up without restarting.
type CredentialFunc func() (string, error)

// StaticCredential wraps a fixed API key.
func StaticCredential(key string) CredentialFunc {
	return func() (string, error) { return key, nil }
}

// Client is the OpenAI-compatible API client.
type Client struct {
	baseURL    string
	credential CredentialFunc
	httpClient *http.Client
}

// NewClient creates a new client. A zero timeout disables the client-side
// deadline; streaming requests are then bounded only by their context.
func NewClient(baseURL string, credential CredentialFunc, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		credential: credential,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatCompletionRequest represents the chat completion request body.
type ChatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    domain.Conversation `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// ResponseMessage is a complete assistant message in a non-streaming
// response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Delta is the incremental content fragment inside a stream chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message,omitempty"`
	Delta        *Delta           `json:"delta,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse represents the non-streaming completion response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// StreamChunk represents one decoded SSE data payload. A chunk carries
// either content deltas or an error, never both.
type StreamChunk struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// DeltaText returns the content fragment of the first choice, if any.
func (c *StreamChunk) DeltaText() string {
	if len(c.Choices) > 0 && c.Choices[0].Delta != nil {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// ParseChunk decodes one SSE data payload.
func ParseChunk(data []byte) (*StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream chunk: %w", err)
	}
	return &chunk, nil
}

// ErrorCode is the provider error code. Providers send it as a string, a
// bare number, or null; all three forms decode into the string value.
type ErrorCode string

// UnmarshalJSON accepts string, number and null codes.
func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ErrorCode(s)
		return nil
	}
	*c = ErrorCode(data)
	return nil
}

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents the error details.
type APIError struct {
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Code    ErrorCode `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
}

// StreamError converts the wire error into the domain failure detail.
func (e *APIError) StreamError() *domain.StreamError {
	return domain.NewProtocolError(e.Message, e.Type, string(e.Code))
}

// OpenStream sends a streaming chat completion request and returns the raw
// response body. The caller owns the body: it must drain or close it, and
// closing it is the way to tear the connection down mid-stream. Pre-stream
// failures are classified: connection errors come back as transport
// failures, JSON error bodies on non-2xx responses as protocol failures.
func (c *Client) OpenStream(ctx context.Context, req *ChatCompletionRequest) (io.ReadCloser, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorFromBody(resp.StatusCode, respBody)
	}

	return resp.Body, nil
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// GenerateImages sends an image generation request.
func (c *Client) GenerateImages(ctx context.Context, req *domain.ImageRequest) (*domain.ImageResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, "/v1/images/generations", body)
	if err != nil {
		return nil, err
	}

	var result domain.ImageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// Model represents a model from the models list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse represents the response from /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ListModels retrieves the list of available models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromBody(resp.StatusCode, respBody)
	}

	var result ModelsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Data, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if err := c.setHeaders(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromBody(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// setHeaders sets common request headers, resolving the bearer token.
func (c *Client) setHeaders(req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	token, err := c.credential()
	if err != nil {
		return fmt.Errorf("failed to resolve credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// errorFromBody classifies a non-2xx response: a JSON error body is a
// protocol failure reported by the provider, anything else a transport
// failure.
func errorFromBody(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		return errResp.Error.StreamError()
	}
	return domain.NewTransportError(fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body))))
}
