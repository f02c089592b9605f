package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/sse"
	"github.com/stretchr/testify/assert"
)

func drainStream(t *testing.T, body io.ReadCloser) []string {
	t.Helper()
	defer body.Close()

	scanner := sse.NewScanner()
	var texts []string
	buf := make([]byte, 512)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])
			for {
				payload, ok := scanner.Next()
				if !ok {
					break
				}
				chunk, perr := openai.ParseChunk(payload)
				assert.NoError(t, perr)
				texts = append(texts, chunk.DeltaText())
			}
		}
		if err != nil {
			return texts
		}
	}
}

func TestOpenStream(t *testing.T) {
	t.Run("Delivers Chunks", func(t *testing.T) {
		var gotReq openai.ChatCompletionRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			json.NewDecoder(r.Body).Decode(&gotReq)

			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, openai.ChunkLine("Hel"))
			io.WriteString(w, openai.ChunkLine("lo"))
			io.WriteString(w, openai.DoneLine())
		}))
		defer srv.Close()

		client := openai.NewClient(srv.URL, openai.StaticCredential("sk-test"), 0)
		body, err := client.OpenStream(context.Background(), &openai.ChatCompletionRequest{
			Model: "gpt-4o",
			Messages: domain.Conversation{
				{Role: domain.RoleSystem, Content: domain.Text("")},
				{Role: domain.RoleUser, Content: domain.Text("hi")},
			},
		})
		assert.NoError(t, err)

		assert.Equal(t, []string{"Hel", "lo"}, drainStream(t, body))
		assert.True(t, gotReq.Stream)
		assert.Equal(t, "gpt-4o", gotReq.Model)
		assert.Len(t, gotReq.Messages, 2)
		assert.Equal(t, domain.RoleSystem, gotReq.Messages[0].Role)
	})

	t.Run("Error Body Is Protocol Failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
		}))
		defer srv.Close()

		client := openai.NewClient(srv.URL, openai.StaticCredential("nope"), 0)
		_, err := client.OpenStream(context.Background(), &openai.ChatCompletionRequest{Model: "gpt-4o"})

		var streamErr *domain.StreamError
		assert.ErrorAs(t, err, &streamErr)
		assert.Equal(t, domain.ErrorKindProtocol, streamErr.Kind)
		assert.Equal(t, "bad key", streamErr.Message)
		assert.Equal(t, "invalid_api_key", streamErr.Code)
	})

	t.Run("Non JSON Body Is Transport Failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "<html>bad gateway</html>")
		}))
		defer srv.Close()

		client := openai.NewClient(srv.URL, openai.StaticCredential("k"), 0)
		_, err := client.OpenStream(context.Background(), &openai.ChatCompletionRequest{Model: "gpt-4o"})

		var streamErr *domain.StreamError
		assert.ErrorAs(t, err, &streamErr)
		assert.Equal(t, domain.ErrorKindTransport, streamErr.Kind)
	})

	t.Run("Connection Failure Is Transport Failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // refuse connections

		client := openai.NewClient(srv.URL, openai.StaticCredential("k"), 0)
		_, err := client.OpenStream(context.Background(), &openai.ChatCompletionRequest{Model: "gpt-4o"})

		var streamErr *domain.StreamError
		assert.ErrorAs(t, err, &streamErr)
		assert.Equal(t, domain.ErrorKindTransport, streamErr.Kind)
	})

	t.Run("Credential Failure", func(t *testing.T) {
		client := openai.NewClient("http://localhost:0", func() (string, error) {
			return "", errors.New("keyring locked")
		}, 0)
		_, err := client.OpenStream(context.Background(), &openai.ChatCompletionRequest{Model: "gpt-4o"})
		assert.ErrorContains(t, err, "keyring locked")
	})
}

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: req.Model,
			Choices: []openai.Choice{
				{Message: &openai.ResponseMessage{Role: "assistant", Content: "a cat on a mat"}},
			},
		})
	}))
	defer srv.Close()

	client := openai.NewClient(srv.URL, openai.StaticCredential("k"), 0)
	resp, err := client.CreateChatCompletion(context.Background(), &openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: domain.Conversation{
			{Role: domain.RoleSystem, Content: domain.Text("")},
			{Role: domain.RoleUser, Content: domain.ImageContent("describe", "data:image/png;base64,AAAA")},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "a cat on a mat", resp.Choices[0].Message.Content)
}

func TestGenerateImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		var req domain.ImageRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "a lighthouse", req.Prompt)

		json.NewEncoder(w).Encode(domain.ImageResponse{
			Created: 1700000000,
			Data:    []domain.ImageData{{URL: "https://img.example/1.png"}},
		})
	}))
	defer srv.Close()

	client := openai.NewClient(srv.URL, openai.StaticCredential("k"), 0)
	resp, err := client.GenerateImages(context.Background(), &domain.ImageRequest{Prompt: "a lighthouse", N: 1})
	assert.NoError(t, err)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, "https://img.example/1.png", resp.Data[0].URL)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		json.NewEncoder(w).Encode(openai.ModelsResponse{
			Object: "list",
			Data:   []openai.Model{{ID: "gpt-4o"}, {ID: "gpt-4o-mini"}},
		})
	}))
	defer srv.Close()

	client := openai.NewClient(srv.URL, openai.StaticCredential("k"), 0)
	models, err := client.ListModels(context.Background())
	assert.NoError(t, err)
	assert.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].ID)
}

func TestErrorCodeDecoding(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"String Code", `{"error":{"message":"m","type":"t","code":"rate_limit"}}`, "rate_limit"},
		{"Numeric Code", `{"error":{"message":"m","type":"t","code":429}}`, "429"},
		{"Null Code", `{"error":{"message":"m","type":"t","code":null}}`, ""},
		{"Missing Code", `{"error":{"message":"m","type":"t"}}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp openai.ErrorResponse
			err := json.Unmarshal([]byte(tc.body), &resp)
			assert.NoError(t, err)
			assert.Equal(t, openai.ErrorCode(tc.want), resp.Error.Code)
		})
	}
}

func TestMockTransportCannedStream(t *testing.T) {
	mock := openai.NewMockTransport()
	body, err := mock.OpenStream(context.Background(), &openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: domain.Conversation{
			{Role: domain.RoleSystem, Content: domain.Text("")},
			{Role: domain.RoleUser, Content: domain.Text("ping")},
		},
	})
	assert.NoError(t, err)

	texts := drainStream(t, body)
	assert.NotEmpty(t, texts)
	joined := ""
	for _, s := range texts {
		joined += s
	}
	assert.Contains(t, joined, "ping")
	assert.Len(t, mock.Requests(), 1)
}