package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/KarimAziev/elfai/api"
	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/hub"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/policy"
	"github.com/KarimAziev/elfai/tests/helpers"
)

// newProviderHandler builds a handler backed by a fake provider at
// providerURL. An empty URL leaves the handler without a client.
func newProviderHandler(t *testing.T, providerURL string) *api.Handler {
	cfg := &config.Config{Model: "gpt-4o", ImageModel: "dall-e-3", VisionModel: "gpt-4o", Temperature: 1.0, CancelThreshold: 3}
	st := helpers.NewTestSQLiteStore(t)
	docs := document.NewRegistry()
	eng := engine.New(st, docs, openai.NewMockTransport(), cfg)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	assert.NoError(t, err)
	h := hub.NewHub()
	go h.Run()

	var client *openai.Client
	if providerURL != "" {
		client = openai.NewClient(providerURL, openai.StaticCredential("test-key"), 5*time.Second)
	}
	return api.NewHandler(st, eng, docs, client, policyEngine, h, cfg)
}

func TestGenerateImages(t *testing.T) {
	e := echo.New()

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		requests++
		json.NewEncoder(w).Encode(domain.ImageResponse{
			Created: 1700000000,
			Data:    []domain.ImageData{{URL: "https://img.example/1.png"}},
		})
	}))
	defer server.Close()

	handler := newProviderHandler(t, server.URL)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/images", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		err := handler.GenerateImages(e.NewContext(req, rec))
		assert.NoError(t, err)
		return rec
	}

	t.Run("Generate", func(t *testing.T) {
		rec := post(`{"prompt":"a cat"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp domain.ImageResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		assert.Len(t, resp.Data, 1)
		assert.Equal(t, "https://img.example/1.png", resp.Data[0].URL)
		assert.Equal(t, 1, requests)
	})

	t.Run("Missing Prompt", func(t *testing.T) {
		rec := post(`{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Batch Over Cap Blocked", func(t *testing.T) {
		rec := post(`{"prompt":"a cat","n":9}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, 1, requests)
	})

	t.Run("No Provider Configured", func(t *testing.T) {
		bare := newProviderHandler(t, "")
		req := httptest.NewRequest(http.MethodPost, "/v1/images", bytes.NewBufferString(`{"prompt":"a cat"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		err := bare.GenerateImages(e.NewContext(req, rec))
		assert.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestDescribeImage(t *testing.T) {
	e := echo.New()

	var gotReq openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&gotReq)
		assert.NoError(t, err)
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o",
			Choices: []openai.Choice{
				{Message: &openai.ResponseMessage{Role: "assistant", Content: "A cat on a mat."}},
			},
		})
	}))
	defer server.Close()

	handler := newProviderHandler(t, server.URL)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/vision", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		err := handler.DescribeImage(e.NewContext(req, rec))
		assert.NoError(t, err)
		return rec
	}

	t.Run("Describe", func(t *testing.T) {
		rec := post(`{"image_url":"https://files.example/cat.png","prompt":"What is this?"}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp domain.VisionResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		assert.Equal(t, "A cat on a mat.", resp.Description)
		assert.Equal(t, "gpt-4o", resp.Model)

		// The outbound request carried the image as a content part
		assert.Len(t, gotReq.Messages, 2)
		user := gotReq.Messages[1].Content
		assert.True(t, user.HasImage())
		assert.Equal(t, "What is this?", user.Flatten())
	})

	t.Run("Data URI Allowed", func(t *testing.T) {
		rec := post(`{"image_url":"data:image/png;base64,iVBORw0KGgo="}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Plain HTTP Blocked", func(t *testing.T) {
		rec := post(`{"image_url":"http://files.example/cat.png"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Missing URL", func(t *testing.T) {
		rec := post(`{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListModels(t *testing.T) {
	e := echo.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		json.NewEncoder(w).Encode(openai.ModelsResponse{
			Object: "list",
			Data: []openai.Model{
				{ID: "gpt-4o", Object: "model"},
				{ID: "dall-e-3", Object: "model"},
			},
		})
	}))
	defer server.Close()

	handler := newProviderHandler(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	err := handler.ListModels(e.NewContext(req, rec))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Models []openai.Model `json:"models"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	assert.Len(t, body.Models, 2)
	assert.Equal(t, "gpt-4o", body.Models[0].ID)
}
