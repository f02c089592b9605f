// Package api provides HTTP handlers for the daemon.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/hub"
	"github.com/KarimAziev/elfai/openai"
	"github.com/KarimAziev/elfai/policy"
	"github.com/KarimAziev/elfai/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store  store.Store
	engine *engine.Engine
	docs   *document.Registry
	client *openai.Client // nil when no API key is configured
	policy *policy.Engine
	hub    *hub.Hub
	config *config.Config
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, eng *engine.Engine, docs *document.Registry, client *openai.Client, pol *policy.Engine, h *hub.Hub, cfg *config.Config) *Handler {
	return &Handler{
		store:  st,
		engine: eng,
		docs:   docs,
		client: client,
		policy: pol,
		hub:    h,
		config: cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Document API
	e.POST("/v1/documents", h.CreateDocument)
	e.GET("/v1/documents", h.ListDocuments)
	e.GET("/v1/documents/:document_id", h.GetDocument)
	e.DELETE("/v1/documents/:document_id", h.DeleteDocument)
	e.POST("/v1/documents/:document_id/edits", h.ApplyEdit)
	e.POST("/v1/documents/:document_id/strip", h.StripResponses)
	e.POST("/v1/documents/:document_id/abort", h.AbortDocument)
	e.POST("/v1/documents/:document_id/cancel-intent", h.CancelIntent)

	// Stream API
	e.POST("/v1/streams", h.StartStream)
	e.POST("/v1/streams/:stream_id/abort", h.AbortStream)
	e.POST("/v1/abort", h.AbortAll)
	e.GET("/v1/sessions", h.ListSessions)

	// Archive API
	e.GET("/v1/streams", h.ListStreams)
	e.GET("/v1/streams/:stream_id", h.GetStream)
	e.GET("/v1/streams/:stream_id/events", h.GetStreamEvents)
	e.GET("/v1/streams/:stream_id/messages", h.GetStreamMessages)

	// Provider API
	e.GET("/v1/models", h.ListModels)
	e.POST("/v1/images", h.GenerateImages)
	e.POST("/v1/vision", h.DescribeImage)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"version":     "0.1.0",
		"sessions":    len(h.engine.Sessions()),
		"connections": h.hub.GetConnectionCount(),
		"documents":   h.hub.GetDocumentCount(),
	})
}
