package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/ws"
)

// StartStream issues a streaming completion into a hosted document.
// POST /v1/streams
func (h *Handler) StartStream(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.StartStreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	decision, _, err := h.policy.Evaluate(ctx, map[string]interface{}{
		"operation":    "chat",
		"model":        req.Model,
		"prompt_bytes": req.Messages.PromptBytes(),
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "policy evaluation failed"})
	}
	if decision == "block" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "request blocked by policy"})
	}

	resp, err := h.engine.StartStream(ctx, &req, ws.StreamCallbacks(h.hub, req.DocumentID))
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

// AbortStream aborts one live stream. Aborting an already finished stream
// is a no-op.
// POST /v1/streams/:stream_id/abort
func (h *Handler) AbortStream(c echo.Context) error {
	streamID := c.Param("stream_id")

	if err := h.engine.AbortStream(streamID); err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "stream not found"})
		}
		log.Printf("ERROR: failed to abort stream: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to abort stream"})
	}

	return c.NoContent(http.StatusNoContent)
}

// AbortAll aborts every live stream in the process.
// POST /v1/abort
func (h *Handler) AbortAll(c echo.Context) error {
	aborted := h.engine.AbortAll()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"aborted": aborted,
	})
}

// ListSessions returns a snapshot of the live sessions.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": h.engine.Sessions(),
	})
}

// ListStreams lists archived streams, newest first.
// GET /v1/streams
func (h *Handler) ListStreams(c echo.Context) error {
	ctx := c.Request().Context()

	documentID := c.QueryParam("document_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	streams, err := h.store.ListStreams(ctx, documentID, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to list streams: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list streams"})
	}

	hasMore := len(streams) > limit
	if hasMore {
		streams = streams[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"streams":  streams,
		"has_more": hasMore,
	})
}

// GetStream returns one archived stream record.
// GET /v1/streams/:stream_id
func (h *Handler) GetStream(c echo.Context) error {
	ctx := c.Request().Context()
	streamID := c.Param("stream_id")

	stream, err := h.store.GetStream(ctx, streamID)
	if err != nil {
		log.Printf("ERROR: failed to get stream: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get stream"})
	}
	if stream == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "stream not found"})
	}

	return c.JSON(http.StatusOK, stream)
}

// GetStreamEvents returns events on a stream's timeline.
// GET /v1/streams/:stream_id/events
func (h *Handler) GetStreamEvents(c echo.Context) error {
	ctx := c.Request().Context()
	streamID := c.Param("stream_id")

	// Parse query params
	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)
	typesStr := c.QueryParam("types")
	var types []string
	if typesStr != "" {
		types = strings.Split(typesStr, ",")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}

	// Check stream exists
	stream, err := h.store.GetStream(ctx, streamID)
	if err != nil {
		log.Printf("ERROR: failed to get stream: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get stream"})
	}
	if stream == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "stream not found"})
	}

	events, err := h.store.GetEvents(ctx, streamID, afterTs, types, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get events: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get events"})
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = events[len(events)-1].EventID
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":      events,
		"has_more":    hasMore,
		"next_cursor": nextCursor,
	})
}

// GetStreamMessages returns the archived conversation for a stream.
// GET /v1/streams/:stream_id/messages
func (h *Handler) GetStreamMessages(c echo.Context) error {
	ctx := c.Request().Context()
	streamID := c.Param("stream_id")

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	messages, err := h.store.GetMessages(ctx, streamID, limit+1)
	if err != nil {
		log.Printf("ERROR: failed to get messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get messages"})
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": hasMore,
	})
}
