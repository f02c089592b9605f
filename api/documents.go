package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/ws"
)

// DocumentCreateRequest is the request to host a new document.
type DocumentCreateRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Content    string `json:"content,omitempty"`
}

// CreateDocument hosts a new document, optionally seeded with content.
// POST /v1/documents
func (h *Handler) CreateDocument(c echo.Context) error {
	var req DocumentCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = "doc_" + uuid.New().String()[:8]
	}

	doc, err := h.docs.Create(documentID, req.Content)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": "document already exists"})
	}
	ws.AttachDocument(h.hub, doc)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"document_id": doc.ID(),
		"version":     doc.Version(),
	})
}

// ListDocuments lists all hosted documents.
// GET /v1/documents
func (h *Handler) ListDocuments(c echo.Context) error {
	docs := h.docs.List()

	docList := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		docList[i] = map[string]interface{}{
			"document_id": d.ID(),
			"version":     d.Version(),
			"length":      d.Len(),
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"documents": docList,
	})
}

// GetDocument returns a document's content, version and provenance spans.
// GET /v1/documents/:document_id
func (h *Handler) GetDocument(c echo.Context) error {
	documentID := c.Param("document_id")

	doc, ok := h.docs.Get(documentID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"document_id": doc.ID(),
		"content":     doc.Text(),
		"version":     doc.Version(),
		"spans":       doc.Spans(),
	})
}

// DeleteDocument aborts any streams targeting the document and unhosts it.
// DELETE /v1/documents/:document_id
func (h *Handler) DeleteDocument(c echo.Context) error {
	documentID := c.Param("document_id")

	if _, ok := h.docs.Get(documentID); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	aborted := h.engine.AbortByDocument(documentID)
	h.docs.Remove(documentID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"aborted": aborted,
	})
}

// ApplyEdit mirrors a user edit into a document.
// POST /v1/documents/:document_id/edits
func (h *Handler) ApplyEdit(c echo.Context) error {
	documentID := c.Param("document_id")

	var req domain.EditRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	doc, ok := h.docs.Get(documentID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	var err error
	switch req.Op {
	case document.EditInsert:
		err = doc.Insert(req.Position, req.Text)
	case document.EditDelete:
		err = doc.Delete(req.Position, req.Length)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "op must be insert or delete"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	// User input on the document interrupts any cancel streak
	h.engine.NotifyActivity(documentID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version": doc.Version(),
	})
}

// StripRequest selects which provenance tag to strip. Empty means the
// default response tag.
type StripRequest struct {
	Tag string `json:"tag,omitempty"`
}

// StripResponses deletes every span of model-generated output from a
// document.
// POST /v1/documents/:document_id/strip
func (h *Handler) StripResponses(c echo.Context) error {
	documentID := c.Param("document_id")

	var req StripRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Tag == "" {
		req.Tag = engine.ResponseTag
	}

	doc, ok := h.docs.Get(documentID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	removed := doc.StripTag(req.Tag)
	h.engine.NotifyActivity(documentID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": removed,
		"version": doc.Version(),
	})
}

// AbortDocument aborts every live stream targeting the document.
// POST /v1/documents/:document_id/abort
func (h *Handler) AbortDocument(c echo.Context) error {
	documentID := c.Param("document_id")

	if _, ok := h.docs.Get(documentID); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
	}

	aborted := h.engine.AbortByDocument(documentID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"aborted": aborted,
	})
}

// CancelIntent feeds one user gesture into the document's escalation
// counter.
// POST /v1/documents/:document_id/cancel-intent
func (h *Handler) CancelIntent(c echo.Context) error {
	documentID := c.Param("document_id")

	var req domain.CancelIntentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.engine.CancelIntent(documentID, req.Cancel)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "document not found"})
		}
		log.Printf("ERROR: cancel intent failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "cancel intent failed"})
	}

	return c.JSON(http.StatusOK, resp)
}
