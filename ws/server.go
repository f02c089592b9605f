package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/KarimAziev/elfai/config"
	"github.com/KarimAziev/elfai/document"
	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/engine"
	"github.com/KarimAziev/elfai/hub"
	"github.com/KarimAziev/elfai/policy"
)

// Server handles WebSocket connections from editor clients.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	engine   *engine.Engine
	docs     *document.Registry
	policy   *policy.Engine
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, eng *engine.Engine, docs *document.Registry, pol *policy.Engine) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		engine: eng,
		docs:   docs,
		policy: pol,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local editor clients only; origin checks add nothing here
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeStartStream:
		s.handleStartStream(conn, data)
	case TypeEdit:
		s.handleEdit(conn, data)
	case TypeCancelIntent:
		s.handleCancelIntent(conn, data)
	case TypeAbortStream:
		s.handleAbortStream(conn, data)
	default:
		s.sendError(conn, "", ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message: authenticate, bind the
// connection to a document and send the initial mirror.
func (s *Server) handleHello(conn *hub.Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	if s.cfg.ClientKey != "" && msg.APIKey != s.cfg.ClientKey {
		s.sendError(conn, "", ErrorCodeUnauthorized, "invalid api_key")
		return
	}

	doc, err := s.bindDocument(conn, msg.DocumentID)
	if err != nil {
		log.Printf("ERROR: failed to bind document: %v", err)
		s.sendError(conn, "", ErrorCodeInvalidMessage, "failed to bind document")
		return
	}

	ack := HelloAckMessage{
		BaseMessage: BaseMessage{
			Type:       TypeHelloAck,
			Ts:         time.Now().UnixMilli(),
			RequestID:  msg.RequestID,
			DocumentID: doc.ID(),
		},
		Text:    doc.Text(),
		Version: doc.Version(),
	}
	s.hub.SendJSONToConnection(conn, ack)

	log.Printf("Hello handshake completed for document: %s", doc.ID())
}

// bindDocument subscribes the connection to an existing document, creating
// it first when needed. A fresh document gets its edits mirrored to the hub.
func (s *Server) bindDocument(conn *hub.Connection, documentID string) (*document.Document, error) {
	if documentID == "" {
		documentID = "doc_" + uuid.New().String()[:8]
	}

	if doc, ok := s.docs.Get(documentID); ok {
		s.hub.BindDocument(conn, documentID)
		return doc, nil
	}

	doc, err := s.docs.Create(documentID, "")
	if err != nil {
		// Lost a create race; the document exists now
		if existing, ok := s.docs.Get(documentID); ok {
			s.hub.BindDocument(conn, documentID)
			return existing, nil
		}
		return nil, err
	}
	AttachDocument(s.hub, doc)
	s.hub.BindDocument(conn, documentID)
	return doc, nil
}

// handleStartStream handles completion requests from the client.
func (s *Server) handleStartStream(conn *hub.Connection, data []byte) {
	var msg StartStreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid start_stream message")
		return
	}

	if conn.DocumentID == "" {
		s.sendError(conn, "", ErrorCodeDocumentRequired, "must send hello first")
		return
	}
	documentID := conn.DocumentID

	req := &domain.StartStreamRequest{
		DocumentID:  documentID,
		Position:    msg.Position,
		Messages:    msg.Messages,
		Model:       msg.Model,
		Temperature: msg.Temperature,
		RequestID:   msg.RequestID,
	}

	// Start asynchronously - don't block the read loop on the archive
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		decision, _, err := s.policy.Evaluate(ctx, map[string]interface{}{
			"operation":    "chat",
			"model":        req.Model,
			"prompt_bytes": req.Messages.PromptBytes(),
		})
		if err != nil {
			log.Printf("ERROR: policy evaluation failed: %v", err)
			s.sendErrorToDocument(documentID, msg.RequestID, ErrorCodeStreamFail, "policy evaluation failed")
			return
		}
		if decision == "block" {
			s.sendErrorToDocument(documentID, msg.RequestID, ErrorCodeStreamFail, "request blocked by policy")
			return
		}

		if _, err := s.engine.StartStream(ctx, req, StreamCallbacks(s.hub, documentID)); err != nil {
			log.Printf("Start stream failed: %v", err)
			s.sendErrorToDocument(documentID, msg.RequestID, ErrorCodeStreamFail, err.Error())
		}
	}()
}

// handleEdit applies a user edit to the bound document. The resulting
// doc_edit fans out to every subscriber through the document observer.
func (s *Server) handleEdit(conn *hub.Connection, data []byte) {
	var msg EditMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid edit message")
		return
	}

	if conn.DocumentID == "" {
		s.sendError(conn, "", ErrorCodeDocumentRequired, "must send hello first")
		return
	}

	doc, ok := s.docs.Get(conn.DocumentID)
	if !ok {
		s.sendError(conn, "", ErrorCodeEditFail, "document no longer exists")
		return
	}

	var err error
	switch msg.Op {
	case document.EditInsert:
		err = doc.Insert(msg.Position, msg.Text)
	case document.EditDelete:
		err = doc.Delete(msg.Position, msg.Length)
	default:
		s.sendError(conn, "", ErrorCodeInvalidMessage, "unknown edit op: "+msg.Op)
		return
	}
	if err != nil {
		s.sendError(conn, "", ErrorCodeEditFail, err.Error())
		return
	}

	// Typing is activity: it interrupts any cancel streak
	s.engine.NotifyActivity(conn.DocumentID)
}

// handleCancelIntent feeds one gesture into the escalation counter and
// answers with the resulting state.
func (s *Server) handleCancelIntent(conn *hub.Connection, data []byte) {
	var msg CancelIntentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid cancel_intent message")
		return
	}

	if conn.DocumentID == "" {
		s.sendError(conn, "", ErrorCodeDocumentRequired, "must send hello first")
		return
	}

	resp, err := s.engine.CancelIntent(conn.DocumentID, msg.Cancel)
	if err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, err.Error())
		return
	}

	state := CancelStateMessage{
		BaseMessage: BaseMessage{
			Type:       TypeCancelState,
			Ts:         time.Now().UnixMilli(),
			RequestID:  msg.RequestID,
			DocumentID: conn.DocumentID,
		},
		Count:     resp.Count,
		Remaining: resp.Remaining,
		Aborted:   resp.Aborted,
	}
	s.hub.SendJSONToConnection(conn, state)
}

// handleAbortStream aborts a single stream by id.
func (s *Server) handleAbortStream(conn *hub.Connection, data []byte) {
	var msg AbortStreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid abort_stream message")
		return
	}

	if msg.StreamID == "" {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "stream_id is required")
		return
	}

	if err := s.engine.AbortStream(msg.StreamID); err != nil {
		s.sendError(conn, msg.StreamID, ErrorCodeStreamFail, err.Error())
		return
	}

	ack := AbortedMessage{
		BaseMessage: BaseMessage{
			Type:       TypeAborted,
			Ts:         time.Now().UnixMilli(),
			RequestID:  msg.RequestID,
			DocumentID: conn.DocumentID,
			StreamID:   msg.StreamID,
		},
	}
	s.hub.SendJSONToConnection(conn, ack)
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, streamID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:       TypeError,
			Ts:         time.Now().UnixMilli(),
			DocumentID: conn.DocumentID,
			StreamID:   streamID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

// sendErrorToDocument sends an error message to all subscribers of a document.
func (s *Server) sendErrorToDocument(documentID, requestID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:       TypeError,
			Ts:         time.Now().UnixMilli(),
			RequestID:  requestID,
			DocumentID: documentID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.BroadcastJSON(documentID, errMsg)
}

// AttachDocument mirrors every edit of the document to its hub subscribers.
// Call once per document, right after it is created.
func AttachDocument(h *hub.Hub, doc *document.Document) {
	documentID := doc.ID()
	doc.OnEdit(func(ed document.Edit) {
		// Streaming inserts fire this on every delta; skip the marshal when
		// nobody is listening.
		if !h.HasSubscribers(documentID) {
			return
		}
		h.BroadcastJSON(documentID, DocEditMessage{
			BaseMessage: BaseMessage{
				Type:       TypeDocEdit,
				Ts:         time.Now().UnixMilli(),
				DocumentID: documentID,
			},
			Kind:     ed.Kind,
			Position: ed.Position,
			Text:     ed.Text,
			Length:   ed.Length,
			Version:  ed.Version,
		})
	})
}

// StreamCallbacks builds the engine callbacks that mirror one stream's
// lifecycle to a document's subscribers. The stream id is captured from the
// registration hook, which the engine fires before any other callback.
func StreamCallbacks(h *hub.Hub, documentID string) engine.Callbacks {
	var mu sync.Mutex
	var streamID string
	sid := func() string {
		mu.Lock()
		defer mu.Unlock()
		return streamID
	}
	base := func(msgType string) BaseMessage {
		return BaseMessage{
			Type:       msgType,
			Ts:         time.Now().UnixMilli(),
			DocumentID: documentID,
			StreamID:   sid(),
		}
	}

	return engine.Callbacks{
		OnRegistered: func(id string) {
			mu.Lock()
			streamID = id
			mu.Unlock()
			h.BroadcastJSON(documentID, BaseMessage{
				Type:       TypeStreamStarted,
				Ts:         time.Now().UnixMilli(),
				DocumentID: documentID,
				StreamID:   id,
			})
		},
		OnContentInserted: func(r document.Range) {
			h.BroadcastJSON(documentID, StreamDeltaMessage{
				BaseMessage: base(TypeStreamDelta),
				Start:       r.Start,
				End:         r.End,
			})
		},
		OnFinal: func(r document.Range) {
			h.BroadcastJSON(documentID, DoneMessage{
				BaseMessage: base(TypeDone),
				Start:       r.Start,
				End:         r.End,
			})
		},
		OnError: func(serr *domain.StreamError) {
			h.BroadcastJSON(documentID, StreamFailedMessage{
				BaseMessage: base(TypeStreamFailed),
				Kind:        string(serr.Kind),
				Message:     serr.Message,
				ErrorType:   serr.Type,
				Code:        serr.Code,
			})
		},
		OnStatusChange: func(message, severity string) {
			h.BroadcastJSON(documentID, StatusMessage{
				BaseMessage: base(TypeStatus),
				Message:     message,
				Severity:    severity,
			})
		},
	}
}
