// Package hub provides connection management for WebSocket clients.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID         string
	DocumentID string
	Conn       *websocket.Conn
	Send       chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub manages all WebSocket connections. Clients subscribe to a document and
// receive every edit and stream event that touches it.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Documents maps document_id to set of connection IDs
	documents map[string]map[string]bool

	// Channels for registration/unregistration
	register   chan *Connection
	unregister chan *Connection

	// Broadcast channel for sending to a document's subscribers
	broadcast chan *broadcastMessage

	mu sync.RWMutex
}

type broadcastMessage struct {
	documentID string
	data       []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		documents:   make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *broadcastMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.DocumentID != "" {
				if h.documents[conn.DocumentID] == nil {
					h.documents[conn.DocumentID] = make(map[string]bool)
				}
				h.documents[conn.DocumentID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("Connection registered: %s (document: %s)", conn.ID, conn.DocumentID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.DocumentID != "" && h.documents[conn.DocumentID] != nil {
					delete(h.documents[conn.DocumentID], conn.ID)
					if len(h.documents[conn.DocumentID]) == 0 {
						delete(h.documents, conn.DocumentID)
					}
				}
				conn.markClosed()
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.documents[msg.documentID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.data:
						default:
							// Buffer full, close the connection
							log.Printf("Connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection, not yet registered.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BindDocument subscribes a connection to a document.
func (h *Hub) BindDocument(conn *Connection, documentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Remove from old document if any
	if conn.DocumentID != "" && h.documents[conn.DocumentID] != nil {
		delete(h.documents[conn.DocumentID], conn.ID)
		if len(h.documents[conn.DocumentID]) == 0 {
			delete(h.documents, conn.DocumentID)
		}
	}

	// Add to new document
	conn.DocumentID = documentID
	if h.documents[documentID] == nil {
		h.documents[documentID] = make(map[string]bool)
	}
	h.documents[documentID][conn.ID] = true
}

// BroadcastJSON sends a JSON message to all subscribers of a document.
func (h *Hub) BroadcastJSON(documentID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.broadcast <- &broadcastMessage{documentID: documentID, data: data}
	return nil
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.send(data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetDocumentCount returns the number of documents with subscribers.
func (h *Hub) GetDocumentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.documents)
}

// HasSubscribers checks if a document has any active connections.
func (h *Hub) HasSubscribers(documentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.documents[documentID]
	return ok && len(connIDs) > 0
}

// send queues data for the write pump. Sends to an unregistered connection
// report the buffer as closed rather than panicking on the closed channel.
func (c *Connection) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// markClosed closes the send channel exactly once. Called by the hub when
// the connection is unregistered; direct sends after this point fail instead
// of panicking.
func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WriteMessage writes a message to the connection.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = errors.New("connection closed")
