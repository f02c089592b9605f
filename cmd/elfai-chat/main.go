// Package main provides a simple CLI client for chatting through the elfai
// daemon over WebSocket. Responses stream into the shared document and are
// rendered as they arrive; repeated Ctrl+C escalates into a full abort.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KarimAziev/elfai/domain"
	"github.com/KarimAziev/elfai/ws"
)

// Client represents a WebSocket client holding a local document mirror.
type Client struct {
	conn *websocket.Conn
	done chan struct{}

	// closed when the daemon reports that the cancel threshold was crossed
	aborted   chan struct{}
	abortOnce sync.Once

	mu         sync.Mutex
	documentID string
	streamID   string
	mirror     []byte
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:    conn,
		done:    make(chan struct{}),
		aborted: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// SendHello sends a hello message and waits for hello_ack.
func (c *Client) SendHello(apiKey, documentID string) error {
	msg := ws.HelloMessage{
		BaseMessage: ws.BaseMessage{
			Type:       ws.TypeHello,
			Ts:         time.Now().UnixMilli(),
			DocumentID: documentID,
		},
		APIKey: apiKey,
		ClientMeta: map[string]string{
			"client": "elfai-chat",
		},
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	// Wait for hello_ack
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}

	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}

	if base.Type == ws.TypeError {
		var errMsg ws.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}

	if base.Type != ws.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}

	var ack ws.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}

	c.mu.Lock()
	c.documentID = ack.DocumentID
	c.mirror = []byte(ack.Text)
	c.mu.Unlock()
	return nil
}

// SendPrompt asks the daemon to stream a completion at the end of the
// mirrored document.
func (c *Client) SendPrompt(model, content string) error {
	c.mu.Lock()
	position := len(c.mirror)
	c.mu.Unlock()

	msg := ws.StartStreamMessage{
		BaseMessage: ws.BaseMessage{
			Type:      ws.TypeStartStream,
			Ts:        time.Now().UnixMilli(),
			RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
		},
		Position: position,
		Messages: domain.Conversation{
			{Role: domain.RoleSystem, Content: domain.Text("You are a writing assistant. Continue directly in the document.")},
			{Role: domain.RoleUser, Content: domain.Text(content)},
		},
		Model: model,
	}

	return c.conn.WriteJSON(msg)
}

// SendAbort aborts the stream currently running, if any.
func (c *Client) SendAbort() error {
	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()

	if streamID == "" {
		fmt.Println("No stream to abort.")
		return nil
	}

	return c.conn.WriteJSON(ws.AbortStreamMessage{
		BaseMessage: ws.BaseMessage{
			Type:     ws.TypeAbortStream,
			Ts:       time.Now().UnixMilli(),
			StreamID: streamID,
		},
	})
}

// SendCancelGesture reports one cancel keypress toward the escalation
// threshold.
func (c *Client) SendCancelGesture() error {
	return c.conn.WriteJSON(ws.CancelIntentMessage{
		BaseMessage: ws.BaseMessage{
			Type: ws.TypeCancelIntent,
			Ts:   time.Now().UnixMilli(),
		},
		Cancel: true,
	})
}

// applyEdit keeps the local mirror in sync with the daemon's document.
func (c *Client) applyEdit(msg *ws.DocEditMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Kind {
	case "insert":
		if msg.Position < 0 || msg.Position > len(c.mirror) {
			return
		}
		c.mirror = append(c.mirror[:msg.Position], append([]byte(msg.Text), c.mirror[msg.Position:]...)...)
	case "delete":
		end := msg.Position + msg.Length
		if msg.Position < 0 || end > len(c.mirror) {
			return
		}
		c.mirror = append(c.mirror[:msg.Position], c.mirror[end:]...)
	}
}

// ReadMessages reads messages from the server and renders them.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}

			var base ws.BaseMessage
			if err := json.Unmarshal(data, &base); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}

			switch base.Type {
			case ws.TypeStreamStarted:
				c.mu.Lock()
				c.streamID = base.StreamID
				c.mu.Unlock()

			case ws.TypeDocEdit:
				var msg ws.DocEditMessage
				if err := json.Unmarshal(data, &msg); err != nil {
					continue
				}
				c.applyEdit(&msg)
				if msg.Kind == "insert" {
					fmt.Print(msg.Text)
				}

			case ws.TypeStreamDelta:
				// Interval bookkeeping only; the text arrived as doc_edit

			case ws.TypeStatus:
				var msg ws.StatusMessage
				json.Unmarshal(data, &msg)
				fmt.Printf("\n[%s] %s\n", msg.Severity, msg.Message)

			case ws.TypeDone:
				c.mu.Lock()
				c.streamID = ""
				c.mu.Unlock()
				fmt.Println()

			case ws.TypeStreamFailed:
				var msg ws.StreamFailedMessage
				json.Unmarshal(data, &msg)
				c.mu.Lock()
				c.streamID = ""
				c.mu.Unlock()
				fmt.Printf("\nStream failed (%s): %s\n", msg.Kind, msg.Message)

			case ws.TypeAborted:
				c.mu.Lock()
				c.streamID = ""
				c.mu.Unlock()
				fmt.Println("\nStream aborted, response rolled back.")

			case ws.TypeCancelState:
				var msg ws.CancelStateMessage
				json.Unmarshal(data, &msg)
				if msg.Aborted {
					fmt.Println("\nCancel threshold reached, all streams aborted.")
					c.abortOnce.Do(func() { close(c.aborted) })
				} else {
					fmt.Printf("\nCancel %d/%d - %d more to abort everything.\n", msg.Count, msg.Count+msg.Remaining, msg.Remaining)
				}

			case ws.TypeError:
				var msg ws.ErrorMessage
				json.Unmarshal(data, &msg)
				fmt.Printf("\nError [%s]: %s\n", msg.Code, msg.Message)

			default:
				// Unknown message; dump it for debugging
				var pretty map[string]interface{}
				json.Unmarshal(data, &pretty)
				formatted, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Printf("\n[%s] Received:\n%s\n", base.Type, string(formatted))
			}
		}
	}
}

// readLines pumps input lines into a channel so the prompt loop can select
// across user input and interrupts.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	return lines
}

// interact runs the prompt loop. Each Ctrl+C counts as one cancel gesture
// toward the daemon's escalation threshold; crossing it aborts every live
// stream and ends the session.
func interact(client *Client, model string, lines <-chan string, interrupt <-chan os.Signal) {
	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println()
			if err := client.SendCancelGesture(); err != nil {
				log.Printf("Send error: %v", err)
			}

		case <-client.aborted:
			fmt.Println("Bye!")
			return

		case line, ok := <-lines:
			if !ok {
				return
			}

			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}

			switch input {
			case "/quit":
				fmt.Println("Bye!")
				return
			case "/abort":
				if err := client.SendAbort(); err != nil {
					log.Printf("Send error: %v", err)
				}
				continue
			case "/cancel":
				if err := client.SendCancelGesture(); err != nil {
					log.Printf("Send error: %v", err)
				}
				continue
			}

			if err := client.SendPrompt(model, input); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	apiKey := flag.String("api-key", "", "API key for authentication")
	documentID := flag.String("document", "", "Document to bind (empty creates a fresh one)")
	model := flag.String("model", "", "Model override")
	flag.Parse()

	log.SetFlags(log.Ltime)

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	fmt.Println("Connected. Sending hello...")

	if err := client.SendHello(*apiKey, *documentID); err != nil {
		log.Fatalf("Hello failed: %v", err)
	}

	fmt.Printf("Bound to document: %s\n", client.documentID)
	fmt.Println("\nType a prompt and press Enter to stream a response.")
	fmt.Println("Commands: /abort, /cancel, /quit. Repeated Ctrl+C aborts everything.")
	fmt.Println()

	// Start reading messages in background
	go client.ReadMessages()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	interact(client, *model, readLines(os.Stdin), interrupt)
}
