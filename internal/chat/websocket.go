package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a Client over a single authenticated WebSocket
// connection to the chat platform.
type WSClient struct {
	baseURL string
	token   string
	conn    *websocket.Conn
	connMu  sync.Mutex
	msgID   atomic.Int64

	// Response channels keyed by request ID
	pending   map[int64]chan wsResponse
	pendingMu sync.Mutex

	messages chan Message
	stops    chan StopRequest

	logger *slog.Logger
}

// wsFrame is the generic frame format in both directions.
type wsFrame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	Success bool
	Result  json.RawMessage
	Error   *wsError
}

// NewWSClient creates a WebSocket chat client. Call Connect before use.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL:  baseURL,
		token:    token,
		pending:  make(map[int64]chan wsResponse),
		messages: make(chan Message, 100),
		stops:    make(chan StopRequest, 16),
		logger:   logger,
	}
}

// Connect establishes the WebSocket connection and authenticates.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/websocket"
	}

	c.logger.Info("connecting to chat platform", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	// Server speaks first with a hello, then expects auth.
	var hello wsFrame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != "hello" {
		conn.Close()
		return fmt.Errorf("expected hello, got %s", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	var authResp wsFrame
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if authResp.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("authentication failed: %s", authResp.Type)
	}

	c.logger.Info("chat connection authenticated")

	c.conn = conn
	go c.readLoop(conn)

	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Messages delivers inbound messages addressed to the assistant.
func (c *WSClient) Messages() <-chan Message {
	return c.messages
}

// Stops delivers stop-generation requests.
func (c *WSClient) Stops() <-chan StopRequest {
	return c.stops
}

// SendMessage posts a new message and returns its id.
func (c *WSClient) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	result, err := c.call(ctx, "send_message", map[string]any{
		"channel_id": channelID,
		"text":       text,
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("unmarshal send result: %w", err)
	}
	return out.ID, nil
}

// UpdateMessage replaces the full text and attachments of a message.
func (c *WSClient) UpdateMessage(ctx context.Context, messageID, text string, attachments []Attachment) error {
	payload := map[string]any{
		"message_id": messageID,
		"text":       text,
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}
	if _, err := c.call(ctx, "update_message", payload); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// SendStatus sets or clears an ephemeral status on a channel.
func (c *WSClient) SendStatus(ctx context.Context, channelID, status string) error {
	if _, err := c.call(ctx, "send_status", map[string]any{
		"channel_id": channelID,
		"status":     status,
	}); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	return nil
}

// call sends a typed request frame and waits for its result frame.
func (c *WSClient) call(ctx context.Context, msgType string, payload map[string]any) (json.RawMessage, error) {
	id := c.msgID.Add(1)
	payload["id"] = id
	payload["type"] = msgType

	respCh := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("not connected")
	} else {
		err = conn.WriteJSON(payload)
	}
	c.connMu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

// readLoop continuously reads frames from the WebSocket.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("chat connection closed")
				return
			}
			c.logger.Error("chat connection read error", "error", err)
			return
		}

		switch frame.Type {
		case "result":
			c.pendingMu.Lock()
			if ch, ok := c.pending[frame.ID]; ok {
				ch <- wsResponse{Success: frame.Success, Result: frame.Result, Error: frame.Error}
			}
			c.pendingMu.Unlock()

		case "message_posted":
			var msg Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				c.logger.Warn("malformed inbound message", "error", err)
				continue
			}
			select {
			case c.messages <- msg:
			default:
				c.logger.Warn("message channel full, dropping message", "id", msg.ID)
			}

		case "stop_request":
			var stop StopRequest
			if err := json.Unmarshal(frame.Data, &stop); err != nil {
				c.logger.Warn("malformed stop request", "error", err)
				continue
			}
			select {
			case c.stops <- stop:
			default:
				c.logger.Warn("stop channel full, dropping request", "message_id", stop.MessageID)
			}

		case "pong":
			// keepalive, ignore

		default:
			c.logger.Debug("unhandled chat frame type", "type", frame.Type)
		}
	}
}
