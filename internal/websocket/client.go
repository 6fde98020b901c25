package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"marketplace-chat/internal/models"
	"marketplace-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Client is one authenticated websocket connection. conn may be nil for
// clients that are only driven through their send channel.
type Client struct {
	id        string
	principal models.Principal
	conn      *websocket.Conn
	send      chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, principal models.Principal, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Client{
		id:        uuid.NewString(),
		principal: principal,
		conn:      conn,
		send:      make(chan []byte, bufferSize),
	}
}

func (c *Client) ID() string                  { return c.id }
func (c *Client) Principal() models.Principal { return c.principal }

// Outgoing exposes queued frames. WritePump drains it for real connections.
func (c *Client) Outgoing() <-chan []byte { return c.send }

// Emit queues an outbound event for this client only.
func (c *Client) Emit(event string, data interface{}) error {
	frame, err := json.Marshal(models.OutboundFrame{Event: event, Data: data})
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting frames. WritePump flushes what is queued and then
// sends a close frame. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads frames until the connection fails or ctx is done, handing
// each one to handle. Frames are handled one at a time, so events from a
// single connection are processed in the order they were sent.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, raw []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error for connection %s: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(ctx, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("Write error for connection %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadHandshakeFrame reads one text frame before the connection is
// authenticated. deadline bounds the wait.
func ReadHandshakeFrame(conn *websocket.Conn, deadline time.Time) ([]byte, error) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return message, nil
		}
	}
}

// Reject tells an unauthenticated peer why it is being dropped and closes
// the connection.
func Reject(conn *websocket.Conn, reason string) {
	frame, _ := json.Marshal(models.OutboundFrame{
		Event: models.EventConnectionError,
		Data:  models.ConnectionErrorPayload{Reason: reason},
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err == nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	}
	conn.Close()
}
