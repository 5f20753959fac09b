package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("websocket client is closed")
	// ErrSendBufferFull is returned by Send when the writer has fallen behind.
	ErrSendBufferFull = errors.New("websocket client send buffer is full")
)

// Client is the hub's view of one browser tab. Outbound frames are queued on
// send and written by writePump, so Send never blocks the hub.
type Client struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger,
	}
}

// Send queues payload for the client.
func (c *Client) Send(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer once it has flushed what is already queued. The
// websocket is then closed with a normal closure. Safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump writes queued frames until the client is closed or a write fails.
func (c *Client) writePump(writeTimeout time.Duration) {
	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			// Breaks the read side too, which reports the failure to the hub.
			c.conn.CloseNow()
			return
		}
	}

	if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.logger.Debug("WebSocket close handshake did not complete", "error", err)
	}
}
