// Package websocket is the connection behind the websocket fixture: one dialed
// connection per executor, used for request/response round trips.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/crankbench/internal/clientmetrics"
)

// Message represents a WebSocket message to send or receive.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Text returns a text message.
func Text(s string) Message {
	return Message{Type: websocket.TextMessage, Data: []byte(s)}
}

// Binary returns a binary message.
func Binary(data []byte) Message {
	return Message{Type: websocket.BinaryMessage, Data: data}
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// Client is a single WebSocket connection. Writes are serialized; reads are
// expected from one goroutine at a time, which holds for an executor.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *clientmetrics.ClientMetrics
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		metrics: clientmetrics.New(),
	}
}

// Connect establishes a WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.metrics.IncrementErrors()
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.metrics.MarkConnected()
	return nil
}

// Send writes msg. The write deadline is the earlier of ctx's deadline and the
// configured write timeout.
func (c *Client) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.New("not connected")
	}
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.metrics.IncrementErrors()
		return fmt.Errorf("write message: %w", err)
	}
	c.metrics.IncrementSent(int64(len(msg.Data)))
	return nil
}

// Receive reads the next message.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Message{}, errors.New("not connected")
	}
	if err := conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout)); err != nil {
		return Message{}, err
	}
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		c.metrics.IncrementErrors()
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	c.metrics.IncrementReceived(int64(len(data)))
	return Message{Type: msgType, Data: data}, nil
}

// RoundTrip sends msg and waits for the next message.
func (c *Client) RoundTrip(ctx context.Context, msg Message) (Message, error) {
	if err := c.Send(ctx, msg); err != nil {
		return Message{}, err
	}
	return c.Receive(ctx)
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil {
		return err
	}
	return closeErr
}

// Metrics returns the current traffic counters.
func (c *Client) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
