// Package sse is the connection behind the sse fixture: one open event stream
// per executor, read one event per call.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/torosent/crankbench/internal/clientmetrics"
)

// ErrClosed is returned by ReadEvent once the stream has ended.
var ErrClosed = errors.New("sse: stream closed")

// Event represents a Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// StatusError is returned when the endpoint responds with a non-200 status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Config configures the SSE client.
type Config struct {
	URL     string
	Headers http.Header
	// ConnectTimeout bounds dialing and waiting for response headers. The
	// stream itself has no deadline.
	ConnectTimeout time.Duration
}

// Client is one event stream. Reads are expected from one goroutine at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	mu         sync.Mutex
	body       io.ReadCloser
	reader     *bufio.Reader
	cancel     context.CancelFunc
	lastID     string
	metrics    *clientmetrics.ClientMetrics
}

// NewClient creates a new SSE client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		metrics:    clientmetrics.New(),
	}
}

// Connect opens the stream. The stream stays open after ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.body != nil {
		return errors.New("already connected")
	}

	// Only the handshake is bound to ctx; cancel aborts the stream later.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		cancel()
		c.metrics.IncrementErrors()
		return fmt.Errorf("create request: %w", err)
	}
	for key, values := range c.cfg.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.lastID != "" {
		req.Header.Set("Last-Event-ID", c.lastID)
	}

	stop := context.AfterFunc(ctx, cancel)
	resp, err := c.httpClient.Do(req)
	if !stop() {
		if err == nil {
			resp.Body.Close()
		}
		return ctx.Err()
	}
	if err != nil {
		cancel()
		c.metrics.IncrementErrors()
		return fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		c.metrics.IncrementErrors()
		resp.Body.Close()
		return &StatusError{Code: resp.StatusCode}
	}

	c.cancel = cancel
	c.body = resp.Body
	c.reader = bufio.NewReader(resp.Body)
	c.metrics.MarkConnected()
	return nil
}

// ReadEvent blocks until the next complete event. If ctx ends first the
// stream is closed, since a partial read cannot be resumed.
func (c *Client) ReadEvent(ctx context.Context) (Event, error) {
	c.mu.Lock()
	reader, cancel := c.reader, c.cancel
	c.mu.Unlock()
	if reader == nil {
		return Event{}, errors.New("not connected")
	}

	stop := context.AfterFunc(ctx, cancel)
	ev, err := c.readEvent(reader)
	if !stop() {
		c.reset()
		return Event{}, ctx.Err()
	}
	if err != nil {
		c.metrics.IncrementErrors()
		c.reset()
		if errors.Is(err, io.EOF) {
			return Event{}, ErrClosed
		}
		return Event{}, fmt.Errorf("read event: %w", err)
	}
	if ev.ID != "" {
		c.mu.Lock()
		c.lastID = ev.ID
		c.mu.Unlock()
	}
	return ev, nil
}

func (c *Client) readEvent(reader *bufio.Reader) (Event, error) {
	var (
		ev    Event
		data  []string
		bytes int64
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		bytes += int64(len(line))
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) == 0 && ev.Event == "" && ev.ID == "" {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			c.metrics.IncrementReceived(bytes)
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		}
	}
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.body == nil {
		return nil
	}
	err := c.body.Close()
	c.cancel()
	c.body = nil
	c.reader = nil
	c.cancel = nil
	return err
}

// Connected reports whether the stream is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body != nil
}

// Close closes the stream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeLocked()
	c.httpClient.CloseIdleConnections()
	return err
}

// Metrics returns the current counters. MessagesReceived counts events.
func (c *Client) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}
