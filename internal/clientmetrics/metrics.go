// Package clientmetrics counts traffic on the long-lived connections held by
// workload fixtures. Counters are logged when a fixture is released.
package clientmetrics

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ClientMetrics tracks connection and message statistics for one protocol client.
type ClientMetrics struct {
	mu          sync.Mutex
	connectTime time.Time

	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the connection time.
func (m *ClientMetrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
}

// IncrementSent counts one outbound message of the given size.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(bytes)
}

// IncrementReceived counts one inbound message of the given size.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.messagesRecv.Add(1)
	m.bytesRecv.Add(bytes)
}

// IncrementErrors increments the error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.errors.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Snapshot returns the current counters.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	connected := m.connectTime
	m.mu.Unlock()

	var duration time.Duration
	if !connected.IsZero() {
		duration = time.Since(connected)
	}
	return Snapshot{
		ConnectionDuration: duration,
		MessagesSent:       m.messagesSent.Load(),
		MessagesReceived:   m.messagesRecv.Load(),
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesRecv.Load(),
		Errors:             m.errors.Load(),
	}
}

// Fields renders the snapshot as structured log fields.
func (s Snapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Duration("connected_for", s.ConnectionDuration),
		zap.Int64("messages_sent", s.MessagesSent),
		zap.Int64("messages_received", s.MessagesReceived),
		zap.Int64("bytes_sent", s.BytesSent),
		zap.Int64("bytes_received", s.BytesReceived),
		zap.Int64("errors", s.Errors),
	}
}
