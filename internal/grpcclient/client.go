// Package grpcclient is the connection behind the grpc_conn fixture. It issues
// standard health checks so any gRPC server can be benchmarked without its
// service descriptors.
package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/torosent/crankbench/internal/clientmetrics"
	"github.com/torosent/crankbench/internal/tracing"
)

// Config holds configuration for the gRPC client
type Config struct {
	Target    string
	Metadata  map[string]string
	UseTLS    bool
	Insecure  bool // skip certificate verification when UseTLS is set
	Propagate bool // inject trace context into outgoing metadata

	// Dialer replaces the network dialer; used with in-memory listeners.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client wraps one gRPC connection.
type Client struct {
	target     string
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	md         metadata.MD
	propagate  bool
	metrics    *clientmetrics.ClientMetrics
	mu         sync.Mutex
	lastStatus string
}

// Dial establishes a gRPC connection based on configuration
func Dial(cfg Config) (*grpc.ClientConn, error) {
	if cfg.Target == "" {
		return nil, errors.New("gRPC target is required")
	}
	var opts []grpc.DialOption
	if cfg.UseTLS {
		if cfg.Insecure {
			creds := credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})
			opts = append(opts, grpc.WithTransportCredentials(creds))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(cfg.Dialer))
	}

	// grpc.NewClient does not connect until the first call.
	return grpc.NewClient(cfg.Target, opts...)
}

// Connect dials cfg.Target and returns a ready client.
func Connect(cfg Config) (*Client, error) {
	conn, err := Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Target, err)
	}
	c := &Client{
		target:     cfg.Target,
		conn:       conn,
		health:     healthpb.NewHealthClient(conn),
		md:         metadata.New(cfg.Metadata),
		propagate:  cfg.Propagate,
		metrics:    clientmetrics.New(),
		lastStatus: "UNSET",
	}
	c.metrics.MarkConnected()
	return c, nil
}

// Conn exposes the underlying connection for custom stubs.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Check calls grpc.health.v1.Health/Check for service ("" means the whole
// server) and returns the reported serving status.
func (c *Client) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	req := &healthpb.HealthCheckRequest{Service: service}
	ctx = c.outgoing(ctx)

	resp, err := c.health.Check(ctx, req)

	c.mu.Lock()
	c.lastStatus = status.Code(err).String()
	c.mu.Unlock()

	c.metrics.IncrementSent(int64(proto.Size(req)))
	if err != nil {
		c.metrics.IncrementErrors()
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", c.target, err)
	}
	c.metrics.IncrementReceived(int64(proto.Size(resp)))
	return resp.GetStatus(), nil
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if len(c.md) == 0 && !c.propagate {
		return ctx
	}
	md := c.md.Copy()
	if c.propagate {
		tracing.InjectGRPCMetadata(ctx, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// LastStatus returns the gRPC code of the most recent call.
func (c *Client) LastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Metrics returns the current traffic counters.
func (c *Client) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
