package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPC speaks through a unary RPC carrying a structpb.Struct of
// {text, voice, volume} and returning google.protobuf.Empty.
type GRPC struct {
	endpoint    string
	method      string
	dialTimeout time.Duration

	mu     sync.Mutex
	conn   *grpc.ClientConn
	voice  string
	volume int
}

// NewGRPC returns a backend for endpoint. The connection is opened on first use.
func NewGRPC(endpoint, method string, dialTimeout time.Duration) *GRPC {
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	return &GRPC{
		endpoint:    strings.TrimSpace(endpoint),
		method:      method,
		dialTimeout: dialTimeout,
	}
}

func (g *GRPC) SetVolume(_ context.Context, volume int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.volume = volume
	return nil
}

func (g *GRPC) SetVoice(_ context.Context, voice string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voice = voice
	return nil
}

func (g *GRPC) Speak(ctx context.Context, text string) error {
	conn, err := g.connect(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	payload := map[string]any{"text": text, "voice": g.voice, "volume": g.volume}
	g.mu.Unlock()

	req, err := structpb.NewStruct(payload)
	if err != nil {
		return fmt.Errorf("build speak request: %w", err)
	}
	if err := conn.Invoke(ctx, g.method, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("invoke %s: %w", g.method, err)
	}
	return nil
}

// Health runs the standard gRPC health check against the endpoint.
func (g *GRPC) Health(ctx context.Context) error {
	conn, err := g.connect(ctx)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check %s: %w", g.endpoint, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s reports %s", ErrUnavailable, g.endpoint, resp.GetStatus())
	}
	return nil
}

// Close releases the connection, if any.
func (g *GRPC) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

func (g *GRPC) connect(ctx context.Context) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil && g.conn.GetState() != connectivity.Shutdown {
		return g.conn, nil
	}
	if g.endpoint == "" {
		return nil, fmt.Errorf("%w: grpc endpoint is empty", ErrUnavailable)
	}

	conn, err := grpc.NewClient(
		g.endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial speech grpc %q: %w", g.endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, g.dialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: wait for speech grpc readiness: %v", ErrUnavailable, err)
	}
	g.conn = conn
	return conn, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
