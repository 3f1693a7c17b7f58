package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"assist/cmd/security/token"
	v1 "assist/shared/contracts/realtime/v1"
)

type fakeTransport struct {
	ack   atomic.Bool
	pings atomic.Int32
	block chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	code   websocket.StatusCode
	reason string

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport(ack bool) *fakeTransport {
	f := &fakeTransport{closed: make(chan struct{})}
	f.ack.Store(ack)
	return f
}

func (f *fakeTransport) Send(ctx context.Context, b []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), b...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Ping(context.Context) error {
	f.pings.Add(1)
	if f.ack.Load() {
		return nil
	}
	return errors.New("no pong")
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.code, f.reason = code, reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) closeStatus() (websocket.StatusCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

func (f *fakeTransport) messages(t *testing.T) []v1.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]v1.Envelope, 0, len(f.sent))
	for _, b := range f.sent {
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("decode sent message: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *Metrics) {
	t.Helper()

	m := NewMetrics(prometheus.NewRegistry())
	opts = append([]RegistryOption{WithRegistryLogger(discardLogger()), WithMetrics(m)}, opts...)
	r := NewRegistry(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r, m
}

func testCodec(t *testing.T) token.Codec {
	t.Helper()

	cfg := token.DefaultConfig()
	cfg.Secret = []byte("realtime-test-secret-0123456789abcdef")
	c, err := token.New(cfg)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return c
}

func issueToken(t *testing.T, c token.Codec, id, role string) string {
	t.Helper()

	raw, _, err := c.Issue(token.Subject{ID: id, Email: id + "@example.com", Role: role}, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return raw
}

func notice(typ string) v1.Envelope {
	env, _ := v1.New(typ, "", time.Time{}, map[string]any{"n": 1})
	return env
}
