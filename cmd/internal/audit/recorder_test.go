package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type failingSink struct{ calls int }

func (f *failingSink) Write(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

func TestRecorder_FillsDefaultsAndOrigin(t *testing.T) {
	t.Parallel()

	mem := &MemorySink{}
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecorder(slog.Default(), WithSinks(mem), WithClock(func() time.Time { return fixed }))

	ctx := WithOrigin(context.Background(), Origin{IP: net.ParseIP("10.0.0.7"), UserAgent: "ua/1"})
	r.Record(ctx, Event{Action: " auth.login.success ", SubjectID: "s1", Meta: map[string]any{"email": "a@b.c"}})

	evs := mem.Events()
	if len(evs) != 1 {
		t.Fatalf("events=%d", len(evs))
	}
	ev := evs[0]
	if ev.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	if ev.Action != "auth.login.success" || ev.SubjectID != "s1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.At.Equal(fixed) {
		t.Fatalf("at=%v", ev.At)
	}
	if ev.IP != "10.0.0.7" || ev.UserAgent != "ua/1" {
		t.Fatalf("origin not applied: %+v", ev)
	}
}

func TestRecorder_EmptyActionIgnored(t *testing.T) {
	t.Parallel()

	mem := &MemorySink{}
	NewRecorder(nil, WithSinks(mem)).Record(context.Background(), Event{Action: "  "})
	if n := len(mem.Events()); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

func TestRecorder_SinkFailureIsLoggedNotFatal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	bad := &failingSink{}
	mem := &MemorySink{}
	r := NewRecorder(log, WithSinks(bad, mem))

	r.Record(context.Background(), Event{Action: "identity.password.change"})

	if bad.calls != 1 {
		t.Fatalf("failing sink calls=%d", bad.calls)
	}
	if len(mem.Events()) != 1 {
		t.Fatalf("healthy sink must still receive the event")
	}
	if !strings.Contains(buf.String(), "audit.record.fail") {
		t.Fatalf("expected failure log, got %q", buf.String())
	}
}

func TestRecorder_CancelledContextStillRecords(t *testing.T) {
	t.Parallel()

	mem := &MemorySink{}
	r := NewRecorder(nil, WithSinks(mem))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Event{Action: "auth.logout"})

	if len(mem.Events()) != 1 {
		t.Fatalf("expected event despite cancelled request context")
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.Record(context.Background(), Event{Action: "x"})
}

func TestRedisStreamSink_UnreachableDoesNotBlock(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	mem := &MemorySink{}
	r := NewRecorder(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		WithSinks(NewRedisStreamSink(client, "", 0), mem),
		WithTimeout(500*time.Millisecond),
	)

	start := time.Now()
	r.Record(context.Background(), Event{Action: "auth.register"})
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("record blocked for %v", d)
	}
	if len(mem.Events()) != 1 {
		t.Fatalf("memory sink should still receive the event")
	}
}

func TestOriginFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("User-Agent", " curl/8 ")

	if got := OriginFromRequest(req, false); got.IP.String() != "192.0.2.1" || got.UserAgent != "curl/8" {
		t.Fatalf("untrusted origin=%+v", got)
	}
	if got := OriginFromRequest(req, true); got.IP.String() != "203.0.113.9" {
		t.Fatalf("trusted origin=%+v", got)
	}
}

func TestMiddleware_AttachesOrigin(t *testing.T) {
	t.Parallel()

	var got Origin
	var ok bool
	h := Middleware(false)(httpHandlerFunc(func(ctx context.Context) {
		got, ok = OriginFrom(ctx)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || got.IP.String() != "198.51.100.4" {
		t.Fatalf("origin=%+v ok=%v", got, ok)
	}
}
