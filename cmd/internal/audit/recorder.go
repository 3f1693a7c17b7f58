package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

// Recorder fans events out to its sinks. A nil *Recorder is a valid no-op.
type Recorder struct {
	log     *slog.Logger
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithTimeout bounds each sink write (default 2s).
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSinks appends sinks.
func WithSinks(sinks ...Sink) RecorderOption {
	return func(r *Recorder) {
		for _, s := range sinks {
			if s != nil {
				r.sinks = append(r.sinks, s)
			}
		}
	}
}

// WithClock overrides the event timestamp source (tests).
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder builds a Recorder. Without sinks, Record is a no-op.
func NewRecorder(log *slog.Logger, opts ...RecorderOption) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		log:     log,
		timeout: 2 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record writes ev to every sink. Failures are logged as "audit.record.fail" and swallowed.
// The write survives cancellation of ctx (a disconnecting client still gets audited).
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	if o, ok := OriginFrom(ctx); ok {
		if ev.IP == "" && o.IP != nil {
			ev.IP = o.IP.String()
		}
		if ev.UserAgent == "" {
			ev.UserAgent = o.UserAgent
		}
	}

	base := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		wctx, cancel := context.WithTimeout(base, r.timeout)
		err := s.Write(wctx, ev)
		cancel()
		if err != nil {
			r.log.Error("audit.record.fail",
				"err", err,
				"action", ev.Action,
				"sink", fmt.Sprintf("%T", s),
			)
		}
	}
}
