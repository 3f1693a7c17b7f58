package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("audit: queue full")
	ErrSinkClosed = errors.New("audit: sink closed")
)

// AsyncSink moves writes to a slow sink (database, network) off the request path.
// Write only enqueues; a full queue drops the event and reports ErrQueueFull, which the
// Recorder logs. A single worker drains the queue in order.
type AsyncSink struct {
	next    Sink
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewAsyncSink starts the worker for next. size bounds the queue (default 1024); timeout
// bounds each write to next (default 2s).
func NewAsyncSink(next Sink, size int, timeout time.Duration, log *slog.Logger) *AsyncSink {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	s := &AsyncSink{
		next:    next,
		log:     log,
		timeout: timeout,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Write(_ context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.next.Write(ctx, ev)
		cancel()
		if err != nil {
			s.log.Error("audit.record.fail",
				"err", err,
				"action", ev.Action,
				"sink", fmt.Sprintf("%T", s.next),
			)
		}
	}
}

// Close stops accepting events and waits for the queued ones to be written or ctx to end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
