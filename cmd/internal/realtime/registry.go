package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"assist/cmd/identity/ids"
	v1 "assist/shared/contracts/realtime/v1"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second

	reasonSuperseded = "superseded"
	reasonLiveness   = "liveness"
	reasonWriteFail  = "write_failed"
	reasonShutdown   = "shutdown"
	reasonClosed     = "closed"
)

// ErrStopped is returned by Register after Stop.
var ErrStopped = errors.New("realtime: registry stopped")

// Registry holds at most one live connection per subject and fans messages out to them.
//
// Map mutations and broadcast iteration share one lock. Transport I/O never runs under it:
// sends go through each connection's bounded queue, and closes run on their own goroutines.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	interval     time.Duration
	queueSize    int
	writeTimeout time.Duration

	mu      sync.RWMutex
	conns   map[string]*Conn
	stopped bool

	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	sweepDone chan struct{}

	closeMu  sync.Mutex
	draining bool
	closing  sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithSweepInterval sets the liveness sweep period (default 30s).
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSendQueueSize bounds each connection's outbound queue (default 64).
func WithSendQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithWriteTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an idle registry; Start begins the liveness sweep.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		interval:     defaultSweepInterval,
		queueSize:    defaultSendQueueSize,
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

// Start runs the liveness sweep until ctx ends or Stop is called. Calling it twice is a no-op.
func (r *Registry) Start(ctx context.Context) {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sweepDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		t := time.NewTicker(r.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep(ctx)
			}
		}
	}(r.sweepDone)

	r.log.Info("registry.start", "sweep_interval", r.interval.String())
}

// Stop cancels the sweep, closes every connection and waits for the closes to finish
// or ctx to end. Later Register calls fail with ErrStopped.
func (r *Registry) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	if r.cancel != nil {
		r.cancel()
		<-r.sweepDone
		r.cancel = nil
	}
	r.lifeMu.Unlock()

	r.mu.Lock()
	r.stopped = true
	all := make([]*Conn, 0, len(r.conns))
	for id, c := range r.conns {
		all = append(all, c)
		delete(r.conns, id)
		r.metrics.Connections.WithLabelValues(c.Role).Dec()
	}
	r.mu.Unlock()

	for _, c := range all {
		r.closeConn(c, websocket.StatusNormalClosure, "server shutdown", reasonShutdown)
	}

	// No closing.Add may overlap Wait; closes started from here on are not waited for.
	r.closeMu.Lock()
	r.draining = true
	r.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.closing.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("registry.stop", "closed", len(all))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register records t as the live connection for subjectID, superseding any previous one.
func (r *Registry) Register(subjectID, role string, t Transport) (*Conn, error) {
	c := newConn(subjectID, role, t, r.queueSize)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	old := r.conns[subjectID]
	r.conns[subjectID] = c
	if old != nil {
		r.metrics.Connections.WithLabelValues(old.Role).Dec()
	}
	r.metrics.Connections.WithLabelValues(role).Inc()
	r.mu.Unlock()

	go c.writeLoop(r.writeTimeout, r.onWriteFail)

	if old != nil {
		r.closeConn(old, websocket.StatusNormalClosure, reasonSuperseded, reasonSuperseded)
		r.log.Info("registry.superseded", "subject_id", subjectID)
	}
	r.log.Info("registry.register", "subject_id", subjectID, "role", role)
	return c, nil
}

// Remove drops c if it is still the registered connection for its subject and closes it.
// A connection that was already superseded leaves the newer record untouched.
func (r *Registry) Remove(c *Conn) {
	if c == nil {
		return
	}
	r.remove(c, websocket.StatusNormalClosure, "bye", reasonClosed)
}

func (r *Registry) remove(c *Conn, code websocket.StatusCode, msg, reason string) {
	r.mu.Lock()
	if cur, ok := r.conns[c.SubjectID]; ok && cur == c {
		delete(r.conns, c.SubjectID)
		r.metrics.Connections.WithLabelValues(c.Role).Dec()
	}
	r.mu.Unlock()

	r.closeConn(c, code, msg, reason)
}

func (r *Registry) closeConn(c *Conn, code websocket.StatusCode, msg, reason string) {
	if !c.markClosed(code) {
		return
	}
	if reason != reasonClosed {
		r.metrics.Evictions.WithLabelValues(reason).Inc()
	}

	r.closeMu.Lock()
	tracked := !r.draining
	if tracked {
		r.closing.Add(1)
	}
	r.closeMu.Unlock()

	go func() {
		if tracked {
			defer r.closing.Done()
		}
		_ = c.transport.Close(code, msg)
	}()
}

func (r *Registry) onWriteFail(c *Conn, err error) {
	r.log.Info("registry.write.fail", "subject_id", c.SubjectID, "err", err)
	r.remove(c, websocket.StatusInternalError, "write failed", reasonWriteFail)
}

// Sweep runs one liveness pass. Connections not marked alive since the previous pass are
// closed and removed; the rest are marked not-alive and probed. A probe answered before
// the next pass marks the connection alive again.
func (r *Registry) Sweep(ctx context.Context) {
	var evict, probe []*Conn

	r.mu.Lock()
	for id, c := range r.conns {
		if !c.alive.Load() {
			delete(r.conns, id)
			r.metrics.Connections.WithLabelValues(c.Role).Dec()
			evict = append(evict, c)
			continue
		}
		c.alive.Store(false)
		probe = append(probe, c)
	}
	r.mu.Unlock()

	for _, c := range evict {
		r.log.Info("registry.sweep.evict", "subject_id", c.SubjectID)
		r.closeConn(c, websocket.StatusGoingAway, "liveness timeout", reasonLiveness)
	}

	for _, c := range probe {
		go r.probe(ctx, c)
	}
}

func (r *Registry) probe(ctx context.Context, c *Conn) {
	ctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if err := c.transport.Ping(ctx); err != nil {
		r.log.Debug("registry.ping.fail", "subject_id", c.SubjectID, "err", err)
		return
	}
	c.alive.Store(true)
}

// SendToSubject queues msg for subjectID's live connection. It reports false when the
// subject is not connected or its queue is full; nothing is retained for later delivery.
func (r *Registry) SendToSubject(subjectID string, msg v1.Envelope) bool {
	b, ok := r.encode(msg)
	if !ok {
		return false
	}

	r.mu.RLock()
	c := r.conns[subjectID]
	r.mu.RUnlock()

	if c == nil {
		return false
	}
	return r.deliver(c, b)
}

// BroadcastToRole queues msg for every live connection with role and returns how many accepted it.
func (r *Registry) BroadcastToRole(role string, msg v1.Envelope) int {
	return r.broadcast(msg, func(c *Conn) bool { return c.Role == role })
}

// BroadcastToAll queues msg for every live connection and returns how many accepted it.
func (r *Registry) BroadcastToAll(msg v1.Envelope) int {
	return r.broadcast(msg, func(*Conn) bool { return true })
}

func (r *Registry) broadcast(msg v1.Envelope, match func(*Conn) bool) int {
	b, ok := r.encode(msg)
	if !ok {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.conns {
		if match(c) && r.deliver(c, b) {
			n++
		}
	}
	return n
}

func (r *Registry) deliver(c *Conn, b []byte) bool {
	if c.enqueue(b) {
		r.metrics.Delivered.Inc()
		return true
	}
	r.metrics.Dropped.Inc()
	r.log.Debug("registry.send.drop", "subject_id", c.SubjectID)
	return false
}

// encode stamps server pushes with an id and timestamp when the caller left them empty.
func (r *Registry) encode(msg v1.Envelope) ([]byte, bool) {
	if err := msg.Validate(); err != nil {
		r.log.Warn("registry.encode.fail", "err", err)
		return nil, false
	}
	now := r.now()
	if msg.TS.IsZero() {
		msg.TS = now
	}
	if msg.ID == "" {
		id, err := ids.NewULID(now)
		if err != nil {
			r.log.Warn("registry.encode.fail", "err", err)
			return nil, false
		}
		msg.ID = id
	}
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("registry.encode.fail", "type", msg.Type, "err", err)
		return nil, false
	}
	return b, true
}

// Lookup returns the live connection for subjectID.
func (r *Registry) Lookup(subjectID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[subjectID]
	return c, ok
}

// Len is the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns live connection counts keyed by role.
func (r *Registry) CountByRole() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, c := range r.conns {
		out[c.Role]++
	}
	return out
}

// sendTo queues msg for c directly, whether or not c is still the registered connection.
func (r *Registry) sendTo(c *Conn, msg v1.Envelope) bool {
	b, ok := r.encode(msg)
	if !ok {
		return false
	}
	return r.deliver(c, b)
}
