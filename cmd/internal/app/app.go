// Package app wires the assist server runtime: config, logging, storage, HTTP routes and the
// realtime registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"assist/cmd/identity"
	"assist/cmd/internal/audit"
	"assist/cmd/internal/auth/account"
	"assist/cmd/internal/auth/gate"
	"assist/cmd/internal/realtime"
	"assist/cmd/security/token"
)

// App owns every long-lived dependency of the server.
type App struct {
	cfg Config
	log *slog.Logger

	pool       *pgxpool.Pool
	redis      *redis.Client
	cache      *identity.CachedStore
	auditQueue []*audit.AsyncSink

	Store    identity.Store
	Audit    *audit.Recorder
	Accounts *account.Service
	Authn    *gate.Authenticator
	Registry *realtime.Registry

	metrics *prometheus.Registry
	handler http.Handler
}

// Option customizes New, mostly for tests.
type Option func(*options)

type options struct {
	store identity.Store
	sinks []audit.Sink
}

// WithStore bypasses store selection from config.
func WithStore(s identity.Store) Option {
	return func(o *options) { o.store = s }
}

// WithAuditSinks adds sinks next to the configured ones.
func WithAuditSinks(sinks ...audit.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// New connects the configured backends and wires the services and routes.
// On error every resource opened so far is released.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: log}
	wired := false
	defer func() {
		if !wired {
			a.closeBackends()
		}
	}()

	var err error

	sinks := []audit.Sink{audit.LogSink{Log: log}}

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info("db.enabled", "schema", cfg.DBSchema)

		pgSink, err := audit.NewPostgresSink(a.pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		if cfg.DBBootstrap {
			if err := pgSink.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("audit schema: %w", err)
			}
		}
		sinks = append(sinks, a.async(pgSink))
	}

	if cfg.RedisURL != "" {
		if a.redis, err = NewRedis(ctx, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		sinks = append(sinks, a.async(audit.NewRedisStreamSink(a.redis, cfg.AuditStream, cfg.AuditStreamMaxLen)))
		log.Info("audit.stream.enabled", "stream", cfg.AuditStream)
	}

	a.Audit = audit.NewRecorder(log, audit.WithSinks(append(sinks, o.sinks...)...))

	if a.Store, err = a.newStore(ctx, o.store); err != nil {
		return nil, err
	}

	codec, err := token.New(cfg.Token())
	if err != nil {
		return nil, err
	}

	a.Accounts, err = account.NewService(a.Store, cfg.Password(), codec, a.Audit, account.WithLogger(log))
	if err != nil {
		return nil, err
	}

	apiCfg := cfg.AuthAPI()
	a.Authn = gate.NewAuthenticator(codec, apiCfg.CookieName, gate.WithLogger(log), gate.WithAudit(a.Audit))

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.Registry = realtime.NewRegistry(
		realtime.WithRegistryLogger(log),
		realtime.WithMetrics(realtime.NewMetrics(a.metrics)),
		realtime.WithSweepInterval(cfg.WSSweepInterval),
		realtime.WithSendQueueSize(cfg.WSSendQueue),
		realtime.WithWriteTimeout(cfg.WSWriteTimeout),
	)

	if a.handler, err = a.routes(apiCfg); err != nil {
		return nil, err
	}
	wired = true
	return a, nil
}

// async moves a network-backed sink off the request path.
func (a *App) async(s audit.Sink) audit.Sink {
	q := audit.NewAsyncSink(s, a.cfg.AuditQueueSize, 2*time.Second, a.log)
	a.auditQueue = append(a.auditQueue, q)
	return q
}

func (a *App) newStore(ctx context.Context, override identity.Store) (identity.Store, error) {
	var st identity.Store

	switch {
	case override != nil:
		st = override
	case a.pool != nil:
		pg, err := identity.NewPostgresStore(a.pool, identity.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if a.cfg.DBBootstrap {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("identity schema: %w", err)
			}
		}
		st = pg
	default:
		a.log.Warn("db.disabled.inmemory_store")
		st = identity.NewMemoryStore()
	}

	if a.cfg.ProfileCacheTTL <= 0 {
		return st, nil
	}
	cached, err := identity.NewCachedStore(ctx, st, a.cfg.ProfileCacheTTL, a.log)
	if err != nil {
		return nil, err
	}
	a.cache = cached
	return cached, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and the registry sweep until ctx ends or the listener fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.Registry.Start(ctx)
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil, "redis_enabled", a.redis != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Websocket connections are hijacked and invisible to Shutdown; the registry closes them.
	if err := a.Registry.Stop(shutdownCtx); err != nil {
		a.log.Warn("registry.stop.fail", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	a.Close()
	a.log.Info("server.stopped")
	return runErr
}

// Close releases backends. It does not stop a running server; cancel Run's context for that.
func (a *App) Close() {
	a.closeBackends()
}

func (a *App) closeBackends() {
	// Queued audit events need the pool and redis client, so drain them first.
	for _, q := range a.auditQueue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.Close(ctx); err != nil {
			a.log.Warn("audit.queue.close.fail", "err", err)
		}
		cancel()
	}
	a.auditQueue = nil

	if a.cache != nil {
		_ = a.cache.Close()
		a.cache = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
