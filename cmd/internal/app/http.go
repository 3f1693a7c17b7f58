package app

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assist/cmd/internal/audit"
	authapi "assist/cmd/internal/auth/api"
	"assist/cmd/internal/realtime"
)

func (a *App) routes(apiCfg authapi.Config) (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))

	auth, err := authapi.NewHandler(a.log, a.Accounts, a.Authn, apiCfg)
	if err != nil {
		return nil, err
	}
	auth.Register(mux)

	notify, err := realtime.NewHandler(a.log, a.Registry, a.Authn, a.Audit)
	if err != nil {
		return nil, err
	}
	notify.Register(mux)

	gw, err := realtime.NewGateway(a.Registry, a.Authn,
		realtime.WithGatewayLogger(a.log),
		realtime.WithGatewayAudit(a.Audit),
		realtime.WithOriginPatterns(a.cfg.WSOriginPatterns...),
	)
	if err != nil {
		return nil, err
	}
	mux.Handle("GET /ws", gw)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = audit.Middleware(a.cfg.TrustProxy)(h)
	h = WithRecover(h, a.log)
	h = WithRequestLogging(h, a.log)
	return h, nil
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := PingRedis(r.Context(), a.redis, 2*time.Second); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
