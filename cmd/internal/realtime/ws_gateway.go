package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"assist/cmd/internal/audit"
	"assist/cmd/internal/auth/gate"
	"assist/cmd/security/token"
	v1 "assist/shared/contracts/realtime/v1"
)

const (
	maxFrameBytes   = 64 << 10
	maxChannels     = 32
	maxChannelChars = 128

	tokenQueryParam = "token"
)

// Gateway upgrades HTTP requests to websocket connections, authenticates them once at
// handshake and registers them with the Registry.
type Gateway struct {
	log      *slog.Logger
	registry *Registry
	authn    *gate.Authenticator
	audit    *audit.Recorder

	originPatterns []string
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

func WithGatewayLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithGatewayAudit(rec *audit.Recorder) GatewayOption {
	return func(g *Gateway) { g.audit = rec }
}

// WithOriginPatterns authorizes cross-origin upgrades from hosts matching patterns
// (path.Match syntax). Same-host upgrades are always accepted.
func WithOriginPatterns(patterns ...string) GatewayOption {
	return func(g *Gateway) {
		for _, p := range patterns {
			if p = strings.TrimSpace(p); p != "" {
				g.originPatterns = append(g.originPatterns, p)
			}
		}
	}
}

// NewGateway constructs a Gateway.
func NewGateway(reg *Registry, authn *gate.Authenticator, opts ...GatewayOption) (*Gateway, error) {
	if reg == nil {
		return nil, errors.New("realtime: nil registry")
	}
	if authn == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	g := &Gateway{log: slog.Default(), registry: reg, authn: authn}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ServeHTTP handles one connection for its whole life.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err, "origin", r.Header.Get("Origin"))
		g.registry.metrics.Handshakes.WithLabelValues("accept_error").Inc()
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id, ok := g.handshake(r, conn)
	if !ok {
		return
	}

	c, err := g.registry.Register(id.SubjectID, id.Role, wsTransport{conn: conn})
	if err != nil {
		g.registry.metrics.Handshakes.WithLabelValues("unavailable").Inc()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.registry.Remove(c)

	g.registry.metrics.Handshakes.WithLabelValues("ok").Inc()
	g.audit.Record(r.Context(), audit.Event{
		Action:    "ws.connect",
		SubjectID: id.SubjectID,
		Meta:      map[string]any{"role": id.Role},
	})

	ack, _ := v1.New(v1.TypeConnected, "", g.registry.now(), v1.ConnectedPayload{SubjectID: id.SubjectID, Role: id.Role})
	g.registry.sendTo(c, ack)

	g.readLoop(r.Context(), conn, c)
}

// handshake verifies the presented token. Failures close conn with 1008 before registration.
func (g *Gateway) handshake(r *http.Request, conn *websocket.Conn) (gate.Identity, bool) {
	raw := g.tokenFromRequest(r)

	reject := func(reason, msg string) (gate.Identity, bool) {
		g.registry.metrics.Handshakes.WithLabelValues(reason).Inc()
		g.log.Info("ws.handshake.reject", "reason", reason, "token", token.Redact(raw))
		g.audit.Record(r.Context(), audit.Event{
			Action: "ws.handshake.reject",
			Meta:   map[string]any{"reason": reason},
		})
		_ = conn.Close(websocket.StatusPolicyViolation, msg)
		return gate.Identity{}, false
	}

	if raw == "" {
		return reject("missing_token", "access token required")
	}
	id, err := g.authn.Verify(raw)
	if err != nil {
		return reject("invalid_token", "invalid token")
	}
	return id, true
}

// tokenFromRequest looks at the query parameter, then the Bearer header, then the session cookie.
// Browsers cannot set headers on a websocket upgrade, hence the query parameter.
func (g *Gateway) tokenFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); v != "" {
		return v
	}
	if v := gate.BearerToken(r); v != "" {
		return v
	}
	if ck, err := r.Cookie(g.authn.CookieName()); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, c *Conn) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			g.logReadEnd(c, err)
			return
		}
		if mt != websocket.MessageText {
			g.log.Info("ws.message.drop", "subject_id", c.SubjectID, "reason", "binary")
			continue
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.log.Info("ws.message.drop", "subject_id", c.SubjectID, "reason", "bad_json")
			continue
		}
		if err := env.Validate(); err != nil {
			g.log.Info("ws.message.drop", "subject_id", c.SubjectID, "reason", "bad_envelope", "err", err)
			continue
		}

		g.dispatch(c, env)
	}
}

func (g *Gateway) dispatch(c *Conn, env v1.Envelope) {
	switch env.Type {
	case v1.TypePing:
		pong, _ := v1.New(v1.TypePong, "", g.registry.now(), nil)
		g.registry.sendTo(c, pong)

	case v1.TypeSubscribe:
		var p v1.SubscribePayload
		if err := env.Decode(&p); err != nil {
			g.log.Info("ws.message.drop", "subject_id", c.SubjectID, "type", env.Type, "reason", "bad_payload")
			return
		}
		channels := normalizeChannels(p.Channels)
		g.log.Info("ws.subscribe", "subject_id", c.SubjectID, "channels", channels)

		ack, _ := v1.New(v1.TypeSubscribed, "", g.registry.now(), v1.SubscribedPayload{Channels: channels})
		g.registry.sendTo(c, ack)

	default:
		g.log.Info("ws.message.unknown", "subject_id", c.SubjectID, "type", env.Type)
	}
}

// normalizeChannels trims, dedupes and bounds client subscribe intents.
func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, ch := range in {
		ch = strings.TrimSpace(ch)
		if ch == "" || len(ch) > maxChannelChars {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
		if len(out) == maxChannels {
			break
		}
	}
	return out
}

func (g *Gateway) logReadEnd(c *Conn, err error) {
	switch {
	case websocket.CloseStatus(err) != -1:
		g.log.Info("ws.peer.close", "subject_id", c.SubjectID, "status", websocket.CloseStatus(err))
	case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		g.log.Info("ws.conn.closed", "subject_id", c.SubjectID)
	default:
		select {
		case <-c.Done():
			// Closed by the registry: superseded, evicted or shut down.
			g.log.Info("ws.conn.closed", "subject_id", c.SubjectID, "code", c.CloseCode())
		default:
			g.log.Info("ws.read.fail", "subject_id", c.SubjectID, "err", err)
		}
	}
}
