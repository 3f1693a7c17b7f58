package gate

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"assist/cmd/internal/apperror"
	"assist/cmd/internal/audit"
	"assist/cmd/security/token"
)

var (
	errTokenRequired = apperror.Unauthenticated("token_required", "access token required")
	errTokenInvalid  = apperror.InvalidCredential("invalid_token", "invalid token")
)

// Authenticator verifies session tokens carried by a cookie or an Authorization: Bearer header.
type Authenticator struct {
	codec      token.Codec
	cookieName string
	log        *slog.Logger
	audit      *audit.Recorder
	now        func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Authenticator) {
		if log != nil {
			a.log = log
		}
	}
}

// WithAudit sets the audit recorder for rejected credentials.
func WithAudit(rec *audit.Recorder) Option {
	return func(a *Authenticator) { a.audit = rec }
}

// WithClock overrides the verification time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds an Authenticator reading the session cookie named cookieName.
func NewAuthenticator(codec token.Codec, cookieName string, opts ...Option) *Authenticator {
	a := &Authenticator{
		codec:      codec,
		cookieName: strings.TrimSpace(cookieName),
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// CookieName is the session cookie this authenticator reads.
func (a *Authenticator) CookieName() string { return a.cookieName }

// TokenFromRequest returns the presented token. The cookie wins over the bearer header.
func (a *Authenticator) TokenFromRequest(r *http.Request) string {
	if a.cookieName != "" {
		if c, err := r.Cookie(a.cookieName); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v
			}
		}
	}
	return BearerToken(r)
}

// Verify checks a raw token and projects it to an Identity.
func (a *Authenticator) Verify(raw string) (Identity, error) {
	claims, err := a.codec.Verify(raw, a.now())
	if err != nil {
		return Identity{}, err
	}
	return Identity{SubjectID: claims.SubjectID, Email: claims.Email, Role: claims.Role}, nil
}

// Authenticate resolves the request's identity: 401 when no token is presented, 403 when it fails verification.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := a.TokenFromRequest(r)
	if raw == "" {
		a.audit.Record(r.Context(), audit.Event{
			Action: "auth.token.missing",
			Meta:   map[string]any{"path": r.URL.Path},
		})
		return Identity{}, errTokenRequired
	}

	id, err := a.Verify(raw)
	if err != nil {
		a.log.Warn("auth.token.invalid", "token", token.Redact(raw), "path", r.URL.Path)
		a.audit.Record(r.Context(), audit.Event{
			Action: "auth.token.invalid",
			Meta:   map[string]any{"path": r.URL.Path, "token": token.Redact(raw)},
		})
		return Identity{}, errTokenInvalid
	}
	return id, nil
}

// Middleware rejects unauthenticated requests and attaches the Identity otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Authenticate(r)
		if err != nil {
			apperror.Write(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Optional returns the identity for a valid presented token without failing the request.
func (a *Authenticator) Optional(r *http.Request) (Identity, bool) {
	raw := a.TokenFromRequest(r)
	if raw == "" {
		return Identity{}, false
	}
	id, err := a.Verify(raw)
	return id, err == nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
