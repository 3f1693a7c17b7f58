package token

import (
	"fmt"
	"strings"
	"time"
)

// Format names a token encoding.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// MinSecretBytes is the shortest accepted signing secret.
const MinSecretBytes = 32

// Subject holds the identity facts a token asserts.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// Claims is a verified (or freshly issued) session claim. It is a value; renewal issues a new one.
type Claims struct {
	SubjectID string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and verifies session tokens.
type Codec interface {
	Issue(sub Subject, now time.Time) (string, Claims, error)
	Verify(token string, now time.Time) (Claims, error)
}

// Config selects and parameterizes a Codec.
type Config struct {
	Format Format
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// DefaultConfig returns defaults without a secret; callers must supply one.
func DefaultConfig() Config {
	return Config{
		Format: FormatJWT,
		TTL:    24 * time.Hour,
		Issuer: "assist",
	}
}

// New builds the Codec selected by cfg.Format.
func New(cfg Config) (Codec, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = "assist"
	}

	switch Format(strings.ToLower(string(cfg.Format))) {
	case FormatJWT, "":
		return newJWTCodec(cfg), nil
	case FormatPaseto:
		return newPasetoCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfig, cfg.Format)
	}
}

// newClaims stamps issued_at at second precision so the claim survives encoding unchanged.
func newClaims(sub Subject, now time.Time, ttl time.Duration) Claims {
	iat := now.UTC().Truncate(time.Second)
	return Claims{
		SubjectID: sub.ID,
		Email:     sub.Email,
		Role:      sub.Role,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl),
	}
}

func checkClaims(c Claims, now time.Time) error {
	if c.SubjectID == "" || c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() {
		return ErrInvalidToken
	}
	if !c.ExpiresAt.After(now) {
		return ErrInvalidToken
	}
	return nil
}

// Redact shortens a raw token for logs.
func Redact(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 8 {
		return strings.Repeat("*", len(raw))
	}
	return raw[:8] + "…"
}
