package token

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/hkdf"
)

const pasetoKeyInfo = "assist/token/paseto-v4-local"

type pasetoCodec struct {
	key    paseto.V4SymmetricKey
	issuer string
	ttl    time.Duration
}

func newPasetoCodec(cfg Config) (*pasetoCodec, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, cfg.Secret, nil, []byte(pasetoKeyInfo)), raw); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", ErrConfig, err)
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &pasetoCodec{key: key, issuer: cfg.Issuer, ttl: cfg.TTL}, nil
}

func (c *pasetoCodec) Issue(sub Subject, now time.Time) (string, Claims, error) {
	claims := newClaims(sub, now, c.ttl)

	t := paseto.NewToken()
	t.SetIssuer(c.issuer)
	t.SetSubject(claims.SubjectID)
	t.SetIssuedAt(claims.IssuedAt)
	t.SetNotBefore(claims.IssuedAt)
	t.SetExpiration(claims.ExpiresAt)
	if err := t.Set("email", claims.Email); err != nil {
		return "", Claims{}, err
	}
	if err := t.Set("role", claims.Role); err != nil {
		return "", Claims{}, err
	}

	return t.V4Encrypt(c.key, nil), claims, nil
}

func (c *pasetoCodec) Verify(raw string, now time.Time) (Claims, error) {
	// Fresh parser per call; rules must not accumulate across verifies.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ValidAt(now))

	parsed, err := p.ParseV4Local(c.key, raw, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	email, err := parsed.GetString("email")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	role, err := parsed.GetString("role")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		SubjectID: sub,
		Email:     email,
		Role:      role,
		IssuedAt:  iat.UTC(),
		ExpiresAt: exp.UTC(),
	}
	if err := checkClaims(out, now); err != nil {
		return Claims{}, err
	}
	return out, nil
}
