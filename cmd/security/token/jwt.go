package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

type jwtCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func newJWTCodec(cfg Config) *jwtCodec {
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &jwtCodec{secret: secret, issuer: cfg.Issuer, ttl: cfg.TTL}
}

func (c *jwtCodec) Issue(sub Subject, now time.Time) (string, Claims, error) {
	claims := newClaims(sub, now, c.ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Email: claims.Email,
		Role:  claims.Role,
	})

	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

func (c *jwtCodec) Verify(raw string, now time.Time) (Claims, error) {
	var jc jwtClaims
	t, err := jwt.ParseWithClaims(raw, &jc,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !t.Valid {
		return Claims{}, ErrInvalidToken
	}
	if jc.IssuedAt == nil || jc.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		SubjectID: jc.Subject,
		Email:     jc.Email,
		Role:      jc.Role,
		IssuedAt:  jc.IssuedAt.UTC(),
		ExpiresAt: jc.ExpiresAt.UTC(),
	}
	if err := checkClaims(out, now); err != nil {
		return Claims{}, err
	}
	return out, nil
}
