package token

import "errors"

var (
	// ErrInvalidToken is the only verification failure callers see.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned by New for unusable settings.
	ErrConfig = errors.New("invalid token config")
)
