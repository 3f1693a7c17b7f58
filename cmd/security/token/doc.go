// Package token is the assist session token codec.
//
// A token is a signed, time-boxed assertion of {subject, email, role}. Expiry is computed
// from the configured TTL at issue time and embedded in the token. Verification failures
// of any kind (bad signature, wrong issuer, malformed input, expired) collapse into a
// single ErrInvalidToken.
//
// Two formats share one Codec interface: HS256 JWT (default) and PASETO v4.local.
// Both derive their key material from one process-wide secret; rotating the secret
// invalidates every outstanding token.
package token
