// Package gate authenticates HTTP requests from session tokens and authorizes them by role.
//
// Authenticator runs first and attaches an Identity to the request context; the role gates
// compose after it and only read that Identity. Neither keeps per-request state.
package gate

import "context"

// Identity is the request-scoped projection of a verified token.
type Identity struct {
	SubjectID string
	Email     string
	Role      string
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the attached identity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.SubjectID != ""
}
