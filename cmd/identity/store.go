package identity

import (
	"context"
	"time"
)

// Store is the credential persistence boundary.
//
// Lookups by email use the canonical form (NormalizeEmail). Missing rows are reported as
// ErrNotFound; FindActiveByEmail also reports inactive identities as ErrNotFound so callers
// cannot tell the two apart.
type Store interface {
	FindActiveByEmail(ctx context.Context, email string) (Identity, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByID(ctx context.Context, id string) (Identity, error)

	// Create persists a new active identity. Duplicate email (active or not) is a ConflictError{Field: "email"}.
	Create(ctx context.Context, in CreateInput) (Identity, error)

	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) (Identity, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	TouchLastLogin(ctx context.Context, id string, now time.Time) error

	SetRole(ctx context.Context, id string, role Role, now time.Time) (Identity, error)
	SetActive(ctx context.Context, id string, active bool, now time.Time) error
}

// FreshReader is implemented by stores that keep a read cache. FindByIDFresh skips the cache
// and sees writes made by other processes.
type FreshReader interface {
	FindByIDFresh(ctx context.Context, id string) (Identity, error)
}

// FindByIDFresh reads id past any cache in s. Role and active checks that mint tokens or
// authorize writes go through here.
func FindByIDFresh(ctx context.Context, s Store, id string) (Identity, error) {
	if f, ok := s.(FreshReader); ok {
		return f.FindByIDFresh(ctx, id)
	}
	return s.FindByID(ctx, id)
}
