package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"assist/cmd/identity/ids"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) FindActiveByEmail(ctx context.Context, email string) (Identity, error) {
	const op = "identity.FindActiveByEmail"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Identity{}, notFound(op)
	}
	rec := s.byID[id]
	if rec == nil || !rec.Active {
		return Identity{}, notFound(op)
	}
	return clone(rec), nil
}

func (s *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byEmail[NormalizeEmail(email)]
	return ok, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Identity, error) {
	const op = "identity.FindByID"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Identity{}, notFound(op)
	}
	return clone(rec), nil
}

func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (Identity, error) {
	const op = "identity.Create"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := in.validate(op); err != nil {
		return Identity{}, err
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Identity{}, err
	}
	email := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return Identity{}, ConflictError{Op: op, Field: "email"}
	}

	rec := &Identity{
		ID:           id,
		Email:        email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = rec
	s.byEmail[email] = id
	return clone(rec), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) (Identity, error) {
	const op = "identity.UpdateProfile"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := upd.validate(op); err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Identity{}, notFound(op)
	}
	if upd.DisplayName != nil {
		rec.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.AvatarURL != nil {
		rec.AvatarURL = trimPtr(upd.AvatarURL)
	}
	rec.UpdatedAt = nowOr(now)
	return clone(rec), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	rec.PasswordHash = hash
	rec.UpdatedAt = nowOr(now)
	return nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchLastLogin"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	t := nowOr(now)
	rec.LastLoginAt = &t
	return nil
}

func (s *MemoryStore) SetRole(ctx context.Context, id string, role Role, now time.Time) (Identity, error) {
	const op = "identity.SetRole"
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if !role.Valid() {
		return Identity{}, invalid(op, "unknown role")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Identity{}, notFound(op)
	}
	rec.Role = role
	rec.UpdatedAt = nowOr(now)
	return clone(rec), nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	const op = "identity.SetActive"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	rec.Active = active
	rec.UpdatedAt = nowOr(now)
	return nil
}

func clone(rec *Identity) Identity {
	out := *rec
	if rec.AvatarURL != nil {
		v := *rec.AvatarURL
		out.AvatarURL = &v
	}
	if rec.LastLoginAt != nil {
		v := *rec.LastLoginAt
		out.LastLoginAt = &v
	}
	return out
}
