package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/allegro/bigcache/v3"
)

// CachedStore is a read-through cache in front of another Store.
//
// Only FindByID is cached (the profile read path). Every write through the store evicts the
// affected id, so the cache never serves a value older than the last write made by this
// process. Writes made by other processes are visible after TTL, or at once through
// FindByIDFresh, which also replaces the cached copy.
type CachedStore struct {
	next  Store
	cache *bigcache.BigCache
	log   *slog.Logger
}

var (
	_ Store       = (*CachedStore)(nil)
	_ FreshReader = (*CachedStore)(nil)
)

// NewCachedStore wraps next with an in-process cache whose entries live for ttl.
// The cache goroutines stop when ctx is cancelled or Close is called.
func NewCachedStore(ctx context.Context, next Store, ttl time.Duration, log *slog.Logger) (*CachedStore, error) {
	if next == nil {
		return nil, errors.New("identity: nil store")
	}
	if ttl <= 0 {
		return nil, errors.New("identity: cache ttl must be positive")
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 4096
	cfg.MaxEntrySize = 512
	cfg.CleanWindow = ttl
	cfg.Verbose = false

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: c, log: log}, nil
}

// Close releases the cache.
func (s *CachedStore) Close() error {
	return s.cache.Close()
}

func (s *CachedStore) FindByID(ctx context.Context, id string) (Identity, error) {
	if raw, err := s.cache.Get(id); err == nil {
		var out Identity
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		_ = s.cache.Delete(id)
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.log.Warn("identity.cache.get.fail", "err", err)
	}

	out, err := s.next.FindByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	s.put(out)
	return out, nil
}

func (s *CachedStore) FindByIDFresh(ctx context.Context, id string) (Identity, error) {
	out, err := s.next.FindByID(ctx, id)
	if err != nil {
		s.evict(id)
		return Identity{}, err
	}
	s.put(out)
	return out, nil
}

func (s *CachedStore) FindActiveByEmail(ctx context.Context, email string) (Identity, error) {
	return s.next.FindActiveByEmail(ctx, email)
}

func (s *CachedStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.next.ExistsByEmail(ctx, email)
}

func (s *CachedStore) Create(ctx context.Context, in CreateInput) (Identity, error) {
	return s.next.Create(ctx, in)
}

func (s *CachedStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) (Identity, error) {
	defer s.evict(id)
	return s.next.UpdateProfile(ctx, id, upd, now)
}

func (s *CachedStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	defer s.evict(id)
	return s.next.UpdatePasswordHash(ctx, id, hash, now)
}

func (s *CachedStore) TouchLastLogin(ctx context.Context, id string, now time.Time) error {
	defer s.evict(id)
	return s.next.TouchLastLogin(ctx, id, now)
}

func (s *CachedStore) SetRole(ctx context.Context, id string, role Role, now time.Time) (Identity, error) {
	defer s.evict(id)
	return s.next.SetRole(ctx, id, role, now)
}

func (s *CachedStore) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	defer s.evict(id)
	return s.next.SetActive(ctx, id, active, now)
}

func (s *CachedStore) put(rec Identity) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(rec.ID, raw); err != nil {
		s.log.Warn("identity.cache.set.fail", "err", err)
	}
}

func (s *CachedStore) evict(id string) {
	if err := s.cache.Delete(id); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		s.log.Warn("identity.cache.delete.fail", "err", err)
	}
}
