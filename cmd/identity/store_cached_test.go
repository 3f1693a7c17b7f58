package identity

import (
	"context"
	"testing"
	"time"
)

type countingStore struct {
	*MemoryStore
	findByID int
}

func (c *countingStore) FindByID(ctx context.Context, id string) (Identity, error) {
	c.findByID++
	return c.MemoryStore.FindByID(ctx, id)
}

func newCached(t *testing.T) (*CachedStore, *countingStore) {
	t.Helper()

	next := &countingStore{MemoryStore: NewMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s, err := NewCachedStore(ctx, next, time.Minute, nil)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, next
}

func TestCachedStore_FindByIDIsCached(t *testing.T) {
	t.Parallel()

	s, next := newCached(t)
	ctx := context.Background()
	rec := mustCreate(t, s, "gus@example.com", RoleUser)

	for i := 0; i < 3; i++ {
		got, err := s.FindByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Email != "gus@example.com" {
			t.Fatalf("email=%q", got.Email)
		}
	}
	if next.findByID != 1 {
		t.Fatalf("expected one backend lookup, got %d", next.findByID)
	}
}

func TestCachedStore_WritesEvict(t *testing.T) {
	t.Parallel()

	s, next := newCached(t)
	ctx := context.Background()
	rec := mustCreate(t, s, "hal@example.com", RoleUser)

	if _, err := s.FindByID(ctx, rec.ID); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := s.SetRole(ctx, rec.ID, RoleAdmin, time.Now()); err != nil {
		t.Fatalf("set role: %v", err)
	}

	got, err := s.FindByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Role != RoleAdmin {
		t.Fatalf("stale role served from cache: %s", got.Role)
	}
	if next.findByID != 2 {
		t.Fatalf("expected reload after write, got %d lookups", next.findByID)
	}

	if err := s.SetActive(ctx, rec.ID, false, time.Now()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ = s.FindByID(ctx, rec.ID)
	if got.Active {
		t.Fatalf("stale active flag served from cache")
	}
}

func TestCachedStore_NotFoundNotCached(t *testing.T) {
	t.Parallel()

	s, next := newCached(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.FindByID(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if next.findByID != 2 {
		t.Fatalf("misses must reach the backend, got %d", next.findByID)
	}
}

func TestCachedStore_FreshReadSeesOutOfProcessWrites(t *testing.T) {
	t.Parallel()

	s, next := newCached(t)
	ctx := context.Background()
	rec := mustCreate(t, s, "ivy@example.com", RoleUser)

	if _, err := s.FindByID(ctx, rec.ID); err != nil {
		t.Fatalf("warm: %v", err)
	}

	// Writes straight to the backing store bypass eviction, like another process would.
	if _, err := next.SetRole(ctx, rec.ID, RoleAdmin, time.Now()); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := next.SetActive(ctx, rec.ID, false, time.Now()); err != nil {
		t.Fatalf("set active: %v", err)
	}

	stale, err := s.FindByID(ctx, rec.ID)
	if err != nil || stale.Role != RoleUser || !stale.Active {
		t.Fatalf("expected cached copy, got %+v err=%v", stale, err)
	}

	fresh, err := FindByIDFresh(ctx, s, rec.ID)
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if fresh.Role != RoleAdmin || fresh.Active {
		t.Fatalf("fresh read returned stale data: %+v", fresh)
	}

	again, err := s.FindByID(ctx, rec.ID)
	if err != nil || again.Role != RoleAdmin || again.Active {
		t.Fatalf("fresh read did not replace the cached copy: %+v err=%v", again, err)
	}
}

func TestFindByIDFresh_PlainStoreDelegates(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	rec := mustCreate(t, s, "jon@example.com", RoleUser)

	got, err := FindByIDFresh(context.Background(), s, rec.ID)
	if err != nil || got.ID != rec.ID {
		t.Fatalf("got %+v err=%v", got, err)
	}
}
