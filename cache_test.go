package carexpert

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeClock drives a cache's notion of time.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := newFakeClock()
	cache := NewCache(NewMemoryStorage(), NewMemoryStorage(), nil)
	cache.now = clock.now
	return cache, clock
}

// failingStorage errors on every operation.
type failingStorage struct{}

var errStorageDown = errors.New("storage down")

func (failingStorage) GetItem(string) (string, bool, error) { return "", false, errStorageDown }
func (failingStorage) SetItem(string, string) error         { return errStorageDown }
func (failingStorage) RemoveItem(string) error              { return errStorageDown }
func (failingStorage) Clear() error                         { return errStorageDown }
func (failingStorage) Keys() ([]string, error)              { return nil, errStorageDown }

// ============================================================================
// Set / Get
// ============================================================================

func TestCacheSetGet(t *testing.T) {
	cache, _ := newTestCache()

	cache.Set("greeting", "hello", CacheOptions{})

	var got string
	if !cache.Get("greeting", &got, BackendDurable) {
		t.Fatal("expected cache hit")
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newTestCache()

	var got string
	if cache.Get("absent", &got, BackendDurable) {
		t.Fatal("expected cache miss for unknown key")
	}
}

func TestCacheBackendsAreSeparate(t *testing.T) {
	cache, _ := newTestCache()

	cache.Set("k", 1, CacheOptions{Backend: BackendSession})

	var got int
	if cache.Get("k", &got, BackendDurable) {
		t.Fatal("session entry must not be visible in the durable backend")
	}
	if !cache.Get("k", &got, BackendSession) {
		t.Fatal("expected session hit")
	}
}

// ============================================================================
// TTL expiry
// ============================================================================

func TestCacheTTLExpiry(t *testing.T) {
	cache, clock := newTestCache()

	cache.Set("k", "v", CacheOptions{TTL: time.Minute})

	var got string
	clock.advance(59 * time.Second)
	if !cache.Get("k", &got, BackendDurable) {
		t.Fatal("entry within TTL must be a hit")
	}

	clock.advance(2 * time.Second)
	if cache.Get("k", &got, BackendDurable) {
		t.Fatal("entry past TTL must never be returned")
	}
}

func TestCacheExpiryDeletesEntry(t *testing.T) {
	durable := NewMemoryStorage()
	clock := newFakeClock()
	cache := NewCache(durable, NewMemoryStorage(), nil)
	cache.now = clock.now

	cache.Set("k", "v", CacheOptions{TTL: time.Second})
	clock.advance(2 * time.Second)

	var got string
	cache.Get("k", &got, BackendDurable)

	if _, ok, _ := durable.GetItem("k"); ok {
		t.Fatal("expired entry must be evicted on read")
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	cache, clock := newTestCache()

	cache.Set("k", "v", CacheOptions{})
	clock.advance(365 * 24 * time.Hour)

	var got string
	if !cache.Get("k", &got, BackendDurable) {
		t.Fatal("entry with no TTL must not expire")
	}
}

// ============================================================================
// Degradation
// ============================================================================

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	durable := NewMemoryStorage()
	cache := NewCache(durable, NewMemoryStorage(), nil)

	durable.SetItem("k", "{not json")

	var got string
	if cache.Get("k", &got, BackendDurable) {
		t.Fatal("corrupt entry must be a miss")
	}
	if _, ok, _ := durable.GetItem("k"); ok {
		t.Fatal("corrupt entry must be removed")
	}
}

func TestCacheFailingStorageDegrades(t *testing.T) {
	cache := NewCache(failingStorage{}, failingStorage{}, nil)

	// None of these may panic or propagate an error.
	cache.Set("k", "v", CacheOptions{})
	cache.Remove("k", BackendDurable)
	cache.Clear(BackendDurable)
	cache.InvalidatePrefix("k", BackendDurable)

	var got string
	if cache.Get("k", &got, BackendDurable) {
		t.Fatal("failed read must be a miss")
	}
}

// ============================================================================
// Invalidation
// ============================================================================

func TestCacheInvalidatePrefix(t *testing.T) {
	cache, _ := newTestCache()

	cache.Set("doctors_list", 1, CacheOptions{})
	cache.Set("doctors_list:city=pune", 2, CacheOptions{})
	cache.Set("notifications", 3, CacheOptions{})

	cache.InvalidatePrefix("doctors_list", BackendDurable)

	var got int
	if cache.Get("doctors_list", &got, BackendDurable) {
		t.Fatal("prefixed key must be invalidated")
	}
	if cache.Get("doctors_list:city=pune", &got, BackendDurable) {
		t.Fatal("prefixed key must be invalidated")
	}
	if !cache.Get("notifications", &got, BackendDurable) {
		t.Fatal("unrelated key must survive prefix invalidation")
	}
}

// ============================================================================
// GetOrFetch
// ============================================================================

func TestGetOrFetchCallsFetchOnce(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "fetched", nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrFetch(ctx, cache, "k", fetch, CacheOptions{TTL: time.Minute})
		if err != nil {
			t.Fatalf("GetOrFetch returned error: %v", err)
		}
		if got != "fetched" {
			t.Fatalf("expected %q, got %q", "fetched", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", calls)
	}
}

func TestGetOrFetchRefetchesAfterExpiry(t *testing.T) {
	cache, clock := newTestCache()
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if v, _ := GetOrFetch(ctx, cache, "k", fetch, CacheOptions{TTL: time.Minute}); v != 1 {
		t.Fatalf("expected first fetch result, got %d", v)
	}

	clock.advance(2 * time.Minute)

	if v, _ := GetOrFetch(ctx, cache, "k", fetch, CacheOptions{TTL: time.Minute}); v != 2 {
		t.Fatalf("expected refetch after expiry, got %d", v)
	}
	if calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls)
	}
}

func TestGetOrFetchErrorNotCached(t *testing.T) {
	cache, _ := newTestCache()
	ctx := context.Background()

	boom := errors.New("backend down")
	fetch := func(context.Context) (string, error) { return "", boom }

	if _, err := GetOrFetch(ctx, cache, "k", fetch, CacheOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}

	var got string
	if cache.Get("k", &got, BackendDurable) {
		t.Fatal("failed fetch must not populate the cache")
	}
}

func TestGetOrFetchFailingStorageStillFetches(t *testing.T) {
	cache := NewCache(failingStorage{}, failingStorage{}, nil)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "live", nil
	}

	for i := 0; i < 2; i++ {
		got, err := GetOrFetch(ctx, cache, "k", fetch, CacheOptions{})
		if err != nil {
			t.Fatalf("GetOrFetch must degrade to fetching, got error: %v", err)
		}
		if got != "live" {
			t.Fatalf("expected %q, got %q", "live", got)
		}
	}
	if calls != 2 {
		t.Fatalf("expected a fetch per call with broken storage, got %d", calls)
	}
}
