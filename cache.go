package carexpert

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// ============================================================================
// Cache Manager
// ============================================================================

// Backend selects which storage a cache entry lives in.
type Backend int

const (
	// BackendDurable survives process restarts.
	BackendDurable Backend = iota
	// BackendSession lives only for this process.
	BackendSession
)

// CacheOptions configure how an entry is stored.
type CacheOptions struct {
	// TTL is the maximum age before the entry stops being a hit. Zero means
	// no expiry.
	TTL time.Duration
	// Backend defaults to BackendDurable.
	Backend Backend
}

// cacheEntry is the persisted wire form of one cache record.
type cacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"` // unix milliseconds
	TTL       int64           `json:"ttl,omitempty"`
}

// Cache is a TTL-bounded key/value snapshot store over two storage backends.
// Storage failures never propagate: a failed write is a no-op and a failed
// read is a miss, logged either way.
type Cache struct {
	durable Storage
	session Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewCache creates a cache over the given backends. A nil logger falls back
// to slog.Default.
func NewCache(durable, session Storage, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		durable: durable,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Cache) backend(b Backend) Storage {
	if b == BackendSession {
		return c.session
	}
	return c.durable
}

// Set stores value under key with a creation timestamp. It never returns an
// error; persistence failures degrade to a no-op.
func (c *Cache) Set(key string, value any, opts CacheOptions) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache: cannot marshal value", "key", key, "error", err)
		return
	}
	entry := cacheEntry{
		Payload:   payload,
		CreatedAt: c.now().UnixMilli(),
		TTL:       opts.TTL.Milliseconds(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache: cannot marshal entry", "key", key, "error", err)
		return
	}
	if err := c.backend(opts.Backend).SetItem(key, string(raw)); err != nil {
		c.logger.Warn("cache: write failed", "key", key, "error", err)
	}
}

// Get loads key into out and reports whether it was a fresh hit. Missing
// keys, parse failures, and storage errors are all misses. Entries past
// their TTL are deleted as a side effect of the read.
func (c *Cache) Get(key string, out any, backend Backend) bool {
	store := c.backend(backend)
	raw, ok, err := store.GetItem(key)
	if err != nil {
		c.logger.Warn("cache: read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("cache: corrupt entry", "key", key, "error", err)
		c.Remove(key, backend)
		return false
	}

	if entry.TTL > 0 && c.now().UnixMilli()-entry.CreatedAt > entry.TTL {
		c.Remove(key, backend)
		return false
	}

	if out != nil {
		if err := json.Unmarshal(entry.Payload, out); err != nil {
			c.logger.Warn("cache: cannot decode payload", "key", key, "error", err)
			return false
		}
	}
	return true
}

// Remove deletes key unconditionally. Never returns an error.
func (c *Cache) Remove(key string, backend Backend) {
	if err := c.backend(backend).RemoveItem(key); err != nil {
		c.logger.Warn("cache: remove failed", "key", key, "error", err)
	}
}

// Clear deletes every entry in the given backend.
func (c *Cache) Clear(backend Backend) {
	if err := c.backend(backend).Clear(); err != nil {
		c.logger.Warn("cache: clear failed", "error", err)
	}
}

// InvalidatePrefix deletes every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string, backend Backend) {
	store := c.backend(backend)
	keys, err := store.Keys()
	if err != nil {
		c.logger.Warn("cache: cannot list keys", "prefix", prefix, "error", err)
		return
	}
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			c.Remove(k, backend)
		}
	}
}

// GetOrFetch returns the cached value under key if fresh, otherwise invokes
// fetch exactly once, stores the result under opts, and returns it. A cache
// failure on either side degrades to fetching; only fetch errors propagate.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), opts CacheOptions) (T, error) {
	var cached T
	if c.Get(key, &cached, opts.Backend) {
		return cached, nil
	}

	fetched, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, fetched, opts)
	return fetched, nil
}
