// ABOUTME: Session cache contract shared by the memory, sqlite, and redis backends.
// ABOUTME: Cache wraps a Store with the session key layout and the configured TTL.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTTL is how long cached envelopes live.
const DefaultTTL = time.Hour

// ErrNotFound indicates the key is missing or expired.
var ErrNotFound = errors.New("session entry not found")

// ErrUnknownBackend indicates a cache backend name that is not supported.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Store is a TTL key-value store. Implementations must be safe for concurrent use.
type Store interface {
	// Set writes value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes value only if key is absent or expired. Reports whether it wrote.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Get returns the live value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Kind selects which envelope of a session is addressed.
type Kind string

const (
	KindTools  Kind = "tools"
	KindResult Kind = "result"
)

// ParseKind validates a kind taken from a URL path.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindTools, KindResult:
		return Kind(s), true
	default:
		return "", false
	}
}

// Key builds the cache key for a request id: session:{id}:{kind}.
func Key(id string, kind Kind) string {
	return fmt.Sprintf("session:%s:%s", id, kind)
}

// Cache records response envelopes per request id.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps store. A non-positive ttl falls back to DefaultTTL.
func NewCache(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "session"),
	}
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put stores envelope for the request id. Empty ids are skipped.
func (c *Cache) Put(ctx context.Context, id string, kind Kind, envelope []byte) error {
	if id == "" {
		return nil
	}
	key := Key(id, kind)
	if err := c.store.Set(ctx, key, envelope, c.ttl); err != nil {
		return fmt.Errorf("caching %s: %w", key, err)
	}
	c.logger.Debug("session entry cached", "key", key, "bytes", len(envelope))
	return nil
}

// Fetch returns the stored envelope or ErrNotFound.
func (c *Cache) Fetch(ctx context.Context, id string, kind Kind) ([]byte, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return c.store.Get(ctx, Key(id, kind))
}

// Ping checks the underlying store.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Store exposes the backing store for other TTL uses such as inbound dedupe.
func (c *Cache) Store() Store {
	return c.store
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}
