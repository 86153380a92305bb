// ABOUTME: Selects and opens a Store backend by name.

package session

import (
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configures Open.
type Options struct {
	Backend     string
	Path        string // sqlite database file
	RedisURL    string
	RedisPrefix string
	MaxEntries  int // memory store bound
}

// Open creates the configured backend.
func Open(opts Options, logger *slog.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(WithMaxEntries(opts.MaxEntries)), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite cache backend requires a path")
		}
		return NewSQLite(opts.Path, logger)
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("redis cache backend requires a url")
		}
		return NewRedis(opts.RedisURL, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
