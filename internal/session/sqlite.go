// ABOUTME: SQLite Store using modernc.org/sqlite so cached envelopes survive restarts.
// ABOUTME: Expired rows are filtered on read and purged periodically on write.

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// purgeEvery is the number of writes between expired-row purges.
const purgeEvery = 256

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	writes atomic.Uint64
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session-sqlite")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, now: time.Now, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite session cache initialized", "path", path)
	return s, nil
}

func (s *SQLite) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_cache_expires
			ON session_cache(expires_at);
	`)
	return err
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	s.maybePurge(ctx)
	return nil
}

// SetNX implements Store.
func (s *SQLite) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_cache WHERE key = ? AND expires_at <= ?`,
		key, now.UnixNano(),
	); err != nil {
		return false, fmt.Errorf("clearing expired %s: %w", key, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_cache (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, now.Add(ttl).UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}

	s.maybePurge(ctx)
	return n == 1, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_cache WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// Purge deletes every expired row and returns how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_cache WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) maybePurge(ctx context.Context) {
	if s.writes.Add(1)%purgeEvery != 0 {
		return
	}
	n, err := s.Purge(ctx)
	if err != nil {
		s.logger.Warn("purge failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("purged expired session entries", "count", n)
	}
}

// Ping implements Store.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
