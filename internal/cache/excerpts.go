package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ExcerptCache remembers the excerpt selected for a normalized document under
// a given selection policy, so unchanged documents are never re-ranked.
// It is safe for concurrent use.
type ExcerptCache struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// ExcerptKey derives the cache key for a normalized text, the character
// budget and the selector fingerprint.
func ExcerptKey(text string, budget int, fingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n", fingerprint, budget)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// OpenExcerptCache opens (creating if needed) excerpts.db under dir.
func OpenExcerptCache(dir string) (*ExcerptCache, error) {
	if dir == "" {
		return nil, errors.New("cache dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	dbPath := filepath.Join(dir, "excerpts.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening excerpt cache: %w", err)
	}
	// Batch workers share one connection; SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS excerpts (
			key      TEXT PRIMARY KEY,
			excerpt  TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating excerpts table: %w", err)
	}
	return &ExcerptCache{db: db, path: dbPath, now: time.Now}, nil
}

// Path returns the database file path.
func (c *ExcerptCache) Path() string { return c.path }

// Close closes the database.
func (c *ExcerptCache) Close() error { return c.db.Close() }

// Get returns the cached excerpt for key.
func (c *ExcerptCache) Get(ctx context.Context, key string) (string, bool, error) {
	var excerpt string
	err := c.db.QueryRowContext(ctx, `SELECT excerpt FROM excerpts WHERE key = ?`, key).Scan(&excerpt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading excerpt: %w", err)
	}
	return excerpt, true, nil
}

// Put stores or replaces the excerpt for key.
func (c *ExcerptCache) Put(ctx context.Context, key string, excerpt string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO excerpts (key, excerpt, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET excerpt = excluded.excerpt, saved_at = excluded.saved_at
	`, key, excerpt, c.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("writing excerpt: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes entries saved more than maxAge ago and returns how
// many were removed. A non-positive maxAge is a no-op.
func (c *ExcerptCache) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := c.now().UTC().Add(-maxAge).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM excerpts WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging excerpts: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached excerpts.
func (c *ExcerptCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM excerpts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting excerpts: %w", err)
	}
	return n, nil
}
