package cache

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/gob"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteTier is the durable Tier-1 cache, grounded in the original
// `FileCache`: a single-table key/value store with TTL, namespace, and
// comma-joined tags, retargeted from raw sqlite3+pickle onto a
// goose-migrated schema and Go's encoding/gob for value serialization.
type SQLiteTier struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLiteTier opens (creating if needed) the SQLite database at path
// and applies pending migrations.
func OpenSQLiteTier(path string) (*SQLiteTier, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache.OpenSQLiteTier: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("cache.OpenSQLiteTier: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("cache.OpenSQLiteTier: migrate: %w", err)
	}

	return &SQLiteTier{db: db}, nil
}

// Close releases the underlying database handle.
func (t *SQLiteTier) Close() error {
	return t.db.Close()
}

// Get returns the decoded value for key, or ok=false on miss or
// expiry. An expired row is deleted lazily.
func (t *SQLiteTier) Get(ctx context.Context, key string) (any, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key)

	var blob []byte
	var expiresAt float64
	if err := row.Scan(&blob, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache.SQLiteTier.Get: %w", err)
	}

	if float64(time.Now().UnixNano())/1e9 > expiresAt {
		_, _ = t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}

	var value any
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&value); err != nil {
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts key with value, ttl, tags, and namespace.
func (t *SQLiteTier) Set(ctx context.Context, key string, value any, ttl time.Duration, tags []string, namespace string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return fmt.Errorf("cache.SQLiteTier.Set: encode: %w", err)
	}

	now := time.Now()
	expires := now.Add(ttl)

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, created_at, expires_at, namespace, tags)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			namespace = excluded.namespace,
			tags = excluded.tags
	`, key, buf.Bytes(), float64(now.UnixNano())/1e9, float64(expires.UnixNano())/1e9, namespace, csvTags(tags))
	if err != nil {
		return fmt.Errorf("cache.SQLiteTier.Set: %w", err)
	}
	return nil
}

// Delete removes key, returning whether a row was removed.
func (t *SQLiteTier) Delete(ctx context.Context, key string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("cache.SQLiteTier.Delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// csvTags joins tags wrapped in leading/trailing comma delimiters so
// DeleteByTag's LIKE pattern can anchor on exact tag boundaries instead
// of matching any tag name that happens to contain another as a
// substring (e.g. "pro" inside "product").
func csvTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return "," + strings.Join(tags, ",") + ","
}

// DeleteByTag removes every row whose tag list contains tag and
// returns how many were removed.
func (t *SQLiteTier) DeleteByTag(ctx context.Context, tag string) (int, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE tags LIKE ?`, "%,"+tag+",%")
	if err != nil {
		return 0, fmt.Errorf("cache.SQLiteTier.DeleteByTag: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupExpired removes every row past its expiry and returns the
// count removed, for periodic background maintenance.
func (t *SQLiteTier) CleanupExpired(ctx context.Context) (int, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, float64(time.Now().UnixNano())/1e9)
	if err != nil {
		return 0, fmt.Errorf("cache.SQLiteTier.CleanupExpired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Clear deletes every row.
func (t *SQLiteTier) Clear(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

// Size returns the row count.
func (t *SQLiteTier) Size(ctx context.Context) (int, error) {
	row := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
