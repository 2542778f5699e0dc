// Package localstore is a single-file SQLite key-value store used when no
// PostgreSQL database is configured.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("localstore: not found")
	// ErrStale is returned by Put when the stored revision is not older.
	ErrStale = errors.New("localstore: stale revision")
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    namespace  TEXT    NOT NULL,
    key        TEXT    NOT NULL,
    value      BLOB    NOT NULL,
    revision   INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (namespace, key)
);`

// Entry is one stored value.
type Entry struct {
	Value     []byte `db:"value"`
	Revision  int64  `db:"revision"`
	UpdatedAt int64  `db:"updated_at"`
}

// Store wraps the SQLite handle.
type Store struct {
	db *sqlx.DB
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("create local store dir: %w", err)
	}

	dsn := clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps revision checks serial.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies the database file is usable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the entry stored under namespace/key.
func (s *Store) Get(ctx context.Context, namespace, key string) (Entry, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e,
		`SELECT value, revision, updated_at FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return e, nil
}

// Put stores value under namespace/key if revision is newer than the
// stored one.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte, revision int64) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, key, value, revision, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		     value = excluded.value,
		     revision = excluded.revision,
		     updated_at = excluded.updated_at
		 WHERE kv.revision < excluded.revision`,
		namespace, key, value, revision, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s/%s rows: %w", namespace, key, err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// Set stores value under namespace/key unconditionally, bumping its
// revision.
func (s *Store) Set(ctx context.Context, namespace, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, key, value, revision, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		     value = excluded.value,
		     revision = kv.revision + 1,
		     updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists the keys stored in namespace.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM kv WHERE namespace = ? ORDER BY key`, namespace,
	); err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	return keys, nil
}
