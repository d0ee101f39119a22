package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type sqliteBackend struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a sqlite-backed Backend at path. Entries carry
// an expires column in unix milliseconds; zero means no native expiry. The
// pure-Go driver keeps the binary free of cgo.
func NewSQLite(path string) (Backend, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY churn and keeps AddIfAbsent atomic.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER NOT NULL, value BLOB)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: sqlite schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var expires int64
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT expires, value FROM cache WHERE key = ?`, key).Scan(&expires, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	if expires > 0 && time.Now().UnixMilli() >= expires {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache: sqlite purge expired: %w", err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

func (b *sqliteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	if _, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO cache (key, expires, value) VALUES (?, ?, ?)`, key, expires, value); err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite remove: %w", err)
	}
	return nil
}

func (b *sqliteBackend) AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("cache: sqlite add-if-absent requires a positive ttl")
	}
	now := time.Now()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("cache: sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache WHERE key = ? AND expires > 0 AND expires <= ?`, key, now.UnixMilli()); err != nil {
		return false, fmt.Errorf("cache: sqlite expire lock: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO cache (key, expires, value) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, now.Add(ttl).UnixMilli(), value)
	if err != nil {
		return false, fmt.Errorf("cache: sqlite insert lock: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cache: sqlite rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("cache: sqlite commit: %w", err)
	}
	return inserted > 0, nil
}

func (b *sqliteBackend) Close(context.Context) error {
	return b.db.Close()
}
