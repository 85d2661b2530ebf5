package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv_store (
	k VARCHAR(191) NOT NULL PRIMARY KEY,
	v TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const upsertKV = `INSERT INTO kv_store (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)`

// seedKV creates a zero row for a counter that has never been written.
// FOR UPDATE on a missing row only takes a gap lock, which does not exclude
// a concurrent caller, so the row must exist before the locking read.
const seedKV = `INSERT IGNORE INTO kv_store (k, v) VALUES (?, '0')`

// MySQL is a Store persisted in a single kv_store table.
type MySQL struct {
	db *sql.DB
}

// NewMySQL returns a MySQL store bound to db. Call EnsureSchema once before
// serving traffic.
func NewMySQL(db *sql.DB) *MySQL { return &MySQL{db: db} }

// EnsureSchema creates the kv_store table when it does not exist.
func (m *MySQL) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("%w: create kv_store: %v", ErrUnavailable, err)
	}
	return nil
}

func (m *MySQL) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := m.db.QueryRowContext(ctx, `SELECT v FROM kv_store WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return v, nil
}

func (m *MySQL) Set(ctx context.Context, key, value string) error {
	if _, err := m.db.ExecContext(ctx, upsertKV, key, value); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// IncrementIfBelow locks the row with SELECT ... FOR UPDATE so that two
// callers cannot both observe the same value.
func (m *MySQL) IncrementIfBelow(ctx context.Context, key string, limit int64) (int64, bool, error) {
	if _, err := m.db.ExecContext(ctx, seedKV, key); err != nil {
		return 0, false, fmt.Errorf("%w: seed %s: %v", ErrUnavailable, key, err)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var cur int64
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT v FROM kv_store WHERE k = ? FOR UPDATE`, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, false, fmt.Errorf("%w: lock %s: %v", ErrUnavailable, key, err)
	default:
		if cur, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, false, fmt.Errorf("parse %s: %w", key, err)
		}
	}
	if cur >= limit {
		return cur, false, nil
	}
	cur++
	if _, err := tx.ExecContext(ctx, upsertKV, key, strconv.FormatInt(cur, 10)); err != nil {
		return 0, false, fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	committed = true
	return cur, true, nil
}
