package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ourfreewp/wp2-update/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ConfigStore = (*ConfigRepo)(nil)

// ConfigRepo is the SQLite implementation of the ConfigStore port: string
// keys to string values with optional expiry. Expired rows are treated as
// absent on read and lazily deleted.
type ConfigRepo struct {
	db *DB
	// now is swappable in tests.
	now func() time.Time
}

// NewConfigRepo creates a new ConfigRepo.
func NewConfigRepo(db *DB) *ConfigRepo {
	return &ConfigRepo{db: db, now: time.Now}
}

// Get returns the value for key, or ("", nil) when the key is missing or has
// expired.
func (r *ConfigRepo) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value, expires_at FROM config WHERE key = ?`

	var value string
	var expiresAt sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config %q: %w", key, err)
	}

	if expiresAt.Valid {
		exp, err := parseTime(expiresAt.String)
		if err != nil {
			return "", fmt.Errorf("parse expiry for config %q: %w", key, err)
		}
		if !r.now().Before(exp) {
			// Lazy cleanup; a failed delete only delays the next one.
			_, _ = r.db.Writer.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
			return "", nil
		}
	}

	return value, nil
}

// Set stores or replaces the value for key. ttl <= 0 stores without expiry.
func (r *ConfigRepo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = r.now().Add(ttl).UTC().Format(time.RFC3339Nano)
	}

	const query = `INSERT OR REPLACE INTO config (key, value, expires_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.db.Writer.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// Delete removes the value for key. Deleting a missing key is a no-op.
func (r *ConfigRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete config %q: %w", key, err)
	}
	return nil
}
