package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetProperty returns the value stored under key. ErrNotFound is returned
// when the key is absent.
func (db *DB) GetProperty(ctx context.Context, key string) (string, error) {
	var value string
	err := db.db.QueryRowContext(ctx, `SELECT value FROM trigger_properties WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get property %s: %w", key, err)
	}
	return value, nil
}

// SetProperty stores value under key, replacing any previous value.
func (db *DB) SetProperty(ctx context.Context, key, value string) error {
	query := `INSERT INTO trigger_properties (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := db.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set property %s: %w", key, err)
	}
	return nil
}

// DeleteProperty removes key. Deleting an absent key is not an error.
func (db *DB) DeleteProperty(ctx context.Context, key string) error {
	if _, err := db.db.ExecContext(ctx, `DELETE FROM trigger_properties WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}
