package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Preference returns the stored value for key; ok is false when unset.
func (db *DB) Preference(ctx context.Context, key string) (value string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (db *DB) SetPreference(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// BoolPreference reads key as a boolean, false when unset or unparseable.
func (db *DB) BoolPreference(ctx context.Context, key string) (bool, error) {
	v, ok, err := db.Preference(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

func (db *DB) SetBoolPreference(ctx context.Context, key string, v bool) error {
	return db.SetPreference(ctx, key, strconv.FormatBool(v))
}
