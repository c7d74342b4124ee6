package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/camera.preview/internal/calibration"
)

// CalibrationBlob returns the cached calibration blob name for the machine
// with the given serial.
func (db *DB) CalibrationBlob(ctx context.Context, serial, name string) ([]byte, error) {
	var data []byte
	err := db.QueryRowContext(ctx,
		`SELECT data FROM calibration_blobs WHERE serial = ? AND name = ?`,
		serial, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration blob %s: %w", name, err)
	}
	return data, nil
}

// SaveCalibrationBlob caches a calibration blob read from the machine.
func (db *DB) SaveCalibrationBlob(ctx context.Context, serial, name string, data []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO calibration_blobs (serial, name, data, updated_at)
		VALUES (?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT (serial, name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		serial, name, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save calibration blob %s: %w", name, err)
	}
	return nil
}

// LevelingOffset returns the stored per-point offsets for a machine. A
// machine with no rows has an empty offset.
func (db *DB) LevelingOffset(ctx context.Context, serial string) (calibration.Leveling, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ref_key, offset_mm FROM leveling_offsets WHERE serial = ?`, serial)
	if err != nil {
		return nil, fmt.Errorf("failed to query leveling offset: %w", err)
	}
	defer rows.Close()

	out := calibration.Leveling{}
	for rows.Next() {
		var (
			key string
			v   float64
		)
		if err := rows.Scan(&key, &v); err != nil {
			return nil, fmt.Errorf("failed to scan leveling offset: %w", err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// SetLevelingOffset replaces the stored offsets for a machine.
func (db *DB) SetLevelingOffset(ctx context.Context, serial string, offset calibration.Leveling) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM leveling_offsets WHERE serial = ?`, serial); err != nil {
		return fmt.Errorf("failed to clear leveling offset: %w", err)
	}
	for key, v := range offset {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leveling_offsets (serial, ref_key, offset_mm) VALUES (?, ?, ?)`,
			serial, key, v,
		); err != nil {
			return fmt.Errorf("failed to store leveling offset %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// OffsetSource binds the leveling offset of one machine for a calibrator.
func (db *DB) OffsetSource(serial string) calibration.OffsetSource {
	return machineOffsets{db: db, serial: serial}
}

type machineOffsets struct {
	db     *DB
	serial string
}

func (m machineOffsets) LoadLevelingOffset(ctx context.Context) (calibration.Leveling, error) {
	return m.db.LevelingOffset(ctx, m.serial)
}
