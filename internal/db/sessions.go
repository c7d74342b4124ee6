package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is one preview session in the log.
type SessionRecord struct {
	ID        string     `json:"id"`
	Serial    string     `json:"serial"`
	Model     string     `json:"model"`
	Strategy  string     `json:"strategy"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Captures  int        `json:"captures"`
}

func (db *DB) RecordSessionStart(ctx context.Context, r SessionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO preview_sessions (session_id, serial, model, strategy, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Serial, r.Model, r.Strategy, r.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

func (db *DB) RecordSessionEnd(ctx context.Context, id string, endedAt time.Time, captures int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE preview_sessions SET ended_at = ?, captures = ? WHERE session_id = ?`,
		endedAt.UnixMilli(), captures, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, serial, model, strategy, started_at, ended_at, captures
		FROM preview_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r       SessionRecord
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Serial, &r.Model, &r.Strategy, &started, &ended, &r.Captures); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
