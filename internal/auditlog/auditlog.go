// Package auditlog records every acquisition attempt in SQLite: the
// pipeline state reached, outcome, and timing. History keeps only the
// latest success per jurisdiction; the audit log keeps the trail.
package auditlog

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/civicsignal/feewatch/schedule"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	city          TEXT NOT NULL,
	state         TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	fingerprint   TEXT,
	duration_ms   INTEGER NOT NULL,
	started_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_city ON attempts(city, started_at DESC);
`

// Entry is one recorded attempt.
type Entry struct {
	ID          string                `json:"id"`
	City        string                `json:"city"`
	State       schedule.AttemptState `json:"state"`
	Status      string                `json:"status"` // success | failed
	Error       string                `json:"error,omitempty"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	DurationMs  int64                 `json:"duration_ms"`
	StartedAt   int64                 `json:"started_at"` // unix seconds
}

// Log writes attempt rows.
type Log struct {
	db *sql.DB
}

// Open prepares the attempts schema on the given database.
func Open(ctx context.Context, db *sql.DB) (*Log, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("auditlog: schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record inserts one attempt. A missing ID is filled in.
func (l *Log) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO attempts (id, city, state, status, error_message, fingerprint, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.City, string(e.State), e.Status, e.Error, e.Fingerprint, e.DurationMs, e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	return nil
}

// History returns a jurisdiction's attempts, newest first.
func (l *Log) History(ctx context.Context, city string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, city, state, status, error_message, fingerprint, duration_ms, started_at
		FROM attempts WHERE city = ?
		ORDER BY started_at DESC LIMIT ?`, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var state string
		if err := rows.Scan(&e.ID, &e.City, &state, &e.Status, &e.Error,
			&e.Fingerprint, &e.DurationMs, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		e.State = schedule.AttemptState(state)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func newID() string {
	var b [8]byte
	rand.Read(b[:])
	return "att_" + hex.EncodeToString(b[:])
}
