// Package requests implements the idempotency request log. Every mutation
// carries a caller-supplied request ID; re-submission with the same ID
// returns the recorded outcome instead of applying the mutation again.
package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the recorded result of an applied request
type Outcome struct {
	RequestID string
	Operation string
	EntityID  string
	Result    string // "ok" or an error classification
	CreatedAt time.Time
}

// Log is the request log backed by the ledger database
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLog creates a request log
func NewLog(db *sql.DB, log zerolog.Logger) *Log {
	return &Log{
		db:  db,
		log: log.With().Str("repo", "request_log").Logger(),
	}
}

// Lookup returns the recorded outcome for a request ID, or nil if the
// request has not been applied
func (l *Log) Lookup(ctx context.Context, requestID string) (*Outcome, error) {
	if requestID == "" {
		return nil, nil
	}

	var out Outcome
	var createdAt string
	err := l.db.QueryRowContext(ctx,
		`SELECT request_id, operation, entity_id, outcome, created_at FROM request_log WHERE request_id = ?`,
		requestID,
	).Scan(&out.RequestID, &out.Operation, &out.EntityID, &out.Result, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up request: %w", err)
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &out, nil
}

// Record stores the outcome of an applied request. The primary key makes a
// double-apply under race fail here rather than silently duplicating; the
// caller treats that failure as "already applied".
func (l *Log) Record(ctx context.Context, requestID, operation, entityID, result string) error {
	if requestID == "" {
		return nil
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO request_log (request_id, operation, entity_id, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
		requestID, operation, entityID, result, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}
