// Package ledger provides an append-only history of bridge commands.
// It backs the `history` command and records per-target outcomes of batch updates.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventPaired        EventType = "paired"
	EventPairingFailed EventType = "pairing_failed"
	EventStateApplied  EventType = "state_applied"
	EventStateFailed   EventType = "state_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID         int64
	EventType  EventType
	Timestamp  time.Time
	RunID      string
	TargetKind string // "light", "group" or "bridge"
	TargetID   string
	Payload    map[string]any
	Error      string
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// NewRunID returns an identifier grouping the entries of one invocation.
func NewRunID() string {
	return uuid.NewString()
}

// Append adds a new event to the ledger. A zero Timestamp is set to now.
func (l *Ledger) Append(e Entry) error {
	var payloadJSON []byte
	var err error

	if e.Payload != nil {
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, run_id, target_kind, target_id, payload, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.EventType), ts.UTC().UnixMilli(), e.RunID, e.TargetKind, e.TargetID, string(payloadJSON), e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, run_id, target_kind, target_id, payload, error
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			eventType         string
			ts                int64
			kind, id, errText sql.NullString
			payload           sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &ts, &e.RunID, &kind, &id, &payload, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Timestamp = time.UnixMilli(ts)
		e.TargetKind = kind.String
		e.TargetID = id.String
		e.Error = errText.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Cleanup removes entries older than the retention period
func (l *Ledger) Cleanup(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays).UTC().UnixMilli()

	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup ledger: %w", err)
	}
	return result.RowsAffected()
}
