package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openclaw/bridge/pkg/message"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists audit events in a local SQLite database so the
// trail survives restarts and can be queried after the fact.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY,
        outcome TEXT NOT NULL,
        channel TEXT NOT NULL,
        message_id TEXT NOT NULL,
        sender_id TEXT,
        target TEXT,
        reason TEXT,
        timestamp_ms INTEGER NOT NULL,
        metadata JSON
    );
    CREATE INDEX IF NOT EXISTS idx_audit_events_message
        ON audit_events (message_id);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLog) Record(ctx context.Context, event Event) error {
	fill(&event, l.now)

	metaJSON, _ := json.Marshal(event.Metadata)

	query := `INSERT INTO audit_events (
		id, outcome, channel, message_id, sender_id, target, reason, timestamp_ms, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, string(event.Outcome), string(event.Channel), event.MessageID,
		event.SenderID, string(event.Target), event.Reason, event.TimestampMs, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (l *SQLiteLog) List(ctx context.Context, limit int) ([]Event, error) {
	query := `
        SELECT id, outcome, channel, message_id, sender_id, target, reason, timestamp_ms, metadata
        FROM audit_events
        ORDER BY timestamp_ms DESC
        LIMIT ?
    `
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ListForMessage returns every event recorded for one message, oldest
// first, reconstructing its path through the pipeline.
func (l *SQLiteLog) ListForMessage(ctx context.Context, messageID string) ([]Event, error) {
	query := `
        SELECT id, outcome, channel, message_id, sender_id, target, reason, timestamp_ms, metadata
        FROM audit_events
        WHERE message_id = ?
        ORDER BY timestamp_ms ASC
    `
	rows, err := l.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanEventRow(rows *sql.Rows) (Event, error) {
	var (
		e        Event
		outcome  string
		channel  string
		senderID sql.NullString
		target   sql.NullString
		reason   sql.NullString
		metaJSON sql.NullString
	)
	if err := rows.Scan(&e.ID, &outcome, &channel, &e.MessageID, &senderID, &target, &reason, &e.TimestampMs, &metaJSON); err != nil {
		return Event{}, err
	}
	e.Outcome = Outcome(outcome)
	e.Channel = message.Channel(channel)
	e.SenderID = senderID.String
	e.Target = message.Channel(target.String)
	e.Reason = reason.String

	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return e, nil
}

// OpenSQLite opens (or creates) the audit database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return db, nil
}
