// Package persistence writes the dealer's event stream to Postgres. The
// dealer_events table is the authoritative log: NATS egress and query
// projections are both rebuildable from it.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"PerpDealer/internal/event"
)

// EventRow is one row of dealer_events.
type EventRow struct {
	Sequence  int64
	EventID   uuid.UUID
	EventType string
	MarketID  *string
	Payload   []byte
	Timestamp time.Time
}

// RowFromEnvelope flattens an envelope into its storage row.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload seq=%d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID,
		EventType: env.TypeName,
		MarketID:  env.MarketID,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// EventLogWriter batch-inserts event rows. Multi-row INSERT with ON CONFLICT
// DO NOTHING makes replays after a crash idempotent.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// DB exposes the underlying handle for transaction control.
func (w *EventLogWriter) DB() *sql.DB { return w.db }

// WriteBatch inserts a batch of rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO dealer_events
		(sequence, event_id, event_type, market_id, payload, ts)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Sequence, r.EventID, r.EventType, r.MarketID, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest sequence in the log, zero when empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM dealer_events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
