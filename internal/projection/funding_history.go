// Package projection maintains queryable side tables derived from the event
// stream. Projections are eventually consistent and rebuildable from
// dealer_events, so a lost update is never fatal.
package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"PerpDealer/internal/event"
)

// FundingHistoryWorker appends every FundingRateUpdated event to the
// funding_rate_history table.
type FundingHistoryWorker struct {
	db      *sql.DB
	input   <-chan event.Envelope
	lastSeq int64
	log     zerolog.Logger
}

func NewFundingHistoryWorker(db *sql.DB, input <-chan event.Envelope, log zerolog.Logger) *FundingHistoryWorker {
	return &FundingHistoryWorker{db: db, input: input, log: log}
}

// Run consumes envelopes until the context ends or the channel closes.
func (w *FundingHistoryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-w.input:
			if !ok {
				return nil
			}
			if env.Type != event.EventTypeFundingRateUpdated {
				continue
			}
			if err := w.apply(ctx, env); err != nil {
				w.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("funding history update failed")
				continue
			}
			w.lastSeq = env.Sequence
		}
	}
}

func (w *FundingHistoryWorker) apply(ctx context.Context, env event.Envelope) error {
	upd, ok := env.Payload.(*event.FundingRateUpdated)
	if !ok {
		return fmt.Errorf("unexpected payload %T for sequence %d", env.Payload, env.Sequence)
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO funding_rate_history (sequence, market_id, rate, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, upd.Market, upd.Rate.String(), env.Timestamp)
	return err
}

// Rebuild truncates the projection and replays it from the event log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE funding_rate_history`); err != nil {
		return fmt.Errorf("truncate funding_rate_history: %w", err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO funding_rate_history (sequence, market_id, rate, ts)
		SELECT
			sequence,
			payload->>'market',
			(payload->>'rate')::NUMERIC,
			ts
		FROM dealer_events
		WHERE event_type = 'FundingRateUpdated'
		ON CONFLICT (sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild funding history: %w", err)
	}
	return nil
}
