package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"PerpDealer/internal/dealer"
	"PerpDealer/internal/event"
	"PerpDealer/internal/observability"
)

// Worker receives envelopes from the dealer and batch-writes them to
// Postgres. It satisfies dealer.Publisher with a BLOCKING enqueue: if the
// writer falls behind, the dealer stalls instead of losing events. Each
// flushed envelope is then forwarded downstream (the NATS egress), so
// outbound events are only visible after persistence confirmed them.
type Worker struct {
	writer       *EventLogWriter
	input        chan event.Envelope
	forward      dealer.Publisher
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(db *sql.DB, forward dealer.Publisher, batchSize int, flushTimeout time.Duration,
	metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		input:        make(chan event.Envelope, batchSize*4),
		forward:      forward,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Publish enqueues an envelope for persistence. Blocks when the queue is
// full.
func (w *Worker) Publish(env event.Envelope) {
	w.input <- env
}

// Close stops accepting envelopes; Run drains the queue and returns.
func (w *Worker) Close() {
	close(w.input)
}

// Run batches envelopes and flushes on size or timeout. Returns once the
// context ends or the input channel closes, after a final flush.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]event.Envelope, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}
			batch = append(batch, env)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context ends; events are never dropped.
func (w *Worker) flushWithRetry(ctx context.Context, batch []event.Envelope) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err != nil {
			if w.metrics != nil {
				w.metrics.PersistErrors.WithLabelValues("retry").Inc()
			}
			continue
		}
		if attempt > 0 {
			w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
		}
		return
	}
}

func (w *Worker) flush(ctx context.Context, batch []event.Envelope) error {
	start := time.Now()

	rows := make([]EventRow, 0, len(batch))
	for _, env := range batch {
		row, err := RowFromEnvelope(env)
		if err != nil {
			// An unmarshalable payload is a bug; log and keep the rest.
			w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("unserializable event skipped")
			continue
		}
		rows = append(rows, row)
	}

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, rows); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(rows)))
		w.metrics.PersistEventsWritten.Add(float64(len(rows)))
		if len(rows) > 0 {
			w.metrics.PersistLastSequence.Set(float64(rows[len(rows)-1].Sequence))
		}
	}

	if w.forward != nil {
		for _, env := range batch {
			w.forward.Publish(env)
		}
	}
	return nil
}
