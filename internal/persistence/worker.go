package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PredMarket/internal/observability"
	"PredMarket/internal/outbound"
)

// LogWorker drains settlement envelopes and batch-appends them to the
// settlement log. It flushes when the batch fills or the flush timeout
// expires, and retries failed flushes with exponential backoff rather than
// dropping rows.
type LogWorker struct {
	writer       *SettlementLogWriter
	db           *sql.DB
	input        <-chan outbound.Envelope
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewLogWorker(
	db *sql.DB,
	input <-chan outbound.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *LogWorker {
	return &LogWorker{
		writer:       NewSettlementLogWriter(db),
		db:           db,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          logger,
		metrics:      metrics,
	}
}

// Run batches and flushes until the context is cancelled or the input
// channel closes. On shutdown the remaining batch is flushed with a
// background context so it is not lost.
func (w *LogWorker) Run(ctx context.Context) error {
	batch := make([]LogRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("final settlement log flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("rows", len(batch)).Msg("final settlement log flush failed")
					}
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("unloggable envelope skipped")
				continue
			}
			batch = append(batch, row)

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
// or the context is cancelled, in which case one last attempt runs on a
// background context.
func (w *LogWorker) flushWithRetry(ctx context.Context, rows []LogRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("settlement log flush retrying")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), rows); err != nil {
					w.log.Error().Err(err).Int("rows", len(rows)).Msg("settlement log flush lost on shutdown")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, rows); err == nil {
			return
		}
		if w.metrics != nil {
			w.metrics.LogWriteErrors.Inc()
		}
	}
}

func (w *LogWorker) flush(ctx context.Context, rows []LogRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log flush: %w", err)
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log flush: %w", err)
	}

	if w.metrics != nil {
		w.metrics.LogEntriesWritten.Add(float64(len(rows)))
		w.metrics.LogBatchSize.Observe(float64(len(rows)))
	}
	return nil
}
