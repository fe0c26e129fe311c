package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zyura/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. It runs
// independently from the engine; the persist channel uses BLOCKING sends,
// so if this worker falls behind the engine stalls and no command is lost.
type Worker struct {
	db           *sql.DB
	writer       *CommandLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewCommandLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	commandBatch := make([]CommandRow, 0, w.batchSize)
	journalBatch := make([]JournalRow, 0, w.batchSize*2)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	reset := func() {
		commandBatch = commandBatch[:0]
		journalBatch = journalBatch[:0]
		timer.Reset(w.flushTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a background context
			if len(commandBatch) > 0 {
				if err := w.flush(context.Background(), commandBatch, journalBatch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(commandBatch) > 0 {
					if err := w.flush(context.Background(), commandBatch, journalBatch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			commandBatch = append(commandBatch, output.CommandRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(commandBatch) >= w.batchSize {
				w.flushWithRetry(ctx, commandBatch, journalBatch)
				reset()
			}

		case <-timer.C:
			if len(commandBatch) > 0 {
				w.flushWithRetry(ctx, commandBatch, journalBatch)
			}
			reset()
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// a committed command: it retries until the write succeeds, and on
// shutdown attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, commands []CommandRow, journals []JournalRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", len(commands)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), commands, journals); err != nil {
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

		if err := w.flush(ctx, commands, journals); err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}
	}
}

// flush writes commands and journals in a single transaction.
func (w *Worker) flush(ctx context.Context, commands []CommandRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		w.countError("write_commands")
		return fmt.Errorf("write commands: %w", err)
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		w.countError("write_journals")
		return fmt.Errorf("write journals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistCommandsWritten.Add(float64(len(commands)))
		w.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(commands) > 0 {
			w.metrics.PersistLastSequence.Set(float64(commands[len(commands)-1].Sequence))
		}
	}

	return nil
}

func (w *Worker) countError(operation string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(operation).Inc()
	}
}
