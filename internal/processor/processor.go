// Package processor executes one chunk of a job: read the row range,
// validate every row, commit the batch with the counter deltas as one
// atomic unit, then emit a progress event from the committed counters.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/planner"
	"github.com/ndquangr/txingest/internal/progress"
	"github.com/ndquangr/txingest/internal/storage"
	"github.com/ndquangr/txingest/internal/validate"
)

// RowSource reads a contiguous row range from a job's source file.
type RowSource interface {
	ReadRange(jobID string, start, end int) ([]validate.Record, error)
}

// Processor validates and persists chunks.
type Processor struct {
	logger *slog.Logger
	store  storage.JobStore
	rows   RowSource
	sink   progress.Sink
}

// New creates a chunk processor.
func New(logger *slog.Logger, store storage.JobStore, rows RowSource, sink progress.Sink) *Processor {
	return &Processor{
		logger: logger,
		store:  store,
		rows:   rows,
		sink:   sink,
	}
}

// ProcessChunk runs one chunk to completion. Re-running a chunk that was
// already committed changes nothing: the storage layer detects the chunk
// marker and skips both the insert and the counter increments.
//
// The emitted progress event carries the job's cumulative counters as
// committed, never the chunk-local tally. A failing progress sink is
// logged and swallowed; it never fails the chunk.
func (p *Processor) ProcessChunk(ctx context.Context, jobID string, chunkIndex int, rng planner.Range, totalBatches int) (domain.ChunkTally, error) {
	records, err := p.rows.ReadRange(jobID, rng.Start, rng.End)
	if err != nil {
		return domain.ChunkTally{}, fmt.Errorf("failed to read chunk rows: %w", err)
	}

	txns := make([]domain.Transaction, 0, len(records))
	var tally domain.ChunkTally
	for _, rec := range records {
		res := validate.Row(rec)
		txns = append(txns, domain.Transaction{
			JobID:         jobID,
			TransactionID: rec.TransactionID,
			UserID:        rec.UserID,
			Amount:        res.Amount,
			Timestamp:     res.Timestamp,
			IsValid:       res.Valid,
			IsSuspicious:  res.Suspicious,
			ErrorMessage:  res.ErrorMessage,
		})

		tally.Processed++
		if res.Valid {
			tally.Valid++
		} else {
			tally.Invalid++
		}
		if res.Suspicious {
			tally.Suspicious++
		}
	}

	job, applied, err := p.store.ApplyChunk(ctx, jobID, chunkIndex, txns, tally)
	if err != nil {
		return domain.ChunkTally{}, fmt.Errorf("failed to apply chunk %d: %w", chunkIndex, err)
	}
	if !applied {
		p.logger.Info("Chunk replay detected, counters unchanged",
			slog.String("job_id", jobID),
			slog.Int("chunk_index", chunkIndex),
		)
	}

	p.emit(ctx, domain.ProgressFromJob(job, chunkIndex+1, totalBatches))

	p.logger.Info("Chunk completed",
		slog.String("job_id", jobID),
		slog.Int("chunk_index", chunkIndex),
		slog.Int("total_batches", totalBatches),
		slog.Int("progress_percent", job.PercentComplete()),
	)
	return tally, nil
}

// emit pushes a progress event through the sink, swallowing failures.
func (p *Processor) emit(ctx context.Context, event domain.ProgressEvent) {
	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.Warn("Failed to deliver progress event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}
