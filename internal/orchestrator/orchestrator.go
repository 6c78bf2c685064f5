// Package orchestrator drives a job from RUNNING to a terminal status:
// init (count rows, plan chunks), every chunk in ascending order, then
// finalize. Each step runs under bounded exponential backoff; exhausting
// the attempt budget on any step fails the job and stops the run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/planner"
	"github.com/ndquangr/txingest/internal/progress"
	"github.com/ndquangr/txingest/internal/storage"
)

// RetryPolicy bounds step retries.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
	MaxAttempts        int
}

// DefaultRetryPolicy starts at 1s, doubles, caps at 30s, gives up after
// three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaxInterval:        30 * time.Second,
		MaxAttempts:        3,
	}
}

// Timeouts bound each step kind independently. A timed-out attempt counts
// against the retry budget like any other failure.
type Timeouts struct {
	Init              time.Duration
	Chunk             time.Duration
	Finalize          time.Duration
	HeartbeatInterval time.Duration
}

// DefaultTimeouts mirror the step budgets the pipeline was tuned for.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:              5 * time.Minute,
		Chunk:             10 * time.Minute,
		Finalize:          time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

// SourceFile exposes the file metadata the init step plans from.
type SourceFile interface {
	CountRows(jobID string) (int, error)
	Size(jobID string) (int64, error)
}

// ChunkRunner executes one chunk. Implementations must be idempotent per
// (job id, chunk index) so a retried step is safe.
type ChunkRunner interface {
	ProcessChunk(ctx context.Context, jobID string, chunkIndex int, rng planner.Range, totalBatches int) (domain.ChunkTally, error)
}

// Runner executes the three-step sequence for one job at a time. It is
// safe to share across goroutines; per-job exclusivity comes from the
// storage run claim, not from the Runner.
type Runner struct {
	logger   *slog.Logger
	store    storage.JobStore
	source   SourceFile
	chunks   ChunkRunner
	sink     progress.Sink
	policy   RetryPolicy
	timeouts Timeouts
	workerID string
}

// Config holds Runner dependencies.
type Config struct {
	Logger   *slog.Logger
	Store    storage.JobStore
	Source   SourceFile
	Chunks   ChunkRunner
	Sink     progress.Sink
	Policy   RetryPolicy
	Timeouts Timeouts
	WorkerID string
}

// NewRunner creates a Runner. Zero-valued policy or timeouts fall back
// to the defaults.
func NewRunner(cfg *Config) *Runner {
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	timeouts := cfg.Timeouts
	if timeouts.Chunk == 0 {
		timeouts = DefaultTimeouts()
	}
	return &Runner{
		logger:   cfg.Logger,
		store:    cfg.Store,
		source:   cfg.Source,
		chunks:   cfg.Chunks,
		sink:     cfg.Sink,
		policy:   policy,
		timeouts: timeouts,
		workerID: cfg.WorkerID,
	}
}

// Run drives one job. The job must already be RUNNING (the start CAS
// happened in the service layer); Run additionally claims the run for
// this worker so a redelivered start message cannot race an in-flight
// run. Any step that exhausts its retries marks the job FAILED with the
// committed counters intact.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	if err := r.store.ClaimRun(ctx, jobID, r.workerID); err != nil {
		return fmt.Errorf("failed to claim job run: %w", err)
	}

	var plan planner.Plan
	err := r.step(ctx, "init", r.timeouts.Init, func(stepCtx context.Context) error {
		var initErr error
		plan, initErr = r.initJob(stepCtx, jobID)
		return initErr
	})
	if err != nil {
		return r.fail(jobID, plan, err)
	}

	r.logger.Info("Job plan computed",
		slog.String("job_id", jobID),
		slog.Int("total_records", plan.TotalRecords),
		slog.Int("batch_size", plan.BatchSize),
		slog.Int("total_batches", plan.TotalBatches()),
	)

	for i, rng := range plan.Chunks {
		chunkIndex, chunkRange := i, rng
		name := fmt.Sprintf("chunk %d/%d", chunkIndex+1, plan.TotalBatches())
		err := r.step(ctx, name, r.timeouts.Chunk, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go r.heartbeat(stepCtx, jobID, done)
			defer close(done)

			_, chunkErr := r.chunks.ProcessChunk(stepCtx, jobID, chunkIndex, chunkRange, plan.TotalBatches())
			return chunkErr
		})
		if err != nil {
			return r.fail(jobID, plan, err)
		}
	}

	err = r.step(ctx, "finalize", r.timeouts.Finalize, func(stepCtx context.Context) error {
		job, finErr := r.store.MarkCompleted(stepCtx, jobID)
		if finErr != nil {
			return finErr
		}
		r.emit(stepCtx, domain.ProgressFromJob(job, plan.TotalBatches(), plan.TotalBatches()))
		return nil
	})
	if err != nil {
		return r.fail(jobID, plan, err)
	}

	r.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.Int("total_batches", plan.TotalBatches()),
	)
	return nil
}

// initJob counts the source rows, derives the chunk plan and resets the
// job's counters and any leftovers from an interrupted run.
func (r *Runner) initJob(ctx context.Context, jobID string) (planner.Plan, error) {
	totalRecords, err := r.source.CountRows(jobID)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("failed to count source rows: %w", err)
	}
	size, err := r.source.Size(jobID)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("failed to stat source file: %w", err)
	}

	plan := planner.New(totalRecords, size)
	if err := r.store.InitRun(ctx, jobID, totalRecords); err != nil {
		return planner.Plan{}, fmt.Errorf("failed to init run: %w", err)
	}
	return plan, nil
}

// step runs fn under the retry policy with a per-attempt timeout.
func (r *Runner) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	interval := r.policy.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(stepCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		r.logger.Warn("Step attempt failed",
			slog.String("step", name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.policy.MaxAttempts),
			slog.String("error", err.Error()),
		)

		if attempt == r.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("step %s canceled: %w", name, ctx.Err())
		}
		interval = time.Duration(float64(interval) * r.policy.BackoffCoefficient)
		if interval > r.policy.MaxInterval {
			interval = r.policy.MaxInterval
		}
	}
	return fmt.Errorf("step %s failed after %d attempts: %w", name, r.policy.MaxAttempts, lastErr)
}

// fail marks the job FAILED (keeping whatever counters were committed)
// and emits a terminal progress event. The run context may already be
// canceled when we get here, so the terminal write runs on its own
// short-lived context.
func (r *Runner) fail(jobID string, plan planner.Plan, cause error) error {
	r.logger.Error("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)

	failCtx, cancel := context.WithTimeout(context.Background(), r.timeouts.Finalize)
	defer cancel()

	job, err := r.store.MarkFailed(failCtx, jobID, cause.Error())
	if err != nil {
		r.logger.Error("Failed to mark job FAILED",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return cause
	}
	r.emit(failCtx, domain.ProgressFromJob(job, 0, plan.TotalBatches()))
	return cause
}

// emit pushes a progress event, swallowing delivery failures.
func (r *Runner) emit(ctx context.Context, event domain.ProgressEvent) {
	if err := r.sink.Publish(ctx, event); err != nil {
		r.logger.Warn("Failed to deliver progress event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeat refreshes the run's liveness marker while a chunk executes,
// so a long chunk is distinguishable from a hung one.
func (r *Runner) heartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(r.timeouts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Heartbeat(ctx, jobID); err != nil {
				r.logger.Warn("Failed to update run heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
