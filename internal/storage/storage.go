// Package storage defines the persistence contract the batch pipeline
// depends on. Implementations must make ApplyChunk a single atomic unit
// keyed by (job id, chunk index) so chunk retries never double-count.
package storage

import (
	"context"

	"github.com/ndquangr/txingest/internal/domain"
)

// JobStore owns the job lifecycle and its counters.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// TransitionToRunning atomically moves a job from UPLOADED to RUNNING.
	// Returns domain.ErrJobNotFound, domain.ErrJobAlreadyRunning or
	// domain.ErrJobTerminal when the transition is not permitted.
	TransitionToRunning(ctx context.Context, jobID string) (*domain.Job, error)

	// ClaimRun binds a RUNNING job to one worker. A job whose run is held
	// by another worker yields domain.ErrRunAlreadyClaimed, unless that
	// claim's heartbeat has gone stale, in which case the holder is
	// presumed dead and the claim is taken over. Rejected redeliveries go
	// back to the broker so the job is picked up once the claim expires.
	ClaimRun(ctx context.Context, jobID, workerID string) error

	// InitRun records the total row count and resets the counters, chunk
	// markers and any transactions left over from an interrupted run.
	InitRun(ctx context.Context, jobID string, totalRecords int) error

	// ApplyChunk persists the chunk's transactions, increments the job
	// counters by the tally and records the chunk marker, all in one unit.
	// A chunk that was already applied is a no-op; the returned bool says
	// whether this call applied it. The returned job carries the
	// cumulative counters as committed.
	ApplyChunk(ctx context.Context, jobID string, chunkIndex int, txns []domain.Transaction, tally domain.ChunkTally) (*domain.Job, bool, error)

	// Heartbeat refreshes the run's liveness timestamp.
	Heartbeat(ctx context.Context, jobID string) error

	MarkCompleted(ctx context.Context, jobID string) (*domain.Job, error)
	MarkFailed(ctx context.Context, jobID, reason string) (*domain.Job, error)
}

// TransactionStore serves the read side of ingested rows.
type TransactionStore interface {
	// ListTransactions returns the requested page (1-based) in source-row
	// order, optionally restricted by filter.
	ListTransactions(ctx context.Context, jobID string, page, size int, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// UserStore owns user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Storage is the full persistence surface consumed by the services.
type Storage interface {
	JobStore
	TransactionStore
	UserStore
}
