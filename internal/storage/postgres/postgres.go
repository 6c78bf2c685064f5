// Package postgres implements the storage contract on PostgreSQL via sqlx.
// The RUNNING guard and the run claim are compare-and-set UPDATEs; chunk
// application runs inside one database transaction keyed by the row in
// job_chunks, which makes replays no-ops.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/storage"
)

const jobColumns = `
	job_id, user_id, status, total_records, processed_records,
	valid_records, invalid_records, suspicious_records,
	COALESCE(worker_id, '') AS worker_id,
	COALESCE(error_message, '') AS error_message,
	created_at, updated_at
`

// DefaultClaimStaleAfter is how old a run's heartbeat must be before
// another worker may take over its claim. It must comfortably exceed the
// heartbeat interval so a merely slow worker is never preempted.
const DefaultClaimStaleAfter = 5 * time.Minute

// Store is the PostgreSQL-backed Storage implementation.
type Store struct {
	db              *sqlx.DB
	logger          *slog.Logger
	claimStaleAfter time.Duration
}

// NewStore creates a Store on an established sqlx connection.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger, claimStaleAfter: DefaultClaimStaleAfter}
}

// SetClaimStaleAfter overrides the heartbeat age past which a run claim
// held by another worker is considered abandoned.
func (s *Store) SetClaimStaleAfter(d time.Duration) {
	if d > 0 {
		s.claimStaleAfter = d
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (job_id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, job.JobID, job.UserID, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Store) TransitionToRunning(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query, domain.JobStatusRunning, jobID, domain.JobStatusUploaded).StructScan(&job)
	if err == nil {
		s.logger.Info("Job transitioned to RUNNING",
			slog.String("job_id", jobID),
		)
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition job to running: %w", err)
	}

	// CAS missed - report the precise reason to the caller.
	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == domain.JobStatusRunning {
		return nil, domain.ErrJobAlreadyRunning
	}
	return nil, domain.ErrJobTerminal
}

func (s *Store) ClaimRun(ctx context.Context, jobID, workerID string) error {
	// A claim whose heartbeat has gone stale belongs to a worker that died
	// mid-run; the redelivered start message may take it over.
	query := `
		UPDATE jobs
		SET worker_id = $1,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		  AND (worker_id IS NULL
		       OR worker_id = $1
		       OR last_heartbeat_at < NOW() - make_interval(secs => $4))
	`

	result, err := s.db.ExecContext(ctx, query, workerID, jobID, domain.JobStatusRunning, s.claimStaleAfter.Seconds())
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("Run claim rejected",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
		return domain.ErrRunAlreadyClaimed
	}
	return nil
}

func (s *Store) InitRun(ctx context.Context, jobID string, totalRecords int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET total_records = $1,
		    processed_records = 0,
		    valid_records = 0,
		    invalid_records = 0,
		    suspicious_records = 0,
		    updated_at = NOW()
		WHERE job_id = $2
	`, totalRecords, jobID)
	if err != nil {
		return fmt.Errorf("failed to init run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}

	// Drop anything left over from an interrupted run.
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear prior transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_chunks WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear prior chunk markers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit init run: %w", err)
	}
	return nil
}

func (s *Store) ApplyChunk(ctx context.Context, jobID string, chunkIndex int, txns []domain.Transaction, tally domain.ChunkTally) (*domain.Job, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The chunk marker is the idempotency key: when it already exists the
	// chunk was committed by a prior attempt and this call must change
	// nothing.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO job_chunks (job_id, chunk_index, applied_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (job_id, chunk_index) DO NOTHING
	`, jobID, chunkIndex)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record chunk marker: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		job, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, false, getErr
		}
		s.logger.Info("Chunk already applied, skipping",
			slog.String("job_id", jobID),
			slog.Int("chunk_index", chunkIndex),
		)
		return job, false, nil
	}

	if len(txns) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO transactions (
				job_id, transaction_id, user_id, amount,
				timestamp, is_valid, is_suspicious, error_message
			) VALUES (
				:job_id, :transaction_id, :user_id, :amount,
				:timestamp, :is_valid, :is_suspicious, :error_message
			)
		`, txns)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert chunk transactions: %w", err)
		}
	}

	var job domain.Job
	err = tx.QueryRowxContext(ctx, `
		UPDATE jobs
		SET processed_records = processed_records + $1,
		    valid_records = valid_records + $2,
		    invalid_records = invalid_records + $3,
		    suspicious_records = suspicious_records + $4,
		    updated_at = NOW()
		WHERE job_id = $5
		RETURNING `+jobColumns, tally.Processed, tally.Valid, tally.Invalid, tally.Suspicious, jobID).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, domain.ErrJobNotFound
		}
		return nil, false, fmt.Errorf("failed to update job counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return &job, true, nil
}

func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("Heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.finish(ctx, jobID, domain.JobStatusCompleted, "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	return s.finish(ctx, jobID, domain.JobStatusFailed, reason)
}

func (s *Store) finish(ctx context.Context, jobID, status, reason string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = NULLIF($2, ''),
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE job_id = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query, status, reason, jobID).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to finish job: %w", err)
	}

	s.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return &job, nil
}

func (s *Store) ListTransactions(ctx context.Context, jobID string, page, size int, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page parameters: page=%d size=%d", page, size)
	}

	query := `
		SELECT id, job_id, transaction_id, user_id, amount, timestamp,
		       is_valid, is_suspicious, COALESCE(error_message, '') AS error_message
		FROM transactions
		WHERE job_id = $1
	`
	args := []interface{}{jobID}
	argIdx := 2

	switch filter {
	case domain.FilterValid:
		query += " AND is_valid = TRUE"
	case domain.FilterInvalid:
		query += " AND is_valid = FALSE"
	case domain.FilterSuspicious:
		query += " AND is_suspicious = TRUE"
	}

	// id order is source-row order: chunks apply sequentially and rows
	// insert in file order within each chunk.
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, size, (page-1)*size)

	txns := []domain.Transaction{}
	if err := s.db.SelectContext(ctx, &txns, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (user_id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, user.UserID, user.Name, user.Email, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEmailTaken
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, name, email, created_at FROM users WHERE user_id = $1`

	var user domain.User
	err := s.db.GetContext(ctx, &user, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
