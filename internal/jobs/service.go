// Package jobs exposes the core surface the gateway consumes: create a
// job from an upload, start it, query its status, and page through its
// transactions.
package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/storage"
)

// Dispatcher hands an accepted job to whatever hosts its run: the broker
// in split deployments, the in-process scheduler otherwise.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// FileSaver stores an uploaded CSV addressed by job id.
type FileSaver interface {
	Save(jobID string, r io.Reader) (int64, error)
}

// Status is the read-side view of a job.
type Status struct {
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
	TotalRecords      int    `json:"total_records"`
	ProcessedRecords  int    `json:"processed_records"`
	ValidRecords      int    `json:"valid_records"`
	InvalidRecords    int    `json:"invalid_records"`
	SuspiciousRecords int    `json:"suspicious_records"`
	ProgressPercent   int    `json:"progress_percent"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// Service wires storage, the file store and the run dispatcher.
type Service struct {
	logger     *slog.Logger
	store      storage.Storage
	files      FileSaver
	dispatcher Dispatcher
}

// NewService creates the job service.
func NewService(logger *slog.Logger, store storage.Storage, files FileSaver, dispatcher Dispatcher) *Service {
	return &Service{
		logger:     logger,
		store:      store,
		files:      files,
		dispatcher: dispatcher,
	}
}

// CreateJob persists a new UPLOADED job owned by userID and stores the
// CSV under the job's id.
func (s *Service) CreateJob(ctx context.Context, userID string, csv io.Reader) (*domain.Job, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.Job{
		JobID:     uuid.New().String(),
		UserID:    userID,
		Status:    domain.JobStatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	written, err := s.files.Save(job.JobID, csv)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("user_id", userID),
		slog.Int64("upload_bytes", written),
	)
	return job, nil
}

// StartJob accepts a start request: the UPLOADED to RUNNING transition is
// a storage compare-and-set, so exactly one concurrent start wins. A job
// already RUNNING yields domain.ErrJobAlreadyRunning, a finished job
// domain.ErrJobTerminal, an unknown id domain.ErrJobNotFound.
func (s *Service) StartJob(ctx context.Context, jobID string) error {
	job, err := s.store.TransitionToRunning(ctx, jobID)
	if err != nil {
		return err
	}

	if err := s.dispatcher.Dispatch(ctx, jobID); err != nil {
		// The job would stay RUNNING forever with no run behind it.
		if _, failErr := s.store.MarkFailed(ctx, jobID, "failed to dispatch run"); failErr != nil {
			s.logger.Error("Failed to mark undispatchable job FAILED",
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}
		return fmt.Errorf("failed to dispatch job run: %w", err)
	}

	s.logger.Info("Job start accepted",
		slog.String("job_id", jobID),
		slog.String("user_id", job.UserID),
	)
	return nil
}

// GetStatus returns the latest durably committed counters.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Status{
		JobID:             job.JobID,
		Status:            job.Status,
		TotalRecords:      job.TotalRecords,
		ProcessedRecords:  job.ProcessedRecords,
		ValidRecords:      job.ValidRecords,
		InvalidRecords:    job.InvalidRecords,
		SuspiciousRecords: job.SuspiciousRecords,
		ProgressPercent:   job.PercentComplete(),
		ErrorMessage:      job.ErrorMessage,
	}, nil
}

// ListTransactions pages through a job's rows in source order. Pages are
// 1-based; filter narrows to valid, invalid or suspicious rows.
func (s *Service) ListTransactions(ctx context.Context, jobID string, page, size int, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	switch filter {
	case domain.FilterNone, domain.FilterValid, domain.FilterInvalid, domain.FilterSuspicious:
	default:
		return nil, fmt.Errorf("unknown transaction filter %q", filter)
	}

	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, jobID, page, size, filter)
}

// RegisterUser creates a user with a unique email.
func (s *Service) RegisterUser(ctx context.Context, name, email string) (*domain.User, error) {
	user := &domain.User{
		UserID:    uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		slog.String("user_id", user.UserID),
	)
	return user, nil
}
