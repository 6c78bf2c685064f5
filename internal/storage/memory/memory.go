// Package memory is an in-memory Storage implementation. It backs tests
// and single-process deployments; data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/storage"
)

type chunkKey struct {
	jobID      string
	chunkIndex int
}

// Store keeps jobs, transactions and chunk markers behind one mutex.
// Transactions are held in insertion order, which is source-row order
// because chunks apply sequentially per job.
type Store struct {
	mu              sync.Mutex
	jobs            map[string]*domain.Job
	users           map[string]*domain.User
	emails          map[string]string
	transactions    []domain.Transaction
	chunks          map[chunkKey]struct{}
	nextTxID        int64
	heartbeats      map[string]time.Time
	claimStaleAfter time.Duration
}

// DefaultClaimStaleAfter is the heartbeat age past which a run claim held
// by another worker is treated as abandoned.
const DefaultClaimStaleAfter = 5 * time.Minute

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:            make(map[string]*domain.Job),
		users:           make(map[string]*domain.User),
		emails:          make(map[string]string),
		chunks:          make(map[chunkKey]struct{}),
		heartbeats:      make(map[string]time.Time),
		nextTxID:        1,
		claimStaleAfter: DefaultClaimStaleAfter,
	}
}

// SetClaimStaleAfter overrides the stale-claim takeover threshold.
func (s *Store) SetClaimStaleAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.claimStaleAfter = d
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	jobCopy := *job
	return &jobCopy, nil
}

func (s *Store) TransitionToRunning(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	switch job.Status {
	case domain.JobStatusRunning:
		return nil, domain.ErrJobAlreadyRunning
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return nil, domain.ErrJobTerminal
	}

	job.Status = domain.JobStatusRunning
	job.WorkerID = ""
	job.UpdatedAt = time.Now()
	jobCopy := *job
	return &jobCopy, nil
}

func (s *Store) ClaimRun(ctx context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusRunning {
		return domain.ErrRunAlreadyClaimed
	}
	if job.WorkerID != "" && job.WorkerID != workerID {
		// Another worker holds the claim. It may only be taken over once
		// its heartbeat has gone stale, which means the holder died mid-run.
		last, beating := s.heartbeats[jobID]
		if beating && time.Since(last) < s.claimStaleAfter {
			return domain.ErrRunAlreadyClaimed
		}
	}
	job.WorkerID = workerID
	s.heartbeats[jobID] = time.Now()
	return nil
}

func (s *Store) InitRun(ctx context.Context, jobID string, totalRecords int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}

	job.TotalRecords = totalRecords
	job.ProcessedRecords = 0
	job.ValidRecords = 0
	job.InvalidRecords = 0
	job.SuspiciousRecords = 0
	job.UpdatedAt = time.Now()

	// Drop anything a prior interrupted run left behind.
	kept := s.transactions[:0]
	for _, tx := range s.transactions {
		if tx.JobID != jobID {
			kept = append(kept, tx)
		}
	}
	s.transactions = kept
	for key := range s.chunks {
		if key.jobID == jobID {
			delete(s.chunks, key)
		}
	}
	return nil
}

func (s *Store) ApplyChunk(ctx context.Context, jobID string, chunkIndex int, txns []domain.Transaction, tally domain.ChunkTally) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false, domain.ErrJobNotFound
	}

	key := chunkKey{jobID: jobID, chunkIndex: chunkIndex}
	if _, applied := s.chunks[key]; applied {
		jobCopy := *job
		return &jobCopy, false, nil
	}

	for _, tx := range txns {
		tx.ID = s.nextTxID
		s.nextTxID++
		s.transactions = append(s.transactions, tx)
	}

	job.ProcessedRecords += tally.Processed
	job.ValidRecords += tally.Valid
	job.InvalidRecords += tally.Invalid
	job.SuspiciousRecords += tally.Suspicious
	job.UpdatedAt = time.Now()
	s.chunks[key] = struct{}{}

	jobCopy := *job
	return &jobCopy, true, nil
}

func (s *Store) Heartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	s.heartbeats[jobID] = time.Now()
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.finish(jobID, domain.JobStatusCompleted, "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	return s.finish(jobID, domain.JobStatusFailed, reason)
}

func (s *Store) finish(jobID, status, reason string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job.Status = status
	job.ErrorMessage = reason
	job.WorkerID = ""
	job.UpdatedAt = time.Now()
	jobCopy := *job
	return &jobCopy, nil
}

func (s *Store) ListTransactions(ctx context.Context, jobID string, page, size int, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page parameters: page=%d size=%d", page, size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Transaction
	for _, tx := range s.transactions {
		if tx.JobID != jobID {
			continue
		}
		if !matchesFilter(tx, filter) {
			continue
		}
		matched = append(matched, tx)
	}

	start := (page - 1) * size
	if start >= len(matched) {
		return []domain.Transaction{}, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	result := make([]domain.Transaction, end-start)
	copy(result, matched[start:end])
	return result, nil
}

func matchesFilter(tx domain.Transaction, filter domain.TransactionFilter) bool {
	switch filter {
	case domain.FilterValid:
		return tx.IsValid
	case domain.FilterInvalid:
		return !tx.IsValid
	case domain.FilterSuspicious:
		return tx.IsSuspicious
	default:
		return true
	}
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.emails[user.Email]; taken {
		return domain.ErrEmailTaken
	}
	userCopy := *user
	s.users[user.UserID] = &userCopy
	s.emails[user.Email] = user.UserID
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}
