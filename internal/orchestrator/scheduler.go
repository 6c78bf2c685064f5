package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ndquangr/txingest/internal/domain"
)

// Scheduler runs orchestrations on background goroutines inside the
// current process. It is the fallback when no broker-dispatched worker
// hosts the runs: same sequence, same single-active-run guard, but no
// crash recovery.
type Scheduler struct {
	logger *slog.Logger
	runner *Runner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

// NewScheduler creates a scheduler; Stop cancels in-flight runs.
func NewScheduler(logger *slog.Logger, runner *Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// Dispatch starts the job's run on a background goroutine. A job whose
// run is already in flight is rejected, never silently restarted.
func (s *Scheduler) Dispatch(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if _, running := s.active[jobID]; running {
		s.mu.Unlock()
		return fmt.Errorf("dispatch rejected: %w", domain.ErrJobAlreadyRunning)
	}
	s.active[jobID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, jobID)
			s.mu.Unlock()
		}()

		if err := s.runner.Run(s.ctx, jobID); err != nil {
			s.logger.Error("Background run failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Stop cancels in-flight runs and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
