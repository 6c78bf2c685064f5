// Package worker hosts orchestration runs dispatched over the jobs
// queue. Each start message drives one job through the orchestrator;
// manual acks plus the storage-level run claim keep redelivery safe.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/orchestrator"
	"github.com/ndquangr/txingest/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Runner        *orchestrator.Runner
	Concurrency   int
	PrefetchCount int
	WorkerID      string
}

// Worker consumes start messages and runs jobs concurrently. Jobs are
// independent pipelines; concurrency here never parallelizes chunks
// within one job.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	runner        *orchestrator.Runner
	concurrency   int
	prefetchCount int
	workerID      string

	jobsChan chan amqp.Delivery
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()
	}
	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		runner:        cfg.Runner,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      workerID,
		jobsChan:      make(chan amqp.Delivery),
		stopChan:      make(chan struct{}),
	}
}

// WorkerID returns this worker's run-claim identity.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start consumes the jobs queue and blocks until the context is canceled
// or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.rabbitClient.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Jobs delivery channel closed")
				return nil
			}
			select {
			case w.jobsChan <- delivery:
			case <-ctx.Done():
				// Requeue so another worker picks it up.
				if err := delivery.Nack(false, true); err != nil {
					w.logger.Error("Failed to NACK on shutdown",
						slog.String("error", err.Error()),
					)
				}
				return nil
			}
		}
	}
}

// Stop waits for in-flight runs to finish.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// workerLoop is the processing loop of one pool goroutine.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	name := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case delivery := <-w.jobsChan:
			w.handleDelivery(ctx, name, delivery)
		}
	}
}

// handleDelivery parses one start message, runs the job and settles the
// delivery.
func (w *Worker) handleDelivery(ctx context.Context, name string, delivery amqp.Delivery) {
	var msg domain.StartMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse start message",
			slog.String("worker_name", name),
			slog.String("body", string(delivery.Body)),
			slog.String("error", err.Error()),
		)
		w.nack(delivery, false)
		return
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id in start message",
			slog.String("worker_name", name),
			slog.String("job_id", msg.JobID),
		)
		w.nack(delivery, false)
		return
	}

	w.logger.Info("Processing job",
		slog.String("worker_name", name),
		slog.String("job_id", msg.JobID),
	)

	err := w.runner.Run(ctx, msg.JobID)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK start message",
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	w.logger.Error("Job run failed",
		slog.String("worker_name", name),
		slog.String("job_id", msg.JobID),
		slog.String("error", err.Error()),
	)

	requeue := w.shouldRequeue(err)
	if requeue && errors.Is(err, domain.ErrRunAlreadyClaimed) {
		// Hold the redelivery briefly; the claim holder is either still
		// working or its heartbeat is about to go stale.
		select {
		case <-time.After(claimRetryDelay):
		case <-w.stopChan:
		case <-ctx.Done():
		}
	}
	w.nack(delivery, requeue)
}

// claimRetryDelay paces redeliveries of a job whose run claim is held
// elsewhere, so they do not spin against the broker.
const claimRetryDelay = 5 * time.Second

// shouldRequeue decides whether a failed run goes back on the queue.
func (w *Worker) shouldRequeue(err error) bool {
	// The claim holder may have died mid-run. Requeue so the job comes
	// back around and is taken over once the claim's heartbeat is stale.
	if errors.Is(err, domain.ErrRunAlreadyClaimed) {
		return true
	}
	// An unknown job can never succeed.
	if errors.Is(err, domain.ErrJobNotFound) {
		return false
	}
	// The orchestrator already marked the job FAILED after exhausting its
	// retry budget; only explicitly transient errors go around again.
	return domain.IsRetryable(err)
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
	}
}
