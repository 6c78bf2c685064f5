// Package relay feeds the gateway's fan-out manager from the progress
// exchange. The worker publishes events there because the WebSocket
// connections live in this process, not in the worker's.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/progress"
	"github.com/ndquangr/txingest/shared/rabbitmq"
)

// Relay consumes serialized progress events and republishes them to the
// local fan-out manager.
type Relay struct {
	logger *slog.Logger
	client *rabbitmq.Client
	fanout *progress.Manager
}

// New creates a relay on an established progress-exchange client whose
// queue is typically server-named and exclusive.
func New(logger *slog.Logger, client *rabbitmq.Client, fanout *progress.Manager) *Relay {
	return &Relay{
		logger: logger,
		client: client,
		fanout: fanout,
	}
}

// Run consumes until the context is canceled or the broker closes the
// delivery channel. Delivery to subscribers is at-least-once; clients
// render events idempotently.
func (r *Relay) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := r.client.Consume(consumerTag, 0)
	if err != nil {
		return err
	}

	r.logger.Info("Progress relay started",
		slog.String("queue", r.client.QueueName()),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Progress relay stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("Progress delivery channel closed")
				return nil
			}
			r.handle(delivery)
		}
	}
}

func (r *Relay) handle(delivery amqp.Delivery) {
	var event domain.ProgressEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		r.logger.Error("Failed to parse progress event",
			slog.String("error", err.Error()),
		)
		// Malformed events are dropped, not requeued.
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			r.logger.Error("Failed to NACK malformed progress event",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if err := r.fanout.Publish(event.UserID, event); err != nil {
		r.logger.Warn("Failed to fan out progress event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}

	if err := delivery.Ack(false); err != nil {
		r.logger.Error("Failed to ACK progress event",
			slog.String("error", err.Error()),
		)
	}
}
