package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/shared/rabbitmq"
)

// AMQPDispatcher publishes start messages to the jobs queue consumed by
// the worker service. Redelivery gives at-least-once run execution; the
// chunk idempotency unit makes that safe.
type AMQPDispatcher struct {
	client *rabbitmq.Client
}

// NewAMQPDispatcher creates a dispatcher on an established jobs-queue
// client.
func NewAMQPDispatcher(client *rabbitmq.Client) *AMQPDispatcher {
	return &AMQPDispatcher{client: client}
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.StartMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal start message: %w", err)
	}
	if err := d.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish start message: %w", err)
	}
	return nil
}
