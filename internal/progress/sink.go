package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/shared/rabbitmq"
)

// Sink is the outward progress-delivery call the chunk pipeline makes.
// Delivery is fire-and-forget with respect to chunk completion: callers
// log and swallow errors, never fail the chunk on them.
type Sink interface {
	Publish(ctx context.Context, event domain.ProgressEvent) error
}

// LocalSink delivers events straight to a fan-out manager in the same
// process. Used when gateway and worker share a binary, and in tests.
type LocalSink struct {
	manager *Manager
}

// NewLocalSink creates a sink bound to a manager.
func NewLocalSink(manager *Manager) *LocalSink {
	return &LocalSink{manager: manager}
}

func (s *LocalSink) Publish(ctx context.Context, event domain.ProgressEvent) error {
	return s.manager.Publish(event.UserID, event)
}

// AMQPSink publishes serialized events to the progress exchange, from
// which the gateway's relay feeds its own fan-out manager. This is the
// split-process transport.
type AMQPSink struct {
	client *rabbitmq.Client
}

// NewAMQPSink creates a sink on an established progress-exchange client.
func NewAMQPSink(client *rabbitmq.Client) *AMQPSink {
	return &AMQPSink{client: client}
}

func (s *AMQPSink) Publish(ctx context.Context, event domain.ProgressEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := s.client.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}
