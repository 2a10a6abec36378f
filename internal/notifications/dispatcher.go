package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

// Dispatcher enqueues background notification tasks. Delivery mechanics
// (email, SMS, webhooks) live in downstream consumers.
type Dispatcher interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// TaskEnvelope is the wire shape of a queued notification task.
type TaskEnvelope struct {
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// PubSubDispatcher publishes task envelopes to the notification topic.
type PubSubDispatcher struct {
	pub   publisher
	clock clock.Clock
	logg  *logger.Logger
}

// NewPubSubDispatcher wraps a Pub/Sub publisher handle as a task dispatcher.
func NewPubSubDispatcher(pub *gcppubsub.Publisher, clk clock.Clock, logg *logger.Logger) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &PubSubDispatcher{
		pub:   &gcpPublisher{Publisher: pub},
		clock: clk,
		logg:  logg,
	}, nil
}

func (d *PubSubDispatcher) Enqueue(ctx context.Context, task string, payload any) error {
	if task == "" {
		return errors.New("task name required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}
	envelope := TaskEnvelope{
		Task:       task,
		Payload:    body,
		EnqueuedAt: d.clock.Now(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode task envelope: %w", err)
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"task":        task,
			"enqueued_at": envelope.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := d.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	id, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish task %s: %w", task, err)
	}

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"task":       task,
		"message_id": id,
	})
	d.logg.Info(logCtx, "notification task enqueued")
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
