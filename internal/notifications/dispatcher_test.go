package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

type fakeResult struct {
	id  string
	err error
}

func (r *fakeResult) Get(context.Context) (string, error) {
	return r.id, r.err
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	result   *fakeResult
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	if p.result == nil {
		return &fakeResult{id: "msg-1"}
	}
	return p.result
}

func newTestDispatcher(pub publisher, clk clock.Clock) *PubSubDispatcher {
	return &PubSubDispatcher{
		pub:   pub,
		clock: clk,
		logg:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func TestEnqueueWrapsPayloadInEnvelope(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dispatcher := newTestDispatcher(pub, clock.NewFake(now))

	payload := map[string]string{"order_id": "abc"}
	if err := dispatcher.Enqueue(context.Background(), "order_confirmed", payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["task"] != "order_confirmed" {
		t.Fatalf("unexpected task attribute: %q", msg.Attributes["task"])
	}

	var envelope TaskEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Task != "order_confirmed" {
		t.Fatalf("unexpected task: %q", envelope.Task)
	}
	if !envelope.EnqueuedAt.Equal(now) {
		t.Fatalf("unexpected enqueue time: %v", envelope.EnqueuedAt)
	}
	var decoded map[string]string
	if err := json.Unmarshal(envelope.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["order_id"] != "abc" {
		t.Fatalf("payload lost: %+v", decoded)
	}
}

func TestEnqueueRequiresTaskName(t *testing.T) {
	t.Parallel()

	dispatcher := newTestDispatcher(&fakePublisher{}, clock.Real{})
	if err := dispatcher.Enqueue(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty task name")
	}
}

func TestEnqueueSurfacesPublishFailure(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{result: &fakeResult{err: errors.New("broker unavailable")}}
	dispatcher := newTestDispatcher(pub, clock.Real{})
	if err := dispatcher.Enqueue(context.Background(), "order_confirmed", nil); err == nil {
		t.Fatal("expected publish error to surface")
	}
}
