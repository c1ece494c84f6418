// Package tasks hands background work (order processing, shipment prep,
// follow-ups) to downstream workers through Kafka.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaQueue keys messages by reference id: every task of one order lands
// in the same partition in enqueue order.
type KafkaQueue struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaQueue(p Producer, topic string) *KafkaQueue {
	if topic == "" {
		topic = "order.tasks"
	}
	return &KafkaQueue{producer: p, topic: topic, now: func() time.Time { return time.Now().UTC() }}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, kind, referenceID string, priority int) error {
	if kind == "" || referenceID == "" {
		return errors.New("task kind and reference id are required")
	}
	b, err := json.Marshal(messages.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		ReferenceID: referenceID,
		Priority:    priority,
		CreatedAt:   q.now(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	return errors.Wrapf(q.producer.Publish(ctx, q.topic, []byte(referenceID), b), "publish task %s", kind)
}
