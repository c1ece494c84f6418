// Package notify delivers customer and operator notifications. Gateways
// are interchangeable; order-core picks one by config.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaGateway publishes messages.Notification keyed by recipient, so one
// recipient's notifications stay ordered within a partition.
type KafkaGateway struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaGateway(p Producer, topic string) *KafkaGateway {
	if topic == "" {
		topic = "order.notifications"
	}
	return &KafkaGateway{producer: p, topic: topic, now: nowUTC}
}

func (g *KafkaGateway) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	b, err := encode(recipientID, kind, payload, g.now())
	if err != nil {
		return err
	}
	return errors.Wrap(g.producer.Publish(ctx, g.topic, []byte(recipientID), b), "publish notification")
}

// LogGateway only writes the notification to the log. Used in dev and when
// no transport is configured.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogGateway{log: log}
}

func (g *LogGateway) Notify(_ context.Context, recipientID, kind string, payload map[string]any) error {
	g.log.Info("notification",
		zap.String("recipient_id", recipientID),
		zap.String("kind", kind),
		zap.Any("payload", payload),
	)
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func encode(recipientID, kind string, payload map[string]any, at time.Time) ([]byte, error) {
	b, err := json.Marshal(messages.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   at,
	})
	return b, errors.Wrap(err, "marshal notification")
}
