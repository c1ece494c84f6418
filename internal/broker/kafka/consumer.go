package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is what a Handler sees of a fetched record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Handler processes one message. Returning nil commits it.
type Handler func(ctx context.Context, msg Message) error

type Consumer struct {
	r     messageReader
	topic string
	log   *zap.Logger
}

// NewConsumer reads topic as part of groupID. Offsets are committed
// synchronously after each handled message, new groups start at the oldest
// offset so no command is skipped on first deploy.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		StartOffset:       kafka.FirstOffset,
		MaxWait:           500 * time.Millisecond,
		CommitInterval:    0,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{r: kafka.NewReader(cfg), topic: topic, log: zap.NewNop()}
}

func newConsumerWithReader(r messageReader, topic string) *Consumer {
	return &Consumer{r: r, topic: topic, log: zap.NewNop()}
}

func (c *Consumer) WithLogger(log *zap.Logger) *Consumer {
	if log != nil {
		c.log = log
	}
	return c
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Close() error {
	return errors.Wrap(c.r.Close(), "close reader")
}

// Consume hands every message to h and commits it only after h returns nil.
// A handler error stops consumption with the message left uncommitted, so
// it is redelivered after restart.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	for {
		km, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "fetch message from %s", c.topic)
		}
		msg := Message{
			Topic:     km.Topic,
			Partition: km.Partition,
			Offset:    km.Offset,
			Key:       km.Key,
			Value:     km.Value,
			Time:      km.Time,
		}
		if err := h(ctx, msg); err != nil {
			c.log.Warn("handler failed, message left uncommitted",
				zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset), zap.Error(err))
			return err
		}
		if err := c.r.CommitMessages(ctx, km); err != nil {
			return errors.Wrapf(err, "commit offset %d", km.Offset)
		}
		c.log.Debug("message committed",
			zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))
	}
}
