package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// scriptedReader отдаёт заданные сообщения, потом fetchErr.
type scriptedReader struct {
	queue     []kafka.Message
	fetchErr  error
	commitErr error
	committed []int64
	closed    bool
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.queue) == 0 {
		return kafka.Message{}, r.fetchErr
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func commands(offsets ...int64) []kafka.Message {
	out := make([]kafka.Message, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, kafka.Message{Topic: "order.transition.requested", Partition: 2, Offset: o, Key: []byte("o1"), Value: []byte(`{}`)})
	}
	return out
}

func TestConsumer_CommitsEachHandledMessage(t *testing.T) {
	r := &scriptedReader{queue: commands(10, 11, 12), fetchErr: errors.New("broker gone")}
	c := newConsumerWithReader(r, "order.transition.requested")

	var seen []Message
	err := c.Consume(context.Background(), func(ctx context.Context, msg Message) error {
		seen = append(seen, msg)
		return nil
	})
	require.ErrorContains(t, err, "fetch message from order.transition.requested")
	require.Len(t, seen, 3)
	require.Equal(t, 2, seen[0].Partition)
	require.Equal(t, []byte("o1"), seen[1].Key)
	require.Equal(t, []int64{10, 11, 12}, r.committed)
}

func TestConsumer_HandlerErrorLeavesOffset(t *testing.T) {
	r := &scriptedReader{queue: commands(5, 6)}
	c := newConsumerWithReader(r, "t")

	want := errors.New("compensation failed")
	err := c.Consume(context.Background(), func(ctx context.Context, msg Message) error {
		if msg.Offset == 6 {
			return want
		}
		return nil
	})
	require.ErrorIs(t, err, want)
	require.Equal(t, []int64{5}, r.committed)
}

func TestConsumer_CanceledContext(t *testing.T) {
	r := &scriptedReader{}
	c := newConsumerWithReader(r, "t")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Consume(ctx, func(ctx context.Context, msg Message) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_CommitError(t *testing.T) {
	r := &scriptedReader{queue: commands(7), commitErr: errors.New("rebalance")}
	c := newConsumerWithReader(r, "t")

	err := c.Consume(context.Background(), func(ctx context.Context, msg Message) error { return nil })
	require.ErrorContains(t, err, "commit offset 7")
}

func TestNewConsumer_TopicAndClose(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "shipment.tracking.updated", "order-core")
	require.Equal(t, "shipment.tracking.updated", c.Topic())
	require.NoError(t, c.Close())

	r := &scriptedReader{}
	require.NoError(t, newConsumerWithReader(r, "t").Close())
	require.True(t, r.closed)
}
