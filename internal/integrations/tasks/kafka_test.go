package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/stretchr/testify/require"
)

type captureProducer struct {
	topic      string
	key, value []byte
	err        error
}

func (p *captureProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaQueue_Enqueue(t *testing.T) {
	p := &captureProducer{}
	q := NewKafkaQueue(p, "")
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return at }

	require.NoError(t, q.Enqueue(context.Background(), "prepare_shipment", "o1", 2))
	require.Equal(t, "order.tasks", p.topic)
	require.Equal(t, "o1", string(p.key))

	var task messages.Task
	require.NoError(t, json.Unmarshal(p.value, &task))
	require.Equal(t, "prepare_shipment", task.Kind)
	require.Equal(t, 2, task.Priority)
	require.Equal(t, at, task.CreatedAt)
}

func TestKafkaQueue_Errors(t *testing.T) {
	q := NewKafkaQueue(&captureProducer{err: errors.New("no leader")}, "t")
	require.ErrorContains(t, q.Enqueue(context.Background(), "follow_up", "o1", 0), "no leader")
	require.Error(t, q.Enqueue(context.Background(), "", "o1", 0))
}
