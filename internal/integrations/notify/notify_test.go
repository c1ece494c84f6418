package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
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

type capturePublisher struct {
	in  *sns.PublishInput
	err error
}

func (p *capturePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	p.in = in
	if p.err != nil {
		return nil, p.err
	}
	return &sns.PublishOutput{}, nil
}

func TestKafkaGateway_Notify(t *testing.T) {
	p := &captureProducer{}
	g := NewKafkaGateway(p, "")
	require.NoError(t, g.Notify(context.Background(), "cust-1", "order_shipped", map[string]any{"order_id": "o1"}))

	require.Equal(t, "order.notifications", p.topic)
	require.Equal(t, "cust-1", string(p.key))
	var n messages.Notification
	require.NoError(t, json.Unmarshal(p.value, &n))
	require.Equal(t, "order_shipped", n.Kind)
	require.Equal(t, "o1", n.Payload["order_id"])
	require.NotEmpty(t, n.ID)
}

func TestKafkaGateway_NotifyError(t *testing.T) {
	g := NewKafkaGateway(&captureProducer{err: errors.New("kafka down")}, "n")
	err := g.Notify(context.Background(), "c", "k", nil)
	require.ErrorContains(t, err, "kafka down")
}

func TestSNSGateway_Notify(t *testing.T) {
	pub := &capturePublisher{}
	g := NewSNSGateway(pub, "arn:aws:sns:eu-west-2:000000000000:order-events")
	require.NoError(t, g.Notify(context.Background(), "inventory-managers", "stock_alert", map[string]any{"sku": "A-1"}))

	require.Equal(t, "arn:aws:sns:eu-west-2:000000000000:order-events", *pub.in.TopicArn)
	require.Equal(t, "stock_alert", *pub.in.MessageAttributes["kind"].StringValue)
	require.Equal(t, "inventory-managers", *pub.in.MessageAttributes["recipient_id"].StringValue)
	var n messages.Notification
	require.NoError(t, json.Unmarshal([]byte(*pub.in.Message), &n))
	require.Equal(t, "A-1", n.Payload["sku"])
}

func TestSNSGateway_Errors(t *testing.T) {
	require.Error(t, NewSNSGateway(&capturePublisher{}, "").Notify(context.Background(), "c", "k", nil))

	g := NewSNSGateway(&capturePublisher{err: errors.New("throttled")}, "arn")
	require.ErrorContains(t, g.Notify(context.Background(), "c", "k", nil), "throttled")
}

func TestLogGateway_Notify(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := NewLogGateway(zap.New(core))
	require.NoError(t, g.Notify(context.Background(), "c1", "order_cancelled", map[string]any{"order_id": "o9"}))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "notification", entry.Message)
	require.Equal(t, "order_cancelled", entry.ContextMap()["kind"])
}
