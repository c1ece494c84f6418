package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu     sync.Mutex
	topic  string
	key    []byte
	value  []byte
	calls  int
	failN  int
	failed error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failN {
		return p.failed
	}
	p.topic, p.key, p.value = topic, key, value
	return nil
}

type fakeRL struct {
	allowed bool
	lastKey string
	lastLim int64
	err     error
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.lastKey, r.lastLim = key, limit
	return r.allowed, limit + 1, r.err
}

type fakeCarrier struct {
	res carrier.Result
	err error
}

func (c fakeCarrier) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.Result, error) {
	return c.res, c.err
}

func fixedNow(p *Poller, at time.Time) {
	p.now = func() time.Time { return at }
}

func decode(t *testing.T, b []byte) messages.TrackingUpdated {
	t.Helper()
	var msg messages.TrackingUpdated
	require.NoError(t, json.Unmarshal(b, &msg))
	return msg
}

func TestPoller_processOne_PublishesEvents(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	fp := &fakeProducer{}
	p := New(nil, fakeCarrier{res: carrier.Result{
		Status:    models.ShipmentStatusOutForDelivery,
		StatusRaw: "With courier",
		StatusAt:  &now,
		Events: []carrier.Event{
			{Status: models.ShipmentStatusOutForDelivery, StatusRaw: "With courier", EventTime: now, Location: "Berlin"},
		},
	}}, fp, &fakeRL{allowed: true}, "shipment.tracking.updated")
	fixedNow(p, now)

	sh := &models.Shipment{ID: "s-42", Carrier: "DHL", TrackingNumber: "JD1"}
	require.NoError(t, p.processOne(context.Background(), sh))
	require.Equal(t, 1, fp.calls)
	require.Equal(t, "shipment.tracking.updated", fp.topic)
	require.Equal(t, "s-42", string(fp.key))

	msg := decode(t, fp.value)
	require.Equal(t, "s-42", msg.ShipmentID)
	require.Nil(t, msg.Error)
	require.Len(t, msg.Events, 1)
	require.Equal(t, "Berlin", msg.Events[0].Location)
	require.Equal(t, now.Add(15*time.Minute), msg.NextCheckAt)
}

func TestPoller_processOne_CarrierErrorBacksOff(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	fp := &fakeProducer{}
	p := New(nil, fakeCarrier{err: errors.New("boom")}, fp, nil, "t")
	fixedNow(p, now)

	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: "s1", CheckFailCount: 2}))
	msg := decode(t, fp.value)
	require.NotNil(t, msg.Error)
	require.Equal(t, "boom", *msg.Error)
	// третья неудача подряд
	require.Equal(t, now.Add(30*time.Minute), msg.NextCheckAt)
}

func TestPoller_processOne_CarrierLimitOverride(t *testing.T) {
	rl := &fakeRL{allowed: true}
	p := New(nil, fakeCarrier{}, &fakeProducer{}, rl, "t").
		WithSettings(Settings{CarrierRateLimits: map[string]int{"cdek": 30, "dhl": 0}})

	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: "s1", Carrier: "CDEK"}))
	require.Equal(t, int64(30), rl.lastLim)
	require.Contains(t, rl.lastKey, "rl:carrier:CDEK:")

	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: "s2", Carrier: "DHL"}))
	require.Equal(t, int64(120), rl.lastLim)
}

func TestPoller_processOne_OverLimitStillPolls(t *testing.T) {
	fp := &fakeProducer{}
	p := New(nil, fakeCarrier{}, fp, &fakeRL{allowed: false}, "t")
	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: "s1", Carrier: "DHL"}))
	require.Equal(t, 1, fp.calls)
}

func TestPoller_processOne_RateLimiterError(t *testing.T) {
	fp := &fakeProducer{}
	p := New(nil, fakeCarrier{}, fp, &fakeRL{err: errors.New("redis down")}, "t")
	require.Error(t, p.processOne(context.Background(), &models.Shipment{ID: "s1"}))
	require.Zero(t, fp.calls)
}

func TestPoller_processOne_RetriesPublish(t *testing.T) {
	fp := &fakeProducer{failN: 2, failed: errors.New("leader not available")}
	p := New(nil, fakeCarrier{}, fp, nil, "t")
	require.NoError(t, p.processOne(context.Background(), &models.Shipment{ID: "s1"}))
	require.Equal(t, 3, fp.calls)
}

func TestPoller_processOne_PublishGivesUpOnCancel(t *testing.T) {
	fp := &fakeProducer{failN: 100, failed: errors.New("no kafka")}
	p := New(nil, fakeCarrier{}, fp, nil, "t")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.processOne(ctx, &models.Shipment{ID: "s1"}), context.DeadlineExceeded)
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, fakeCarrier{}, &fakeProducer{}, nil, "t").
		WithSettings(Settings{PollInterval: 5 * time.Second, BatchSize: 7, Concurrency: 9, Lease: 11 * time.Second, RateLimitPerMinute: 13})
	require.Equal(t, 5*time.Second, p.pollInterval)
	require.Equal(t, 7, p.batchSize)
	require.Equal(t, 9, p.concurrency)
	require.Equal(t, 11*time.Second, p.lease)
	require.Equal(t, int64(13), p.rateLimitPerMinute)

	p.WithSettings(Settings{})
	require.Equal(t, 7, p.batchSize)
}
