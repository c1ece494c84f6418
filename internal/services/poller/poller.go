// Package poller claims due shipments, asks the carrier for news and
// publishes the result to Kafka. The order core consumes it.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

const publishAttempts = 10

type Poller struct {
	repo     Repository
	carrier  carrier.Client
	producer Producer
	rl       RateLimiter
	log      *zap.Logger

	topic   string
	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	// лимиты по конкретным перевозчикам, ключ в верхнем регистре
	carrierLimits map[string]int64

	triggerCh chan struct{}
	now       func() time.Time

	startedAt           time.Time
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, c carrier.Client, producer Producer, rl RateLimiter, topic string) *Poller {
	now := func() time.Time { return time.Now().UTC() }
	return &Poller{
		repo:               repo,
		carrier:            c,
		producer:           producer,
		rl:                 rl,
		log:                zap.NewNop(),
		topic:              topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		carrierLimits:      map[string]int64{},
		triggerCh:          make(chan struct{}, 1),
		now:                now,
		startedAt:          now(),
	}
}

func (p *Poller) WithLogger(log *zap.Logger) *Poller {
	if log != nil {
		p.log = log
	}
	return p
}

// Settings tunes one worker replica. Zero fields keep the defaults.
type Settings struct {
	PollInterval       time.Duration
	BatchSize          int
	Concurrency        int
	Lease              time.Duration
	RateLimitPerMinute int64
	// CarrierRateLimits overrides RateLimitPerMinute per carrier code.
	CarrierRateLimits map[string]int
}

func (p *Poller) WithSettings(s Settings) *Poller {
	if s.PollInterval > 0 {
		p.pollInterval = s.PollInterval
	}
	if s.BatchSize > 0 {
		p.batchSize = s.BatchSize
	}
	if s.Concurrency > 0 {
		p.concurrency = s.Concurrency
	}
	if s.Lease > 0 {
		p.lease = s.Lease
	}
	if s.RateLimitPerMinute > 0 {
		p.rateLimitPerMinute = s.RateLimitPerMinute
	}
	for code, n := range s.CarrierRateLimits {
		if n > 0 {
			p.carrierLimits[strings.ToUpper(code)] = int64(n)
		}
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(p.now().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      p.startedAt,
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.now()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ClaimDueShipments(ctx, now, p.batchSize, p.lease)
	if err != nil {
		p.log.Error("claim due shipments", zap.Error(err))
		p.setLastError(err)
		return
	}
	p.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, sh := range items {
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(sh *models.Shipment) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, sh); err != nil {
				p.totalErrors.Add(1)
				p.setLastError(err)
				p.log.Error("process shipment", zap.String("shipment_id", sh.ID), zap.Error(err))
			}
			p.totalProcessed.Add(1)
		}(sh)
	}
	wg.Wait()
}

func (p *Poller) limitFor(carrierCode string) int64 {
	if n, ok := p.carrierLimits[strings.ToUpper(carrierCode)]; ok {
		return n
	}
	return p.rateLimitPerMinute
}

// throttle enforces the per-carrier per-minute budget. Over the limit we
// back off a little and still poll: the shipment is already leased.
func (p *Poller) throttle(ctx context.Context, sh *models.Shipment, now time.Time) error {
	if p.rl == nil || p.rateLimitPerMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("rl:carrier:%s:%s", sh.Carrier, now.Format("200601021504"))
	allowed, n, err := p.rl.Allow(ctx, key, p.limitFor(sh.Carrier), 70*time.Second)
	if err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	if allowed {
		return nil
	}
	p.log.Warn("carrier rate limit exceeded", zap.String("carrier", sh.Carrier), zap.Int64("count", n))
	return sleep(ctx, 500*time.Millisecond)
}

func (p *Poller) processOne(ctx context.Context, sh *models.Shipment) error {
	now := p.now()
	if err := p.throttle(ctx, sh, now); err != nil {
		return err
	}

	res, err := p.carrier.GetTracking(ctx, sh.Carrier, sh.TrackingNumber)
	msg := messages.TrackingUpdated{ShipmentID: sh.ID, CheckedAt: now}
	if err != nil {
		e := err.Error()
		msg.Error = &e
		msg.NextCheckAt = now.Add(p.planner.BackoffDelay(sh.CheckFailCount + 1))
	} else {
		msg.Status = res.Status
		msg.StatusRaw = res.StatusRaw
		msg.StatusAt = res.StatusAt
		msg.NextCheckAt = now.Add(p.planner.NextCheckDelay(res.Status))
		for _, e := range res.Events {
			msg.Events = append(msg.Events, messages.TrackingEvent{
				Status:      e.Status,
				StatusRaw:   e.StatusRaw,
				EventTime:   e.EventTime,
				Location:    e.Location,
				Description: e.Description,
				Payload:     e.Payload,
			})
		}
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	// Kafka может подняться позже воркера, поэтому несколько попыток.
	var pubErr error
	for i := 0; i < publishAttempts; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, []byte(sh.ID), b); pubErr == nil {
			return nil
		}
		if err := sleep(ctx, time.Duration(150*(i+1))*time.Millisecond); err != nil {
			return err
		}
	}
	return errors.Wrap(pubErr, "publish tracking update")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
