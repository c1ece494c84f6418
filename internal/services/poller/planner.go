package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig holds the delays between carrier polls. Zero fields fall
// back to DefaultPlannerConfig.
type PlannerConfig struct {
	InTransitMinDelay time.Duration
	InTransitMaxDelay time.Duration

	// OutForDeliveryDelay is short: the parcel usually lands the same day.
	OutForDeliveryDelay time.Duration
	ExceptionDelay      time.Duration
	UnknownDelay        time.Duration

	Backoff1 time.Duration
	Backoff2 time.Duration
	Backoff3 time.Duration
	Backoff4 time.Duration
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		InTransitMinDelay:   30 * time.Minute,
		InTransitMaxDelay:   120 * time.Minute,
		OutForDeliveryDelay: 15 * time.Minute,
		ExceptionDelay:      60 * time.Minute,
		UnknownDelay:        90 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	orDefault := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	orDefault(&cfg.InTransitMinDelay, def.InTransitMinDelay)
	orDefault(&cfg.InTransitMaxDelay, def.InTransitMaxDelay)
	orDefault(&cfg.OutForDeliveryDelay, def.OutForDeliveryDelay)
	orDefault(&cfg.ExceptionDelay, def.ExceptionDelay)
	orDefault(&cfg.UnknownDelay, def.UnknownDelay)
	orDefault(&cfg.Backoff1, def.Backoff1)
	orDefault(&cfg.Backoff2, def.Backoff2)
	orDefault(&cfg.Backoff3, def.Backoff3)
	orDefault(&cfg.Backoff4, def.Backoff4)
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextCheckDelay returns 0 for delivered: the shipment leaves the polling set.
func (p *Planner) NextCheckDelay(status string) time.Duration {
	switch status {
	case models.ShipmentStatusDelivered:
		return 0
	case models.ShipmentStatusInTransit, models.ShipmentStatusCreated:
		min, max := p.cfg.InTransitMinDelay, p.cfg.InTransitMaxDelay
		if max == min {
			return min
		}
		// джиттер, чтобы опросы не собирались в пачки
		span := int((max - min) / time.Second)
		return min + time.Duration(p.r.Intn(span+1))*time.Second
	case models.ShipmentStatusOutForDelivery:
		return p.cfg.OutForDeliveryDelay
	case models.ShipmentStatusException:
		return p.cfg.ExceptionDelay
	default:
		return p.cfg.UnknownDelay
	}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
