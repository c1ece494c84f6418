package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/kafka"
	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type orderCoreOpts struct {
	opsAddr     string
	swaggerPath string

	transitionTopic string
	trackingTopic   string
	consumerGroup   string

	onListen func(opsAddr string)
}

// consumerGroups derives one consumer group per topic reader.
func consumerGroups(base string) (transitions, tracking string) {
	return base + "-transitions", base + "-tracking"
}

type kafkaConsumer interface {
	Consume(ctx context.Context, h kafka.Handler) error
}

type transitioner interface {
	Transition(ctx context.Context, req models.TransitionRequest) (models.TransitionResult, error)
}

type carrierUpdater interface {
	ApplyCarrierUpdate(ctx context.Context, msg messages.TrackingUpdated) error
	RefreshShipment(ctx context.Context, shipmentID string) error
}

type alertLister interface {
	ListActive(ctx context.Context, productID string) ([]*models.StockAlert, error)
	Resolve(ctx context.Context, alertID string) error
}

type ledgerVerifier interface {
	VerifyLedger(ctx context.Context, productID string) (models.LedgerReport, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type orderCoreDeps struct {
	log     *zap.Logger
	orders  transitioner
	tracker carrierUpdater
	alerts  alertLister
	ledger  ledgerVerifier
	checks  map[string]pinger
}

// transientAttempts bounds in-handler retries of one message.
const transientAttempts = 3

func runOrderCore(ctx context.Context, opts orderCoreOpts, deps orderCoreDeps, transitions, tracking kafkaConsumer) error {
	if deps.log == nil {
		deps.log = zap.NewNop()
	}
	log := deps.log

	errCh := make(chan error, 3)
	go func() {
		errCh <- runOpsServer(ctx, opts, deps)
	}()

	transitionGroup, trackingGroup := consumerGroups(opts.consumerGroup)
	go func() {
		log.Info("kafka consumer started", zap.String("topic", opts.transitionTopic), zap.String("group", transitionGroup))
		errCh <- transitions.Consume(ctx, guarded(log, transitionHandler(deps.orders)))
	}()
	go func() {
		log.Info("kafka consumer started", zap.String("topic", opts.trackingTopic), zap.String("group", trackingGroup))
		errCh <- tracking.Consume(ctx, guarded(log, trackingHandler(deps.tracker)))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}

var errMalformed = errors.New("malformed message")

func transitionHandler(o transitioner) func(ctx context.Context, value []byte) error {
	return func(ctx context.Context, value []byte) error {
		var m messages.TransitionRequested
		if err := json.Unmarshal(value, &m); err != nil {
			return errors.Wrap(errMalformed, err.Error())
		}
		_, err := o.Transition(ctx, models.TransitionRequest{
			OrderID:   m.OrderID,
			Target:    models.OrderStatus(m.Target),
			Note:      m.Note,
			Actor:     m.Actor,
			RequestID: m.RequestID,
		})
		return err
	}
}

func trackingHandler(t carrierUpdater) func(ctx context.Context, value []byte) error {
	return func(ctx context.Context, value []byte) error {
		var m messages.TrackingUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			return errors.Wrap(errMalformed, err.Error())
		}
		return t.ApplyCarrierUpdate(ctx, m)
	}
}

// guarded commits malformed messages and validation failures after logging
// them. A compensation failure stops the consumer uncommitted; other errors
// are retried first.
func guarded(log *zap.Logger, h func(ctx context.Context, value []byte) error) kafka.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		at := []zap.Field{
			zap.String("topic", msg.Topic), zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset), zap.ByteString("key", msg.Key),
		}
		var err error
		for attempt := 1; attempt <= transientAttempts; attempt++ {
			err = h(ctx, msg.Value)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, errMalformed), models.IsValidation(err),
				errors.Is(err, models.ErrInsufficientStock):
				// повтор не поможет: склад не пополнится от ретрая
				log.Warn("message rejected", append(at, zap.Error(err))...)
				return nil
			case models.IsFatal(err):
				log.Error("compensation failure, consumer stopped for operator action", append(at, zap.Error(err))...)
				return err
			}
			log.Warn("handler failed, retrying", append(at, zap.Int("attempt", attempt), zap.Error(err))...)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		return err
	}
}
