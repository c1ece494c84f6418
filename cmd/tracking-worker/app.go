package main

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/config"
	"github.com/BearBump/OrderFlow/internal/broker/kafka"
	"github.com/BearBump/OrderFlow/internal/cache/rediscache"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier/fake"
	"github.com/BearBump/OrderFlow/internal/integrations/carrier/track24http"
	"github.com/BearBump/OrderFlow/internal/services/poller"
	"github.com/BearBump/OrderFlow/internal/storage/pgstore"
	"github.com/BearBump/OrderFlow/internal/storage/sqlitestore"
	"go.uber.org/zap"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) poller.Producer
	newRateLimiter   func(cfg *config.Config) poller.RateLimiter
	newCarrierClient func(cfg *config.Config) carrier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			if cfg.Database.Driver == "sqlite" {
				st, err := sqlitestore.New(cfg.Database.SQLitePath)
				if err != nil {
					return nil, nil, err
				}
				return st, st.Close, nil
			}
			st, err := pgstore.New(cfg.Database.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			if cfg.Redis.Host == "" {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			of := cfg.OrderFlow
			// без base_url работаем с локальным fake
			if of.CarrierEmulatorBaseURL == "" {
				return fake.New()
			}
			switch of.CarrierEmulatorMode {
			case "v1":
				return emulatorv1.New(of.CarrierEmulatorBaseURL, of.CarrierEmulatorAPIKey)
			case "track24":
				return track24http.New(of.CarrierEmulatorBaseURL, of.CarrierEmulatorAPIKey, of.CarrierEmulatorDomain)
			default:
				return fake.New()
			}
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func plannerConfig(of config.OrderFlowConfig) poller.PlannerConfig {
	return poller.PlannerConfig{
		InTransitMinDelay: seconds(of.WorkerNextCheckInTransitMinSeconds),
		InTransitMaxDelay: seconds(of.WorkerNextCheckInTransitMaxSeconds),
		UnknownDelay:      seconds(of.WorkerNextCheckUnknownSeconds),
		Backoff1:          seconds(of.WorkerBackoff1Seconds),
		Backoff2:          seconds(of.WorkerBackoff2Seconds),
		Backoff3:          seconds(of.WorkerBackoff3Seconds),
		Backoff4:          seconds(of.WorkerBackoff4Seconds),
	}
}

type workerOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)
}

// RunTrackingWorker runs the poller and its ops HTTP server until ctx ends
// or either of them fails.
func RunTrackingWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerOpts, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	of := cfg.OrderFlow

	topic := cfg.Kafka.TrackingUpdatedTopicName
	if topic == "" {
		topic = "shipment.tracking.updated"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := poller.New(repo, f.newCarrierClient(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithLogger(log.Named("poller")).
		WithSettings(poller.Settings{
			PollInterval:       seconds(of.WorkerPollIntervalSeconds),
			BatchSize:          of.WorkerBatchSize,
			Concurrency:        of.WorkerConcurrency,
			Lease:              seconds(of.WorkerLeaseSeconds),
			RateLimitPerMinute: int64(of.WorkerRateLimitPerMinute),
			CarrierRateLimits:  of.WorkerCarrierRateLimits,
		}).
		WithPlanner(plannerConfig(of))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    opts.httpAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			poller:      p,
			cfg:         cfg,
			log:         log,
		})
	}()

	pollErr := make(chan error, 1)
	go func() {
		log.Info("tracking worker started", zap.String("topic", topic))
		pollErr <- p.Run(ctx)
	}()

	select {
	case err := <-pollErr:
		return err
	case err := <-httpErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}
