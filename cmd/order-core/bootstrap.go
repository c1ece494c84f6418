package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/OrderFlow/config"
	"github.com/BearBump/OrderFlow/internal/broker/kafka"
	"github.com/BearBump/OrderFlow/internal/cache/rediscache"
	"github.com/BearBump/OrderFlow/internal/integrations/loyalty"
	"github.com/BearBump/OrderFlow/internal/integrations/notify"
	"github.com/BearBump/OrderFlow/internal/integrations/tasks"
	"github.com/BearBump/OrderFlow/internal/lock"
	"github.com/BearBump/OrderFlow/internal/logger"
	"github.com/BearBump/OrderFlow/internal/services/alerts"
	"github.com/BearBump/OrderFlow/internal/services/inventory"
	"github.com/BearBump/OrderFlow/internal/services/orders"
	"github.com/BearBump/OrderFlow/internal/services/shipments"
	"github.com/BearBump/OrderFlow/internal/storage/pgstore"
	"github.com/BearBump/OrderFlow/internal/storage/sqlitestore"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// store is what both storage backends provide.
type store interface {
	orders.Repository
	inventory.Repository
	alerts.Repository
	shipments.Repository
	Ping(ctx context.Context) error
	Close()
}

type orderCoreApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
	opts   orderCoreOpts
	deps   orderCoreDeps

	transitions *kafka.Consumer
	tracking    *kafka.Consumer
	closers     []func()
}

func mustBootstrapOrderCore() *orderCoreApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	log := logger.MustNew(cfg.Env)
	app := &orderCoreApp{log: log}

	of := cfg.OrderFlow
	opsAddr := of.OpsHTTPAddr
	if opsAddr == "" {
		opsAddr = ":8080"
	}
	consumerGroup := of.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "order-core"
	}
	transitionTopic := cfg.Kafka.TransitionRequestedTopicName
	if transitionTopic == "" {
		transitionTopic = "order.transition.requested"
	}
	trackingTopic := cfg.Kafka.TrackingUpdatedTopicName
	if trackingTopic == "" {
		trackingTopic = "shipment.tracking.updated"
	}
	cacheTTL := time.Duration(of.OrderCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	lockTTL := time.Duration(of.OrderLockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	rate := orders.DefaultAccrualRate
	if of.LoyaltyAccrualRate != "" {
		rate, err = decimal.NewFromString(of.LoyaltyAccrualRate)
		if err != nil {
			panic(fmt.Sprintf("loyalty_accrual_rate: %v", err))
		}
	}

	st := mustOpenStore(cfg.Database, 60*time.Second, log)
	app.closers = append(app.closers, st.Close)

	var (
		locker lock.Locker = lock.NewKeyedMutex()
		rc     *rediscache.RedisCache
	)
	if cfg.Redis.Host != "" {
		rc = rediscache.New(cfg.Redis.Addr())
		app.closers = append(app.closers, func() { _ = rc.Close() })
		locker = rc.Locker(lockTTL)
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers())
	app.closers = append(app.closers, func() { _ = producer.Close() })

	notifier := mustNotifier(cfg, producer, log)

	alertMgr := alerts.New(st, notifier).
		WithLogger(log.Named("alerts")).
		WithAutoResolve(of.AutoResolveAlerts)
	if of.AlertsRecipient != "" {
		alertMgr.WithRecipient(of.AlertsRecipient)
	}
	ledger := inventory.New(st, alertMgr).WithLogger(log.Named("inventory"))

	var awarder orders.Loyalty
	if of.LoyaltyBaseURL != "" {
		awarder = loyalty.New(of.LoyaltyBaseURL)
	}
	ctrl := orders.New(st, ledger, locker).
		WithLogger(log.Named("orders")).
		WithCollaborators(notifier, awarder, tasks.NewKafkaQueue(producer, cfg.Kafka.TasksTopicName)).
		WithAccrualRate(rate).
		WithRedirectOnInsufficientStock(of.RedirectOnInsufficientStock())

	tracker := shipments.New(st, ctrl).WithLogger(log.Named("shipments"))
	if rc != nil {
		ctrl.WithCache(rc, cacheTTL)
		tracker.WithCache(rc, cacheTTL)
	}

	transitionGroup, trackingGroup := consumerGroups(consumerGroup)
	app.transitions = kafka.NewConsumer(cfg.Kafka.Brokers(), transitionTopic, transitionGroup).WithLogger(log.Named("consumer"))
	app.tracking = kafka.NewConsumer(cfg.Kafka.Brokers(), trackingTopic, trackingGroup).WithLogger(log.Named("consumer"))

	checks := map[string]pinger{"storage": st}
	if rc != nil {
		checks["redis"] = rc
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = orderCoreOpts{
		opsAddr:         opsAddr,
		swaggerPath:     os.Getenv("swaggerPath"),
		transitionTopic: transitionTopic,
		trackingTopic:   trackingTopic,
		consumerGroup:   consumerGroup,
	}
	app.deps = orderCoreDeps{
		log:     log,
		orders:  ctrl,
		tracker: tracker,
		alerts:  alertMgr,
		ledger:  ledger,
		checks:  checks,
	}
	return app
}

func mustOpenStore(db config.DatabaseConfig, wait time.Duration, log *zap.Logger) store {
	if db.Driver == "sqlite" {
		path := db.SQLitePath
		if path == "" {
			path = "orderflow.db"
		}
		st, err := sqlitestore.New(path)
		if err != nil {
			panic(fmt.Sprintf("sqlite %s: %v", path, err))
		}
		return st
	}
	return mustOpenPostgresWithRetry(db.PostgresConnString(), wait, log)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration, log *zap.Logger) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Warn("postgres is not ready yet", zap.Error(err))
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

type notifier interface {
	orders.Notifier
	alerts.Notifier
}

func mustNotifier(cfg *config.Config, producer *kafka.Producer, log *zap.Logger) notifier {
	switch cfg.OrderFlow.NotificationsDriver {
	case "sns":
		client, err := notify.NewSNSClient(context.Background(), cfg.AWS.Region, cfg.AWS.Endpoint)
		if err != nil {
			panic(err)
		}
		return notify.NewSNSGateway(client, cfg.AWS.NotificationsTopicARN)
	case "kafka":
		return notify.NewKafkaGateway(producer, cfg.Kafka.NotificationsTopicName)
	default:
		return notify.NewLogGateway(log.Named("notify"))
	}
}

func (a *orderCoreApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.transitions != nil {
		_ = a.transitions.Close()
	}
	if a.tracking != nil {
		_ = a.tracking.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func (a *orderCoreApp) Run() error {
	return runOrderCore(a.ctx, a.opts, a.deps, a.transitions, a.tracking)
}
