package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/OrderFlow/config"
	"github.com/BearBump/OrderFlow/internal/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	log := logger.MustNew(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunTrackingWorker(ctx, cfg, defaultWorkerFactories(), workerOpts{
		httpAddr:    cfg.OrderFlow.WorkerHTTPAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("tracking worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
