package main

import (
	"context"
	"errors"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env опционален, в контейнере переменные приходят снаружи
	_ = godotenv.Load()

	app := mustBootstrapOrderCore()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.log.Error("order-core stopped", zap.Error(err))
		panic(err)
	}
}
