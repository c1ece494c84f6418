package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/OrderFlow/config"
	"github.com/BearBump/OrderFlow/internal/services/poller"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller *poller.Poller
	cfg    *config.Config
	log    *zap.Logger
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.log == nil {
		opts.log = zap.NewNop()
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	opts.log.Info("worker HTTP listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config not wired"})
			return
		}
		// только рабочие настройки, без ключей и паролей
		of := opts.cfg.OrderFlow
		writeJSON(w, http.StatusOK, map[string]any{
			"pollIntervalSeconds":          of.WorkerPollIntervalSeconds,
			"batchSize":                    of.WorkerBatchSize,
			"concurrency":                  of.WorkerConcurrency,
			"leaseSeconds":                 of.WorkerLeaseSeconds,
			"rateLimitPerMinute":           of.WorkerRateLimitPerMinute,
			"carrierRateLimits":            of.WorkerCarrierRateLimits,
			"nextCheckInTransitMinSeconds": of.WorkerNextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": of.WorkerNextCheckInTransitMaxSeconds,
			"nextCheckUnknownSeconds":      of.WorkerNextCheckUnknownSeconds,
			"carrierMode":                  of.CarrierEmulatorMode,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix()))))
		} else {
			opts.log.Warn("swagger file not found, docs disabled", zap.String("path", opts.swaggerPath))
		}
	}

	return r
}
