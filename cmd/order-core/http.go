package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

func runOpsServer(ctx context.Context, opts orderCoreOpts, deps orderCoreDeps) error {
	if opts.opsAddr == "" {
		opts.opsAddr = ":8080"
	}
	lis, err := net.Listen("tcp", opts.opsAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: opsRouter(opts, deps)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	deps.log.Info("ops HTTP listening", zap.String("addr", lis.Addr().String()))
	return srv.Serve(lis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func opsRouter(opts orderCoreOpts, deps orderCoreDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, c := range deps.checks {
			if err := c.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// активные алерты по всем товарам или по ?productId=
	r.Get("/alerts", func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.alerts.ListActive(r.Context(), r.URL.Query().Get("productId"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		bySeverity := map[models.AlertSeverity]int{}
		for _, a := range list {
			bySeverity[a.Kind.Severity()]++
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": len(list), "bySeverity": bySeverity, "alerts": list})
	})

	r.Post("/alerts/{alertID}/resolve", func(w http.ResponseWriter, r *http.Request) {
		err := deps.alerts.Resolve(r.Context(), chi.URLParam(r, "alertID"))
		switch {
		case errors.Is(err, models.ErrAlertNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
		}
	})

	r.Get("/ledger/{productID}/verify", func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.ledger.VerifyLedger(r.Context(), chi.URLParam(r, "productID"))
		if errors.Is(err, models.ErrProductNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if !rep.Consistent {
			status = http.StatusConflict
		}
		writeJSON(w, status, rep)
	})

	r.Post("/shipments/{shipmentID}/refresh", func(w http.ResponseWriter, r *http.Request) {
		err := deps.tracker.RefreshShipment(r.Context(), chi.URLParam(r, "shipmentID"))
		switch {
		case errors.Is(err, models.ErrShipmentNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusAccepted, map[string]bool{"refreshed": true})
		}
	})

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix()))))
		} else {
			deps.log.Warn("swagger file not found, docs disabled", zap.String("path", opts.swaggerPath))
		}
	}
	return r
}
