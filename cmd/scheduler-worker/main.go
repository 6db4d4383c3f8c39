package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling-engine/internal/app"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
)

// scheduler-worker runs the reminder sweep and status reconciliation without
// serving the booking API. Replicas coordinate through the redis job lease.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("scheduler-worker", "dev", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("scheduler-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("reminder_interval", cfg.ReminderInterval).
		Dur("reconcile_interval", cfg.ReconcileInterval).
		Bool("lease", cfg.UseRedis()).
		Msg("scheduler-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	a.Engine.StartJobs(rootCtx)

	var metricsSrv *http.Server
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			h := a.Engine.GetSchedulerHealth(r.Context())
			w.Header().Set("Content-Type", "application/json")
			if !h.Running {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(h)
		})
		metricsSrv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping jobs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := a.Engine.StopJobs(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("jobs did not stop cleanly")
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("closing dependencies")
	}
	logger.Info().Msg("scheduler-worker stopped")
}

