package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling-engine/internal/api"
	"github.com/hackgods/clinic-scheduling-engine/internal/app"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("api-server", "dev", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("timezone", cfg.ClinicTimezone).
		Bool("jobs_enabled", cfg.JobsEnabled).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := app.Options{}
	if cfg.StorageDriver == config.StorageMemory {
		opts.DemoPractitioners = 3
	}
	a, err := app.Build(rootCtx, cfg, logger, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	if cfg.JobsEnabled {
		a.Engine.StartJobs(rootCtx)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Engine:         a.Engine,
			Dependencies:   a.Dependencies,
			Gatherer:       a.Registry,
			Logger:         logger,
			RequestTimeout: cfg.RequestTimeout,
			Env:            cfg.Env,
			Version:        version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	if cfg.JobsEnabled {
		if err := a.Engine.StopJobs(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("stopping jobs")
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("closing dependencies")
	}

	logger.Info().Msg("api-server stopped")
}
