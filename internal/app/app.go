// Package app wires configuration into a running engine and owns the
// connections it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/api"
	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/db"
	"github.com/hackgods/clinic-scheduling-engine/internal/engine"
	"github.com/hackgods/clinic-scheduling-engine/internal/events"
	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
	"github.com/hackgods/clinic-scheduling-engine/internal/notify"
	"github.com/hackgods/clinic-scheduling-engine/internal/practitioner"
	redisclient "github.com/hackgods/clinic-scheduling-engine/internal/redis"
	"github.com/hackgods/clinic-scheduling-engine/internal/reminder"
	"github.com/hackgods/clinic-scheduling-engine/internal/seed"
	"github.com/hackgods/clinic-scheduling-engine/internal/worker"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

type App struct {
	Engine       *engine.Engine
	Registry     *prometheus.Registry
	Dependencies []api.Dependency

	pool       *pgxpool.Pool
	redis      *redis.Client
	dispatcher *events.Dispatcher
	logger     zerolog.Logger
}

// Options lets callers and tests override what Build would otherwise open.
type Options struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
	// DemoPractitioners seeds memory storage with generated practitioners.
	DemoPractitioners int
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (_ *App, err error) {
	times, err := zonedtime.NewNormalizerFromName(cfg.ClinicTimezone)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	a := &App{Registry: reg, logger: logger, pool: opts.Pool, redis: opts.Redis}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var (
		store      engine.Store
		configs    availability.ConfigurationProvider
		directory  reminder.PractitionerDirectory
		publishers = []events.Publisher{events.NewLogPublisher(logger)}
	)

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		if a.pool == nil {
			pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			a.pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions, logger)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("postgres connection error: %w", err)
			}
		}
		store = appointment.NewPgRepository(a.pool)
		configs = availability.NewPgConfigProvider(a.pool)
		directory = practitioner.NewPgDirectory(a.pool)
		publishers = append(publishers, events.NewPgEventLog(a.pool))
		a.Dependencies = append(a.Dependencies, api.Dependency{
			Name: "postgres", Critical: true, Check: a.pool.Ping,
		})
	default:
		static := availability.NewStaticProvider()
		names := practitioner.NewStaticDirectory()
		if opts.DemoPractitioners > 0 {
			demo := seed.NewGenerator(uint64(time.Now().UnixNano()), times.Location()).Practitioners(opts.DemoPractitioners)
			seed.LoadMemory(demo, static, names)
			for _, p := range demo {
				logger.Info().Str("practitioner_id", p.ID.String()).Str("name", p.Name).Msg("demo practitioner")
			}
		}
		store, configs, directory = appointment.NewMemoryRepository(), static, names
	}

	var (
		gateway reminder.NotificationGateway = notify.NewLogGateway(logger)
		locker  appointment.Locker
		lease   worker.Lease
	)
	if cfg.UseRedis() {
		if a.redis == nil {
			a.redis, err = redisclient.NewRedisClient(ctx, redisclient.Options{
				Addr:     cfg.RedisAddr,
				Username: cfg.RedisUsername,
				Password: cfg.RedisPassword,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("redis connection error: %w", err)
			}
		}
		locker = redisclient.NewPractitionerLocker(a.redis, cfg.LockTTL, cfg.LockWait)
		lease = redisclient.NewJobLease(a.redis, cfg.JobLeaseTTL)
		gateway = notify.NewRedisQueueGateway(a.redis, cfg.ReminderQueueKey)
		publishers = append(publishers, events.NewRedisPublisher(a.redis, cfg.EventsChannel))
		a.Dependencies = append(a.Dependencies, api.Dependency{
			Name:  "redis",
			Check: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		})
	}

	a.dispatcher = events.NewDispatcher(cfg.EventBufferSize, logger, m, publishers...)
	a.dispatcher.Start()

	deps := engine.Deps{
		Configs:   configs,
		Directory: directory,
		Gateway:   gateway,
		Events:    a.dispatcher,
		Locker:    locker,
		Lease:     lease,
	}

	a.Engine = engine.New(store, deps, engine.Settings{
		Times:              times,
		Logger:             logger,
		Metrics:            m,
		LifecycleTimeout:   cfg.LifecycleTimeout,
		ConfigCacheTTL:     cfg.AvailabilityCacheTTL,
		ReminderInterval:   cfg.ReminderInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
		ReconcileTolerance: cfg.ReconcileTolerance,
		JobTimeout:         cfg.JobTimeout,
		Retry: reminder.RetryPolicy{
			MaxAttempts: cfg.ReminderMaxAttempts,
			BaseDelay:   cfg.ReminderRetryBase,
			MaxDelay:    cfg.ReminderRetryMaxDelay,
		},
	})
	return a, nil
}

// Close drains pending events and closes the connections Build opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain events: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
