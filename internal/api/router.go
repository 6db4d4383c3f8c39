package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Engine         Scheduler
	Dependencies   []Dependency
	Gatherer       prometheus.Gatherer
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(EchoRequestID)
	r.Use(AccessLog(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &handlers{engine: cfg.Engine, logger: cfg.Logger}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/{id}", h.getAppointment)
			r.Post("/{id}/reschedule", h.rescheduleAppointment)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.Post("/{id}/no-show", h.transitionHandler(cfg.Engine.MarkNoShow))
			r.Post("/{id}/confirm", h.transitionHandler(cfg.Engine.ConfirmAppointment))
		})

		r.Route("/practitioners/{id}", func(r chi.Router) {
			r.Get("/appointments", h.listAppointments)
			r.Get("/slots", h.listSlots)
			r.Get("/slots/check", h.checkSlot)
			r.Post("/availability/invalidate", h.invalidateAvailability)
		})

		r.Get("/admin/scheduler/health", h.schedulerHealth)
	})

	// manual job runs wait for any pass in flight, so they get no request timeout
	r.Post("/admin/jobs/reminders/run", h.runJob(cfg.Engine.TriggerReminderSweepNow))
	r.Post("/admin/jobs/reconciliation/run", h.runJob(cfg.Engine.TriggerStatusReconciliationNow))

	return r
}
