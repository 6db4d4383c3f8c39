// Package engine composes availability, booking, reminders and
// reconciliation into the surface the HTTP API and commands use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
	"github.com/hackgods/clinic-scheduling-engine/internal/reconcile"
	"github.com/hackgods/clinic-scheduling-engine/internal/reminder"
	"github.com/hackgods/clinic-scheduling-engine/internal/worker"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

const (
	ReminderJobName  = "reminder-sweep"
	ReconcileJobName = "status-reconciliation"
)

// Store is everything the engine persists through. Both PgRepository and
// MemoryRepository satisfy it.
type Store interface {
	appointment.Repository
	appointment.ReminderStore
	appointment.ReconcileStore
	appointment.BlockRepository
}

// Deps are the collaborators behind the engine's narrow interfaces.
type Deps struct {
	Configs   availability.ConfigurationProvider
	Directory reminder.PractitionerDirectory
	Gateway   reminder.NotificationGateway
	Events    appointment.EventSink
	// Locker and Lease are optional; without them only in-process and
	// storage-level serialization apply.
	Locker appointment.Locker
	Lease  worker.Lease
}

type Settings struct {
	Times   *zonedtime.Normalizer
	Clock   zonedtime.Clock
	Logger  zerolog.Logger
	Metrics *metrics.SchedulingMetrics

	LifecycleTimeout   time.Duration
	ConfigCacheTTL     time.Duration
	ReminderInterval   time.Duration
	ReconcileInterval  time.Duration
	ReconcileTolerance time.Duration
	JobTimeout         time.Duration
	Retry              reminder.RetryPolicy
}

func (s Settings) withDefaults() Settings {
	if s.Times == nil {
		s.Times = zonedtime.NewNormalizer(nil)
	}
	if s.Clock == nil {
		s.Clock = zonedtime.SystemClock
	}
	if s.ReminderInterval <= 0 {
		s.ReminderInterval = 10 * time.Minute
	}
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = 15 * time.Minute
	}
	if s.ReconcileTolerance <= 0 {
		s.ReconcileTolerance = reconcile.DefaultTolerance
	}
	if s.JobTimeout <= 0 {
		s.JobTimeout = 5 * time.Minute
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry = reminder.DefaultRetryPolicy
	}
	return s
}

type Engine struct {
	service    *appointment.Service
	detector   *appointment.ConflictDetector
	slots      *availability.Calculator
	configs    *availability.CachedProvider
	times      *zonedtime.Normalizer
	reminders  *reminder.Scheduler
	reconciler *reconcile.Reconciler
	jobs       []*worker.Runner
	logger     zerolog.Logger
}

func New(store Store, deps Deps, settings Settings) *Engine {
	s := settings.withDefaults()

	var configs *availability.CachedProvider
	var provider availability.ConfigurationProvider = deps.Configs
	if s.ConfigCacheTTL > 0 {
		configs = availability.NewCachedProvider(deps.Configs, s.ConfigCacheTTL, s.Clock)
		provider = configs
	}

	detector := appointment.NewConflictDetector(store, store)
	slots := availability.NewCalculator(provider, detector, s.Clock)

	svcOpts := []appointment.Option{
		appointment.WithLeadTimePolicy(slots),
		appointment.WithEventSink(deps.Events),
		appointment.WithClock(s.Clock),
		appointment.WithLogger(s.Logger),
		appointment.WithMetrics(s.Metrics),
	}
	if deps.Locker != nil {
		svcOpts = append(svcOpts, appointment.WithLocker(deps.Locker))
	}
	if s.LifecycleTimeout > 0 {
		svcOpts = append(svcOpts, appointment.WithTimeout(s.LifecycleTimeout))
	}

	reminders := reminder.NewScheduler(store, deps.Gateway, deps.Directory, s.Times,
		reminder.WithClock(s.Clock),
		reminder.WithRetryPolicy(s.Retry),
		reminder.WithLogger(s.Logger),
		reminder.WithMetrics(s.Metrics),
	)
	reconciler := reconcile.NewReconciler(store, deps.Events,
		reconcile.WithClock(s.Clock),
		reconcile.WithTolerance(s.ReconcileTolerance),
		reconcile.WithLogger(s.Logger),
		reconcile.WithMetrics(s.Metrics),
	)

	e := &Engine{
		service:    appointment.NewService(store, detector, svcOpts...),
		detector:   detector,
		slots:      slots,
		configs:    configs,
		times:      s.Times,
		reminders:  reminders,
		reconciler: reconciler,
		logger:     s.Logger,
	}

	jobOpts := []worker.Option{
		worker.WithLogger(s.Logger),
		worker.WithMetrics(s.Metrics),
		worker.WithClock(s.Clock),
	}
	if deps.Lease != nil {
		jobOpts = append(jobOpts, worker.WithLease(deps.Lease))
	}
	e.jobs = []*worker.Runner{
		worker.New(worker.Job{
			Name:     ReminderJobName,
			Interval: s.ReminderInterval,
			Timeout:  s.JobTimeout,
			Run:      e.sweepReminders,
		}, jobOpts...),
		worker.New(worker.Job{
			Name:     ReconcileJobName,
			Interval: s.ReconcileInterval,
			Timeout:  s.JobTimeout,
			Run:      e.reconcile,
		}, jobOpts...),
	}
	return e
}

func (e *Engine) sweepReminders(ctx context.Context) (worker.Counts, error) {
	res, err := e.reminders.Sweep(ctx)
	return worker.Counts{
		"candidates": res.Candidates,
		"sent":       res.Sent,
		"failed":     res.Failed,
		"exhausted":  res.Exhausted,
		"skipped":    res.Skipped,
	}, err
}

func (e *Engine) reconcile(ctx context.Context) (worker.Counts, error) {
	res, err := e.reconciler.Reconcile(ctx)
	return worker.Counts{
		"overdue":   res.Overdue,
		"completed": res.Completed,
		"failed":    res.Failed,
	}, err
}

// Times exposes the clinic normalizer so callers parse input in the same zone.
func (e *Engine) Times() *zonedtime.Normalizer { return e.times }

func (e *Engine) CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error) {
	return e.service.CreateAppointment(ctx, in)
}

func (e *Engine) RescheduleAppointment(ctx context.Context, id uuid.UUID, in appointment.RescheduleInput) (*appointment.Appointment, error) {
	return e.service.RescheduleAppointment(ctx, id, in)
}

func (e *Engine) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	return e.service.CancelAppointment(ctx, id, reason)
}

func (e *Engine) MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return e.service.MarkNoShow(ctx, id)
}

func (e *Engine) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return e.service.ConfirmAppointment(ctx, id)
}

func (e *Engine) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return e.service.GetAppointment(ctx, id)
}

func (e *Engine) ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	return e.service.ListPractitionerAppointments(ctx, practitionerID, from, to)
}

// ListAvailableSlots returns bookable starts on a YYYY-MM-DD date in the
// practitioner's zone. A zero duration uses the configured slot size.
func (e *Engine) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date string, durationMinutes int) ([]time.Time, error) {
	return e.slots.ListAvailableSlotsOnDate(ctx, practitionerID, date, durationMinutes)
}

type SlotCheck struct {
	Available bool
	Conflict  *appointment.Conflict
}

// CheckSlotAvailable only consults the conflict predicate; working hours and
// lead time are not applied.
func (e *Engine) CheckSlotAvailable(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int) (SlotCheck, error) {
	if practitionerID == uuid.Nil || start.IsZero() {
		return SlotCheck{}, appointment.ErrInvalidInput
	}
	c, err := e.detector.FindConflict(ctx, practitionerID, start, durationMinutes, nil)
	if err != nil {
		return SlotCheck{}, fmt.Errorf("check slot: %w", err)
	}
	return SlotCheck{Available: c == nil, Conflict: c}, nil
}

// InvalidateAvailability drops a cached configuration. It is a no-op when
// caching is disabled.
func (e *Engine) InvalidateAvailability(practitionerID uuid.UUID) {
	if e.configs != nil {
		e.configs.Invalidate(practitionerID)
	}
}

func (e *Engine) job(name string) *worker.Runner {
	for _, j := range e.jobs {
		if j.Name() == name {
			return j
		}
	}
	return nil
}

// TriggerReminderSweepNow runs one full sweep, waiting for any pass in flight.
func (e *Engine) TriggerReminderSweepNow(ctx context.Context) (worker.Status, error) {
	j := e.job(ReminderJobName)
	err := j.RunNow(ctx)
	return j.Status(), err
}

func (e *Engine) TriggerStatusReconciliationNow(ctx context.Context) (worker.Status, error) {
	j := e.job(ReconcileJobName)
	err := j.RunNow(ctx)
	return j.Status(), err
}

// StartJobs begins both recurring jobs. They stop when ctx is done or on
// StopJobs.
func (e *Engine) StartJobs(ctx context.Context) {
	for _, j := range e.jobs {
		j.Start(ctx)
	}
}

func (e *Engine) StopJobs(ctx context.Context) error {
	var errs []error
	for _, j := range e.jobs {
		errs = append(errs, j.Stop(ctx))
	}
	return errors.Join(errs...)
}

type SchedulerHealth struct {
	Running               bool            `json:"running"`
	Jobs                  []worker.Status `json:"jobs"`
	PendingReminders      int             `json:"pending_reminders"`
	PendingReconciliation int             `json:"pending_reconciliation"`
	Errors                []string        `json:"errors,omitempty"`
}

// GetSchedulerHealth reports job state and the work each job would pick up
// if it ran now. Storage errors while counting are reported, not returned.
func (e *Engine) GetSchedulerHealth(ctx context.Context) SchedulerHealth {
	h := SchedulerHealth{Running: true, Jobs: make([]worker.Status, 0, len(e.jobs))}
	for _, j := range e.jobs {
		s := j.Status()
		h.Running = h.Running && s.Running
		h.Jobs = append(h.Jobs, s)
	}

	var err error
	if h.PendingReminders, err = e.reminders.Pending(ctx); err != nil {
		h.Errors = append(h.Errors, err.Error())
	}
	if h.PendingReconciliation, err = e.reconciler.Pending(ctx); err != nil {
		h.Errors = append(h.Errors, err.Error())
	}
	return h
}
