package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

const (
	DefaultTolerance = time.Hour
	defaultBatchSize = 500
)

type Result struct {
	Overdue   int
	Completed int
	Failed    int
}

type Option func(*Reconciler)

func WithClock(c zonedtime.Clock) Option { return func(r *Reconciler) { r.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(r *Reconciler) { r.logger = l } }
func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}
func WithTracer(t trace.Tracer) Option { return func(r *Reconciler) { r.tracer = t } }

// WithTolerance sets how long after its end an appointment is left alone
// before being completed.
func WithTolerance(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.tolerance = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batch = n
		}
	}
}

// Reconciler completes scheduled and confirmed appointments whose end is
// more than the tolerance in the past.
type Reconciler struct {
	store  appointment.ReconcileStore
	events appointment.EventSink

	clock     zonedtime.Clock
	tolerance time.Duration
	batch     int
	logger    zerolog.Logger
	metrics   *metrics.SchedulingMetrics
	tracer    trace.Tracer
}

func NewReconciler(store appointment.ReconcileStore, events appointment.EventSink, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		events:    events,
		clock:     zonedtime.SystemClock,
		tolerance: DefaultTolerance,
		batch:     defaultBatchSize,
		logger:    zerolog.Nop(),
		tracer:    otel.Tracer("clinic-scheduling-engine/reconcile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) cutoff() time.Time {
	return r.clock.Now().Add(-r.tolerance)
}

// Reconcile pages through overdue appointments until none are left or a
// page makes no progress. Items that fail are logged and counted; only a
// failed lookup is returned as an error.
func (r *Reconciler) Reconcile(ctx context.Context) (res Result, err error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Reconcile")
	defer func() {
		span.SetAttributes(attribute.Int("completed", res.Completed), attribute.Int("failed", res.Failed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	l := logging.FromContext(ctx, r.logger)
	cutoff := r.cutoff()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		overdue, err := r.store.FindOverdue(ctx, cutoff, r.batch)
		if err != nil {
			return res, fmt.Errorf("find overdue appointments: %w", err)
		}
		res.Overdue += len(overdue)

		progressed := 0
		for _, a := range overdue {
			updated, err := r.store.UpdateAppointmentStatus(ctx, a.ID, a.Status, appointment.StatusCompleted, nil)
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				// cancelled or rescheduled since the query
				progressed++
				continue
			}
			if err != nil {
				res.Failed++
				l.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to complete appointment")
				continue
			}

			res.Completed++
			progressed++
			r.publish(ctx, *updated)
		}

		if len(overdue) < r.batch || progressed == 0 {
			break
		}
	}

	r.metrics.ObserveCompleted(res.Completed)
	if res.Completed > 0 || res.Failed > 0 {
		l.Info().Int("completed", res.Completed).Int("failed", res.Failed).Time("cutoff", cutoff).Msg("reconciliation pass finished")
	}
	return res, nil
}

// Pending counts appointments the next pass would complete, up to one page.
func (r *Reconciler) Pending(ctx context.Context) (int, error) {
	overdue, err := r.store.FindOverdue(ctx, r.cutoff(), r.batch)
	if err != nil {
		return 0, fmt.Errorf("count overdue appointments: %w", err)
	}
	return len(overdue), nil
}

func (r *Reconciler) publish(ctx context.Context, a appointment.Appointment) {
	if r.events == nil {
		return
	}
	r.events.Publish(ctx, appointment.Event{
		Type:        appointment.EventCompleted,
		Appointment: a,
		OccurredAt:  r.clock.Now(),
	})
}
