package reminder

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

// SweepResult counts what one pass did across all windows.
type SweepResult struct {
	Candidates int
	Sent       int
	Failed     int
	Exhausted  int
	// Skipped counts reminders another process flagged first or whose
	// appointment moved while the reminder was being sent.
	Skipped int
}

type Option func(*Scheduler)

func WithClock(c zonedtime.Clock) Option { return func(s *Scheduler) { s.clock = c } }
func WithRetryPolicy(p RetryPolicy) Option { return func(s *Scheduler) { s.retry = p.withDefaults() } }
func WithLogger(l zerolog.Logger) Option { return func(s *Scheduler) { s.logger = l } }
func WithMetrics(m *metrics.SchedulingMetrics) Option { return func(s *Scheduler) { s.metrics = m } }
func WithTracer(t trace.Tracer) Option { return func(s *Scheduler) { s.tracer = t } }

// Scheduler sends each reminder at most once per threshold. Callers must not
// run two sweeps concurrently in one process; worker.Runner guarantees that.
type Scheduler struct {
	store     appointment.ReminderStore
	gateway   NotificationGateway
	directory PractitionerDirectory
	times     *zonedtime.Normalizer

	clock   zonedtime.Clock
	retry   RetryPolicy
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
	tracer  trace.Tracer
}

func NewScheduler(
	store appointment.ReminderStore,
	gateway NotificationGateway,
	directory PractitionerDirectory,
	times *zonedtime.Normalizer,
	opts ...Option,
) *Scheduler {
	if times == nil {
		times = zonedtime.NewNormalizer(nil)
	}
	s := &Scheduler{
		store:     store,
		gateway:   gateway,
		directory: directory,
		times:     times,
		clock:     zonedtime.SystemClock,
		retry:     DefaultRetryPolicy,
		logger:    zerolog.Nop(),
		tracer:    otel.Tracer("clinic-scheduling-engine/reminder"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs every window once against a single "now". Per-appointment
// failures are recorded and counted; the returned error only reports
// storage reads that prevented a window from being processed.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "reminder.Sweep")
	defer span.End()

	var (
		res  SweepResult
		errs []error
	)
	now := s.clock.Now()

	for _, w := range Windows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		from, to := w.Bounds(now)
		candidates, err := s.store.FindReminderCandidates(ctx, w.Threshold, from, to, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("find %s reminder candidates: %w", w.Threshold, err))
			continue
		}
		res.Candidates += len(candidates)

		for _, c := range candidates {
			s.dispatch(ctx, w.Threshold, c, now, &res)
		}
	}

	span.SetAttributes(
		attribute.Int("candidates", res.Candidates),
		attribute.Int("sent", res.Sent),
		attribute.Int("failed", res.Failed),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// Pending counts reminders due in the current windows without sending them.
func (s *Scheduler) Pending(ctx context.Context) (int, error) {
	now := s.clock.Now()
	total := 0
	for _, w := range Windows {
		from, to := w.Bounds(now)
		candidates, err := s.store.FindReminderCandidates(ctx, w.Threshold, from, to, now)
		if err != nil {
			return 0, fmt.Errorf("count %s reminder candidates: %w", w.Threshold, err)
		}
		total += len(candidates)
	}
	return total, nil
}

func (s *Scheduler) dispatch(ctx context.Context, threshold appointment.Threshold, c appointment.ReminderCandidate, now time.Time, res *SweepResult) {
	l := logging.FromContext(ctx, s.logger).With().
		Str("appointment_id", c.ID.String()).
		Str("threshold", string(threshold)).
		Logger()

	attempt := c.Attempts + 1
	err := s.send(ctx, threshold, c, attempt)
	if err == nil {
		marked, markErr := s.store.MarkReminderSent(ctx, c.ID, c.StartAt, threshold)
		switch {
		case markErr != nil:
			// delivered but not flagged: the next sweep may send it again
			res.Failed++
			s.metrics.ObserveReminder(string(threshold), "mark_failed")
			l.Error().Err(markErr).Msg("reminder sent but flag not persisted")
		case !marked:
			res.Skipped++
			s.metrics.ObserveReminder(string(threshold), "skipped")
		default:
			res.Sent++
			s.metrics.ObserveReminder(string(threshold), "sent")
			l.Info().Int("attempt", attempt).Msg("reminder sent")
		}
		return
	}

	dispatchErr := &DispatchError{
		AppointmentID: c.ID,
		Threshold:     threshold,
		Attempt:       attempt,
		Exhausted:     attempt >= s.retry.MaxAttempts,
		Err:           err,
	}
	res.Failed++
	if dispatchErr.Exhausted {
		res.Exhausted++
		s.metrics.ObserveReminder(string(threshold), "exhausted")
	} else {
		s.metrics.ObserveReminder(string(threshold), "failed")
	}
	l.Warn().Err(dispatchErr).Msg("reminder dispatch failed")

	recordErr := s.store.RecordReminderFailure(ctx, appointment.ReminderAttempt{
		AppointmentID: c.ID,
		StartAt:       c.StartAt,
		Threshold:     threshold,
		Attempts:      attempt,
		LastError:     err.Error(),
		NextAttemptAt: now.Add(s.retry.Delay(attempt)),
		Exhausted:     dispatchErr.Exhausted,
	})
	if recordErr != nil {
		l.Error().Err(recordErr).Msg("failed to record reminder attempt")
	}
}

// send resolves the payload and calls the gateway, turning panics into errors.
func (s *Scheduler) send(ctx context.Context, threshold appointment.Threshold, c appointment.ReminderCandidate, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification gateway panicked: %v", r)
		}
	}()

	name, err := s.directory.PractitionerName(ctx, c.PractitionerID)
	if err != nil {
		return fmt.Errorf("resolve practitioner name: %w", err)
	}

	return s.gateway.SendReminder(ctx, Reminder{
		AppointmentID:    c.ID,
		PractitionerID:   c.PractitionerID,
		PatientID:        c.PatientID,
		PractitionerName: name,
		Threshold:        threshold,
		StartAt:          c.StartAt,
		FormattedStart:   s.times.Format(c.StartAt, nil),
		DurationMinutes:  c.DurationMinutes,
		Attempt:          attempt,
	})
}
