package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling-engine/internal/redis"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

const (
	defaultLifecycleTimeout = 10 * time.Second
	maxTransitionAttempts   = 3
)

// Locker serializes writers to one practitioner's schedule across processes.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

// LeadTimePolicy rejects starts outside a practitioner's booking window.
type LeadTimePolicy interface {
	CheckLeadTime(ctx context.Context, practitionerID uuid.UUID, start, now time.Time) error
}

// EventSink receives lifecycle events. Publish must not block the caller and
// its failures never affect the operation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

type CreateInput struct {
	PractitionerID      uuid.UUID
	PatientID           uuid.UUID
	StartAt             time.Time
	DurationMinutes     int
	RequireConfirmation bool
}

type RescheduleInput struct {
	StartAt time.Time
	// DurationMinutes keeps the current duration when nil.
	DurationMinutes *int
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }
func WithLeadTimePolicy(p LeadTimePolicy) Option { return func(s *Service) { s.policy = p } }
func WithEventSink(e EventSink) Option { return func(s *Service) { s.events = e } }
func WithClock(c zonedtime.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}
func WithTracer(t trace.Tracer) Option { return func(s *Service) { s.tracer = t } }

// WithTimeout bounds every lifecycle operation; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Service drives appointments through their lifecycle. Writes that can
// create overlap run under the practitioner lock and inside a practitioner
// transaction, so the conflict check and the write are one atomic step.
type Service struct {
	repo     Repository
	detector *ConflictDetector
	locker   Locker
	policy   LeadTimePolicy
	events   EventSink
	clock    zonedtime.Clock
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.SchedulingMetrics
	tracer   trace.Tracer
}

func NewService(repo Repository, detector *ConflictDetector, opts ...Option) *Service {
	if detector == nil {
		detector = NewConflictDetector(repo, nil)
	}
	s := &Service{
		repo:     repo,
		detector: detector,
		clock:    zonedtime.SystemClock,
		timeout:  defaultLifecycleTimeout,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("clinic-scheduling-engine/appointment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	ctx, span := s.tracer.Start(ctx, "appointment."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		outcome := outcomeOf(err)
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			l := logging.FromContext(ctx, s.logger)
			l.Error().Err(err).Str("operation", op).Msg("lifecycle operation failed")
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		s.metrics.ObserveLifecycle(op, outcome)
		span.End()
		cancel()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrPastDate), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOutsideLeadTime):
		return "rejected"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrScheduleBusy):
		return "busy"
	}
	return "error"
}

// CreateAppointment books a new appointment if its interval is free.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, "create", attribute.String("practitioner_id", in.PractitionerID.String()))
	defer func() { done(err) }()

	if in.PractitionerID == uuid.Nil || in.PatientID == uuid.Nil || in.StartAt.IsZero() {
		return nil, fmt.Errorf("%w: practitioner, patient and start are required", ErrInvalidInput)
	}
	now := s.clock.Now()
	if !in.StartAt.After(now) {
		return nil, ErrPastDate
	}
	duration := ClampDuration(in.DurationMinutes)
	if err := s.checkLeadTime(ctx, in.PractitionerID, in.StartAt, now); err != nil {
		return nil, err
	}

	status := StatusConfirmed
	if in.RequireConfirmation {
		status = StatusScheduled
	}

	var created *Appointment
	err = s.withPractitioner(ctx, in.PractitionerID, func(ctx context.Context, tx Tx) error {
		if err := s.ensureFree(ctx, tx, in.PractitionerID, in.StartAt, duration, nil); err != nil {
			return err
		}
		a := &Appointment{
			ID:              uuid.New(),
			PractitionerID:  in.PractitionerID,
			PatientID:       in.PatientID,
			StartAt:         in.StartAt,
			DurationMinutes: duration,
			Status:          status,
		}
		if err := tx.InsertAppointment(ctx, a); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := logging.FromContext(ctx, s.logger)
	l.Info().
		Str("appointment_id", created.ID.String()).
		Str("practitioner_id", created.PractitionerID.String()).
		Time("start_at", created.StartAt).
		Int("duration_minutes", created.DurationMinutes).
		Msg("appointment created")
	s.publish(ctx, EventCreated, *created, nil, "")
	return created, nil
}

// RescheduleAppointment moves an active appointment to a new interval and
// resets its reminders.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, in RescheduleInput) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, "reschedule", attribute.String("appointment_id", id.String()))
	defer func() { done(err) }()

	if in.StartAt.IsZero() {
		return nil, fmt.Errorf("%w: new start is required", ErrInvalidInput)
	}
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Active() {
		return nil, &InvalidTransitionError{AppointmentID: id, From: current.Status, Action: "reschedule"}
	}

	now := s.clock.Now()
	if !in.StartAt.After(now) {
		return nil, ErrPastDate
	}
	duration := current.DurationMinutes
	if in.DurationMinutes != nil {
		duration = *in.DurationMinutes
	}
	duration = ClampDuration(duration)
	if err := s.checkLeadTime(ctx, current.PractitionerID, in.StartAt, now); err != nil {
		return nil, err
	}

	var previous, updated *Appointment
	err = s.withPractitioner(ctx, current.PractitionerID, func(ctx context.Context, tx Tx) error {
		locked, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !locked.Status.Active() {
			return &InvalidTransitionError{AppointmentID: id, From: locked.Status, Action: "reschedule"}
		}
		if err := s.ensureFree(ctx, tx, locked.PractitionerID, in.StartAt, duration, &id); err != nil {
			return err
		}
		updated, err = tx.RescheduleAppointment(ctx, id, in.StartAt, duration)
		if err != nil {
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		previous = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	l := logging.FromContext(ctx, s.logger)
	l.Info().
		Str("appointment_id", id.String()).
		Time("from", previous.StartAt).
		Time("to", updated.StartAt).
		Msg("appointment rescheduled")
	s.publish(ctx, EventRescheduled, *updated, previous, "")
	return updated, nil
}

// CancelAppointment frees the slot. Cancelling twice is a no-op.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, "cancel", attribute.String("appointment_id", id.String()))
	defer func() { done(err) }()

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	appt, changed, err := s.transition(ctx, id, reasonPtr, func(a *Appointment) (AppointmentStatus, bool, error) {
		switch {
		case a.Status == StatusCancelled:
			return "", false, nil
		case a.Status.Active():
			return StatusCancelled, true, nil
		}
		return "", false, &InvalidTransitionError{AppointmentID: a.ID, From: a.Status, Action: "cancel"}
	})
	if err != nil || !changed {
		return appt, err
	}

	s.publish(ctx, EventCancelled, *appt, nil, reason)
	return appt, nil
}

// MarkNoShow records that the patient did not attend. Only allowed once the
// appointment has started.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, "no_show", attribute.String("appointment_id", id.String()))
	defer func() { done(err) }()

	now := s.clock.Now()
	appt, _, err = s.transition(ctx, id, nil, func(a *Appointment) (AppointmentStatus, bool, error) {
		if !a.Status.Active() {
			return "", false, &InvalidTransitionError{AppointmentID: a.ID, From: a.Status, Action: "mark no-show"}
		}
		if now.Before(a.StartAt) {
			return "", false, &InvalidTransitionError{
				AppointmentID: a.ID, From: a.Status, Action: "mark no-show",
				Reason: "appointment has not started yet",
			}
		}
		return StatusNoShow, true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventNoShow, *appt, nil, "")
	return appt, nil
}

// ConfirmAppointment moves scheduled to confirmed. Confirming a confirmed
// appointment returns it unchanged.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, "confirm", attribute.String("appointment_id", id.String()))
	defer func() { done(err) }()

	appt, changed, err := s.transition(ctx, id, nil, func(a *Appointment) (AppointmentStatus, bool, error) {
		switch a.Status {
		case StatusConfirmed:
			return "", false, nil
		case StatusScheduled:
			return StatusConfirmed, true, nil
		}
		return "", false, &InvalidTransitionError{AppointmentID: a.ID, From: a.Status, Action: "confirm"}
	})
	if err != nil || !changed {
		return appt, err
	}

	s.publish(ctx, EventConfirmed, *appt, nil, "")
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListPractitionerAppointments returns appointments starting in [from, to),
// every status included.
func (s *Service) ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after range start", ErrInvalidInput)
	}
	appts, err := s.repo.ListPractitionerAppointments(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list practitioner appointments: %w", err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// transition applies a conditional status update chosen by decide. When the
// row changes status between the read and the update, it re-reads and asks
// decide again. changed is false when decide reported a no-op.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	reason *string,
	decide func(a *Appointment) (to AppointmentStatus, change bool, err error),
) (*Appointment, bool, error) {
	for range maxTransitionAttempts {
		current, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		to, change, err := decide(current)
		if err != nil {
			return nil, false, err
		}
		if !change {
			return current, false, nil
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, id, current.Status, to, reason)
		if errors.Is(err, ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("update appointment status: %w", err)
		}
		return updated, true, nil
	}
	return nil, false, fmt.Errorf("appointment %s changed concurrently: %w", id, ErrScheduleBusy)
}

func (s *Service) checkLeadTime(ctx context.Context, practitionerID uuid.UUID, start, now time.Time) error {
	if s.policy == nil {
		return nil
	}
	return s.policy.CheckLeadTime(ctx, practitionerID, start, now)
}

// ensureFree runs the conflict predicate against the transaction's view.
func (s *Service) ensureFree(ctx context.Context, tx Tx, practitionerID uuid.UUID, start time.Time, duration int, exclude *uuid.UUID) error {
	end := start.Add(time.Duration(duration) * time.Minute)
	occ, err := s.detector.WithReader(tx).Load(ctx, practitionerID, start, end)
	if err != nil {
		return err
	}
	if c := occ.Conflict(start, duration, exclude); c != nil {
		return &SlotConflictError{Conflict: *c}
	}
	return nil
}

func (s *Service) withPractitioner(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	run := func(ctx context.Context) error {
		return s.repo.InPractitionerTx(ctx, practitionerID, fn)
	}
	if s.locker == nil {
		return run(ctx)
	}

	err := s.locker.WithPractitionerLock(ctx, practitionerID, run)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: %v", ErrScheduleBusy, err)
	}
	return err
}

func (s *Service) publish(ctx context.Context, t EventType, appt Appointment, previous *Appointment, reason string) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, Event{
		Type:        t,
		Appointment: appt,
		Previous:    previous,
		Reason:      reason,
		OccurredAt:  s.clock.Now(),
	})
}
