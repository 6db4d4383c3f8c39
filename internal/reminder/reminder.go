package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
)

// Reminder is what the notification layer needs to tell a patient about an
// upcoming appointment. Wording and transport are not decided here.
type Reminder struct {
	AppointmentID    uuid.UUID             `json:"appointment_id"`
	PractitionerID   uuid.UUID             `json:"practitioner_id"`
	PatientID        uuid.UUID             `json:"patient_id"`
	PractitionerName string                `json:"practitioner_name"`
	Threshold        appointment.Threshold `json:"threshold"`
	StartAt          time.Time             `json:"start_at"`
	FormattedStart   string                `json:"formatted_start"`
	DurationMinutes  int                   `json:"duration_minutes"`
	Attempt          int                   `json:"attempt"`
}

// NotificationGateway hands a reminder to whatever delivers it. Failures are
// returned, never panicked.
type NotificationGateway interface {
	SendReminder(ctx context.Context, r Reminder) error
}

type PractitionerDirectory interface {
	PractitionerName(ctx context.Context, practitionerID uuid.UUID) (string, error)
}

// DispatchError reports a reminder that could not be handed to the gateway.
type DispatchError struct {
	AppointmentID uuid.UUID
	Threshold     appointment.Threshold
	Attempt       int
	Exhausted     bool
	Err           error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch %s reminder for appointment %s (attempt %d)", e.Threshold, e.AppointmentID, e.Attempt)
	if e.Exhausted {
		msg += ", giving up"
	}
	return msg + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Window is the band of start times, relative to now, that a threshold
// covers. The bands are wider than the sweep interval so each appointment
// is seen by at least one tick.
type Window struct {
	Threshold appointment.Threshold
	Lower     time.Duration
	Upper     time.Duration
}

var Windows = []Window{
	{Threshold: appointment.Threshold24h, Lower: 23*time.Hour + 50*time.Minute, Upper: 24*time.Hour + 10*time.Minute},
	{Threshold: appointment.Threshold3h, Lower: 2*time.Hour + 50*time.Minute, Upper: 3*time.Hour + 10*time.Minute},
	{Threshold: appointment.Threshold1h, Lower: 50 * time.Minute, Upper: time.Hour + 10*time.Minute},
}

// Bounds returns the inclusive start range the window selects at now.
func (w Window) Bounds(now time.Time) (from, to time.Time) {
	return now.Add(w.Lower), now.Add(w.Upper)
}

// RetryPolicy caps failed dispatches per appointment and threshold.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   5 * time.Minute,
	MaxDelay:    30 * time.Minute,
}

// Delay is the wait after the given failed attempt (1-based):
// BaseDelay doubled per previous failure, capped by MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}
