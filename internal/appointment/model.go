package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Active reports whether the appointment is still expected to happen.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// FreesSlot reports whether an appointment in this status gives its
// interval back. Every other status occupies it, including completed.
func (s AppointmentStatus) FreesSlot() bool {
	switch s {
	case StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 480

	// MaxDuration bounds how far back an overlapping appointment can start.
	MaxDuration = MaxDurationMinutes * time.Minute
)

// ClampDuration forces minutes into [MinDurationMinutes, MaxDurationMinutes].
func ClampDuration(minutes int) int {
	if minutes < MinDurationMinutes {
		return MinDurationMinutes
	}
	if minutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return minutes
}

// Threshold labels one of the fixed reminder look-ahead points.
type Threshold string

const (
	Threshold24h Threshold = "24h"
	Threshold3h  Threshold = "3h"
	Threshold1h  Threshold = "1h"
)

var Thresholds = []Threshold{Threshold24h, Threshold3h, Threshold1h}

func (t Threshold) Valid() bool {
	return t == Threshold24h || t == Threshold3h || t == Threshold1h
}

type ReminderFlags struct {
	Sent24h bool
	Sent3h  bool
	Sent1h  bool
}

func (f ReminderFlags) Sent(t Threshold) bool {
	switch t {
	case Threshold24h:
		return f.Sent24h
	case Threshold3h:
		return f.Sent3h
	case Threshold1h:
		return f.Sent1h
	}
	return false
}

func (f *ReminderFlags) Mark(t Threshold) {
	switch t {
	case Threshold24h:
		f.Sent24h = true
	case Threshold3h:
		f.Sent3h = true
	case Threshold1h:
		f.Sent1h = true
	}
}

type Appointment struct {
	ID              uuid.UUID
	PractitionerID  uuid.UUID
	PatientID       uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Reminders       ReminderFlags
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(a.Duration())
}

// Block is an explicit blackout for a practitioner (vacation, leave).
type Block struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	StartAt        time.Time
	EndAt          time.Time
	Reason         string
}

// ReminderAttempt tracks failed dispatches for one appointment and threshold.
type ReminderAttempt struct {
	AppointmentID uuid.UUID
	StartAt       time.Time
	Threshold     Threshold
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	Exhausted     bool
}

// ReminderCandidate is an appointment due for a reminder together with the
// failed attempts already recorded for that threshold.
type ReminderCandidate struct {
	Appointment
	Attempts int
}

type EventType string

const (
	EventCreated     EventType = "created"
	EventRescheduled EventType = "rescheduled"
	EventCancelled   EventType = "cancelled"
	EventNoShow      EventType = "no_show"
	EventConfirmed   EventType = "confirmed"
	EventCompleted   EventType = "completed"
)

type Event struct {
	Type        EventType
	Appointment Appointment
	Previous    *Appointment
	Reason      string
	OccurredAt  time.Time
}
