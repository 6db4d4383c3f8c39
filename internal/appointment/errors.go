package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidInput        = errors.New("invalid appointment input")
	ErrPastDate            = errors.New("appointment start is in the past")
	ErrSlotConflict        = errors.New("slot conflicts with an existing booking")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrScheduleBusy        = errors.New("practitioner schedule is being modified, please retry")
	ErrOutsideLeadTime     = errors.New("start is outside the practitioner's booking lead time")
)

type ConflictKind string

const (
	ConflictAppointment ConflictKind = "appointment"
	ConflictBlock       ConflictKind = "block"
)

// Conflict describes what occupies a requested interval.
type Conflict struct {
	Kind            ConflictKind
	AppointmentID   *uuid.UUID
	PatientID       *uuid.UUID
	BlockID         *uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Reason          string
}

// PatientLabel is a short, non-identifying reference to the patient holding
// the conflicting slot.
func (c Conflict) PatientLabel() string {
	if c.PatientID == nil {
		return ""
	}
	s := c.PatientID.String()
	return "patient-" + s[:8]
}

type SlotConflictError struct {
	Conflict Conflict
}

func (e *SlotConflictError) Error() string {
	c := e.Conflict
	switch {
	case c.Kind == ConflictBlock:
		return fmt.Sprintf("slot conflicts with block %q starting %s", c.Reason, c.StartAt.Format(time.RFC3339))
	case c.StartAt.IsZero():
		return ErrSlotConflict.Error()
	default:
		return fmt.Sprintf("slot conflicts with appointment starting %s (%d min)", c.StartAt.Format(time.RFC3339), c.DurationMinutes)
	}
}

func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

type InvalidTransitionError struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	Action        string
	Reason        string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s appointment %s in status %s", e.Action, e.AppointmentID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
