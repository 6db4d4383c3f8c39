package events

import (
	"context"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
)

// Publisher delivers a single event and reports the failure, if any.
// The Dispatcher turns that into fire-and-forget for the lifecycle service.
type Publisher interface {
	Deliver(ctx context.Context, ev appointment.Event) error
}

// Payload is the wire shape shared by every publisher.
type Payload struct {
	Type            string     `json:"type"`
	AppointmentID   string     `json:"appointment_id"`
	PractitionerID  string     `json:"practitioner_id"`
	PatientID       string     `json:"patient_id"`
	Status          string     `json:"status"`
	StartAt         time.Time  `json:"start_at"`
	DurationMinutes int        `json:"duration_minutes"`
	PreviousStartAt *time.Time `json:"previous_start_at,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

func NewPayload(ev appointment.Event) Payload {
	p := Payload{
		Type:            string(ev.Type),
		AppointmentID:   ev.Appointment.ID.String(),
		PractitionerID:  ev.Appointment.PractitionerID.String(),
		PatientID:       ev.Appointment.PatientID.String(),
		Status:          string(ev.Appointment.Status),
		StartAt:         ev.Appointment.StartAt.UTC(),
		DurationMinutes: ev.Appointment.DurationMinutes,
		Reason:          ev.Reason,
		OccurredAt:      ev.OccurredAt.UTC(),
	}
	if ev.Previous != nil {
		prev := ev.Previous.StartAt.UTC()
		p.PreviousStartAt = &prev
	}
	return p
}

// LogType is the event_logs.event_type value, e.g. APPOINTMENT_NO_SHOW.
func LogType(t appointment.EventType) string {
	return "APPOINTMENT_" + strings.ToUpper(string(t))
}
