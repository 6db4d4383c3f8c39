package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/engine"
	"github.com/hackgods/clinic-scheduling-engine/internal/worker"
)

// StartFields lets callers give a start either as an absolute instant or as
// wall-clock date and time in a zone (the clinic zone when omitted).
type StartFields struct {
	StartAt  *time.Time `json:"start_at,omitempty"`
	Date     string     `json:"date,omitempty"`
	Time     string     `json:"time,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

type CreateAppointmentRequest struct {
	PractitionerID      string `json:"practitioner_id"`
	PatientID           string `json:"patient_id"`
	DurationMinutes     int    `json:"duration_minutes"`
	RequireConfirmation bool   `json:"require_confirmation"`
	StartFields
}

type RescheduleAppointmentRequest struct {
	DurationMinutes *int `json:"duration_minutes,omitempty"`
	StartFields
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type ReminderFlagsResponse struct {
	Sent24h bool `json:"sent_24h"`
	Sent3h  bool `json:"sent_3h"`
	Sent1h  bool `json:"sent_1h"`
}

type AppointmentResponse struct {
	ID              uuid.UUID             `json:"id"`
	PractitionerID  uuid.UUID             `json:"practitioner_id"`
	PatientID       uuid.UUID             `json:"patient_id"`
	StartAt         time.Time             `json:"start_at"`
	EndAt           time.Time             `json:"end_at"`
	DurationMinutes int                   `json:"duration_minutes"`
	Status          string                `json:"status"`
	Reminders       ReminderFlagsResponse `json:"reminders"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PractitionerID:  a.PractitionerID,
		PatientID:       a.PatientID,
		StartAt:         a.StartAt,
		EndAt:           a.EndAt(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Reminders: ReminderFlagsResponse{
			Sent24h: a.Reminders.Sent24h,
			Sent3h:  a.Reminders.Sent3h,
			Sent1h:  a.Reminders.Sent1h,
		},
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type SlotsResponse struct {
	PractitionerID  uuid.UUID   `json:"practitioner_id"`
	Date            string      `json:"date"`
	DurationMinutes int         `json:"duration_minutes,omitempty"`
	Slots           []time.Time `json:"slots"`
}

type ConflictResponse struct {
	Kind            string     `json:"kind"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	BlockID         *uuid.UUID `json:"block_id,omitempty"`
	Patient         string     `json:"patient,omitempty"`
	StartAt         time.Time  `json:"start_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Reason          string     `json:"reason,omitempty"`
}

func toConflictResponse(c *appointment.Conflict) *ConflictResponse {
	if c == nil {
		return nil
	}
	return &ConflictResponse{
		Kind:            string(c.Kind),
		AppointmentID:   c.AppointmentID,
		BlockID:         c.BlockID,
		Patient:         c.PatientLabel(),
		StartAt:         c.StartAt,
		DurationMinutes: c.DurationMinutes,
		Reason:          c.Reason,
	}
}

type SlotCheckResponse struct {
	Available bool              `json:"available"`
	StartAt   time.Time         `json:"start_at"`
	Conflict  *ConflictResponse `json:"conflict,omitempty"`
}

type JobRunResponse struct {
	Job    worker.Status `json:"job"`
	Error  string        `json:"error,omitempty"`
	Status string        `json:"status"`
}

type SchedulerHealthResponse = engine.SchedulerHealth

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}
