package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/engine"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
	"github.com/hackgods/clinic-scheduling-engine/internal/worker"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

// Scheduler is the engine surface the HTTP layer drives.
type Scheduler interface {
	Times() *zonedtime.Normalizer

	CreateAppointment(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, in appointment.RescheduleInput) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)

	ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, date string, durationMinutes int) ([]time.Time, error)
	CheckSlotAvailable(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int) (engine.SlotCheck, error)
	InvalidateAvailability(practitionerID uuid.UUID)

	TriggerReminderSweepNow(ctx context.Context) (worker.Status, error)
	TriggerStatusReconciliationNow(ctx context.Context) (worker.Status, error)
	GetSchedulerHealth(ctx context.Context) engine.SchedulerHealth
}

type handlers struct {
	engine Scheduler
	logger zerolog.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	start, err := h.resolveStart(req.StartFields)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	appt, err := h.engine.CreateAppointment(r.Context(), appointment.CreateInput{
		PractitionerID:      practitionerID,
		PatientID:           patientID,
		StartAt:             start,
		DurationMinutes:     req.DurationMinutes,
		RequireConfirmation: req.RequireConfirmation,
	})
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.engine.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	start, err := h.resolveStart(req.StartFields)
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}

	appt, err := h.engine.RescheduleAppointment(r.Context(), id, appointment.RescheduleInput{
		StartAt:         start,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	// the body is optional
	var req CancelAppointmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	appt, err := h.engine.CancelAppointment(r.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		h.handleLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) transitionHandler(op func(context.Context, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := op(r.Context(), id)
		if err != nil {
			h.handleLifecycleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := practitionerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, err := h.parseBound(q.Get("from"), false)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}
	to, err := h.parseBound(q.Get("to"), true)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}

	appts, err := h.engine.ListPractitionerAppointments(r.Context(), practitionerID, from, to)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}

	resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := practitionerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	duration, err := optionalInt(q.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a number of minutes")
		return
	}

	slots, err := h.engine.ListAvailableSlots(r.Context(), practitionerID, q.Get("date"), duration)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}
	if slots == nil {
		slots = []time.Time{}
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		PractitionerID:  practitionerID,
		Date:            q.Get("date"),
		DurationMinutes: duration,
		Slots:           slots,
	})
}

func (h *handlers) checkSlot(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := practitionerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	duration, err := optionalInt(q.Get("duration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a number of minutes")
		return
	}

	fields := StartFields{Date: q.Get("date"), Time: q.Get("time"), Timezone: q.Get("timezone")}
	if raw := q.Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time_format", "start must be RFC 3339")
			return
		}
		fields.StartAt = &start
	}
	start, err := h.resolveStart(fields)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}

	check, err := h.engine.CheckSlotAvailable(r.Context(), practitionerID, start, duration)
	if err != nil {
		h.handleReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotCheckResponse{
		Available: check.Available,
		StartAt:   start,
		Conflict:  toConflictResponse(check.Conflict),
	})
}

func (h *handlers) invalidateAvailability(w http.ResponseWriter, r *http.Request) {
	practitionerID, ok := practitionerID(w, r)
	if !ok {
		return
	}
	h.engine.InvalidateAvailability(practitionerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) runJob(run func(context.Context) (worker.Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := run(r.Context())
		resp := JobRunResponse{Job: status, Status: "ok"}

		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, resp)
		case errors.Is(err, worker.ErrLeaseHeld):
			resp.Status, resp.Error = "skipped", err.Error()
			writeJSON(w, http.StatusConflict, resp)
		default:
			l := logging.FromContext(r.Context(), h.logger)
			l.Error().Err(err).Str("job", status.Name).Msg("manual job run failed")
			resp.Status, resp.Error = "error", err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
		}
	}
}

func (h *handlers) schedulerHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetSchedulerHealth(r.Context()))
}

func (h *handlers) resolveStart(f StartFields) (time.Time, error) {
	if f.StartAt != nil {
		return *f.StartAt, nil
	}
	if f.Date == "" || f.Time == "" {
		return time.Time{}, fmt.Errorf("%w: start_at or date and time are required", zonedtime.ErrInvalidTimeFormat)
	}
	times := h.engine.Times()
	loc, err := times.LoadLocation(f.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	return times.ToZonedInstant(f.Date, f.Time, loc)
}

// parseBound accepts RFC 3339 or a YYYY-MM-DD date in the clinic zone. A
// date used as an upper bound covers the whole day.
func (h *handlers) parseBound(raw string, upper bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: from and to are required", zonedtime.ErrInvalidTimeFormat)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := zonedtime.ParseDate(raw, h.engine.Times().Location())
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func practitionerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) handleLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *appointment.SlotConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "slot_conflict",
			Details:  err.Error(),
			Conflict: toConflictResponse(&conflict.Conflict),
		})
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, zonedtime.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrPastDate):
		writeError(w, http.StatusUnprocessableEntity, "past_date", err.Error())
	case errors.Is(err, appointment.ErrOutsideLeadTime):
		writeError(w, http.StatusUnprocessableEntity, "outside_lead_time", err.Error())
	case errors.Is(err, appointment.ErrScheduleBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "schedule_busy", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "operation timed out")
	default:
		l := logging.FromContext(r.Context(), h.logger)
		l.Error().Err(err).Msg("lifecycle request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func (h *handlers) handleReadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, availability.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, "availability_not_configured", err.Error())
	case errors.Is(err, zonedtime.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time_format", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "operation timed out")
	default:
		l := logging.FromContext(r.Context(), h.logger)
		l.Error().Err(err).Msg("read request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
