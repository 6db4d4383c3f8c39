package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OccupancyReader lists a practitioner's appointments whose start falls in
// [from, to). Callers widen the range themselves; no overlap logic lives here.
type OccupancyReader interface {
	ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

// BlockRepository returns blocks that touch [from, to).
type BlockRepository interface {
	ListBlocks(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Block, error)
}

// Tx is the view of storage inside a practitioner-scoped transaction.
// No other write to the same practitioner's appointments interleaves with it.
type Tx interface {
	OccupancyReader
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	// RescheduleAppointment moves the interval and resets every reminder
	// flag and recorded attempt.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error)
}

// Repository contains all storage interactions needed by the lifecycle service.
type Repository interface {
	OccupancyReader

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// InPractitionerTx runs fn atomically and serialized per practitioner.
	InPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// UpdateAppointmentStatus is conditional on the current status; it returns
	// ErrAppointmentNotFound when no row is in status from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)
}

// ReminderStore backs the reminder sweep.
type ReminderStore interface {
	// FindReminderCandidates returns active appointments starting in [from, to]
	// whose flag for t is unset and whose retry state allows an attempt at now.
	FindReminderCandidates(ctx context.Context, t Threshold, from, to, now time.Time) ([]ReminderCandidate, error)
	// MarkReminderSent sets the flag while the appointment still starts at
	// startAt. false means the flag was already set or the appointment moved.
	MarkReminderSent(ctx context.Context, id uuid.UUID, startAt time.Time, t Threshold) (bool, error)
	// RecordReminderFailure is dropped when the appointment no longer starts
	// at attempt.StartAt.
	RecordReminderFailure(ctx context.Context, attempt ReminderAttempt) error
}

// ReconcileStore backs the completion job.
type ReconcileStore interface {
	// FindOverdue returns active appointments that ended before cutoff.
	FindOverdue(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)
}
