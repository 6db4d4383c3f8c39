package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, practitioner_id, patient_id, start_at, duration_minutes, status,
	sent_24h, sent_3h, sent_1h, cancel_reason, created_at, updated_at`

// exclusionViolation is raised by appointments_no_overlap.
const exclusionViolation = "23P01"

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var reason *string

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.PatientID,
		&a.StartAt,
		&a.DurationMinutes,
		&status,
		&a.Reminders.Sent24h,
		&a.Reminders.Sent3h,
		&a.Reminders.Sent1h,
		&reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.CancelReason = reason
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func reminderColumn(t Threshold) (string, error) {
	switch t {
	case Threshold24h:
		return "sent_24h", nil
	case Threshold3h:
		return "sent_3h", nil
	case Threshold1h:
		return "sent_1h", nil
	}
	return "", fmt.Errorf("unknown reminder threshold %q", t)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return &SlotConflictError{Conflict: Conflict{Kind: ConflictAppointment, Reason: pgErr.ConstraintName}}
	}
	return err
}

func listPractitionerAppointments(ctx context.Context, q queryer, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listPractitionerAppointments(ctx, r.db, practitionerID, from, to)
}

// InPractitionerTx serializes writers per practitioner with a transaction
// scoped advisory lock. The appointments_no_overlap exclusion constraint
// remains the last line of defence.
func (r *PgRepository) InPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, practitionerID.String()); err != nil {
		return fmt.Errorf("acquire practitioner advisory lock: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), reason)

	return scanAppointment(row)
}

func (r *PgRepository) FindReminderCandidates(ctx context.Context, t Threshold, from, to, now time.Time) ([]ReminderCandidate, error) {
	col, err := reminderColumn(t)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.practitioner_id, a.patient_id, a.start_at, a.duration_minutes, a.status,
		       a.sent_24h, a.sent_3h, a.sent_1h, a.cancel_reason, a.created_at, a.updated_at,
		       COALESCE(ra.attempts, 0)
		FROM appointments a
		LEFT JOIN reminder_attempts ra
		       ON ra.appointment_id = a.id AND ra.threshold = $4
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND a.start_at BETWEEN $1 AND $2
		  AND NOT a.`+col+`
		  AND (ra.appointment_id IS NULL OR (NOT ra.exhausted AND ra.next_attempt_at <= $3))
		ORDER BY a.start_at
	`, from, to, now, string(t))
	if err != nil {
		return nil, fmt.Errorf("find reminder candidates: %w", err)
	}
	defer rows.Close()

	var result []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		var status string
		err := rows.Scan(
			&c.ID, &c.PractitionerID, &c.PatientID, &c.StartAt, &c.DurationMinutes, &status,
			&c.Reminders.Sent24h, &c.Reminders.Sent3h, &c.Reminders.Sent1h, &c.CancelReason,
			&c.CreatedAt, &c.UpdatedAt, &c.Attempts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		c.Status = AppointmentStatus(status)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, startAt time.Time, t Threshold) (bool, error) {
	col, err := reminderColumn(t)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET `+col+` = true,
		    updated_at = now()
		WHERE id = $1
		  AND start_at = $2
		  AND NOT `+col, id, startAt)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) RecordReminderFailure(ctx context.Context, attempt ReminderAttempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reminder_attempts (appointment_id, threshold, attempts, last_error, next_attempt_at, exhausted, updated_at)
		SELECT id, $2::text, $3::int, $4::text, $5::timestamptz, $6::boolean, now()
		FROM appointments
		WHERE id = $1 AND start_at = $7
		ON CONFLICT (appointment_id, threshold) DO UPDATE
		SET attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error,
		    next_attempt_at = EXCLUDED.next_attempt_at,
		    exhausted = EXCLUDED.exhausted,
		    updated_at = now()
	`, attempt.AppointmentID, string(attempt.Threshold), attempt.Attempts, attempt.LastError, attempt.NextAttemptAt, attempt.Exhausted, attempt.StartAt)
	if err != nil {
		return fmt.Errorf("record reminder failure: %w", err)
	}
	return nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND end_at < $1
		ORDER BY end_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find overdue appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBlocks(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Block, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, practitioner_id, start_at, end_at, reason
		FROM practitioner_blocks
		WHERE practitioner_id = $1
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.PractitionerID, &b.StartAt, &b.EndAt, &b.Reason); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ListPractitionerAppointments(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return listPractitionerAppointments(ctx, t.tx, practitionerID, from, to)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, practitioner_id, patient_id, start_at, end_at, duration_minutes, status,
		                          sent_24h, sent_3h, sent_1h, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, false, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PractitionerID, a.PatientID, a.StartAt, a.EndAt(), a.DurationMinutes, string(a.Status))

	inserted, err := scanAppointment(row)
	if err != nil {
		return mapWriteError(fmt.Errorf("insert appointment: %w", err))
	}
	*a = *inserted
	return nil
}

func (t *pgTx) RescheduleAppointment(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_at = $2,
		    end_at = $3,
		    duration_minutes = $4,
		    sent_24h = false,
		    sent_3h = false,
		    sent_1h = false,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, start, end, durationMinutes)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(fmt.Errorf("reschedule appointment: %w", err))
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM reminder_attempts WHERE appointment_id = $1`, id); err != nil {
		return nil, fmt.Errorf("reset reminder attempts: %w", err)
	}
	return updated, nil
}
