package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

var appointmentRowColumns = []string{
	"id", "practitioner_id", "patient_id", "start_at", "duration_minutes", "status",
	"sent_24h", "sent_3h", "sent_1h", "cancel_reason", "created_at", "updated_at",
}

func appointmentRows(appts ...Appointment) *pgxmock.Rows {
	rows := pgxmock.NewRows(appointmentRowColumns)
	for _, a := range appts {
		rows.AddRow(a.ID, a.PractitionerID, a.PatientID, a.StartAt, a.DurationMinutes, string(a.Status),
			a.Reminders.Sent24h, a.Reminders.Sent3h, a.Reminders.Sent1h, a.CancelReason, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func sampleAppointment() Appointment {
	return Appointment{
		ID:              uuid.New(),
		PractitionerID:  uuid.New(),
		PatientID:       uuid.New(),
		StartAt:         mondayAt(9, 0),
		DurationMinutes: 30,
		Status:          StatusConfirmed,
		CreatedAt:       monday,
		UpdatedAt:       monday,
	}
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgGetAppointmentByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	want := sampleAppointment()
	want.Reminders.Sent24h = true

	mock.ExpectQuery("FROM appointments").WithArgs(want.ID).WillReturnRows(appointmentRows(want))
	got, err := repo.GetAppointmentByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.True(t, got.Reminders.Sent24h)
	assert.Nil(t, got.CancelReason)

	missing := uuid.New()
	mock.ExpectQuery("FROM appointments").WithArgs(missing).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetAppointmentByID(context.Background(), missing)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateThroughServiceUsesAdvisoryLock(t *testing.T) {
	mock, repo := newMockRepo(t)
	prac := uuid.New()
	patient := uuid.New()
	start := mondayAt(9, 0)

	inserted := Appointment{
		ID: uuid.New(), PractitionerID: prac, PatientID: patient, StartAt: start,
		DurationMinutes: 30, Status: StatusConfirmed, CreatedAt: monday, UpdatedAt: monday,
	}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(prac.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("FROM appointments").
		WithArgs(prac, start.Add(-MaxDuration), start.Add(30*time.Minute)).
		WillReturnRows(appointmentRows())
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), prac, patient, start, start.Add(30*time.Minute), 30, "confirmed").
		WillReturnRows(appointmentRows(inserted))
	mock.ExpectCommit()

	svc := NewService(repo, NewConflictDetector(repo, nil),
		WithClock(zonedtime.ClockFunc(func() time.Time { return mondayAt(6, 0) })))
	got, err := svc.CreateAppointment(context.Background(), CreateInput{
		PractitionerID: prac, PatientID: patient, StartAt: start, DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, inserted.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertExclusionViolationIsSlotConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := &Appointment{
		ID: uuid.New(), PractitionerID: uuid.New(), PatientID: uuid.New(),
		StartAt: mondayAt(9, 0), DurationMinutes: 30, Status: StatusConfirmed,
	}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(a.PractitionerID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(a.ID, a.PractitionerID, a.PatientID, a.StartAt, a.EndAt(), 30, "confirmed").
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err := repo.InPractitionerTx(context.Background(), a.PractitionerID, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, a)
	})
	var conflict *SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, "appointments_no_overlap", conflict.Conflict.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRescheduleResetsAttempts(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()
	newStart := mondayAt(14, 0)
	moved := a
	moved.StartAt = newStart

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(a.PractitionerID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, newStart, newStart.Add(30*time.Minute), 30).
		WillReturnRows(appointmentRows(moved))
	mock.ExpectExec("DELETE FROM reminder_attempts").WithArgs(a.ID).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err := repo.InPractitionerTx(context.Background(), a.PractitionerID, func(ctx context.Context, tx Tx) error {
		got, err := tx.RescheduleAppointment(ctx, a.ID, newStart, 30)
		if err != nil {
			return err
		}
		assert.Equal(t, newStart, got.StartAt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateAppointmentStatusIsConditional(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()
	reason := "clinic closed"
	cancelled := a
	cancelled.Status = StatusCancelled
	cancelled.CancelReason = &reason

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "cancelled", "confirmed", &reason).
		WillReturnRows(appointmentRows(cancelled))
	got, err := repo.UpdateAppointmentStatus(context.Background(), a.ID, StatusConfirmed, StatusCancelled, &reason)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, reason, *got.CancelReason)

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, "completed", "confirmed", (*string)(nil)).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.UpdateAppointmentStatus(context.Background(), a.ID, StatusConfirmed, StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkReminderSent(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	start := mondayAt(9, 0)
	ctx := context.Background()

	mock.ExpectExec("SET sent_3h = true(.|\\n)*start_at = \\$2").WithArgs(id, start).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.MarkReminderSent(ctx, id, start, Threshold3h)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("SET sent_3h = true").WithArgs(id, start).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = repo.MarkReminderSent(ctx, id, start, Threshold3h)
	require.NoError(t, err)
	assert.False(t, ok, "an already-set flag or a moved appointment is not marked")

	_, err = repo.MarkReminderSent(ctx, id, start, Threshold("2h"))
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindReminderCandidates(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()
	from, to, now := mondayAt(8, 50), mondayAt(9, 10), mondayAt(8, 0)

	rows := pgxmock.NewRows(append(appointmentRowColumns, "attempts")).
		AddRow(a.ID, a.PractitionerID, a.PatientID, a.StartAt, a.DurationMinutes, "scheduled",
			false, false, false, (*string)(nil), a.CreatedAt, a.UpdatedAt, 2)
	mock.ExpectQuery("LEFT JOIN reminder_attempts").WithArgs(from, to, now, "1h").WillReturnRows(rows)

	got, err := repo.FindReminderCandidates(context.Background(), Threshold1h, from, to, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, StatusScheduled, got[0].Status)
	assert.Equal(t, 2, got[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRecordReminderFailure(t *testing.T) {
	mock, repo := newMockRepo(t)
	attempt := ReminderAttempt{
		AppointmentID: uuid.New(), StartAt: mondayAt(10, 0), Threshold: Threshold24h, Attempts: 3,
		LastError: "gateway down", NextAttemptAt: mondayAt(9, 0), Exhausted: true,
	}

	mock.ExpectExec("INSERT INTO reminder_attempts(.|\\n)*start_at = \\$7").
		WithArgs(attempt.AppointmentID, "24h", 3, "gateway down", attempt.NextAttemptAt, true, attempt.StartAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.RecordReminderFailure(context.Background(), attempt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindOverdueDefaultsLimit(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()
	cutoff := mondayAt(12, 0)

	mock.ExpectQuery("end_at < \\$1").WithArgs(cutoff, 500).WillReturnRows(appointmentRows(a))
	got, err := repo.FindOverdue(context.Background(), cutoff, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListBlocks(t *testing.T) {
	mock, repo := newMockRepo(t)
	prac := uuid.New()
	from, to := mondayAt(0, 0), mondayAt(23, 0)
	blockID := uuid.New()

	mock.ExpectQuery("FROM practitioner_blocks").WithArgs(prac, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "practitioner_id", "start_at", "end_at", "reason"}).
			AddRow(blockID, prac, mondayAt(13, 0), mondayAt(14, 0), "training"))
	blocks, err := repo.ListBlocks(context.Background(), prac, from, to)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "training", blocks[0].Reason)

	assert.NoError(t, mock.ExpectationsWereMet())
}
