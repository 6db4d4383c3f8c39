package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

type sink struct {
	mu     sync.Mutex
	events []appointment.Event
}

func (s *sink) Publish(_ context.Context, ev appointment.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

var now = time.Date(2025, 12, 1, 15, 0, 0, 0, time.UTC)

func put(repo *appointment.MemoryRepository, endedAgo time.Duration, status appointment.AppointmentStatus) appointment.Appointment {
	a := appointment.Appointment{
		ID:              uuid.New(),
		PractitionerID:  uuid.New(),
		PatientID:       uuid.New(),
		StartAt:         now.Add(-endedAgo - 30*time.Minute),
		DurationMinutes: 30,
		Status:          status,
	}
	repo.Put(a)
	return a
}

func newReconciler(repo appointment.ReconcileStore, s *sink, opts ...Option) *Reconciler {
	base := []Option{WithClock(zonedtime.ClockFunc(func() time.Time { return now }))}
	return NewReconciler(repo, s, append(base, opts...)...)
}

func TestReconcileCompletesOverdueAppointments(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	s := &sink{}
	ctx := context.Background()

	overdue := put(repo, 90*time.Minute, appointment.StatusConfirmed)
	scheduled := put(repo, 3*time.Hour, appointment.StatusScheduled)
	recent := put(repo, 30*time.Minute, appointment.StatusConfirmed)
	cancelled := put(repo, 5*time.Hour, appointment.StatusCancelled)

	res, err := newReconciler(repo, s).Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Overdue: 2, Completed: 2}, res)

	for _, id := range []uuid.UUID{overdue.ID, scheduled.ID} {
		a, err := repo.GetAppointmentByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, appointment.StatusCompleted, a.Status)
	}
	for id, want := range map[uuid.UUID]appointment.AppointmentStatus{
		recent.ID:    appointment.StatusConfirmed,
		cancelled.ID: appointment.StatusCancelled,
	} {
		a, err := repo.GetAppointmentByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a.Status)
	}

	require.Len(t, s.events, 2)
	assert.Equal(t, appointment.EventCompleted, s.events[0].Type)

	res, err = newReconciler(repo, s).Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Completed, "a second pass finds nothing")
}

func TestReconcileHonoursTolerance(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	put(repo, 20*time.Minute, appointment.StatusConfirmed)

	res, err := newReconciler(repo, &sink{}, WithTolerance(15*time.Minute)).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
}

func TestReconcilePagesThroughBatches(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	for range 7 {
		put(repo, 2*time.Hour, appointment.StatusConfirmed)
	}

	res, err := newReconciler(repo, &sink{}, WithBatchSize(3)).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, res.Completed)
}

type flakyStore struct {
	*appointment.MemoryRepository
	failFor uuid.UUID
}

func (f flakyStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to appointment.AppointmentStatus, reason *string) (*appointment.Appointment, error) {
	if id == f.failFor {
		return nil, errors.New("deadlock detected")
	}
	return f.MemoryRepository.UpdateAppointmentStatus(ctx, id, from, to, reason)
}

func TestReconcileIsolatesItemFailures(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	bad := put(repo, 2*time.Hour, appointment.StatusConfirmed)
	put(repo, 3*time.Hour, appointment.StatusConfirmed)

	res, err := newReconciler(flakyStore{repo, bad.ID}, &sink{}).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
}

func TestReconcileStopsWhenNoProgress(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	bad := put(repo, 2*time.Hour, appointment.StatusConfirmed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := newReconciler(flakyStore{repo, bad.ID}, &sink{}, WithBatchSize(1)).Reconcile(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile looped on a failing page")
	}
}

func TestPending(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	put(repo, 2*time.Hour, appointment.StatusConfirmed)
	put(repo, 10*time.Minute, appointment.StatusConfirmed)

	n, err := newReconciler(repo, nil).Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
