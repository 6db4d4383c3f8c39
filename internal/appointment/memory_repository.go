package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type attemptKey struct {
	id        uuid.UUID
	threshold Threshold
}

// MemoryRepository is an in-process Repository, ReminderStore, ReconcileStore
// and BlockRepository. Practitioner transactions are serialized by a
// per-practitioner mutex and staged until fn returns nil.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	blocks       map[uuid.UUID][]Block
	attempts     map[attemptKey]ReminderAttempt

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		blocks:       make(map[uuid.UUID][]Block),
		attempts:     make(map[attemptKey]ReminderAttempt),
		locks:        make(map[uuid.UUID]*sync.Mutex),
		now:          time.Now,
	}
}

// Put stores a copy of a as-is. Intended for seeding.
func (r *MemoryRepository) Put(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = a
}

func (r *MemoryRepository) AddBlock(b Block) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[b.PractitionerID] = append(r.blocks[b.PractitionerID], b)
}

func (r *MemoryRepository) ReminderAttempt(id uuid.UUID, t Threshold) (ReminderAttempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[attemptKey{id, t}]
	return a, ok
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListPractitionerAppointments(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(practitionerID, from, to, nil), nil
}

func (r *MemoryRepository) listLocked(practitionerID uuid.UUID, from, to time.Time, staged map[uuid.UUID]Appointment) []Appointment {
	var out []Appointment
	seen := make(map[uuid.UUID]struct{}, len(staged))
	pick := func(a Appointment) {
		if a.PractitionerID != practitionerID {
			return
		}
		if a.StartAt.Before(from) || !a.StartAt.Before(to) {
			return
		}
		out = append(out, a)
	}
	for id, a := range staged {
		seen[id] = struct{}{}
		pick(a)
	}
	for id, a := range r.appointments {
		if _, ok := seen[id]; ok {
			continue
		}
		pick(a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (r *MemoryRepository) ListBlocks(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Block
	for _, b := range r.blocks[practitionerID] {
		if b.StartAt.Before(to) && b.EndAt.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *MemoryRepository) practitionerLock(id uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

func (r *MemoryRepository) InPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	lock := r.practitionerLock(practitionerID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{repo: r, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range tx.staged {
		r.appointments[id] = a
	}
	for _, id := range tx.resetAttempts {
		for _, t := range Thresholds {
			delete(r.attempts, attemptKey{id, t})
		}
	}
	return nil
}

// UpdateAppointmentStatus waits for any open practitioner transaction, as a
// row lock would.
func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	r.mu.RLock()
	a, ok := r.appointments[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	lock := r.practitionerLock(a.PractitionerID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok = r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		reasonCopy := *reason
		a.CancelReason = &reasonCopy
	}
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) FindReminderCandidates(_ context.Context, t Threshold, from, to, now time.Time) ([]ReminderCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ReminderCandidate
	for _, a := range r.appointments {
		if !a.Status.Active() || a.Reminders.Sent(t) {
			continue
		}
		if a.StartAt.Before(from) || a.StartAt.After(to) {
			continue
		}
		c := ReminderCandidate{Appointment: a}
		if att, ok := r.attempts[attemptKey{a.ID, t}]; ok {
			if att.Exhausted || att.NextAttemptAt.After(now) {
				continue
			}
			c.Attempts = att.Attempts
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id uuid.UUID, startAt time.Time, t Threshold) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}
	if !a.StartAt.Equal(startAt) || a.Reminders.Sent(t) {
		return false, nil
	}
	a.Reminders.Mark(t)
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	return true, nil
}

func (r *MemoryRepository) RecordReminderFailure(_ context.Context, attempt ReminderAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[attempt.AppointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if !a.StartAt.Equal(attempt.StartAt) {
		return nil
	}
	r.attempts[attemptKey{attempt.AppointmentID, attempt.Threshold}] = attempt
	return nil
}

func (r *MemoryRepository) FindOverdue(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status.Active() && a.EndAt().Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt().Before(out[j].EndAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryTx struct {
	repo          *MemoryRepository
	staged        map[uuid.UUID]Appointment
	resetAttempts []uuid.UUID
}

func (tx *memoryTx) ListPractitionerAppointments(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return tx.repo.listLocked(practitionerID, from, to, tx.staged), nil
}

func (tx *memoryTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := tx.staged[id]; ok {
		return &a, nil
	}
	return tx.repo.GetAppointmentByID(ctx, id)
}

func (tx *memoryTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := tx.repo.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	tx.staged[a.ID] = *a
	return nil
}

func (tx *memoryTx) RescheduleAppointment(ctx context.Context, id uuid.UUID, start time.Time, durationMinutes int) (*Appointment, error) {
	a, err := tx.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	a.StartAt = start
	a.DurationMinutes = durationMinutes
	a.Reminders = ReminderFlags{}
	a.UpdatedAt = tx.repo.now()
	tx.staged[id] = *a
	tx.resetAttempts = append(tx.resetAttempts, id)
	return a, nil
}
