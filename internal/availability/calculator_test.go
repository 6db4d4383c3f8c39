package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

func clinicConfig(t *testing.T, practitionerID uuid.UUID) Config {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	lunchStart, lunchEnd := zonedtime.NewClockTime(12, 0), zonedtime.NewClockTime(13, 0)
	return Config{
		PractitionerID: practitionerID,
		Location:       loc,
		WorkingDays:    Weekdays(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
		DayStart:       zonedtime.NewClockTime(8, 0),
		DayEnd:         zonedtime.NewClockTime(18, 0),
		LunchStart:     &lunchStart,
		LunchEnd:       &lunchEnd,
		SlotMinutes:    30,
		MinLeadMinutes: 60,
	}
}

func at(cfg Config, day, hour, minute int) time.Time {
	return time.Date(2025, 12, day, hour, minute, 0, 0, cfg.Loc())
}

func fixedClock(t time.Time) zonedtime.Clock {
	return zonedtime.ClockFunc(func() time.Time { return t })
}

func clockTimes(slots []time.Time, loc *time.Location) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.In(loc).Format("15:04")
	}
	return out
}

func newCalculator(cfg Config, repo *appointment.MemoryRepository, now time.Time) *Calculator {
	detector := appointment.NewConflictDetector(repo, repo)
	return NewCalculator(NewStaticProvider(cfg), detector, fixedClock(now))
}

func TestListAvailableSlotsExcludesLunchAndLeadTime(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	repo := appointment.NewMemoryRepository()
	now := at(cfg, 1, 9, 10) // Monday 09:10, earliest bookable 10:10

	calc := newCalculator(cfg, repo, now)
	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-01", 30)
	require.NoError(t, err)

	got := clockTimes(slots, cfg.Loc())
	assert.Equal(t, []string{
		"10:30", "11:00", "11:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00", "17:30",
	}, got)
	assert.NotContains(t, got, "12:00")
	assert.NotContains(t, got, "12:30")
	for _, s := range slots {
		assert.False(t, s.Before(now.Add(cfg.MinLead())))
	}
}

func TestListAvailableSlotsFullDay(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	repo := appointment.NewMemoryRepository()

	calc := newCalculator(cfg, repo, at(cfg, 1, 0, 0).AddDate(0, 0, -1)) // Sunday before
	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-01", 0)
	require.NoError(t, err)
	assert.Len(t, slots, 18)
	assert.Equal(t, "08:00", clockTimes(slots, cfg.Loc())[0])
	assert.Equal(t, "17:30", clockTimes(slots, cfg.Loc())[17])
}

func TestListAvailableSlotsSkipsNonWorkingDays(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), at(cfg, 1, 0, 0))

	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-06", 30) // Saturday
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestListAvailableSlotsDropsOccupiedIntervals(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	repo := appointment.NewMemoryRepository()

	repo.Put(appointment.Appointment{
		ID: uuid.New(), PractitionerID: pid, PatientID: uuid.New(),
		StartAt: at(cfg, 1, 9, 0), DurationMinutes: 30, Status: appointment.StatusConfirmed,
	})
	repo.Put(appointment.Appointment{
		ID: uuid.New(), PractitionerID: pid, PatientID: uuid.New(),
		StartAt: at(cfg, 1, 10, 0), DurationMinutes: 30, Status: appointment.StatusCancelled,
	})
	repo.Put(appointment.Appointment{
		ID: uuid.New(), PractitionerID: pid, PatientID: uuid.New(),
		StartAt: at(cfg, 1, 10, 45), DurationMinutes: 30, Status: appointment.StatusScheduled,
	})
	repo.AddBlock(appointment.Block{PractitionerID: pid, StartAt: at(cfg, 1, 15, 0), EndAt: at(cfg, 1, 16, 0), Reason: "vacation"})

	calc := newCalculator(cfg, repo, at(cfg, 1, 0, 0))
	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-01", 30)
	require.NoError(t, err)

	got := clockTimes(slots, cfg.Loc())
	assert.NotContains(t, got, "09:00")
	assert.Contains(t, got, "10:00", "cancelled appointments free their slot")
	assert.NotContains(t, got, "10:30")
	assert.NotContains(t, got, "11:00")
	assert.NotContains(t, got, "15:00")
	assert.NotContains(t, got, "15:30")
	assert.Contains(t, got, "16:00")
}

func TestListAvailableSlotsStepsByDuration(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), at(cfg, 1, 0, 0))

	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-01", 45)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"08:00", "08:45", "09:30", "10:15", "11:00",
		"13:15", "14:00", "14:45", "15:30", "16:15", "17:00",
	}, clockTimes(slots, cfg.Loc()))
}

func TestListAvailableSlotsHonoursMaxLead(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	cfg.MinLeadMinutes = 0
	cfg.MaxLeadHours = 4
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), at(cfg, 1, 6, 0))

	slots, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "2025-12-01", 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "08:30", "09:00", "09:30", "10:00"}, clockTimes(slots, cfg.Loc()))
}

func TestListAvailableSlotsAcrossRange(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), at(cfg, 1, 0, 0))

	// Friday 5th to Monday 8th exclusive: only Friday is a working day
	slots, err := calc.ListAvailableSlots(context.Background(), pid, at(cfg, 5, 0, 0), at(cfg, 8, 0, 0), 60)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for i, s := range slots {
		assert.Equal(t, time.Friday, s.In(cfg.Loc()).Weekday())
		if i > 0 {
			assert.True(t, s.After(slots[i-1]))
		}
	}
}

func TestListAvailableSlotsUnknownPractitioner(t *testing.T) {
	cfg := clinicConfig(t, uuid.New())
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), time.Now())

	_, err := calc.ListAvailableSlotsOnDate(context.Background(), uuid.New(), "2025-12-01", 30)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestListAvailableSlotsInvalidDate(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), time.Now())

	_, err := calc.ListAvailableSlotsOnDate(context.Background(), pid, "01/12/2025", 30)
	assert.ErrorIs(t, err, zonedtime.ErrInvalidTimeFormat)
}

func TestCandidatesIsRestartable(t *testing.T) {
	cfg := clinicConfig(t, uuid.New())
	seq := Candidates(cfg, at(cfg, 1, 0, 0), at(cfg, 2, 0, 0), 60, at(cfg, 1, 0, 0))

	var first, second []time.Time
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	assert.Equal(t, first, second)
	assert.Len(t, first, 9) // 08..11 and 13..17
}

func TestCandidatesStopsEarly(t *testing.T) {
	cfg := clinicConfig(t, uuid.New())
	n := 0
	for range Candidates(cfg, at(cfg, 1, 0, 0), at(cfg, 31, 0, 0), 30, at(cfg, 1, 0, 0)) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestCheckLeadTime(t *testing.T) {
	pid := uuid.New()
	cfg := clinicConfig(t, pid)
	cfg.MaxLeadHours = 24 * 30
	now := at(cfg, 1, 9, 0)
	calc := newCalculator(cfg, appointment.NewMemoryRepository(), now)
	ctx := context.Background()

	assert.ErrorIs(t, calc.CheckLeadTime(ctx, pid, now.Add(30*time.Minute), now), ErrOutsideLeadTime)
	assert.NoError(t, calc.CheckLeadTime(ctx, pid, now.Add(2*time.Hour), now))
	assert.ErrorIs(t, calc.CheckLeadTime(ctx, pid, now.Add(31*24*time.Hour), now), ErrOutsideLeadTime)

	// practitioners without a configuration are not restricted
	assert.NoError(t, calc.CheckLeadTime(ctx, uuid.New(), now.Add(time.Minute), now))
}

func TestConfigValidate(t *testing.T) {
	cfg := clinicConfig(t, uuid.New())
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DayEnd = bad.DayStart
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.LunchEnd = nil
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.SlotMinutes = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}
