package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

// OccupancyLoader is satisfied by *appointment.ConflictDetector.
type OccupancyLoader interface {
	Load(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) (*appointment.Occupancy, error)
}

// Candidates yields slot starts in [from, to) for cfg, stepping by the booked
// duration from day start, skipping non-working days, slots that touch lunch
// and slots outside the lead-time bounds relative to now. The sequence is
// finite, lazy and can be ranged over any number of times.
func Candidates(cfg Config, from, to time.Time, durationMinutes int, now time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if durationMinutes <= 0 || !to.After(from) {
			return
		}
		loc := cfg.Loc()
		earliest := now.Add(cfg.MinLead())
		var latest time.Time
		if cfg.MaxLeadHours > 0 {
			latest = now.Add(cfg.MaxLead())
		}

		for day := zonedtime.StartOfDay(from, loc); day.Before(to); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc) {
			if !cfg.Works(day.Weekday()) {
				continue
			}
			if !latest.IsZero() && day.After(latest) {
				return
			}

			var lunchStart, lunchEnd time.Time
			if cfg.HasLunch() {
				lunchStart, lunchEnd = cfg.LunchStart.On(day), cfg.LunchEnd.On(day)
			}

			for m := int(cfg.DayStart); m+durationMinutes <= int(cfg.DayEnd); m += durationMinutes {
				start := zonedtime.ClockTime(m).On(day)
				end := start.Add(time.Duration(durationMinutes) * time.Minute)

				if start.Before(from) || !start.Before(to) {
					continue
				}
				if start.Before(earliest) {
					continue
				}
				if !latest.IsZero() && start.After(latest) {
					return
				}
				if cfg.HasLunch() && appointment.Overlaps(start, end, lunchStart, lunchEnd) {
					continue
				}
				if !yield(start) {
					return
				}
			}
		}
	}
}

type Calculator struct {
	configs   ConfigurationProvider
	occupancy OccupancyLoader
	clock     zonedtime.Clock
}

func NewCalculator(configs ConfigurationProvider, occupancy OccupancyLoader, clock zonedtime.Clock) *Calculator {
	if clock == nil {
		clock = zonedtime.SystemClock
	}
	return &Calculator{configs: configs, occupancy: occupancy, clock: clock}
}

// ListAvailableSlots returns the bookable starts in [from, to) for a booking
// of durationMinutes (zero means the practitioner's default slot size).
// Lead-time filtering happens before any storage read.
func (c *Calculator) ListAvailableSlots(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, durationMinutes int) ([]time.Time, error) {
	cfg, err := c.configs.GetAvailability(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("get availability config: %w", err)
	}

	if durationMinutes <= 0 {
		durationMinutes = cfg.SlotMinutes
	}
	durationMinutes = appointment.ClampDuration(durationMinutes)
	length := time.Duration(durationMinutes) * time.Minute

	var candidates []time.Time
	for start := range Candidates(cfg, from, to, durationMinutes, c.clock.Now()) {
		candidates = append(candidates, start)
	}
	if len(candidates) == 0 {
		return []time.Time{}, nil
	}

	occ, err := c.occupancy.Load(ctx, practitionerID, candidates[0], candidates[len(candidates)-1].Add(length))
	if err != nil {
		return nil, fmt.Errorf("load occupancy: %w", err)
	}

	slots := make([]time.Time, 0, len(candidates))
	for _, start := range candidates {
		if occ.Conflict(start, durationMinutes, nil) != nil {
			continue
		}
		slots = append(slots, start)
	}
	return slots, nil
}

// ListAvailableSlotsOnDate lists slots for one calendar day (YYYY-MM-DD) in
// the practitioner's zone.
func (c *Calculator) ListAvailableSlotsOnDate(ctx context.Context, practitionerID uuid.UUID, date string, durationMinutes int) ([]time.Time, error) {
	cfg, err := c.configs.GetAvailability(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("get availability config: %w", err)
	}
	day, err := zonedtime.ParseDate(date, cfg.Loc())
	if err != nil {
		return nil, err
	}
	next := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
	return c.ListAvailableSlots(ctx, practitionerID, day, next, durationMinutes)
}

// CheckLeadTime enforces the practitioner's minimum and maximum lead time
// for a booking starting at start. Practitioners without a configuration
// have no lead-time policy.
func (c *Calculator) CheckLeadTime(ctx context.Context, practitionerID uuid.UUID, start, now time.Time) error {
	cfg, err := c.configs.GetAvailability(ctx, practitionerID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return nil
		}
		return fmt.Errorf("get availability config: %w", err)
	}

	if start.Before(now.Add(cfg.MinLead())) {
		return fmt.Errorf("%w: must be at least %d minutes ahead", ErrOutsideLeadTime, cfg.MinLeadMinutes)
	}
	if cfg.MaxLeadHours > 0 && start.After(now.Add(cfg.MaxLead())) {
		return fmt.Errorf("%w: must be within %d hours", ErrOutsideLeadTime, cfg.MaxLeadHours)
	}
	return nil
}
