package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgConfigProvider reads practitioner_availability rows.
type PgConfigProvider struct {
	db rowQueryer
}

func NewPgConfigProvider(db rowQueryer) *PgConfigProvider {
	return &PgConfigProvider{db: db}
}

func clockFromPg(t pgtype.Time) zonedtime.ClockTime {
	return zonedtime.ClockTime(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func (p *PgConfigProvider) GetAvailability(ctx context.Context, practitionerID uuid.UUID) (Config, error) {
	var (
		tz                   string
		days                 []int16
		dayStart, dayEnd     pgtype.Time
		lunchStart, lunchEnd pgtype.Time
		cfg                  = Config{PractitionerID: practitionerID}
	)

	err := p.db.QueryRow(ctx, `
		SELECT timezone, working_days, day_start, day_end, lunch_start, lunch_end,
		       slot_minutes, min_lead_minutes, max_lead_hours
		FROM practitioner_availability
		WHERE practitioner_id = $1
	`, practitionerID).Scan(
		&tz, &days, &dayStart, &dayEnd, &lunchStart, &lunchEnd,
		&cfg.SlotMinutes, &cfg.MinLeadMinutes, &cfg.MaxLeadHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, fmt.Errorf("query availability config: %w", err)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, tz, err)
	}
	cfg.Location = loc

	// ISO weekdays: 1 = Monday ... 7 = Sunday
	for _, d := range days {
		if d < 1 || d > 7 {
			return Config{}, fmt.Errorf("%w: weekday %d", ErrInvalidConfig, d)
		}
		cfg.WorkingDays[time.Weekday(d%7)] = true
	}

	cfg.DayStart = clockFromPg(dayStart)
	cfg.DayEnd = clockFromPg(dayEnd)
	if lunchStart.Valid && lunchEnd.Valid {
		ls, le := clockFromPg(lunchStart), clockFromPg(lunchEnd)
		cfg.LunchStart, cfg.LunchEnd = &ls, &le
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
