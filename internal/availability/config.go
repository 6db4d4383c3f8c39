package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

var (
	ErrConfigNotFound  = errors.New("availability config not found")
	ErrInvalidConfig   = errors.New("invalid availability config")
	ErrOutsideLeadTime = appointment.ErrOutsideLeadTime
)

// Config is a practitioner's recurring working-hours configuration. It is
// treated as immutable for the duration of one computation.
type Config struct {
	PractitionerID uuid.UUID
	Location       *time.Location
	WorkingDays    [7]bool // indexed by time.Weekday
	DayStart       zonedtime.ClockTime
	DayEnd         zonedtime.ClockTime
	LunchStart     *zonedtime.ClockTime
	LunchEnd       *zonedtime.ClockTime
	SlotMinutes    int
	MinLeadMinutes int
	MaxLeadHours   int // 0 means no upper bound
}

func (c Config) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Config) Works(d time.Weekday) bool {
	return c.WorkingDays[d]
}

func (c Config) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}

func (c Config) MaxLead() time.Duration {
	return time.Duration(c.MaxLeadHours) * time.Hour
}

func (c Config) HasLunch() bool {
	return c.LunchStart != nil && c.LunchEnd != nil
}

func (c Config) Validate() error {
	if c.DayEnd <= c.DayStart {
		return fmt.Errorf("%w: day end %s must be after day start %s", ErrInvalidConfig, c.DayEnd, c.DayStart)
	}
	if (c.LunchStart == nil) != (c.LunchEnd == nil) {
		return fmt.Errorf("%w: lunch start and end must both be set", ErrInvalidConfig)
	}
	if c.HasLunch() && *c.LunchEnd <= *c.LunchStart {
		return fmt.Errorf("%w: lunch end must be after lunch start", ErrInvalidConfig)
	}
	if c.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot minutes must be positive", ErrInvalidConfig)
	}
	if c.MinLeadMinutes < 0 || c.MaxLeadHours < 0 {
		return fmt.Errorf("%w: lead times must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Weekdays builds a WorkingDays array from the given weekdays.
func Weekdays(days ...time.Weekday) [7]bool {
	var out [7]bool
	for _, d := range days {
		out[d] = true
	}
	return out
}

// ConfigurationProvider resolves a practitioner's availability configuration.
type ConfigurationProvider interface {
	GetAvailability(ctx context.Context, practitionerID uuid.UUID) (Config, error)
}
