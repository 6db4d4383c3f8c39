package zonedtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout    = "2006-01-02"
	TimeLayout    = "15:04"
	displayLayout = "02/01/2006 às 15:04"
)

var ErrInvalidTimeFormat = errors.New("invalid date/time format")

// Normalizer turns clinic wall-clock input into instants and back.
// The zero value uses UTC as the clinic zone.
type Normalizer struct {
	defaultLoc *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{defaultLoc: loc}
}

// NewNormalizerFromName builds a Normalizer from an IANA zone name such as
// "America/Sao_Paulo". An empty name means UTC.
func NewNormalizerFromName(name string) (*Normalizer, error) {
	if strings.TrimSpace(name) == "" {
		return NewNormalizer(time.UTC), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load clinic timezone %q: %w", name, err)
	}
	return NewNormalizer(loc), nil
}

func (n *Normalizer) Location() *time.Location {
	if n == nil || n.defaultLoc == nil {
		return time.UTC
	}
	return n.defaultLoc
}

// LoadLocation resolves name, falling back to the clinic zone when empty.
func (n *Normalizer) LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return n.Location(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidTimeFormat, name)
	}
	return loc, nil
}

// ToZonedInstant parses YYYY-MM-DD and HH:MM as wall-clock time in loc.
// A nil loc means the clinic zone. Wall-clock times skipped by a DST
// transition are rejected.
func (n *Normalizer) ToZonedInstant(dateStr, timeStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = n.Location()
	}
	day, err := ParseDate(dateStr, loc)
	if err != nil {
		return time.Time{}, err
	}
	clock, err := ParseClockTime(timeStr)
	if err != nil {
		return time.Time{}, err
	}
	instant := clock.On(day)
	if instant.Hour() != clock.Hour() || instant.Minute() != clock.Minute() {
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", ErrInvalidTimeFormat, dateStr, timeStr, loc)
	}
	return instant, nil
}

// Format renders instant as DD/MM/YYYY às HH:MM in loc (clinic zone if nil).
func (n *Normalizer) Format(instant time.Time, loc *time.Location) string {
	if loc == nil {
		loc = n.Location()
	}
	return instant.In(loc).Format(displayLayout)
}

// ParseDate returns local midnight of dateStr in loc.
func ParseDate(dateStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(dateStr), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidTimeFormat, dateStr)
	}
	return d, nil
}

// StartOfDay returns local midnight of the calendar day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
