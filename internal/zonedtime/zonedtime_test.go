package zonedtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestToZonedInstantRoundTrip(t *testing.T) {
	loc := mustLoad(t, "America/Sao_Paulo")
	n := NewNormalizer(loc)

	instant, err := n.ToZonedInstant("2025-12-01", "14:30", loc)
	require.NoError(t, err)
	assert.Equal(t, "01/12/2025 às 14:30", n.Format(instant, loc))

	// Sao Paulo has no DST since 2019, so 14:30 local is 17:30 UTC.
	assert.Equal(t, time.Date(2025, 12, 1, 17, 30, 0, 0, time.UTC), instant.UTC())
}

func TestToZonedInstantUsesClinicZoneByDefault(t *testing.T) {
	loc := mustLoad(t, "Europe/Lisbon")
	n := NewNormalizer(loc)

	instant, err := n.ToZonedInstant("2025-07-10", "09:00", nil)
	require.NoError(t, err)
	assert.Equal(t, loc.String(), instant.Location().String())
	assert.Equal(t, 8, instant.UTC().Hour())
}

func TestToZonedInstantRejectsMalformedInput(t *testing.T) {
	n := NewNormalizer(time.UTC)

	cases := []struct {
		name string
		date string
		time string
	}{
		{"day first", "01-12-2025", "14:30"},
		{"empty date", "", "14:30"},
		{"impossible date", "2025-02-30", "10:00"},
		{"single digit hour", "2025-12-01", "9:30"},
		{"seconds", "2025-12-01", "09:30:00"},
		{"hour out of range", "2025-12-01", "24:00"},
		{"garbage", "tomorrow", "noon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.ToZonedInstant(tc.date, tc.time, nil)
			assert.ErrorIs(t, err, ErrInvalidTimeFormat)
		})
	}
}

func TestToZonedInstantRejectsDSTGap(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	n := NewNormalizer(loc)

	_, err := n.ToZonedInstant("2025-03-09", "02:30", loc)
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)

	instant, err := n.ToZonedInstant("2025-03-09", "03:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 7, instant.UTC().Hour())
}

func TestFormatConvertsToRequestedZone(t *testing.T) {
	n := NewNormalizer(time.UTC)
	instant := time.Date(2025, 12, 1, 23, 15, 0, 0, time.UTC)

	assert.Equal(t, "01/12/2025 às 23:15", n.Format(instant, nil))
	assert.Equal(t, "01/12/2025 às 20:15", n.Format(instant, mustLoad(t, "America/Sao_Paulo")))
}

func TestLoadLocation(t *testing.T) {
	n := NewNormalizer(time.UTC)

	loc, err := n.LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = n.LoadLocation("Mars/Olympus_Mons")
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
}

func TestParseClockTime(t *testing.T) {
	c, err := ParseClockTime("08:05")
	require.NoError(t, err)
	assert.Equal(t, 8, c.Hour())
	assert.Equal(t, 5, c.Minute())
	assert.Equal(t, "08:05", c.String())

	day := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 12, 1, 8, 5, 0, 0, time.UTC), c.On(day))
}

func TestStartOfDay(t *testing.T) {
	loc := mustLoad(t, "America/Sao_Paulo")
	instant := time.Date(2025, 12, 2, 1, 0, 0, 0, time.UTC) // 22:00 on Dec 1 local

	got := StartOfDay(instant, loc)
	assert.Equal(t, 1, got.Day())
	assert.Equal(t, 0, got.Hour())
}
