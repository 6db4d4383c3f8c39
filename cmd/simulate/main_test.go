package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/api"
	"github.com/hackgods/clinic-scheduling-engine/internal/app"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
)

func TestFindOverlaps(t *testing.T) {
	base := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
	appt := func(startMin, minutes int) api.AppointmentResponse {
		start := base.Add(time.Duration(startMin) * time.Minute)
		return api.AppointmentResponse{ID: uuid.New(), StartAt: start, EndAt: start.Add(time.Duration(minutes) * time.Minute)}
	}

	assert.Empty(t, findOverlaps([]api.AppointmentResponse{appt(0, 30), appt(30, 30), appt(60, 15)}))

	long := appt(0, 120)
	got := findOverlaps([]api.AppointmentResponse{appt(90, 30), long, appt(45, 15)})
	require.Len(t, got, 2)
	assert.Equal(t, long.ID, got[0][0].ID)
}

func TestSimulationAgainstMemoryServer(t *testing.T) {
	a, err := app.Build(context.Background(), config.Config{
		StorageDriver:   config.StorageMemory,
		ClinicTimezone:  "UTC",
		EventBufferSize: 64,
	}, zerolog.Nop(), app.Options{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Engine: a.Engine, Logger: zerolog.Nop()}))
	defer srv.Close()

	sim := NewSimulator(SimConfig{
		APIBaseURL:     srv.URL,
		PractitionerID: uuid.New(),
		WindowStart:    time.Now().Add(72 * time.Hour).Truncate(time.Hour),
		WindowMinutes:  120,
		StepMinutes:    15,
		Duration:       30,
		Workers:        16,
		Requests:       200,
		CancelRatio:    0.2,
	}, srv.Client(), zerolog.Nop())

	report, err := sim.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 0, report.Booking.Error)
	assert.Positive(t, report.Booking.Success)
	assert.Positive(t, report.Booking.Conflict)
	assert.Empty(t, report.Overlaps)
	assert.LessOrEqual(t, report.Active, 120/15)
}
