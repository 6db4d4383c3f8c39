package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/reminder"
)

func sampleReminder() reminder.Reminder {
	return reminder.Reminder{
		AppointmentID:    uuid.New(),
		PractitionerID:   uuid.New(),
		PatientID:        uuid.New(),
		PractitionerName: "Dr. Carlos Lima",
		Threshold:        appointment.Threshold3h,
		StartAt:          time.Date(2025, 12, 1, 17, 30, 0, 0, time.UTC),
		FormattedStart:   "01/12/2025 às 14:30",
		DurationMinutes:  30,
		Attempt:          1,
	}
}

func TestRedisQueueGatewayEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	g := NewRedisQueueGateway(client, "")
	first, second := sampleReminder(), sampleReminder()
	require.NoError(t, g.SendReminder(ctx, first))
	require.NoError(t, g.SendReminder(ctx, second))

	depth, err := g.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// consumers pop from the right, oldest first
	raw, err := client.RPop(ctx, DefaultQueueKey).Result()
	require.NoError(t, err)
	var got reminder.Reminder
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, first.AppointmentID, got.AppointmentID)
	assert.Equal(t, appointment.Threshold3h, got.Threshold)
	assert.Equal(t, "01/12/2025 às 14:30", got.FormattedStart)
}

func TestRedisQueueGatewayReportsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisQueueGateway(client, "q").SendReminder(context.Background(), sampleReminder())
	assert.Error(t, err)
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewLogGateway(zerolog.New(&buf)).SendReminder(context.Background(), sampleReminder()))
	assert.Contains(t, buf.String(), `"threshold":"3h"`)
}
