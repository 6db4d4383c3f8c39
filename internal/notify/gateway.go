package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/reminder"
)

const DefaultQueueKey = "queue:reminders"

// RedisQueueGateway pushes reminders onto a Redis list. A separate transport
// worker pops them and talks to SMS/WhatsApp/email providers.
type RedisQueueGateway struct {
	client *redis.Client
	key    string
}

func NewRedisQueueGateway(client *redis.Client, key string) *RedisQueueGateway {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueueGateway{client: client, key: key}
}

func (g *RedisQueueGateway) SendReminder(ctx context.Context, r reminder.Reminder) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	if err := g.client.LPush(ctx, g.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue reminder on %s: %w", g.key, err)
	}
	return nil
}

// Depth reports how many reminders are waiting for the transport worker.
func (g *RedisQueueGateway) Depth(ctx context.Context) (int64, error) {
	return g.client.LLen(ctx, g.key).Result()
}

// LogGateway only logs. Used in development and with STORAGE_DRIVER=memory.
type LogGateway struct {
	logger zerolog.Logger
}

func NewLogGateway(logger zerolog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendReminder(_ context.Context, r reminder.Reminder) error {
	g.logger.Info().
		Str("appointment_id", r.AppointmentID.String()).
		Str("threshold", string(r.Threshold)).
		Str("practitioner", r.PractitionerName).
		Str("start", r.FormattedStart).
		Msg("reminder")
	return nil
}
