package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
)

const DefaultChannel = "appointments.events"

// RedisPublisher broadcasts events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Deliver(ctx context.Context, ev appointment.Event) error {
	data, err := json.Marshal(NewPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event to %s: %w", p.channel, err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgEventLog appends events to the event_logs audit table.
type PgEventLog struct {
	db execer
}

func NewPgEventLog(db execer) *PgEventLog {
	return &PgEventLog{db: db}
}

func (l *PgEventLog) Deliver(ctx context.Context, ev appointment.Event) error {
	data, err := json.Marshal(NewPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, LogType(ev.Type), ev.Appointment.ID, data, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Deliver(_ context.Context, ev appointment.Event) error {
	e := p.logger.Info().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.Appointment.ID.String()).
		Str("practitioner_id", ev.Appointment.PractitionerID.String()).
		Str("status", string(ev.Appointment.Status)).
		Time("start_at", ev.Appointment.StartAt)
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	e.Msg("appointment event")
	return nil
}
