package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
)

const (
	DefaultBufferSize     = 256
	defaultDeliverTimeout = 5 * time.Second
)

type queued struct {
	ctx context.Context
	ev  appointment.Event
}

// Dispatcher is an appointment.EventSink that hands events to a background
// goroutine which fans them out to every Publisher. When the buffer is full
// the event is dropped and counted; the caller never waits.
type Dispatcher struct {
	publishers []Publisher
	logger     zerolog.Logger
	metrics    *metrics.SchedulingMetrics
	timeout    time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
	start  sync.Once
}

func NewDispatcher(bufferSize int, logger zerolog.Logger, m *metrics.SchedulingMetrics, publishers ...Publisher) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Dispatcher{
		publishers: publishers,
		logger:     logger,
		metrics:    m,
		timeout:    defaultDeliverTimeout,
		queue:      make(chan queued, bufferSize),
		done:       make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Calling it more than once is harmless.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) Publish(ctx context.Context, ev appointment.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}

	// the request context is usually cancelled before delivery happens
	item := queued{ctx: context.WithoutCancel(ctx), ev: ev}
	select {
	case d.queue <- item:
	default:
		d.drop(ev, "buffer full")
	}
}

func (d *Dispatcher) drop(ev appointment.Event, reason string) {
	d.metrics.ObserveEventDropped()
	d.logger.Warn().
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.Appointment.ID.String()).
		Str("reason", reason).
		Msg("lifecycle event dropped")
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item queued) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(item.ctx, d.timeout)
		err := safeDeliver(ctx, p, item.ev)
		cancel()
		if err != nil {
			d.logger.Error().
				Err(err).
				Str("event_type", string(item.ev.Type)).
				Str("appointment_id", item.ev.Appointment.ID.String()).
				Msg("failed to deliver lifecycle event")
		}
	}
}

func safeDeliver(ctx context.Context, p Publisher, ev appointment.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.Deliver(ctx, ev)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("publisher panicked: %v", e.value) }

// Close stops accepting events and waits until the queued ones are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.Start() // drain even if the dispatcher was never started

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
