// Package worker runs recurring jobs on a ticker with single-flight passes,
// both inside the process and, with a Lease, across replicas.
package worker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling-engine/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling-engine/internal/redis"
	"github.com/hackgods/clinic-scheduling-engine/internal/zonedtime"
)

var (
	ErrLeaseHeld = errors.New("job is running in another process")
	ErrStopped   = errors.New("job runner stopped")
)

// Counts carries the per-pass numbers a job wants reported in Status.
type Counts map[string]int

type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single pass; zero leaves it unbounded.
	Timeout time.Duration
	Run     func(ctx context.Context) (Counts, error)
}

// Lease is a cross-process mutex for a job. TryAcquire never waits and
// returns redisclient.ErrLockNotAcquired when another holder has it.
type Lease interface {
	TryAcquire(ctx context.Context, job string) (func(), error)
}

// RunError reports a failed pass, including one that panicked.
type RunError struct {
	Job   string
	Err   error
	Panic any
}

func (e *RunError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("job %s panicked: %v", e.Job, e.Panic)
	}
	return fmt.Sprintf("job %s failed: %v", e.Job, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type Status struct {
	Name       string        `json:"name"`
	Running    bool          `json:"running"`
	InFlight   bool          `json:"in_flight"`
	Interval   time.Duration `json:"interval"`
	LastStart  time.Time     `json:"last_start,omitzero"`
	LastFinish time.Time     `json:"last_finish,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
	Runs       int64         `json:"runs"`
	Failures   int64         `json:"failures"`
	Skips      int64         `json:"skips"`
	LastCounts Counts        `json:"last_counts,omitempty"`
}

type Option func(*Runner)

func WithLease(l Lease) Option          { return func(r *Runner) { r.lease = l } }
func WithLogger(l zerolog.Logger) Option { return func(r *Runner) { r.logger = l } }
func WithClock(c zonedtime.Clock) Option { return func(r *Runner) { r.clock = c } }
func WithTracer(t trace.Tracer) Option   { return func(r *Runner) { r.tracer = t } }
func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner owns one Job. Ticks that arrive while a pass holds the slot are
// skipped rather than queued.
type Runner struct {
	job     Job
	lease   Lease
	logger  zerolog.Logger
	clock   zonedtime.Clock
	tracer  trace.Tracer
	metrics *metrics.SchedulingMetrics

	slot chan struct{}

	mu      sync.Mutex
	status  Status
	stop    chan struct{}
	stopped chan struct{}
}

func New(job Job, opts ...Option) *Runner {
	r := &Runner{
		job:    job,
		logger: zerolog.Nop(),
		clock:  zonedtime.SystemClock,
		tracer: otel.Tracer("clinic-scheduling-engine/worker"),
		slot:   make(chan struct{}, 1),
		status: Status{Name: job.Name, Interval: job.Interval},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("job", job.Name).Logger()
	return r
}

func (r *Runner) Name() string { return r.job.Name }

// Start runs a pass immediately and then on every interval until ctx is
// done or Stop is called. Calling Start on a running job does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return
	}
	r.status.Running = true
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	stop, stopped := r.stop, r.stopped
	r.mu.Unlock()

	r.logger.Info().Dur("interval", r.job.Interval).Msg("job started")

	go func() {
		defer close(stopped)
		defer r.setRunning(false)

		r.tick(ctx)

		ticker := time.NewTicker(r.job.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// Stop stops accepting ticks and waits for an in-flight pass to finish, or
// for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	stop, stopped := r.stop, r.stopped
	if stop == nil {
		r.mu.Unlock()
		return nil
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	r.mu.Unlock()

	select {
	case <-stopped:
		r.logger.Info().Msg("job stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop job %s: %w", r.job.Name, ctx.Err())
	}
}

// RunNow waits for the slot and runs one full pass.
func (r *Runner) RunNow(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.slot }()

	return r.pass(ctx, "manual")
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.LastCounts = maps.Clone(r.status.LastCounts)
	return s
}

func (r *Runner) tick(ctx context.Context) {
	select {
	case r.slot <- struct{}{}:
	default:
		r.skip("busy")
		return
	}
	defer func() { <-r.slot }()

	if err := r.pass(ctx, "tick"); err != nil && !errors.Is(err, ErrLeaseHeld) {
		r.logger.Error().Err(err).Msg("job pass failed")
	}
}

func (r *Runner) skip(reason string) {
	r.mu.Lock()
	r.status.Skips++
	r.mu.Unlock()
	r.metrics.ObserveJobSkipped(r.job.Name, reason)
	r.logger.Debug().Str("reason", reason).Msg("job tick skipped")
}

func (r *Runner) setRunning(v bool) {
	r.mu.Lock()
	r.status.Running = v
	r.mu.Unlock()
}

// pass runs the job once; the caller holds the slot.
func (r *Runner) pass(ctx context.Context, trigger string) (err error) {
	if r.lease != nil {
		release, lerr := r.lease.TryAcquire(ctx, r.job.Name)
		if errors.Is(lerr, redisclient.ErrLockNotAcquired) {
			r.skip("lease")
			return ErrLeaseHeld
		}
		if lerr != nil {
			return &RunError{Job: r.job.Name, Err: lerr}
		}
		defer release()
	}

	if r.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.job.Timeout)
		defer cancel()
	}

	ctx, span := r.tracer.Start(ctx, "worker."+r.job.Name,
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	started := r.clock.Now()
	r.mu.Lock()
	r.status.InFlight = true
	r.status.LastStart = started
	r.mu.Unlock()

	var counts Counts
	defer func() {
		if p := recover(); p != nil {
			err = &RunError{Job: r.job.Name, Panic: p}
		}
		finished := r.clock.Now()

		r.mu.Lock()
		r.status.InFlight = false
		r.status.LastFinish = finished
		r.status.Runs++
		r.status.LastError = ""
		if err != nil {
			r.status.Failures++
			r.status.LastError = err.Error()
		}
		if counts != nil {
			r.status.LastCounts = counts
		}
		r.mu.Unlock()

		r.metrics.ObserveJob(r.job.Name, err != nil, finished.Sub(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		r.logger.Debug().Str("trigger", trigger).Dur("took", finished.Sub(started)).
			Interface("counts", counts).Msg("job pass complete")
	}()

	counts, err = r.job.Run(ctx)
	if err != nil {
		err = &RunError{Job: r.job.Name, Err: err}
	}
	return err
}
