package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for lifecycle operations and
// the recurring jobs.
type SchedulingMetrics struct {
	lifecycleTotal *prometheus.CounterVec
	reminderTotal  *prometheus.CounterVec
	completedTotal prometheus.Counter
	jobDuration    *prometheus.HistogramVec
	jobSkipped     *prometheus.CounterVec
	eventsDropped  prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		lifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "lifecycle_operations_total",
			Help:      "Appointment lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		reminderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "reminders_total",
			Help:      "Reminder dispatch attempts by threshold and outcome",
		}, []string{"threshold", "outcome"}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "reconciled_completed_total",
			Help:      "Appointments moved to completed by the reconciler",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "job_duration_seconds",
			Help:      "Duration of recurring job passes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job", "status"}),
		jobSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "job_skipped_total",
			Help:      "Job ticks skipped because a pass was already in flight",
		}, []string{"job", "reason"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "events_dropped_total",
			Help:      "Lifecycle events dropped because the dispatch buffer was full",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lifecycleTotal, m.reminderTotal, m.completedTotal, m.jobDuration, m.jobSkipped, m.eventsDropped)
	return m
}

func (m *SchedulingMetrics) ObserveLifecycle(operation, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveReminder(threshold, outcome string) {
	if m == nil {
		return
	}
	m.reminderTotal.WithLabelValues(threshold, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.completedTotal.Add(float64(n))
}

func (m *SchedulingMetrics) ObserveJob(job string, failed bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.jobDuration.WithLabelValues(job, status).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveJobSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job, reason).Inc()
}

func (m *SchedulingMetrics) ObserveEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
