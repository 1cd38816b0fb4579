package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	rowErrors     *prometheus.CounterVec
	publishTotals *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddRowErrors counts recoverable apply row errors for reason.
func (m *Metrics) AddRowErrors(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rowErrors.WithLabelValues(reason).Add(float64(count))
}

// AddPublishTotal counts published items for an outcome bucket such as
// created, updated, skipped, failed or a no-op reason.
func (m *Metrics) AddPublishTotal(bucket string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.publishTotals.WithLabelValues(bucket).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalogsync_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	rowErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_apply_row_errors_total",
		Help: "Recoverable apply row errors grouped by reason.",
	}, []string{"reason"})
	publishTotals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_publish_items_total",
		Help: "Published items grouped by reconciled outcome bucket.",
	}, []string{"bucket"})
	registerer.MustRegister(runs, failures, duration, rowErrors, publishTotals)
	return &Metrics{runs: runs, failures: failures, duration: duration, rowErrors: rowErrors, publishTotals: publishTotals}
}
