// Package metrics holds the Prometheus collectors of the collector service.
// Every recording method is safe to call on a nil *Metrics, so components can
// run without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collector"

// Metrics groups every collector the service exports.
type Metrics struct {
	apiCallsTotal       *prometheus.CounterVec
	apiCallDuration     *prometheus.HistogramVec
	apiRetriesTotal     *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	queueEventsTotal    *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	queueActive         *prometheus.GaugeVec
	entitiesTotal       *prometheus.CounterVec
	jobsFinishedTotal   *prometheus.CounterVec
	jobDurationSeconds  *prometheus.HistogramVec
	chunkDurationSecond *prometheus.HistogramVec
}

// New registers all collectors with reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		apiCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Outbound external API calls by method and outcome",
		}, []string{"method", "outcome"}), // outcome=success/transient/permanent/rejected
		apiCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_call_duration_seconds",
			Help:      "Latency of outbound external API calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"method"}),
		apiRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Retried external API calls",
		}, []string{"method"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_circuit_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		queueEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_events_total",
			Help:      "Queue lifecycle events by queue and event type",
		}, []string{"queue", "event"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting_jobs",
			Help:      "Jobs waiting in a queue",
		}, []string{"queue"}),
		queueActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active_jobs",
			Help:      "Jobs currently held by workers",
		}, []string{"queue"}),
		entitiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_upserted_total",
			Help:      "Upsert outcomes of the entity repository",
		}, []string{"result"}), // inserted/updated/skipped
		jobsFinishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Collection jobs that reached a terminal status",
		}, []string{"status"}),
		jobDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one collection job execution",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}, []string{"kind"}),
		chunkDurationSecond: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Wall time of one resolve+persist chunk",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"}),
	}
}

// ObserveAPICall records one outbound call attempt.
func (m *Metrics) ObserveAPICall(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiCallsTotal.WithLabelValues(method, outcome).Inc()
	m.apiCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncAPIRetry counts a retried call.
func (m *Metrics) IncAPIRetry(method string) {
	if m == nil {
		return
	}
	m.apiRetriesTotal.WithLabelValues(method).Inc()
}

// SetBreakerState publishes the breaker state as 0, 1 or 2.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// IncQueueEvent counts a queue lifecycle event.
func (m *Metrics) IncQueueEvent(queue, event string) {
	if m == nil {
		return
	}
	m.queueEventsTotal.WithLabelValues(queue, event).Inc()
}

// SetQueueDepth publishes waiting and active job counts of a queue.
func (m *Metrics) SetQueueDepth(queue string, waiting, active int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(waiting))
	m.queueActive.WithLabelValues(queue).Set(float64(active))
}

// AddUpsert records the outcome counts of one UpsertMany call.
func (m *Metrics) AddUpsert(inserted, updated, skipped int) {
	if m == nil {
		return
	}
	m.entitiesTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.entitiesTotal.WithLabelValues("updated").Add(float64(updated))
	m.entitiesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinishedTotal.WithLabelValues(status).Inc()
	m.jobDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveChunk records the duration of one chunk.
func (m *Metrics) ObserveChunk(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.chunkDurationSecond.WithLabelValues(kind).Observe(d.Seconds())
}
