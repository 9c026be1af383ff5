package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/finbridge/invoice-financing-api/internal/domain"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	externalErrors      *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	applicationsCreated prometheus.Counter
	alertsReceived      *prometheus.CounterVec
	processingRuns      *prometheus.CounterVec
	decisionsIssued     prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "invfin_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invfin_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invfin_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invfin_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		applicationsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "invfin_applications_created_total",
				Help: "Total financing applications started.",
			},
		),
		alertsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invfin_alerts_received_total",
				Help: "Total webhook alerts received by kind.",
			},
			[]string{"kind"},
		),
		processingRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invfin_processing_runs_total",
				Help: "Total financing pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),
		decisionsIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "invfin_decisions_issued_total",
				Help: "Total invoice financing decisions issued.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrApplicationCreated increments the applications-created counter.
func (m *Metrics) IncrApplicationCreated() {
	m.applicationsCreated.Inc()
}

// IncrAlertReceived increments the alert counter for the given alert kind.
func (m *Metrics) IncrAlertReceived(kind string) {
	m.alertsReceived.WithLabelValues(kind).Inc()
}

// IncrProcessingRun increments the pipeline run counter with an outcome label.
func (m *Metrics) IncrProcessingRun(outcome string) {
	m.processingRuns.WithLabelValues(outcome).Inc()
}

// AddDecisionsIssued adds the number of decisions produced by one pipeline run.
func (m *Metrics) AddDecisionsIssued(n int) {
	m.decisionsIssued.Add(float64(n))
}

// GetPipelineSnapshot returns a snapshot of pipeline metrics suitable for the
// GET /v1/metrics/pipeline endpoint.
func (m *Metrics) GetPipelineSnapshot() *domain.PipelineMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	runsOK := getCounterValue(m.processingRuns, "complete")
	runsFailed := getCounterValue(m.processingRuns, "error")
	totalRuns := runsOK + runsFailed

	alerts := getCounterValue(m.alertsReceived, "connection_status") +
		getCounterValue(m.alertsReceived, "datatype_sync_complete")

	cacheHits := getCounterValue(m.cacheHits, "platform_catalog")
	cacheMisses := getCounterValue(m.cacheMisses, "platform_catalog")

	errorRate := float64(0)
	if totalRuns > 0 {
		errorRate = runsFailed / totalRuns
	}
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.PipelineMetrics{
		ApplicationsCreated: int64(counterValue(m.applicationsCreated)),
		AlertsReceived:      int64(alerts),
		ProcessingRuns:      int64(totalRuns),
		ProcessingErrors:    int64(runsFailed),
		DecisionsIssued:     int64(counterValue(m.decisionsIssued)),
		ErrorRate:           errorRate,
		CatalogCacheHitRate: cacheHitRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
