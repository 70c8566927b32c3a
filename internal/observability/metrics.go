package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Plan outcome labels.
const (
	PlanResultGenerated = "generated"
	PlanResultEmpty     = "empty"
	PlanResultCached    = "cached"
	PlanResultPartial   = "partial"
)

// Metrics holds all Prometheus metrics of the API.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	httpDuration    *prometheus.HistogramVec
	planDuration    prometheus.Histogram
	plansTotal      *prometheus.CounterVec
	planEvaluations prometheus.Counter
	extractions     *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	offersByStatus  *prometheus.GaugeVec
}

// NewMetrics creates a dedicated registry so repeated construction in tests
// never hits duplicate collector panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bonus_planner_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		planDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bonus_planner_plan_duration_seconds",
				Help:    "Wall time of plan searches.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		plansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bonus_planner_plans_total",
				Help: "Plan requests by outcome.",
			},
			[]string{"result"},
		),
		planEvaluations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bonus_planner_plan_evaluations_total",
				Help: "Schedules evaluated by the plan search.",
			},
		),
		extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bonus_planner_extractions_total",
				Help: "Offer extractions by final status.",
			},
			[]string{"status"},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bonus_planner_plan_cache_hits_total",
				Help: "Plan cache hits.",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bonus_planner_plan_cache_misses_total",
				Help: "Plan cache misses.",
			},
		),
		offersByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bonus_planner_offers",
				Help: "Stored offers by extraction status.",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordPlan records a finished plan search.
func (m *Metrics) RecordPlan(result string, evaluations int64, d time.Duration) {
	m.plansTotal.WithLabelValues(result).Inc()
	if result == PlanResultCached {
		return
	}
	m.planDuration.Observe(d.Seconds())
	m.planEvaluations.Add(float64(evaluations))
}

// IncrExtraction counts an extraction outcome.
func (m *Metrics) IncrExtraction(status string) {
	m.extractions.WithLabelValues(status).Inc()
}

// IncrCacheHit increments the plan cache hit counter.
func (m *Metrics) IncrCacheHit() {
	m.cacheHits.Inc()
}

// IncrCacheMiss increments the plan cache miss counter.
func (m *Metrics) IncrCacheMiss() {
	m.cacheMisses.Inc()
}

// SetOfferCounts publishes the per-status offer gauge.
func (m *Metrics) SetOfferCounts(completed, failed, processing int) {
	m.offersByStatus.WithLabelValues("completed").Set(float64(completed))
	m.offersByStatus.WithLabelValues("failed").Set(float64(failed))
	m.offersByStatus.WithLabelValues("processing").Set(float64(processing))
}
