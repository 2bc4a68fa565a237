// Package metrics exposes Prometheus collectors for the SEO engine service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	queueDepth                 *prometheus.GaugeVec
	keywordCandidatesTotal     *prometheus.CounterVec
	pagesGeneratedTotal        prometheus.Counter
	linksInjectedTotal         prometheus.Counter
	providerRequestsTotal      *prometheus.CounterVec
	providerDurationSeconds    *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seoengine_jobs_total",
				Help: "Total number of jobs processed, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seoengine_job_duration_seconds",
				Help:    "Histogram of job handler run times, labeled by type.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
			},
			[]string{"type"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seoengine_queue_depth",
				Help: "Current number of jobs per status.",
			},
			[]string{"status"},
		)

		keywordCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seoengine_keyword_candidates_total",
				Help: "Keyword candidates processed by the discovery cycle, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		pagesGeneratedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seoengine_pages_generated_total",
				Help: "Draft pages created from keyword clusters.",
			},
		)

		linksInjectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seoengine_links_injected_total",
				Help: "Internal links injected into cluster pages.",
			},
		)

		providerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seoengine_provider_requests_total",
				Help: "External provider API calls, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seoengine_provider_request_duration_seconds",
				Help:    "Histogram of external provider call latencies, labeled by provider.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 15, 30, 60, 90},
			},
			[]string{"provider"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a completed job dispatch.
func ObserveJob(jobType, outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(jobType, outcome).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetQueueDepth publishes the per-status job counts.
func SetQueueDepth(status string, n int) {
	Init()
	queueDepth.WithLabelValues(status).Set(float64(n))
}

// ObserveCandidate counts a keyword candidate disposition (inserted, merged,
// approved, rejected, filtered).
func ObserveCandidate(disposition string) {
	Init()
	keywordCandidatesTotal.WithLabelValues(disposition).Inc()
}

// ObservePageGenerated counts an auto-created cluster page.
func ObservePageGenerated() {
	Init()
	pagesGeneratedTotal.Inc()
}

// ObserveLinkInjected counts an injected internal link.
func ObserveLinkInjected() {
	Init()
	linksInjectedTotal.Inc()
}

// ObserveProviderRequest records one external API call.
func ObserveProviderRequest(provider, outcome string, duration time.Duration) {
	Init()
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
	providerDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
