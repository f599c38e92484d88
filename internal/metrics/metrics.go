// Package metrics exposes Prometheus collectors for the tubemeta service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal              *prometheus.CounterVec
	fetchAttemptsTotal        *prometheus.CounterVec
	cacheLookupsTotal         *prometheus.CounterVec
	transcriptParagraphs      prometheus.Histogram
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubemeta_fetches_total",
				Help: "Total sub-fetches performed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubemeta_fetch_attempts_total",
				Help: "Total metadata fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubemeta_cache_lookups_total",
				Help: "Total record cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		transcriptParagraphs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tubemeta_transcript_paragraphs",
				Help:    "Histogram of paragraph counts per fetched transcript.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tubemeta_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
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

// ObserveFetch increments the sub-fetch counter.
func ObserveFetch(kind string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	fetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAttempt records one metadata fetch attempt.
func ObserveAttempt(outcome string) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveTranscript records the paragraph count of a fetched transcript.
func ObserveTranscript(paragraphs int) {
	transcriptParagraphs.Observe(float64(paragraphs))
}

// ObserveHTTPRequest records an API request latency.
func ObserveHTTPRequest(method, route string, duration time.Duration) {
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
