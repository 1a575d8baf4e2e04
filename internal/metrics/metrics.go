// Package metrics exposes Prometheus collectors for scrape and aggregation runs.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	vacanciesScrapedTotal      *prometheus.CounterVec
	recordsRejectedTotal       *prometheus.CounterVec
	upsertItemsTotal           *prometheus.CounterVec
	aggregationRunsTotal       *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "techtrend_pages_fetched_total",
				Help: "Total number of listing pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		vacanciesScrapedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "techtrend_vacancies_scraped_total",
				Help: "Total number of vacancies parsed from listings, labeled by category.",
			},
			[]string{"category"},
		)

		recordsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "techtrend_records_rejected_total",
				Help: "Total number of records rejected before staging, labeled by reason.",
			},
			[]string{"reason"},
		)

		upsertItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "techtrend_upsert_items_total",
				Help: "Total number of bulk upsert items, labeled by collection and outcome.",
			},
			[]string{"collection", "outcome"},
		)

		aggregationRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "techtrend_aggregation_runs_total",
				Help: "Total number of statistics aggregation runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "techtrend_run_duration_seconds",
				Help:    "Histogram of command run durations, labeled by command and status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"command", "status"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched listing page.
func ObservePage(rawURL string, status int) {
	Init()
	pagesFetchedTotal.WithLabelValues(SanitizeSite(rawURL), strconv.Itoa(status)).Inc()
}

// ObserveScraped counts one parsed vacancy.
func ObserveScraped(category string) {
	Init()
	vacanciesScrapedTotal.WithLabelValues(category).Inc()
}

// ObserveRejected counts one record rejected before staging.
func ObserveRejected(reason string) {
	Init()
	recordsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveUpsert records the per-item outcomes of one bulk upsert.
func ObserveUpsert(collection string, inserted, matched, failed int) {
	Init()
	upsertItemsTotal.WithLabelValues(collection, "inserted").Add(float64(inserted))
	upsertItemsTotal.WithLabelValues(collection, "matched").Add(float64(matched))
	upsertItemsTotal.WithLabelValues(collection, "failed").Add(float64(failed))
}

// ObserveAggregation counts one aggregation run.
func ObserveAggregation(status string) {
	Init()
	aggregationRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRun records how long a command took.
func ObserveRun(command, status string, duration time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(command, status).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
