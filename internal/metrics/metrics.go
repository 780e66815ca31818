// Package metrics exposes Prometheus collectors for the regulations service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal    *prometheus.CounterVec
	fetchBytesTotal       *prometheus.CounterVec
	crawlPagesTotal       *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	jobDurationSeconds    *prometheus.HistogramVec
	activeJobs            prometheus.Gauge
	llmRequestsTotal      *prometheus.CounterVec
	approvalsTotal        *prometheus.CounterVec
	rateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_fetch_requests_total",
				Help: "Total HTTP fetches, labeled by domain and status class.",
			},
			[]string{"domain", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_crawl_pages_total",
				Help: "Pages visited during discovery crawls, labeled by state.",
			},
			[]string{"state"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_jobs_total",
				Help: "Jobs finished, labeled by type and terminal status.",
			},
			[]string{"type", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regs_job_duration_seconds",
				Help:    "Wall clock time per job, labeled by type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"type"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "regs_active_jobs",
				Help: "Jobs currently being processed by this worker.",
			},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_llm_requests_total",
				Help: "LLM calls, labeled by model and outcome.",
			},
			[]string{"model", "outcome"},
		)

		approvalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regs_approvals_total",
				Help: "Approval gate decisions, labeled by mode.",
			},
			[]string{"mode"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regs_rate_limit_delay_seconds",
				Help:    "Politeness limiter wait durations, labeled by domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL, or "unknown".
func SanitizeDomain(rawURL string) string {
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

// ObserveFetch records one completed fetch.
func ObserveFetch(rawURL, status string, bytes int) {
	if fetchRequestsTotal == nil {
		return
	}
	domain := SanitizeDomain(rawURL)
	fetchRequestsTotal.WithLabelValues(domain, status).Inc()
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
	}
}

// ObserveCrawlPage counts a visited page for a state crawl.
func ObserveCrawlPage(stateCode string) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(stateCode).Inc()
}

// ObserveJob records a finished job and its duration.
func ObserveJob(jobType, status string, elapsed time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(jobType, status).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// SetActiveJobs updates the in-flight job gauge.
func SetActiveJobs(n int) {
	if activeJobs == nil {
		return
	}
	activeJobs.Set(float64(n))
}

// ObserveLLM records one model call outcome.
func ObserveLLM(model, outcome string) {
	if llmRequestsTotal == nil {
		return
	}
	llmRequestsTotal.WithLabelValues(model, outcome).Inc()
}

// ObserveApproval records an approval gate routing decision.
func ObserveApproval(mode string) {
	if approvalsTotal == nil {
		return
	}
	approvalsTotal.WithLabelValues(mode).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the politeness limiter.
func ObserveRateLimitDelay(rawURL string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(SanitizeDomain(rawURL)).Observe(d.Seconds())
}
