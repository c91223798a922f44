// Package metrics exposes Prometheus collectors for the monitor.
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
	checksTotal          *prometheus.CounterVec
	checkTTFBSeconds     *prometheus.HistogramVec
	robotsDecisionsTotal *prometheus.CounterVec
	rateLimitSkipsTotal  *prometheus.CounterVec
	cyclesTotal          prometheus.Counter
	inflightProbes       prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "politeping_checks_total",
				Help: "Total endpoint checks, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		checkTTFBSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "politeping_check_ttfb_seconds",
				Help:    "Histogram of probe time-to-first-byte, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 12},
			},
			[]string{"host"},
		)

		robotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "politeping_robots_decisions_total",
				Help: "Robots.txt decisions, labeled by host and decision.",
			},
			[]string{"host", "decision"},
		)

		rateLimitSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "politeping_rate_limit_skips_total",
				Help: "Checks skipped because a min-interval had not elapsed.",
			},
			[]string{"host"},
		)

		cyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "politeping_cycles_total",
				Help: "Completed check cycles.",
			},
		)

		inflightProbes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "politeping_inflight_probes",
				Help: "Probes currently holding concurrency permits.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one completed check.
func ObserveCheck(host, outcome string, ttfb time.Duration) {
	checksTotal.WithLabelValues(host, outcome).Inc()
	if ttfb > 0 {
		checkTTFBSeconds.WithLabelValues(host).Observe(ttfb.Seconds())
	}
}

// ObserveRobotsDecision counts a robots verdict for a host.
func ObserveRobotsDecision(host, decision string) {
	robotsDecisionsTotal.WithLabelValues(host, decision).Inc()
}

// ObserveRateLimitSkip counts an interval-gate denial.
func ObserveRateLimitSkip(host string) {
	rateLimitSkipsTotal.WithLabelValues(host).Inc()
}

// ObserveCycle counts a completed cycle.
func ObserveCycle() {
	cyclesTotal.Inc()
}

// IncInflightProbes increments the in-flight probe gauge.
func IncInflightProbes() { inflightProbes.Inc() }

// DecInflightProbes decrements the in-flight probe gauge.
func DecInflightProbes() { inflightProbes.Dec() }
