package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request counter per (provider, model, status); latency and TTFT
// histograms and the cost counter per (provider, model). Registered
// once at package init through the default registry.
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_requests_total",
			Help: "Total number of gateway requests processed, by provider/model/status.",
		},
		[]string{"provider", "model", "status"},
	)

	totalLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_total_latency_seconds",
			Help:    "End-to-end request latency in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	ttftSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_ttft_seconds",
			Help:    "Time to first token for streaming requests.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"provider", "model"},
	)

	estimatedCostUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_estimated_cost_usd_total",
			Help: "Cumulative estimated USD cost of completed calls.",
		},
		[]string{"provider", "model"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, totalLatencySeconds, ttftSeconds, estimatedCostUSD)
}

func recordMetrics(provider, model string, success bool, totalLatencyMillis int64, ttftMillis *int64, costUSD float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	requestsTotal.WithLabelValues(provider, model, status).Inc()
	totalLatencySeconds.WithLabelValues(provider, model).Observe(time.Duration(totalLatencyMillis * int64(time.Millisecond)).Seconds())
	if ttftMillis != nil {
		ttftSeconds.WithLabelValues(provider, model).Observe(time.Duration(*ttftMillis * int64(time.Millisecond)).Seconds())
	}
	if success {
		estimatedCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}
