package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_operations_enqueued_total",
		Help: "Operations accepted by the queue",
	}, []string{"kind"})
	CompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_operations_completed_total",
		Help: "Operations confirmed on chain",
	})
	AttemptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_attempt_failures_total",
		Help: "Submission attempts that failed (retryable or not)",
	})
	ExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_operations_exhausted_total",
		Help: "Operations that failed all attempts",
	})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limit_rejects_total",
		Help: "Enqueue requests rejected by the per-player rate limiter",
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Operations waiting or in flight",
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_inflight",
		Help: "Operations currently submitted and unconfirmed (0 or 1)",
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueuedTotal,
			CompletedTotal,
			AttemptFailures,
			ExhaustedTotal,
			RateLimitRejects,
			QueueDepth,
			InFlight,
		)
	})
	return promhttp.Handler()
}
