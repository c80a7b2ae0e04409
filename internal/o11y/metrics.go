// README: Process-wide Prometheus metrics (promauto), exposed at /metrics.
package o11y

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campuspool"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	DriversLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "drivers_live", Help: "Drivers with an active availability record (this instance's view)",
	})
	NearbyResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "nearby_results",
		Help:      "Number of live drivers returned per nearby search",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride request state transitions"},
		[]string{"from", "to"},
	)
	RideTransitionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transition_conflicts_total", Help: "Conditional ride updates that lost a race"},
		[]string{"to"},
	)
	PreBookTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "prebook_transitions_total", Help: "Pre-booking state transitions"},
		[]string{"from", "to"},
	)
	CascadeCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cascade_cancellations_total", Help: "Ride requests cancelled by a cascade"},
		[]string{"reason"},
	)
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "upstream_errors_total", Help: "Failed calls to external services"},
		[]string{"service"},
	)
)
