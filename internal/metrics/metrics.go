package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotbook"

var (
	once sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Count of outbound API attempts by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound API attempts.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 15},
		},
		[]string{"endpoint"},
	)

	failovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_failover_total",
			Help:      "Count of endpoint failovers by result.",
		},
		[]string{"result"},
	)

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_probe_total",
			Help:      "Count of health probes by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	tokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Count of credential refresh attempts by result.",
		},
		[]string{"result"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_submission_total",
			Help:      "Count of booking submissions by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(requests, requestDuration, failovers, probes, tokenRefresh, submissions)
	})
}

func ObserveRequest(endpoint, outcome string, elapsed time.Duration) {
	requests.WithLabelValues(endpoint, outcome).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func IncFailover(result string) {
	failovers.WithLabelValues(result).Inc()
}

func IncProbe(endpoint string, ok bool) {
	result := "up"
	if !ok {
		result = "down"
	}
	probes.WithLabelValues(endpoint, result).Inc()
}

func IncTokenRefresh(result string) {
	tokenRefresh.WithLabelValues(result).Inc()
}

func IncSubmission(result string) {
	submissions.WithLabelValues(result).Inc()
}
