package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
		[]string{"method", "route"},
	)

	slowRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_slow_requests_total",
			Help: "Requests slower than the slow threshold",
		},
		[]string{"route"},
	)

	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_metrics_fallback_total",
			Help: "Metric writes kept in the local fallback bucket",
		},
		[]string{"op"},
	)
)

func observe(s Sample) {
	requestsTotal.WithLabelValues(s.Method, s.Route, strconv.Itoa(s.Status)).Inc()
	requestDuration.WithLabelValues(s.Method, s.Route).Observe(s.Duration.Seconds())
}
