package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenroof_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		},
		[]string{"route", "method", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenroof_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	StoreOperations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenroof_store_operation_duration_seconds",
			Help:    "Document store call latency by operation and result.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
	ReadingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenroof_readings_ingested_total",
			Help: "Submissions by transport and outcome.",
		},
		[]string{"transport", "result"},
	)
	DashboardFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenroof_dashboard_fetches_total",
			Help: "Dashboard data fetches by source mode and outcome.",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPDuration, StoreOperations, ReadingsIngested, DashboardFetches)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStore records one store call started at start.
func ObserveStore(op string, start time.Time, err error) {
	StoreOperations.WithLabelValues(op, Result(err)).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
