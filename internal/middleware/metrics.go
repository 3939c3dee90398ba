package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "Total number of HTTP requests handled by the billing service",
		},
		[]string{"path", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the billing service",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	tamperRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_tamper_rejections_total",
			Help: "Requests rejected as tamper signals (bad origin, bad signature)",
		},
		[]string{"status"},
	)
)

// InitMetrics registers the billing metrics. Call once from main.
func InitMetrics() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(tamperRejections)
}

// Metrics records request counts and latencies per route. Route paths here
// are a small fixed set, so labeling by r.URL.Path is safe.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())

		if rec.status == http.StatusForbidden || rec.status == http.StatusBadRequest {
			tamperRejections.WithLabelValues(strconv.Itoa(rec.status)).Inc()
		}
	})
}
