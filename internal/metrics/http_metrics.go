package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics содержит метрики HTTP API.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics создаёт новый экземпляр HTTP-метрик.
func NewHTTPMetrics() *HTTPMetrics {
	return newHTTPMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newHTTPMetricsWithRegisterer(registerer prometheus.Registerer) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	labels := []string{"method", "route", "status"}

	return &HTTPMetrics{
		requestsTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_http_requests_total",
			Help: "Total number of HTTP requests grouped by method, route and status code",
		}, labels),
		requestDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pay_http_request_duration_seconds",
			Help:    "Duration of HTTP request handling in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, labels),
	}
}

// RecordRequest фиксирует обработанный HTTP-запрос.
func (m *HTTPMetrics) RecordRequest(method, route string, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
