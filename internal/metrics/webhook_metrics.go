package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics содержит метрики обработки платёжных вебхуков.
type WebhookMetrics struct {
	// Счётчики по результатам обработки
	eventsApplied   *prometheus.CounterVec
	eventsDuplicate *prometheus.CounterVec
	eventsNoChange  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec

	// Счётчики ошибок до применения события
	signatureFailures *prometheus.CounterVec
	decodeFailures    *prometheus.CounterVec
	internalErrors    *prometheus.CounterVec

	// Гистограмма времени обработки вебхука
	processingDuration *prometheus.HistogramVec

	// Счётчики статусных переходов заказов
	orderTransitions *prometheus.CounterVec
}

// NewWebhookMetrics создаёт новый экземпляр метрик вебхуков.
func NewWebhookMetrics() *WebhookMetrics {
	return newWebhookMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newWebhookMetricsWithRegisterer(registerer prometheus.Registerer) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	providerLabel := []string{"provider"}

	return &WebhookMetrics{
		eventsApplied: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_events_applied_total",
			Help: "Total number of webhook events that changed an order status",
		}, providerLabel),
		eventsDuplicate: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_events_duplicate_total",
			Help: "Total number of webhook events rejected as duplicate deliveries",
		}, providerLabel),
		eventsNoChange: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_events_no_change_total",
			Help: "Total number of webhook events that did not change order status",
		}, providerLabel),
		eventsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_events_rejected_total",
			Help: "Total number of webhook events rejected by the transition whitelist or unknown order",
		}, providerLabel),
		signatureFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_signature_failures_total",
			Help: "Total number of webhook deliveries with invalid signature",
		}, providerLabel),
		decodeFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_decode_failures_total",
			Help: "Total number of webhook deliveries with unparseable payload",
		}, providerLabel),
		internalErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_webhook_internal_errors_total",
			Help: "Total number of webhook deliveries failed on storage or infrastructure errors",
		}, providerLabel),
		processingDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pay_webhook_processing_duration_seconds",
			Help:    "Duration of webhook processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, providerLabel),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pay_order_transitions_total",
			Help: "Total number of order status transitions grouped by from/to pair",
		}, []string{"from", "to"}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordApplied увеличивает счётчик применённых событий.
func (m *WebhookMetrics) RecordApplied(provider string) {
	m.eventsApplied.WithLabelValues(provider).Inc()
}

// RecordDuplicate увеличивает счётчик повторных доставок.
func (m *WebhookMetrics) RecordDuplicate(provider string) {
	m.eventsDuplicate.WithLabelValues(provider).Inc()
}

// RecordNoChange увеличивает счётчик событий без смены статуса.
func (m *WebhookMetrics) RecordNoChange(provider string) {
	m.eventsNoChange.WithLabelValues(provider).Inc()
}

// RecordRejected увеличивает счётчик отклонённых событий.
func (m *WebhookMetrics) RecordRejected(provider string) {
	m.eventsRejected.WithLabelValues(provider).Inc()
}

// RecordSignatureFailure увеличивает счётчик невалидных подписей.
func (m *WebhookMetrics) RecordSignatureFailure(provider string) {
	m.signatureFailures.WithLabelValues(provider).Inc()
}

// RecordDecodeFailure увеличивает счётчик нераспознанных payload.
func (m *WebhookMetrics) RecordDecodeFailure(provider string) {
	m.decodeFailures.WithLabelValues(provider).Inc()
}

// RecordInternalError увеличивает счётчик инфраструктурных ошибок.
func (m *WebhookMetrics) RecordInternalError(provider string) {
	m.internalErrors.WithLabelValues(provider).Inc()
}

// RecordProcessingDuration записывает время обработки вебхука.
func (m *WebhookMetrics) RecordProcessingDuration(provider string, duration time.Duration) {
	m.processingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordOrderTransition увеличивает счётчик статусного перехода.
func (m *WebhookMetrics) RecordOrderTransition(from, to string) {
	m.orderTransitions.WithLabelValues(from, to).Inc()
}
