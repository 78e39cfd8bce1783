package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/gateway"
	"github.com/mestocker/payments/internal/messaging/kafka"
	"github.com/mestocker/payments/internal/metrics"
)

// ProcessorOptions задаёт зависимости обработчика вебхуков.
type ProcessorOptions struct {
	Logger   *log.Entry
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
	Metrics  *metrics.WebhookMetrics
}

// ProcessorOption настраивает Processor.
type ProcessorOption func(*ProcessorOptions)

// WithLogger задаёт logger для обработчика.
func WithLogger(logger *log.Entry) ProcessorOption {
	return func(opts *ProcessorOptions) {
		opts.Logger = logger
	}
}

// WithTimeline включает запись событий в timeline заказа.
func WithTimeline(timeline domain.TimelineRepository) ProcessorOption {
	return func(opts *ProcessorOptions) {
		opts.Timeline = timeline
	}
}

// WithOutbox включает публикацию доменных событий через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) ProcessorOption {
	return func(opts *ProcessorOptions) {
		opts.Outbox = outbox
	}
}

// WithMetrics задаёт метрики обработчика.
func WithMetrics(m *metrics.WebhookMetrics) ProcessorOption {
	return func(opts *ProcessorOptions) {
		opts.Metrics = m
	}
}

// Processor принимает сырые вебхуки шлюзов и применяет их к заказам.
//
// Ошибка возвращается только при отказе инфраструктуры (хранилище недоступно,
// запись не удалась). В этом случае вызывающая сторона НЕ должна подтверждать
// событие шлюзу как обработанное: повторная доставка безопасна благодаря
// unique constraint на (provider, event_id).
type Processor struct {
	registry *gateway.Registry
	orders   domain.OrderRepository
	webhooks domain.WebhookRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.WebhookMetrics
	logger   *log.Entry
}

// NewProcessor создаёт обработчик вебхуков.
func NewProcessor(registry *gateway.Registry, orders domain.OrderRepository, webhooks domain.WebhookRepository, options ...ProcessorOption) *Processor {
	opts := ProcessorOptions{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "webhook-processor")
	}

	return &Processor{
		registry: registry,
		orders:   orders,
		webhooks: webhooks,
		timeline: opts.Timeline,
		outbox:   opts.Outbox,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Process проверяет подпись, разбирает тело и применяет событие к заказу.
func (p *Processor) Process(ctx context.Context, provider domain.PaymentProvider, body []byte, signature string) (domain.WebhookApplyResult, error) {
	started := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordProcessingDuration(string(provider), time.Since(started))
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	decoder, err := p.registry.Decoder(provider)
	if err != nil {
		p.recordRejected(provider)
		return domain.WebhookApplyResult{
			Outcome: domain.WebhookOutcomeRejected,
			Reason:  err.Error(),
		}, nil
	}

	notification, err := decoder.Decode(body, signature)
	if err != nil {
		if errors.Is(err, domain.ErrWebhookSignatureInvalid) {
			if p.metrics != nil {
				p.metrics.RecordSignatureFailure(string(provider))
			}
			p.logger.WithField("provider", provider).Warn("webhook signature verification failed")
			return domain.WebhookApplyResult{
				Outcome: domain.WebhookOutcomeRejected,
				Reason:  "signature verification failed",
			}, nil
		}

		if p.metrics != nil {
			p.metrics.RecordDecodeFailure(string(provider))
		}
		p.logger.WithError(err).WithField("provider", provider).Warn("webhook payload decode failed")
		return domain.WebhookApplyResult{
			Outcome: domain.WebhookOutcomeRejected,
			Reason:  fmt.Sprintf("payload decode failed: %v", err),
		}, nil
	}

	event := domain.WebhookEvent{
		Provider:      notification.Provider,
		EventID:       notification.EventID,
		EventType:     notification.EventType,
		Payload:       notification.RawPayload,
		Signature:     notification.Signature,
		PaymentStatus: notification.Status,
	}

	order, err := p.orders.GetByNumber(notification.OrderNumber)
	switch {
	case err == nil:
		event.OrderID = order.ID
		if notification.AmountMinor > 0 && notification.AmountMinor != order.AmountMinor {
			p.logger.WithFields(log.Fields{
				"provider":     provider,
				"order_id":     order.ID,
				"order_amount": order.AmountMinor,
				"event_amount": notification.AmountMinor,
			}).Warn("webhook amount does not match order amount")
		}
	case errors.Is(err, domain.ErrOrderNotFound):
		// Событие всё равно записывается: дедупликация и аудит должны
		// работать и для уведомлений о неизвестных заказах.
		event.OrderID = notification.OrderNumber
	default:
		p.recordInternalError(provider, err, "order lookup failed")
		return domain.WebhookApplyResult{}, fmt.Errorf("resolve order %q: %w", notification.OrderNumber, err)
	}

	result, err := p.webhooks.ApplyPaymentEvent(event)
	if err != nil {
		p.recordInternalError(provider, err, "apply payment event failed")
		return domain.WebhookApplyResult{}, fmt.Errorf("apply payment event: %w", err)
	}

	p.recordOutcome(provider, notification, result)
	if result.Outcome == domain.WebhookOutcomeApplied {
		p.appendTimeline(result)
		p.enqueueOutbox(order, notification, result)
	}

	return result, nil
}

// ApplyInternal применяет платёжное событие из внутреннего Kafka-топика:
// подтверждения из back-office и миграционные дозаливки приходят мимо
// вебхуков шлюзов, но идут тем же идемпотентным путём — дедупликация по
// (provider, event_id) и whitelist переходов. Повторная доставка события
// consumer-ом поэтому безопасна.
//
// Ошибка возвращается только при отказе инфраструктуры: в этом случае
// offset сообщения не коммитится и событие будет доставлено снова.
func (p *Processor) ApplyInternal(ctx context.Context, event kafka.PaymentEvent) (domain.WebhookApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	provider := domain.PaymentProvider(event.Provider)
	status := domain.PaymentStatus(event.Status)

	var reason string
	switch {
	case event.EventID == "":
		reason = "event_id is required"
	case !provider.Valid():
		reason = fmt.Sprintf("unknown provider %q", event.Provider)
	case !status.Valid():
		reason = fmt.Sprintf("unknown payment status %q", event.Status)
	}
	if reason != "" {
		p.recordRejected(provider)
		p.logger.WithFields(log.Fields{
			"provider": event.Provider,
			"event_id": event.EventID,
			"reason":   reason,
		}).Warn("internal payment event rejected")
		return domain.WebhookApplyResult{
			Outcome: domain.WebhookOutcomeRejected,
			Reason:  reason,
		}, nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return domain.WebhookApplyResult{}, fmt.Errorf("marshal internal payment event: %w", err)
	}

	webhookEvent := domain.WebhookEvent{
		Provider:      provider,
		EventID:       event.EventID,
		EventType:     string(event.EventType),
		Payload:       raw,
		PaymentStatus: status,
	}

	order, err := p.resolveOrder(event)
	switch {
	case err == nil:
		webhookEvent.OrderID = order.ID
	case errors.Is(err, domain.ErrOrderNotFound):
		// Журнал и дедупликация работают и для неизвестных заказов.
		webhookEvent.OrderID = event.OrderID
		if webhookEvent.OrderID == "" {
			webhookEvent.OrderID = event.OrderNumber
		}
	default:
		p.recordInternalError(provider, err, "order lookup failed")
		return domain.WebhookApplyResult{}, fmt.Errorf("resolve order for event %q: %w", event.EventID, err)
	}

	result, err := p.webhooks.ApplyPaymentEvent(webhookEvent)
	if err != nil {
		p.recordInternalError(provider, err, "apply payment event failed")
		return domain.WebhookApplyResult{}, fmt.Errorf("apply payment event: %w", err)
	}

	notification := gateway.Notification{
		Provider:    provider,
		EventID:     event.EventID,
		EventType:   string(event.EventType),
		OrderNumber: order.OrderNumber,
		ExternalID:  event.ExternalID,
		Status:      status,
		AmountMinor: event.AmountMinor,
	}

	p.recordOutcome(provider, notification, result)
	if result.Outcome == domain.WebhookOutcomeApplied {
		p.appendTimeline(result)
		p.enqueueOutbox(order, notification, result)
	}

	return result, nil
}

// resolveOrder ищет заказ по номеру, затем по идентификатору:
// back-office обычно знает номер заказа, миграции — внутренний ID.
func (p *Processor) resolveOrder(event kafka.PaymentEvent) (domain.Order, error) {
	if event.OrderNumber != "" {
		order, err := p.orders.GetByNumber(event.OrderNumber)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return order, err
		}
	}
	if event.OrderID != "" {
		return p.orders.Get(event.OrderID)
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (p *Processor) recordOutcome(provider domain.PaymentProvider, notification gateway.Notification, result domain.WebhookApplyResult) {
	entry := p.logger.WithFields(log.Fields{
		"provider": provider,
		"event_id": notification.EventID,
		"order_id": result.OrderID,
		"outcome":  result.Outcome,
	})

	if p.metrics == nil {
		p.logOutcome(entry, result)
		return
	}

	switch result.Outcome {
	case domain.WebhookOutcomeApplied:
		p.metrics.RecordApplied(string(provider))
		p.metrics.RecordOrderTransition(string(result.FromStatus), string(result.ToStatus))
	case domain.WebhookOutcomeDuplicate:
		p.metrics.RecordDuplicate(string(provider))
	case domain.WebhookOutcomeNoChange:
		p.metrics.RecordNoChange(string(provider))
	case domain.WebhookOutcomeRejected:
		p.metrics.RecordRejected(string(provider))
	}

	p.logOutcome(entry, result)
}

func (p *Processor) logOutcome(entry *log.Entry, result domain.WebhookApplyResult) {
	switch result.Outcome {
	case domain.WebhookOutcomeApplied:
		entry.WithFields(log.Fields{
			"from": result.FromStatus,
			"to":   result.ToStatus,
		}).Info("webhook applied")
	case domain.WebhookOutcomeRejected:
		entry.WithField("reason", result.Reason).Warn("webhook rejected")
	default:
		entry.Debug("webhook processed without status change")
	}
}

func (p *Processor) recordRejected(provider domain.PaymentProvider) {
	if p.metrics != nil {
		p.metrics.RecordRejected(string(provider))
	}
}

func (p *Processor) recordInternalError(provider domain.PaymentProvider, err error, msg string) {
	if p.metrics != nil {
		p.metrics.RecordInternalError(string(provider))
	}
	p.logger.WithError(err).WithField("provider", provider).Error(msg)
}

func (p *Processor) appendTimeline(result domain.WebhookApplyResult) {
	if p.timeline == nil {
		return
	}

	err := p.timeline.Append(domain.TimelineEvent{
		OrderID:  result.OrderID,
		Type:     "order.status_changed",
		Reason:   fmt.Sprintf("payment webhook: %s -> %s", result.FromStatus, result.ToStatus),
		Occurred: time.Now().UTC(),
	})
	if err != nil {
		p.logger.WithError(err).WithField("order_id", result.OrderID).Warn("failed to append timeline event")
	}
}

func (p *Processor) enqueueOutbox(order domain.Order, notification gateway.Notification, result domain.WebhookApplyResult) {
	if p.outbox == nil {
		return
	}

	payload, err := json.Marshal(kafka.PaymentEvent{
		EventType:   paymentEventType(notification.Status),
		OrderID:     result.OrderID,
		OrderNumber: order.OrderNumber,
		Provider:    string(notification.Provider),
		ExternalID:  notification.ExternalID,
		Status:      string(notification.Status),
		AmountMinor: notification.AmountMinor,
		Timestamp:   time.Now().UTC(),
		Metadata: map[string]interface{}{
			"from_status": string(result.FromStatus),
			"to_status":   string(result.ToStatus),
		},
	})
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal outbox payload")
		return
	}

	if _, err := p.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   result.OrderID,
		EventType:     string(paymentEventType(notification.Status)),
		Payload:       payload,
	}); err != nil {
		p.logger.WithError(err).WithField("order_id", result.OrderID).Warn("failed to enqueue outbox message")
	}
}

func paymentEventType(status domain.PaymentStatus) kafka.EventType {
	switch status {
	case domain.PaymentStatusApproved:
		return kafka.EventTypePaymentApproved
	case domain.PaymentStatusRefunded:
		return kafka.EventTypePaymentRefunded
	case domain.PaymentStatusPending:
		return kafka.EventTypePaymentPending
	default:
		return kafka.EventTypePaymentDeclined
	}
}
