package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/messaging/kafka"
)

// saveRetries ограничивает число повторов при конфликте версий.
const saveRetries = 3

// CreateInput описывает параметры создания заказа.
type CreateInput struct {
	OrderNumber string
	CustomerID  string
	Currency    string
	Items       []domain.OrderItem
}

// ServiceOptions задаёт опциональные зависимости сервиса заказов.
type ServiceOptions struct {
	Logger   *log.Entry
	Payments domain.PaymentRepository
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
}

// ServiceOption настраивает Service.
type ServiceOption func(*ServiceOptions)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Logger = logger
	}
}

// WithPayments включает выдачу платежей заказа.
func WithPayments(payments domain.PaymentRepository) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Payments = payments
	}
}

// WithTimeline включает запись событий жизненного цикла заказа.
func WithTimeline(timeline domain.TimelineRepository) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Timeline = timeline
	}
}

// WithOutbox включает публикацию доменных событий через transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) ServiceOption {
	return func(opts *ServiceOptions) {
		opts.Outbox = outbox
	}
}

// Service реализует операции над заказами поверх репозитория.
// Переходы статусов проходят через тот же whitelist, что и вебхуки шлюзов.
type Service struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, options ...ServiceOption) *Service {
	opts := ServiceOptions{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}

	return &Service{
		orders:   orders,
		payments: opts.Payments,
		timeline: opts.Timeline,
		outbox:   opts.Outbox,
		logger:   logger,
	}
}

// Create создаёт заказ в статусе pending. Сумма заказа вычисляется из позиций.
func (s *Service) Create(input CreateInput) (domain.Order, error) {
	now := time.Now().UTC()

	var amount int64
	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		amount += int64(item.Qty) * item.PriceMinor
		items = append(items, item)
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		OrderNumber: input.OrderNumber,
		CustomerID:  input.CustomerID,
		Status:      domain.OrderStatusPending,
		Currency:    strings.ToUpper(input.Currency),
		AmountMinor: amount,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if order.OrderNumber == "" {
		order.OrderNumber = generateOrderNumber(now)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.appendTimeline(order.ID, "order.created", "order created in pending status")
	s.publishOrderEvent(kafka.EventTypeOrderCreated, order, "", order.Status)

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"amount_minor": order.AmountMinor,
	}).Info("order created")

	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(id string) (domain.Order, error) {
	return s.orders.Get(id)
}

// GetByNumber возвращает заказ по человекочитаемому номеру.
func (s *Service) GetByNumber(orderNumber string) (domain.Order, error) {
	return s.orders.GetByNumber(orderNumber)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByCustomer(customerID, limit)
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// Payments возвращает платежи заказа в порядке создания.
func (s *Service) Payments(orderID string) ([]domain.Payment, error) {
	if s.payments == nil {
		return nil, nil
	}
	return s.payments.ListByOrder(orderID)
}

// Cancel отменяет заказ, если текущий статус допускает отмену.
func (s *Service) Cancel(id, reason string) (domain.Order, error) {
	return s.Transition(id, domain.OrderStatusCancelled, reason)
}

// MarkProcessing переводит подтверждённый заказ в комплектацию.
func (s *Service) MarkProcessing(id, reason string) (domain.Order, error) {
	return s.Transition(id, domain.OrderStatusProcessing, reason)
}

// MarkShipped отмечает передачу заказа в доставку.
func (s *Service) MarkShipped(id, reason string) (domain.Order, error) {
	return s.Transition(id, domain.OrderStatusShipped, reason)
}

// MarkDelivered отмечает доставку заказа покупателю.
func (s *Service) MarkDelivered(id, reason string) (domain.Order, error) {
	return s.Transition(id, domain.OrderStatusDelivered, reason)
}

// Transition переводит заказ в целевой статус через whitelist переходов.
// При конфликте версий операция повторяется на свежей копии заказа.
func (s *Service) Transition(id string, to domain.OrderStatus, reason string) (domain.Order, error) {
	var from domain.OrderStatus
	var updated domain.Order

	for attempt := 0; ; attempt++ {
		order, err := s.orders.Get(id)
		if err != nil {
			return domain.Order{}, err
		}

		from = order.Status
		if !domain.CanTransition(from, to) {
			return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrTransitionNotAllowed, from, to)
		}

		order.Status = to
		order.UpdatedAt = time.Now().UTC()

		err = s.orders.Save(order)
		if err == nil {
			updated = order
			updated.Version = order.Version + 1
			break
		}
		if !domain.IsVersionConflict(err) || attempt >= saveRetries {
			return domain.Order{}, fmt.Errorf("save order %s: %w", id, err)
		}
	}

	note := reason
	if note == "" {
		note = fmt.Sprintf("status changed: %s -> %s", from, to)
	}
	s.appendTimeline(id, "order.status_changed", note)
	s.publishOrderEvent(orderEventType(to), updated, from, to)

	s.logger.WithFields(log.Fields{
		"order_id": id,
		"from":     from,
		"to":       to,
	}).Info("order status changed")

	return updated, nil
}

func (s *Service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}

func (s *Service) publishOrderEvent(eventType kafka.EventType, order domain.Order, from, to domain.OrderStatus) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.CustomerID, string(to), map[string]interface{}{
		"order_number": order.OrderNumber,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
	})
	if from != "" {
		event.Metadata["from_status"] = string(from)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal order event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox message")
	}
}

func orderEventType(to domain.OrderStatus) kafka.EventType {
	switch to {
	case domain.OrderStatusConfirmed:
		return kafka.EventTypeOrderConfirmed
	case domain.OrderStatusCancelled:
		return kafka.EventTypeOrderCanceled
	case domain.OrderStatusRefunded:
		return kafka.EventTypeOrderRefunded
	case domain.OrderStatusShipped:
		return kafka.EventTypeOrderShipped
	case domain.OrderStatusDelivered:
		return kafka.EventTypeOrderDelivered
	default:
		return kafka.EventTypeOrderStatusChanged
	}
}

// generateOrderNumber выдаёт номер вида ORD-2026-7F3A9C1B.
func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%d-%s", now.Year(), suffix)
}
