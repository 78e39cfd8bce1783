package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Payment события
	EventTypePaymentApproved EventType = "payment.approved"
	EventTypePaymentDeclined EventType = "payment.declined"
	EventTypePaymentRefunded EventType = "payment.refunded"
	EventTypePaymentPending  EventType = "payment.pending"

	// Order события
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderConfirmed     EventType = "order.confirmed"
	EventTypeOrderCanceled      EventType = "order.canceled"
	EventTypeOrderRefunded      EventType = "order.refunded"
	EventTypeOrderShipped       EventType = "order.shipped"
	EventTypeOrderDelivered     EventType = "order.delivered"
	EventTypeOrderStatusChanged EventType = "order.status_changed"

	// Webhook события (для аудита и downstream-потребителей)
	EventTypeWebhookRejected EventType = "webhook.rejected"
)

// Topics для Kafka
const (
	TopicPaymentEvents   = "payments.payment.events"
	TopicOrderEvents     = "payments.order.events"
	TopicDeadLetterQueue = "payments.dlq" // Dead Letter Queue для failed messages
)

// PaymentEvent представляет событие платежа, применённое к заказу.
// EventID обязателен для событий из внутреннего топика: по паре
// (provider, event_id) работает дедупликация при применении к заказу.
type PaymentEvent struct {
	EventType   EventType              `json:"event_type"`
	EventID     string                 `json:"event_id,omitempty"`
	OrderID     string                 `json:"order_id"`
	OrderNumber string                 `json:"order_number,omitempty"`
	Provider    string                 `json:"provider"`
	ExternalID  string                 `json:"external_id,omitempty"`
	Status      string                 `json:"status"`
	AmountMinor int64                  `json:"amount_minor,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewPaymentEvent создает новое событие платежа
func NewPaymentEvent(eventType EventType, orderID, provider, status string, metadata map[string]interface{}) *PaymentEvent {
	return &PaymentEvent{
		EventType: eventType,
		OrderID:   orderID,
		Provider:  provider,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, customerID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:  eventType,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     status,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}
