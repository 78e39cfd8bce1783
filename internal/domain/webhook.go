package domain

import "time"

// WebhookEventStatus описывает результат обработки входящего вебхука.
type WebhookEventStatus string

const (
	// WebhookEventReceived — событие сохранено, обработка ещё не завершена.
	WebhookEventReceived WebhookEventStatus = "received"
	// WebhookEventProcessed — событие применено: статусы платежа и заказа обновлены.
	WebhookEventProcessed WebhookEventStatus = "processed"
	// WebhookEventSkipped — событие валидно, но ничего не меняет (промежуточный статус).
	WebhookEventSkipped WebhookEventStatus = "skipped"
	// WebhookEventFailed — событие отклонено: неизвестный заказ или запрещённый переход.
	WebhookEventFailed WebhookEventStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s WebhookEventStatus) Valid() bool {
	switch s {
	case WebhookEventReceived, WebhookEventProcessed, WebhookEventSkipped, WebhookEventFailed:
		return true
	default:
		return false
	}
}

// WebhookEvent — запись о доставленном шлюзом уведомлении.
// Пара (Provider, EventID) уникальна: повторная доставка того же события
// упирается в unique constraint до любых побочных эффектов.
type WebhookEvent struct {
	ID       string
	Provider PaymentProvider
	// EventID — идентификатор события на стороне шлюза.
	EventID   string
	EventType string
	OrderID   string
	// Payload хранит сырое тело вебхука для аудита и replay.
	Payload       []byte
	Signature     string
	PaymentStatus PaymentStatus
	Status        WebhookEventStatus
	// Note поясняет, почему событие получило статус skipped/failed.
	Note        string
	ReceivedAt  time.Time
	ProcessedAt time.Time
}

// Validate проверяет ключевые поля события перед записью.
func (e *WebhookEvent) Validate() []error {
	var errs []error

	if !e.Provider.Valid() {
		errs = append(errs, ErrWebhookProviderUnknown)
	}
	if e.EventID == "" {
		errs = append(errs, ErrWebhookEventIDRequired)
	}
	if e.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !e.PaymentStatus.Valid() {
		errs = append(errs, ErrPaymentStatusUnknown)
	}

	return errs
}

// WebhookOutcome описывает итог применения события к заказу.
type WebhookOutcome string

const (
	// WebhookOutcomeApplied — статусы заказа и платежа обновлены.
	WebhookOutcomeApplied WebhookOutcome = "applied"
	// WebhookOutcomeDuplicate — событие с таким (provider, event_id) уже обработано.
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	// WebhookOutcomeNoChange — событие валидно, но статус заказа не изменился.
	WebhookOutcomeNoChange WebhookOutcome = "no_change"
	// WebhookOutcomeRejected — переход запрещён whitelist-ом или заказ не найден.
	WebhookOutcomeRejected WebhookOutcome = "rejected"
)

// WebhookApplyResult возвращается хранилищем после применения события.
type WebhookApplyResult struct {
	Outcome    WebhookOutcome
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	// Reason заполняется для rejected/no_change результатов.
	Reason string
}
