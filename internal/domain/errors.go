package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка неизвестного статуса заказа.
	ErrOrderStatusUnknown = errors.New("unknown order status")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrTransitionNotAllowed — переход статуса отсутствует в whitelist.
	ErrTransitionNotAllowed = errors.New("order status transition not allowed")

	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего или неподдерживаемого платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка неизвестного статуса платежа.
	ErrPaymentStatusUnknown = errors.New("unknown payment status")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentDuplicate — платёж с таким (provider, external_id) уже существует.
	ErrPaymentDuplicate = errors.New("payment already exists")
	// Ошибка отсутствующего идентификатора заказа в платежах/событиях.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrWebhookProviderUnknown — вебхук пришёл от неподдерживаемого шлюза.
	ErrWebhookProviderUnknown = errors.New("unknown webhook provider")
	// ErrWebhookEventIDRequired — у события нет идентификатора на стороне шлюза.
	ErrWebhookEventIDRequired = errors.New("webhook event_id is required")
	// ErrWebhookEventDuplicate — событие с таким (provider, event_id) уже записано.
	ErrWebhookEventDuplicate = errors.New("webhook event already processed")
	// ErrWebhookEventNotFound — событие не найдено в журнале.
	ErrWebhookEventNotFound = errors.New("webhook event not found")
	// ErrWebhookSignatureInvalid — подпись вебхука не прошла проверку.
	ErrWebhookSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrIdempotencyKeyRequired — не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не вычислен hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят (возможен replay ответа).
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsDuplicateWebhook проверяет, является ли ошибка повторной доставкой события.
func IsDuplicateWebhook(err error) bool {
	return errors.Is(err, ErrWebhookEventDuplicate)
}
