package domain

import "time"

// PaymentProvider — код платёжного шлюза, от которого приходят вебхуки.
type PaymentProvider string

const (
	ProviderWompi  PaymentProvider = "wompi"
	ProviderPayU   PaymentProvider = "payu"
	ProviderEfecty PaymentProvider = "efecty"
)

// Valid проверяет, что провайдер поддерживается.
func (p PaymentProvider) Valid() bool {
	switch p {
	case ProviderWompi, ProviderPayU, ProviderEfecty:
		return true
	default:
		return false
	}
}

// PaymentStatus описывает состояние платежа в терминах шлюза.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, но шлюз ещё не подтвердил результат.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusApproved — шлюз подтвердил списание средств.
	PaymentStatusApproved PaymentStatus = "approved"
	// PaymentStatusDeclined — шлюз отклонил платёж.
	PaymentStatusDeclined PaymentStatus = "declined"
	// PaymentStatusVoided — платёж аннулирован до списания.
	PaymentStatusVoided PaymentStatus = "voided"
	// PaymentStatusRefunded — деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusError — шлюз сообщил о технической ошибке обработки.
	PaymentStatusError PaymentStatus = "error"
)

// Valid проверяет, что статус платежа относится к известным значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusDeclined,
		PaymentStatusVoided, PaymentStatusRefunded, PaymentStatusError:
		return true
	default:
		return false
	}
}

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID       string
	OrderID  string
	Provider PaymentProvider
	// ExternalID — идентификатор транзакции на стороне шлюза.
	// Может быть пустым, если провайдер его не возвращает (Efecty до оплаты).
	ExternalID  string
	Method      string
	Status      PaymentStatus
	AmountMinor int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !p.Provider.Valid() {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if !p.Status.Valid() {
		errs = append(errs, ErrPaymentStatusUnknown)
	}

	return errs
}
