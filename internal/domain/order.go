package domain

import "time"

// OrderStatus описывает жизненный цикл заказа на маркетплейсе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена шлюзом.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оплата подтверждена, заказ принят в работу.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ комплектуется продавцом.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен покупателю (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до доставки (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — деньги возвращены покупателю (терминальный статус).
	OrderStatusRefunded OrderStatus = "refunded"
)

// orderTransitions — статический whitelist допустимых переходов статуса.
// Любой переход, которого нет в списке, отклоняется независимо от источника:
// вебхук шлюза и админский endpoint проходят через одну и ту же проверку.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// Valid проверяет, что статус относится к известным значениям.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransition проверяет, разрешён ли переход from → to.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStatus вычисляет целевой статус заказа по статусу платежа от шлюза.
// Возвращает ErrTransitionNotAllowed, если переход не входит в whitelist.
func NextStatus(current OrderStatus, payment PaymentStatus) (OrderStatus, error) {
	var target OrderStatus
	switch payment {
	case PaymentStatusApproved:
		target = OrderStatusConfirmed
	case PaymentStatusDeclined, PaymentStatusVoided, PaymentStatusError:
		// Отказ шлюза отменяет только неоплаченный заказ: запоздавший
		// declined/voided по уже подтверждённому заказу не трогает его,
		// отмена подтверждённых остаётся за админским endpoint'ом.
		if current != OrderStatusPending {
			return current, ErrTransitionNotAllowed
		}
		target = OrderStatusCancelled
	case PaymentStatusRefunded:
		target = OrderStatusRefunded
	case PaymentStatusPending:
		// Промежуточное уведомление, статус заказа не меняем.
		return current, nil
	default:
		return current, ErrPaymentStatusUnknown
	}

	if target == current {
		return current, nil
	}
	if !CanTransition(current, target) {
		return current, ErrTransitionNotAllowed
	}
	return target, nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// SKU — внешний идентификатор товара продавца.
	SKU string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (сентаво).
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
// Денежные поля хранятся только в минимальных единицах, float запрещён.
type Order struct {
	ID          string
	OrderNumber string
	CustomerID  string
	Status      OrderStatus
	Currency    string
	AmountMinor int64
	Items       []OrderItem
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusUnknown)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
