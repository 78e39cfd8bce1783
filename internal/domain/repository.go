package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByNumber возвращает заказ по человекочитаемому номеру (reference из вебхука).
	GetByNumber(orderNumber string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// PaymentRepository описывает хранилище платежей.
type PaymentRepository interface {
	// Create сохраняет новый платёж.
	Create(payment Payment) error
	// Get возвращает платёж по идентификатору или ErrPaymentNotFound.
	Get(id string) (Payment, error)
	// GetByExternalID ищет платёж по идентификатору транзакции шлюза.
	GetByExternalID(provider PaymentProvider, externalID string) (Payment, error)
	// ListByOrder возвращает платежи заказа в порядке создания.
	ListByOrder(orderID string) ([]Payment, error)
	// Save перезаписывает платёж по ID.
	Save(payment Payment) error
}

// WebhookRepository — журнал вебхуков и атомарное применение события к заказу.
type WebhookRepository interface {
	// ApplyPaymentEvent выполняет в ОДНОЙ транзакции: вставку события с unique
	// constraint на (provider, event_id), блокировку строки заказа
	// (SELECT ... FOR UPDATE), проверку whitelist переходов, обновление платежа
	// и заказа. Повторная доставка возвращает результат с WebhookOutcomeDuplicate
	// без побочных эффектов.
	ApplyPaymentEvent(event WebhookEvent) (WebhookApplyResult, error)
	// Get возвращает событие по паре (provider, event_id).
	Get(provider PaymentProvider, eventID string) (WebhookEvent, error)
	// ListByOrder возвращает события, относящиеся к заказу.
	ListByOrder(orderID string) ([]WebhookEvent, error)
	// ListRecent возвращает последние события для админского аудита.
	ListRecent(limit int) ([]WebhookEvent, error)
}
