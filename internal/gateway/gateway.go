// Пакет gateway разбирает и проверяет вебхуки платёжных шлюзов.
// Каждый провайдер приводит своё уведомление к общему виду Notification,
// дальше обработка не зависит от шлюза.
package gateway

import (
	"fmt"

	"github.com/mestocker/payments/internal/domain"
)

// Notification — нормализованное уведомление платёжного шлюза.
type Notification struct {
	Provider domain.PaymentProvider
	// EventID — ключ дедупликации события на стороне шлюза.
	EventID   string
	EventType string
	// OrderNumber — reference заказа, который мерчант передал шлюзу при оплате.
	OrderNumber string
	// ExternalID — идентификатор транзакции на стороне шлюза.
	ExternalID  string
	Method      string
	Status      domain.PaymentStatus
	AmountMinor int64
	Currency    string
	Signature   string
	// RawPayload хранит исходное тело вебхука для журнала.
	RawPayload []byte
}

// Decoder проверяет подпись и разбирает сырое тело вебхука провайдера.
// signature — значение заголовка подписи; провайдеры, передающие подпись
// внутри тела (Wompi, PayU), его игнорируют.
type Decoder interface {
	Provider() domain.PaymentProvider
	Decode(body []byte, signature string) (Notification, error)
}

// Secrets содержит ключи проверки подписи по каждому шлюзу.
type Secrets struct {
	WompiEventsSecret string
	PayUAPIKey        string
	PayUMerchantID    string
	EfectySecret      string
}

// Registry хранит декодеры по коду провайдера.
type Registry struct {
	decoders map[domain.PaymentProvider]Decoder
}

// NewRegistry собирает декодеры всех поддерживаемых шлюзов.
func NewRegistry(secrets Secrets) *Registry {
	r := &Registry{decoders: make(map[domain.PaymentProvider]Decoder)}
	r.Register(NewWompiDecoder(secrets.WompiEventsSecret))
	r.Register(NewPayUDecoder(secrets.PayUAPIKey, secrets.PayUMerchantID))
	r.Register(NewEfectyDecoder(secrets.EfectySecret))
	return r
}

// Register добавляет декодер провайдера.
func (r *Registry) Register(decoder Decoder) {
	r.decoders[decoder.Provider()] = decoder
}

// Decoder возвращает декодер по коду провайдера.
func (r *Registry) Decoder(provider domain.PaymentProvider) (Decoder, error) {
	decoder, ok := r.decoders[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWebhookProviderUnknown, provider)
	}
	return decoder, nil
}
