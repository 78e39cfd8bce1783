package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mestocker/payments/internal/domain"
)

// efectyEvent повторяет структуру уведомления Efecty об оплате наличными.
type efectyEvent struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	OrderNumber string `json:"order_number"`
	PaymentRef  string `json:"payment_reference"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// EfectyDecoder проверяет HMAC-подпись уведомлений Efecty.
// Подпись приходит в заголовке X-Efecty-Signature: hex(hmac-sha256(body, secret)).
type EfectyDecoder struct {
	secret string
}

// NewEfectyDecoder создаёт декодер с общим секретом интеграции Efecty.
func NewEfectyDecoder(secret string) *EfectyDecoder {
	return &EfectyDecoder{secret: secret}
}

func (d *EfectyDecoder) Provider() domain.PaymentProvider {
	return domain.ProviderEfecty
}

func (d *EfectyDecoder) Decode(body []byte, signature string) (Notification, error) {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return Notification{}, domain.ErrWebhookSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Notification{}, domain.ErrWebhookSignatureInvalid
	}

	var event efectyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return Notification{}, fmt.Errorf("decode efecty event: %w", err)
	}
	if event.EventID == "" || event.OrderNumber == "" {
		return Notification{}, fmt.Errorf("efecty event is missing event_id or order_number")
	}

	status, err := efectyStatus(event.Status)
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		Provider:    domain.ProviderEfecty,
		EventID:     event.EventID,
		EventType:   event.Type,
		OrderNumber: event.OrderNumber,
		ExternalID:  event.PaymentRef,
		Method:      "CASH",
		Status:      status,
		AmountMinor: event.AmountMinor,
		Currency:    event.Currency,
		Signature:   signature,
		RawPayload:  append([]byte(nil), body...),
	}, nil
}

func efectyStatus(raw string) (domain.PaymentStatus, error) {
	switch strings.ToUpper(raw) {
	case "PAID":
		return domain.PaymentStatusApproved, nil
	case "PENDING":
		return domain.PaymentStatusPending, nil
	case "EXPIRED":
		return domain.PaymentStatusError, nil
	case "REFUNDED":
		return domain.PaymentStatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: efecty status %q", domain.ErrPaymentStatusUnknown, raw)
	}
}

var _ Decoder = (*EfectyDecoder)(nil)
