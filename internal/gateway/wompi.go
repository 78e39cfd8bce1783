package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mestocker/payments/internal/domain"
)

// wompiEvent повторяет структуру события Wompi (transaction.updated).
type wompiEvent struct {
	Event string `json:"event"`
	Data  struct {
		Transaction struct {
			ID                string `json:"id"`
			AmountInCents     int64  `json:"amount_in_cents"`
			Reference         string `json:"reference"`
			Currency          string `json:"currency"`
			PaymentMethodType string `json:"payment_method_type"`
			Status            string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
	Signature struct {
		Checksum   string   `json:"checksum"`
		Properties []string `json:"properties"`
	} `json:"signature"`
}

// WompiDecoder проверяет checksum событий Wompi и нормализует payload.
type WompiDecoder struct {
	eventsSecret string
}

// NewWompiDecoder создаёт декодер с секретом событий из личного кабинета Wompi.
func NewWompiDecoder(eventsSecret string) *WompiDecoder {
	return &WompiDecoder{eventsSecret: eventsSecret}
}

func (d *WompiDecoder) Provider() domain.PaymentProvider {
	return domain.ProviderWompi
}

// Decode разбирает событие Wompi. Checksum считается как
// sha256(значения signature.properties + timestamp + secret).
func (d *WompiDecoder) Decode(body []byte, _ string) (Notification, error) {
	var event wompiEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return Notification{}, fmt.Errorf("decode wompi event: %w", err)
	}

	tx := event.Data.Transaction
	if tx.ID == "" || tx.Reference == "" {
		return Notification{}, fmt.Errorf("wompi event is missing transaction id or reference")
	}

	expected := d.checksum(event)
	provided := strings.ToLower(strings.TrimSpace(event.Signature.Checksum))
	if provided == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return Notification{}, domain.ErrWebhookSignatureInvalid
	}

	status, err := wompiStatus(tx.Status)
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		Provider:  domain.ProviderWompi,
		EventID:   provided,
		EventType: event.Event,
		// Wompi не присылает отдельный event id, поэтому ключом дедупликации
		// служит checksum: он детерминирован по (id, status, amount, timestamp).
		OrderNumber: tx.Reference,
		ExternalID:  tx.ID,
		Method:      tx.PaymentMethodType,
		Status:      status,
		AmountMinor: tx.AmountInCents,
		Currency:    tx.Currency,
		Signature:   provided,
		RawPayload:  append([]byte(nil), body...),
	}, nil
}

// checksum воспроизводит подпись Wompi по списку signature.properties.
func (d *WompiDecoder) checksum(event wompiEvent) string {
	var builder strings.Builder
	for _, property := range event.Signature.Properties {
		builder.WriteString(d.propertyValue(event, property))
	}
	builder.WriteString(strconv.FormatInt(event.Timestamp, 10))
	builder.WriteString(d.eventsSecret)

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

func (d *WompiDecoder) propertyValue(event wompiEvent, property string) string {
	switch property {
	case "transaction.id":
		return event.Data.Transaction.ID
	case "transaction.status":
		return event.Data.Transaction.Status
	case "transaction.amount_in_cents":
		return strconv.FormatInt(event.Data.Transaction.AmountInCents, 10)
	case "transaction.reference":
		return event.Data.Transaction.Reference
	case "transaction.currency":
		return event.Data.Transaction.Currency
	default:
		return ""
	}
}

func wompiStatus(raw string) (domain.PaymentStatus, error) {
	switch strings.ToUpper(raw) {
	case "APPROVED":
		return domain.PaymentStatusApproved, nil
	case "DECLINED":
		return domain.PaymentStatusDeclined, nil
	case "VOIDED":
		return domain.PaymentStatusVoided, nil
	case "PENDING":
		return domain.PaymentStatusPending, nil
	case "ERROR":
		return domain.PaymentStatusError, nil
	default:
		return "", fmt.Errorf("%w: wompi status %q", domain.ErrPaymentStatusUnknown, raw)
	}
}

var _ Decoder = (*WompiDecoder)(nil)
