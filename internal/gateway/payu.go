package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mestocker/payments/internal/domain"
)

// Коды state_pol в confirmation-запросах PayU.
const (
	payuStateApproved = "4"
	payuStateExpired  = "5"
	payuStateDeclined = "6"
	payuStatePending  = "7"
)

// PayUDecoder проверяет подпись confirmation-запросов PayU Latam.
// PayU присылает form-encoded тело, а не JSON.
type PayUDecoder struct {
	apiKey     string
	merchantID string
}

// NewPayUDecoder создаёт декодер с ключами мерчанта PayU.
func NewPayUDecoder(apiKey, merchantID string) *PayUDecoder {
	return &PayUDecoder{apiKey: apiKey, merchantID: merchantID}
}

func (d *PayUDecoder) Provider() domain.PaymentProvider {
	return domain.ProviderPayU
}

// Decode разбирает confirmation-запрос PayU и сверяет подпись
// md5(apiKey~merchantId~referenceSale~value~currency~statePol).
func (d *PayUDecoder) Decode(body []byte, _ string) (Notification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Notification{}, fmt.Errorf("decode payu confirmation: %w", err)
	}

	reference := values.Get("reference_sale")
	transactionID := values.Get("transaction_id")
	state := values.Get("state_pol")
	value := values.Get("value")
	currency := values.Get("currency")
	sign := strings.ToLower(strings.TrimSpace(values.Get("sign")))

	if reference == "" || transactionID == "" {
		return Notification{}, fmt.Errorf("payu confirmation is missing reference_sale or transaction_id")
	}

	expected := d.signature(reference, value, currency, state)
	if sign == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(sign)) != 1 {
		return Notification{}, domain.ErrWebhookSignatureInvalid
	}

	status, err := payuStatus(state)
	if err != nil {
		return Notification{}, err
	}

	amountMinor, err := parseAmountToMinor(value)
	if err != nil {
		return Notification{}, fmt.Errorf("parse payu value %q: %w", value, err)
	}

	return Notification{
		Provider:    domain.ProviderPayU,
		EventID:     transactionID + ":" + state,
		EventType:   "payu.confirmation",
		OrderNumber: reference,
		ExternalID:  transactionID,
		Method:      values.Get("payment_method_name"),
		Status:      status,
		AmountMinor: amountMinor,
		Currency:    currency,
		Signature:   sign,
		RawPayload:  append([]byte(nil), body...),
	}, nil
}

// signature воспроизводит подпись PayU. value нормализуется по правилам PayU:
// если второй знак после запятой равен нулю, в подпись идёт одна цифра ("150000.0").
func (d *PayUDecoder) signature(reference, value, currency, state string) string {
	payload := strings.Join([]string{
		d.apiKey,
		d.merchantID,
		reference,
		payuSignatureValue(value),
		currency,
		state,
	}, "~")
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func payuSignatureValue(value string) string {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		return value + ".0"
	}
	frac := value[dot+1:]
	if len(frac) == 2 && frac[1] == '0' {
		return value[:dot+2]
	}
	return value
}

func payuStatus(state string) (domain.PaymentStatus, error) {
	switch state {
	case payuStateApproved:
		return domain.PaymentStatusApproved, nil
	case payuStateDeclined:
		return domain.PaymentStatusDeclined, nil
	case payuStateExpired:
		return domain.PaymentStatusError, nil
	case payuStatePending:
		return domain.PaymentStatusPending, nil
	default:
		return "", fmt.Errorf("%w: payu state_pol %q", domain.ErrPaymentStatusUnknown, state)
	}
}

// parseAmountToMinor переводит десятичную строку суммы в минимальные единицы
// без float-арифметики. Поддерживается не больше двух знаков после запятой.
func parseAmountToMinor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	whole := value
	frac := ""
	if dot := strings.IndexByte(value, '.'); dot >= 0 {
		whole = value[:dot]
		frac = value[dot+1:]
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount has more than two decimal places")
	}
	for len(frac) < 2 {
		frac += "0"
	}

	wholePart, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	fracPart, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	if wholePart < 0 || fracPart < 0 {
		return 0, fmt.Errorf("amount must be non-negative")
	}

	return wholePart*100 + fracPart, nil
}

var _ Decoder = (*PayUDecoder)(nil)
