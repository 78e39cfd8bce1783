package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mestocker/payments/internal/domain"
)

const wompiTestSecret = "test_events_secret"

func wompiBody(t *testing.T, txID, status string, amount int64, reference string, timestamp int64) []byte {
	t.Helper()

	raw := fmt.Sprintf("%s%s%d%d%s", txID, status, amount, timestamp, wompiTestSecret)
	sum := sha256.Sum256([]byte(raw))
	checksum := hex.EncodeToString(sum[:])

	return []byte(fmt.Sprintf(`{
		"event": "transaction.updated",
		"data": {"transaction": {
			"id": %q,
			"amount_in_cents": %d,
			"reference": %q,
			"currency": "COP",
			"payment_method_type": "CARD",
			"status": %q
		}},
		"timestamp": %d,
		"signature": {
			"checksum": %q,
			"properties": ["transaction.id", "transaction.status", "transaction.amount_in_cents"]
		}
	}`, txID, amount, reference, status, timestamp, checksum))
}

func TestWompiDecode_Approved(t *testing.T) {
	decoder := NewWompiDecoder(wompiTestSecret)
	body := wompiBody(t, "tx-123", "APPROVED", 15000000, "ORD-2025-0001", 1756400000)

	notification, err := decoder.Decode(body, "")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if notification.Provider != domain.ProviderWompi {
		t.Fatalf("unexpected provider: %s", notification.Provider)
	}
	if notification.Status != domain.PaymentStatusApproved {
		t.Fatalf("expected approved, got %s", notification.Status)
	}
	if notification.OrderNumber != "ORD-2025-0001" {
		t.Fatalf("unexpected order number: %s", notification.OrderNumber)
	}
	if notification.AmountMinor != 15000000 {
		t.Fatalf("unexpected amount: %d", notification.AmountMinor)
	}
	if notification.ExternalID != "tx-123" {
		t.Fatalf("unexpected external id: %s", notification.ExternalID)
	}
	if notification.EventID == "" {
		t.Fatal("expected non-empty event id")
	}
}

func TestWompiDecode_TamperedAmount(t *testing.T) {
	decoder := NewWompiDecoder(wompiTestSecret)
	body := wompiBody(t, "tx-123", "APPROVED", 15000000, "ORD-2025-0001", 1756400000)

	// Подменяем сумму после подписи.
	tampered := []byte(strings.ReplaceAll(string(body), "15000000", "25000000"))

	_, err := decoder.Decode(tampered, "")
	if !errors.Is(err, domain.ErrWebhookSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestWompiDecode_WrongSecret(t *testing.T) {
	decoder := NewWompiDecoder("other_secret")
	body := wompiBody(t, "tx-123", "DECLINED", 15000000, "ORD-2025-0001", 1756400000)

	_, err := decoder.Decode(body, "")
	if !errors.Is(err, domain.ErrWebhookSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestWompiDecode_UnknownStatus(t *testing.T) {
	decoder := NewWompiDecoder(wompiTestSecret)
	body := wompiBody(t, "tx-123", "BOGUS", 15000000, "ORD-2025-0001", 1756400000)

	_, err := decoder.Decode(body, "")
	if !errors.Is(err, domain.ErrPaymentStatusUnknown) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestWompiDecode_InvalidJSON(t *testing.T) {
	decoder := NewWompiDecoder(wompiTestSecret)
	if _, err := decoder.Decode([]byte("{not json"), ""); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

