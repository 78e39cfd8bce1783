package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/gateway"
	"github.com/mestocker/payments/internal/service/order"
	"github.com/mestocker/payments/internal/service/webhook"
	"github.com/mestocker/payments/internal/storage/memory"
)

const (
	testAPIKey      = "test-api-key"
	testWompiSecret = "wompi_events_secret"
)

type apiFixture struct {
	server *httptest.Server
	orders domain.OrderRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	webhooks := memory.NewWebhookRepository(orders, payments)
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	idempotency := memory.NewIdempotencyRepository()

	registry := gateway.NewRegistry(gateway.Secrets{
		WompiEventsSecret: testWompiSecret,
		PayUAPIKey:        "payu_key",
		PayUMerchantID:    "508029",
		EfectySecret:      "efecty_secret",
	})

	orderService := order.NewService(orders,
		order.WithPayments(payments),
		order.WithTimeline(timeline),
		order.WithOutbox(outbox),
	)
	processor := webhook.NewProcessor(registry, orders, webhooks,
		webhook.WithTimeline(timeline),
		webhook.WithOutbox(outbox),
	)

	handler := NewHandler(Config{APIKey: testAPIKey}, Deps{
		Orders:      orderService,
		Webhooks:    processor,
		WebhookLog:  webhooks,
		Idempotency: idempotency,
		Outbox:      outbox,
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, orders: orders}
}

func (f *apiFixture) request(t *testing.T, method, path string, body []byte, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func (f *apiFixture) createOrder(t *testing.T, headers map[string]string) orderResponse {
	t.Helper()

	body := []byte(`{
		"customer_id": "customer-1",
		"currency": "COP",
		"items": [{"sku": "SKU-001", "qty": 2, "price_minor": 2500000}]
	}`)
	resp := f.request(t, http.MethodPost, "/api/v1/orders", body, headers)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected create status: %d", resp.StatusCode)
	}

	var created orderResponse
	decodeResponse(t, resp, &created)
	return created
}

func signedWompiBody(t *testing.T, txID, status string, amount int64, reference string) []byte {
	t.Helper()

	timestamp := int64(1756400000)
	raw := fmt.Sprintf("%s%s%d%d%s", txID, status, amount, timestamp, testWompiSecret)
	sum := sha256.Sum256([]byte(raw))

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
		"signature": {"checksum": %q, "properties": ["transaction.id", "transaction.status", "transaction.amount_in_cents"]}
	}`, txID, amount, reference, status, timestamp, hex.EncodeToString(sum[:])))
}

func TestAPI_CreateAndGetOrder(t *testing.T) {
	fixture := newAPIFixture(t)

	created := fixture.createOrder(t, nil)
	if created.Status != "pending" {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	if created.AmountMinor != 5000000 {
		t.Fatalf("unexpected amount: %d", created.AmountMinor)
	}

	resp := fixture.request(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var details orderDetailsResponse
	decodeResponse(t, resp, &details)
	if details.ID != created.ID {
		t.Fatalf("expected order %s, got %s", created.ID, details.ID)
	}
	if len(details.Timeline) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(details.Timeline))
	}
}

func TestAPI_CreateOrderValidation(t *testing.T) {
	fixture := newAPIFixture(t)

	resp := fixture.request(t, http.MethodPost, "/api/v1/orders",
		[]byte(`{"currency": "COP", "items": []}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPI_RequiresAPIKey(t *testing.T) {
	fixture := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodGet, fixture.server.URL+"/api/v1/orders?customer_id=c1", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAPI_IdempotentCreateReplaysResponse(t *testing.T) {
	fixture := newAPIFixture(t)

	headers := map[string]string{"Idempotency-Key": "create-1"}
	first := fixture.createOrder(t, headers)

	body := []byte(`{
		"customer_id": "customer-1",
		"currency": "COP",
		"items": [{"sku": "SKU-001", "qty": 2, "price_minor": 2500000}]
	}`)
	resp := fixture.request(t, http.MethodPost, "/api/v1/orders", body, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Idempotency-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}

	var replayed orderResponse
	decodeResponse(t, resp, &replayed)
	if replayed.ID != first.ID {
		t.Fatalf("replay returned different order: %s vs %s", replayed.ID, first.ID)
	}

	orders, err := fixture.orders.ListByCustomer("customer-1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected single order after replay, got %d", len(orders))
	}
}

func TestAPI_IdempotencyKeyReuseConflict(t *testing.T) {
	fixture := newAPIFixture(t)

	headers := map[string]string{"Idempotency-Key": "create-1"}
	fixture.createOrder(t, headers)

	// Тот же ключ с другим телом.
	other := []byte(`{
		"customer_id": "customer-2",
		"currency": "COP",
		"items": [{"sku": "SKU-009", "qty": 1, "price_minor": 100}]
	}`)
	resp := fixture.request(t, http.MethodPost, "/api/v1/orders", other, headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAPI_TransitionEndpoints(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.createOrder(t, nil)

	// pending -> ship запрещён whitelist-ом.
	resp := fixture.request(t, http.MethodPost, "/api/v1/orders/"+created.ID+"/ship", []byte(`{}`), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	resp = fixture.request(t, http.MethodPost, "/api/v1/orders/"+created.ID+"/cancel",
		[]byte(`{"reason": "customer request"}`), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var cancelled orderResponse
	decodeResponse(t, resp, &cancelled)
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestAPI_WebhookAlwaysReturns200(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.createOrder(t, nil)

	cases := []struct {
		name    string
		path    string
		body    []byte
		outcome string
	}{
		{
			name:    "applied",
			path:    "/webhooks/wompi",
			body:    signedWompiBody(t, "tx-1", "APPROVED", created.AmountMinor, created.OrderNumber),
			outcome: "applied",
		},
		{
			name:    "duplicate",
			path:    "/webhooks/wompi",
			body:    signedWompiBody(t, "tx-1", "APPROVED", created.AmountMinor, created.OrderNumber),
			outcome: "duplicate",
		},
		{
			name:    "invalid signature",
			path:    "/webhooks/wompi",
			body:    []byte(`{"event": "transaction.updated", "data": {"transaction": {"id": "tx-2", "reference": "X", "status": "APPROVED"}}, "signature": {"checksum": "bad"}}`),
			outcome: "rejected",
		},
		{
			name:    "unknown provider",
			path:    "/webhooks/stripe",
			body:    []byte(`{}`),
			outcome: "rejected",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := fixture.request(t, http.MethodPost, tc.path, tc.body, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}

			var body webhookResponse
			decodeResponse(t, resp, &body)
			if body.Status != tc.outcome {
				t.Fatalf("expected outcome %s, got %s", tc.outcome, body.Status)
			}
		})
	}

	// Статус заказа изменился ровно один раз.
	stored, err := fixture.orders.Get(created.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", stored.Status)
	}
	if stored.Version != created.Version+1 {
		t.Fatalf("expected version bump by 1, got %d", stored.Version)
	}
}

func TestAPI_AdminWebhookAudit(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.createOrder(t, nil)

	body := signedWompiBody(t, "tx-audit", "APPROVED", created.AmountMinor, created.OrderNumber)
	resp := fixture.request(t, http.MethodPost, "/webhooks/wompi", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook delivery failed: %d", resp.StatusCode)
	}

	resp = fixture.request(t, http.MethodGet, "/api/v1/admin/webhook-events?limit=10", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var events []webhookEventResponse
	decodeResponse(t, resp, &events)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != string(domain.WebhookEventProcessed) {
		t.Fatalf("expected processed, got %s", events[0].Status)
	}
	if events[0].ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}

	resp = fixture.request(t, http.MethodGet, "/api/v1/admin/orders/"+created.ID+"/webhook-events", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var orderEvents []webhookEventResponse
	decodeResponse(t, resp, &orderEvents)
	if len(orderEvents) != 1 {
		t.Fatalf("expected 1 order event, got %d", len(orderEvents))
	}
}

func TestAPI_OutboxStats(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.createOrder(t, nil)

	resp := fixture.request(t, http.MethodGet, "/api/v1/admin/outbox/stats", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats struct {
		PendingCount    int        `json:"pending_count"`
		FailedCount     int        `json:"failed_count"`
		OldestPendingAt *time.Time `json:"oldest_pending_at"`
	}
	decodeResponse(t, resp, &stats)
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending message, got %d", stats.PendingCount)
	}
	if stats.FailedCount != 0 {
		t.Fatalf("expected no failed messages, got %d", stats.FailedCount)
	}
	if stats.OldestPendingAt == nil {
		t.Fatal("expected oldest_pending_at for non-empty backlog")
	}
}
