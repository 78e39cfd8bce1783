// Package httpapi содержит HTTP-поверхность сервиса: приём вебхуков
// платёжных шлюзов, REST API заказов и админский аудит.
package httpapi

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/metrics"
	"github.com/mestocker/payments/internal/service/order"
	"github.com/mestocker/payments/internal/service/webhook"
)

// maxBodyBytes ограничивает размер принимаемого тела запроса.
const maxBodyBytes = 1 << 20

// Config задаёт параметры HTTP API.
type Config struct {
	// APIKey защищает REST и админские endpoint-ы. Пустое значение
	// выключает проверку. Endpoint-ы вебхуков ключом не защищаются:
	// шлюзы аутентифицируются подписью тела.
	APIKey string
}

// Deps — зависимости HTTP API.
type Deps struct {
	Orders      *order.Service
	Webhooks    *webhook.Processor
	WebhookLog  domain.WebhookRepository
	Idempotency domain.IdempotencyRepository
	Outbox      domain.OutboxRepository
	Metrics     *metrics.HTTPMetrics
	Logger      *log.Entry
}

// Handler объединяет все HTTP-обработчики сервиса.
type Handler struct {
	orders      *order.Service
	webhooks    *webhook.Processor
	webhookLog  domain.WebhookRepository
	idempotency domain.IdempotencyRepository
	outbox      domain.OutboxRepository
	httpMetrics *metrics.HTTPMetrics
	logger      *log.Entry
	apiKey      string
}

// NewHandler собирает маршрутизатор сервиса.
func NewHandler(cfg Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}

	h := &Handler{
		orders:      deps.Orders,
		webhooks:    deps.Webhooks,
		webhookLog:  deps.WebhookLog,
		idempotency: deps.Idempotency,
		outbox:      deps.Outbox,
		httpMetrics: deps.Metrics,
		logger:      logger,
		apiKey:      cfg.APIKey,
	}

	return h.routes()
}

func (h *Handler) routes() http.Handler {
	mux := http.NewServeMux()

	// Вебхуки шлюзов: без API-ключа, аутентификация подписью.
	h.handle(mux, "POST /webhooks/{provider}", "/webhooks/{provider}", http.HandlerFunc(h.handleWebhook))

	// REST API заказов.
	h.handleProtected(mux, "POST /api/v1/orders", "/api/v1/orders",
		withIdempotency(h.idempotency, h.logger, http.HandlerFunc(h.handleCreateOrder)))
	h.handleProtected(mux, "GET /api/v1/orders", "/api/v1/orders", http.HandlerFunc(h.handleListOrders))
	h.handleProtected(mux, "GET /api/v1/orders/{id}", "/api/v1/orders/{id}", http.HandlerFunc(h.handleGetOrder))
	h.handleProtected(mux, "POST /api/v1/orders/{id}/cancel", "/api/v1/orders/{id}/cancel",
		h.handleTransition(domain.OrderStatusCancelled))
	h.handleProtected(mux, "POST /api/v1/orders/{id}/process", "/api/v1/orders/{id}/process",
		h.handleTransition(domain.OrderStatusProcessing))
	h.handleProtected(mux, "POST /api/v1/orders/{id}/ship", "/api/v1/orders/{id}/ship",
		h.handleTransition(domain.OrderStatusShipped))
	h.handleProtected(mux, "POST /api/v1/orders/{id}/deliver", "/api/v1/orders/{id}/deliver",
		h.handleTransition(domain.OrderStatusDelivered))

	// Админский аудит вебхуков и outbox.
	h.handleProtected(mux, "GET /api/v1/admin/webhook-events", "/api/v1/admin/webhook-events",
		http.HandlerFunc(h.handleListWebhookEvents))
	h.handleProtected(mux, "GET /api/v1/admin/webhook-events/{provider}/{event_id}", "/api/v1/admin/webhook-events/{provider}/{event_id}",
		http.HandlerFunc(h.handleGetWebhookEvent))
	h.handleProtected(mux, "GET /api/v1/admin/orders/{id}/webhook-events", "/api/v1/admin/orders/{id}/webhook-events",
		http.HandlerFunc(h.handleListOrderWebhookEvents))
	h.handleProtected(mux, "GET /api/v1/admin/outbox/stats", "/api/v1/admin/outbox/stats",
		http.HandlerFunc(h.handleOutboxStats))

	return mux
}

func (h *Handler) handle(mux *http.ServeMux, pattern, route string, next http.Handler) {
	mux.Handle(pattern, withObservability(route, h.logger, h.httpMetrics, next))
}

func (h *Handler) handleProtected(mux *http.ServeMux, pattern, route string, next http.Handler) {
	h.handle(mux, pattern, route, withAPIKey(h.apiKey, next))
}
