package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mestocker/payments/internal/domain"
)

type webhookEventResponse struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type,omitempty"`
	OrderID       string     `json:"order_id"`
	PaymentStatus string     `json:"payment_status"`
	Status        string     `json:"status"`
	Note          string     `json:"note,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func toWebhookEventResponse(event domain.WebhookEvent) webhookEventResponse {
	response := webhookEventResponse{
		ID:            event.ID,
		Provider:      string(event.Provider),
		EventID:       event.EventID,
		EventType:     event.EventType,
		OrderID:       event.OrderID,
		PaymentStatus: string(event.PaymentStatus),
		Status:        string(event.Status),
		Note:          event.Note,
		ReceivedAt:    event.ReceivedAt,
	}
	if !event.ProcessedAt.IsZero() {
		processed := event.ProcessedAt
		response.ProcessedAt = &processed
	}
	return response
}

// handleListWebhookEvents возвращает журнал последних вебхуков для аудита.
func (h *Handler) handleListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.webhookLog.ListRecent(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]webhookEventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, toWebhookEventResponse(event))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetWebhookEvent возвращает событие по паре (provider, event_id).
func (h *Handler) handleGetWebhookEvent(w http.ResponseWriter, r *http.Request) {
	provider := domain.PaymentProvider(r.PathValue("provider"))
	eventID := r.PathValue("event_id")

	event, err := h.webhookLog.Get(provider, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWebhookEventResponse(event))
}

// handleListOrderWebhookEvents возвращает события конкретного заказа.
func (h *Handler) handleListOrderWebhookEvents(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	events, err := h.webhookLog.ListByOrder(orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]webhookEventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, toWebhookEventResponse(event))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleOutboxStats возвращает состояние backlog transactional outbox.
func (h *Handler) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pending_count": 0, "failed_count": 0})
		return
	}

	stats, err := h.outbox.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := map[string]interface{}{
		"pending_count": stats.PendingCount,
		"failed_count":  stats.FailedCount,
	}
	if !stats.OldestPendingAt.IsZero() {
		response["oldest_pending_at"] = stats.OldestPendingAt
	}
	writeJSON(w, http.StatusOK, response)
}
