package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/service/order"
)

type orderItemRequest struct {
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type createOrderRequest struct {
	OrderNumber string             `json:"order_number,omitempty"`
	CustomerID  string             `json:"customer_id"`
	Currency    string             `json:"currency"`
	Items       []orderItemRequest `json:"items"`
}

type transitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type orderItemResponse struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	OrderNumber string              `json:"order_number"`
	CustomerID  string              `json:"customer_id"`
	Status      string              `json:"status"`
	Currency    string              `json:"currency"`
	AmountMinor int64               `json:"amount_minor"`
	Items       []orderItemResponse `json:"items"`
	Version     int64               `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type paymentResponse struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ExternalID  string    `json:"external_id,omitempty"`
	Method      string    `json:"method,omitempty"`
	Status      string    `json:"status"`
	AmountMinor int64     `json:"amount_minor"`
	CreatedAt   time.Time `json:"created_at"`
}

type orderDetailsResponse struct {
	orderResponse
	Timeline []timelineEventResponse `json:"timeline,omitempty"`
	Payments []paymentResponse       `json:"payments,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:         item.ID,
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return orderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      string(o.Status),
		Currency:    o.Currency,
		AmountMinor: o.AmountMinor,
		Items:       items,
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// handleCreateOrder создаёт заказ в статусе pending.
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	created, err := h.orders.Create(order.CreateInput{
		OrderNumber: req.OrderNumber,
		CustomerID:  req.CustomerID,
		Currency:    req.Currency,
		Items:       items,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(created))
}

// handleGetOrder возвращает заказ с timeline и платежами.
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	found, err := h.orders.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := orderDetailsResponse{orderResponse: toOrderResponse(found)}

	timeline, err := h.orders.Timeline(id)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", id).Warn("failed to load order timeline")
	}
	for _, event := range timeline {
		response.Timeline = append(response.Timeline, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}

	payments, err := h.orders.Payments(id)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", id).Warn("failed to load order payments")
	}
	for _, payment := range payments {
		response.Payments = append(response.Payments, paymentResponse{
			ID:          payment.ID,
			Provider:    string(payment.Provider),
			ExternalID:  payment.ExternalID,
			Method:      payment.Method,
			Status:      string(payment.Status),
			AmountMinor: payment.AmountMinor,
			CreatedAt:   payment.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// handleListOrders возвращает заказы клиента.
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id query parameter is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	orders, err := h.orders.ListByCustomer(customerID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		response = append(response, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, response)
}

// handleTransition обслуживает админские переходы статуса заказа.
func (h *Handler) handleTransition(to domain.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req transitionRequest
		if err := decodeBody(r, &req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		updated, err := h.orders.Transition(id, to, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toOrderResponse(updated))
	}
}

func decodeBody(r *http.Request, dest interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dest)
}
