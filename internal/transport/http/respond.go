package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mestocker/payments/internal/domain"
)

// errorResponse — единый формат ошибок API.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError отображает доменные ошибки на HTTP-статусы.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrWebhookEventNotFound):
		writeError(w, http.StatusNotFound, "webhook event not found")
	case errors.Is(err, domain.ErrTransitionNotAllowed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		writeError(w, http.StatusConflict, "order was modified concurrently")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrCustomerRequired,
		domain.ErrCurrencyRequired,
		domain.ErrItemsRequired,
		domain.ErrAmountNegative,
		domain.ErrItemQtyInvalid,
		domain.ErrItemPriceInvalid,
		domain.ErrAmountMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
