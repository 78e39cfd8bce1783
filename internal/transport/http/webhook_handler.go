package httpapi

import (
	"io"
	"net/http"

	"github.com/mestocker/payments/internal/domain"
)

// webhookResponse — тело ответа шлюзу. Ответ всегда 200: шлюзы
// трактуют не-2xx как сбой доставки и повторяют событие, а повтор
// уже отклонённого события ничего не изменит.
type webhookResponse struct {
	Status string `json:"status"`
}

// handleWebhook принимает уведомление платёжного шлюза.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := domain.PaymentProvider(r.PathValue("provider"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WithError(err).WithField("provider", provider).Warn("failed to read webhook body")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "error"})
		return
	}

	result, err := h.webhooks.Process(r.Context(), provider, body, webhookSignature(provider, r))
	if err != nil {
		// Инфраструктурная ошибка: событие не записано, повторная
		// доставка шлюзом безопасна. Детали наружу не отдаём.
		writeJSON(w, http.StatusOK, webhookResponse{Status: "error"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: string(result.Outcome)})
}

// webhookSignature извлекает подпись из запроса. Wompi и PayU включают
// подпись в тело уведомления, Efecty передаёт HMAC в заголовке.
func webhookSignature(provider domain.PaymentProvider, r *http.Request) string {
	if provider == domain.ProviderEfecty {
		return r.Header.Get("X-Efecty-Signature")
	}
	return ""
}
