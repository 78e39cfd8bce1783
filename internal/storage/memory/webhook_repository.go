package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mestocker/payments/internal/domain"
)

// webhookRepositoryInMemory воспроизводит семантику постгресовой реализации:
// единый mutex играет роль транзакции и row lock-а, карта событий — роль
// unique constraint на (provider, event_id).
type webhookRepositoryInMemory struct {
	mu       sync.Mutex
	events   map[string]domain.WebhookEvent
	orders   domain.OrderRepository
	payments domain.PaymentRepository
}

// NewWebhookRepository создаёт in-memory реализацию WebhookRepository
// поверх переданных репозиториев заказов и платежей.
func NewWebhookRepository(orders domain.OrderRepository, payments domain.PaymentRepository) domain.WebhookRepository {
	return &webhookRepositoryInMemory{
		events:   make(map[string]domain.WebhookEvent),
		orders:   orders,
		payments: payments,
	}
}

func eventKey(provider domain.PaymentProvider, eventID string) string {
	return string(provider) + "/" + eventID
}

func (r *webhookRepositoryInMemory) ApplyPaymentEvent(event domain.WebhookEvent) (domain.WebhookApplyResult, error) {
	if errs := event.Validate(); len(errs) > 0 {
		return domain.WebhookApplyResult{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey(event.Provider, event.EventID)
	if _, exists := r.events[key]; exists {
		// Повторная доставка: никаких побочных эффектов.
		return domain.WebhookApplyResult{
			Outcome: domain.WebhookOutcomeDuplicate,
			OrderID: event.OrderID,
		}, nil
	}

	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	event.Status = domain.WebhookEventReceived

	order, err := r.orders.Get(event.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// Событие сохраняем, чтобы дедупликация и аудит работали.
			event.Status = domain.WebhookEventFailed
			event.Note = "order not found"
			event.ProcessedAt = now
			r.events[key] = event
			return domain.WebhookApplyResult{
				Outcome: domain.WebhookOutcomeRejected,
				OrderID: event.OrderID,
				Reason:  event.Note,
			}, nil
		}
		return domain.WebhookApplyResult{}, err
	}

	next, err := domain.NextStatus(order.Status, event.PaymentStatus)
	if err != nil {
		event.Status = domain.WebhookEventFailed
		event.Note = fmt.Sprintf("transition %s -> payment %s rejected: %v", order.Status, event.PaymentStatus, err)
		event.ProcessedAt = now
		r.events[key] = event
		return domain.WebhookApplyResult{
			Outcome:    domain.WebhookOutcomeRejected,
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			Reason:     event.Note,
		}, nil
	}

	if err := r.upsertPayment(event, order, now); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	if next == order.Status {
		event.Status = domain.WebhookEventSkipped
		event.Note = "no status change"
		event.ProcessedAt = now
		r.events[key] = event
		return domain.WebhookApplyResult{
			Outcome:    domain.WebhookOutcomeNoChange,
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			Reason:     event.Note,
		}, nil
	}

	from := order.Status
	order.Status = next
	order.UpdatedAt = now
	if err := r.orders.Save(order); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	event.Status = domain.WebhookEventProcessed
	event.ProcessedAt = now
	r.events[key] = event

	return domain.WebhookApplyResult{
		Outcome:    domain.WebhookOutcomeApplied,
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   next,
	}, nil
}

// upsertPayment создаёт или обновляет платёж по транзакции шлюза.
func (r *webhookRepositoryInMemory) upsertPayment(event domain.WebhookEvent, order domain.Order, now time.Time) error {
	existing, err := r.payments.GetByExternalID(event.Provider, eventExternalID(event))
	if err == nil {
		existing.Status = event.PaymentStatus
		existing.UpdatedAt = now
		return r.payments.Save(existing)
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return err
	}

	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Provider:    event.Provider,
		ExternalID:  eventExternalID(event),
		Status:      event.PaymentStatus,
		AmountMinor: order.AmountMinor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return r.payments.Create(payment)
}

// eventExternalID извлекает идентификатор транзакции из ID события.
// Для событий без отдельного ID транзакции используется сам event_id.
func eventExternalID(event domain.WebhookEvent) string {
	return event.EventID
}

func (r *webhookRepositoryInMemory) Get(provider domain.PaymentProvider, eventID string) (domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[eventKey(provider, eventID)]
	if !ok {
		return domain.WebhookEvent{}, domain.ErrWebhookEventNotFound
	}
	return event, nil
}

func (r *webhookRepositoryInMemory) ListByOrder(orderID string) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.WebhookEvent, 0)
	for _, event := range r.events {
		if event.OrderID == orderID {
			result = append(result, event)
		}
	}
	sortEvents(result)
	return result, nil
}

func (r *webhookRepositoryInMemory) ListRecent(limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.WebhookEvent, 0, len(r.events))
	for _, event := range r.events {
		result = append(result, event)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func sortEvents(events []domain.WebhookEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].ReceivedAt.Equal(events[j].ReceivedAt) {
			return events[i].ReceivedAt.Before(events[j].ReceivedAt)
		}
		return events[i].ID < events[j].ID
	})
}

var _ domain.WebhookRepository = (*webhookRepositoryInMemory)(nil)
