package memory

import (
	"sort"
	"sync"

	"github.com/mestocker/payments/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items: make(map[string]domain.Payment),
	}
}

func (r *paymentRepositoryInMemory) Create(payment domain.Payment) error {
	if errs := payment.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrPaymentDuplicate
	}
	if payment.ExternalID != "" {
		for _, existing := range r.items {
			if existing.Provider == payment.Provider && existing.ExternalID == payment.ExternalID {
				return domain.ErrPaymentDuplicate
			}
		}
	}
	r.items[payment.ID] = payment
	return nil
}

func (r *paymentRepositoryInMemory) Get(id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *paymentRepositoryInMemory) GetByExternalID(provider domain.PaymentProvider, externalID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, payment := range r.items {
		if payment.Provider == provider && payment.ExternalID == externalID && externalID != "" {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (r *paymentRepositoryInMemory) ListByOrder(orderID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0)
	for _, payment := range r.items {
		if payment.OrderID == orderID {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *paymentRepositoryInMemory) Save(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.items[payment.ID] = payment
	return nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
