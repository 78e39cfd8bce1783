package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mestocker/payments/internal/domain"
)

// outboxRepositoryInMemory повторяет семантику PostgreSQL-реализации outbox:
// pending-записи забираются в publishing с инкрементом попыток, порядок
// выдачи — по времени постановки.
type outboxRepositoryInMemory struct {
	mu      sync.Mutex
	byID    map[string]*domain.OutboxMessage
	seq     []string
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{byID: make(map[string]*domain.OutboxMessage)}
}

// Enqueue сохраняет запись со статусом pending.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = domain.OutboxStatusPending
	msg.Attempts = 0
	msg.LastError = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stored := msg
	r.byID[msg.ID] = &stored
	r.seq = append(r.seq, msg.ID)
	return msg, nil
}

// ClaimPending переводит до limit pending-записей в publishing.
func (r *outboxRepositoryInMemory) ClaimPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	claimed := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.seq {
		rec := r.byID[id]
		if rec.Status != domain.OutboxStatusPending {
			continue
		}
		rec.Status = domain.OutboxStatusPublishing
		rec.Attempts++
		claimed = append(claimed, *rec)
		if len(claimed) >= limit {
			break
		}
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

// Release возвращает запись в pending для следующей попытки.
func (r *outboxRepositoryInMemory) Release(id, note string) error {
	return r.setStatus(id, domain.OutboxStatusPending, note)
}

// MarkSent помечает запись опубликованной.
func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.setStatus(id, domain.OutboxStatusSent, "")
}

// MarkFailed финализирует запись после исчерпания попыток.
func (r *outboxRepositoryInMemory) MarkFailed(id, note string) error {
	return r.setStatus(id, domain.OutboxStatusFailed, note)
}

func (r *outboxRepositoryInMemory) setStatus(id string, status domain.OutboxStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.Status = status
	if note != "" {
		rec.LastError = note
	}
	return nil
}

// Stats возвращает размер и возраст backlog-а.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats domain.OutboxStats
	for _, rec := range r.byID {
		switch rec.Status {
		case domain.OutboxStatusPending, domain.OutboxStatusPublishing:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// Get возвращает копию записи (используется в тестах).
func (r *outboxRepositoryInMemory) Get(id string) (domain.OutboxMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return domain.OutboxMessage{}, false
	}
	return *rec, true
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
