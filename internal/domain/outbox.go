package domain

import "time"

// OutboxStatus описывает этапы публикации записи transactional outbox.
type OutboxStatus string

const (
	// OutboxStatusPending — запись ждёт публикации.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusPublishing — запись забрана воркером, публикация идёт.
	OutboxStatusPublishing OutboxStatus = "publishing"
	// OutboxStatusSent — запись опубликована в брокер.
	OutboxStatusSent OutboxStatus = "sent"
	// OutboxStatusFailed — попытки исчерпаны, запись ушла в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage — доменное событие, записанное в одной транзакции с изменением
// заказа и публикуемое в Kafka асинхронно.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	// Attempts — сколько раз воркер забирал запись на публикацию.
	Attempts int
	// LastError хранит текст последней ошибки публикации.
	LastError string
	CreatedAt time.Time
}

// PartitionKey возвращает ключ партиционирования Kafka: события одного заказа
// должны попадать в одну партицию, чтобы сохранялся порядок.
func (m OutboxMessage) PartitionKey() string {
	if m.AggregateID != "" {
		return m.AggregateID
	}
	return m.ID
}

// OutboxPublisher публикует событие из outbox во внешний брокер.
type OutboxPublisher interface {
	// Publish должен быть идемпотентным: воркер может повторить вызов
	// для одной и той же записи.
	Publish(msg OutboxMessage) error
}

// OutboxRepository хранит записи transactional outbox.
//
// Жизненный цикл записи: pending → publishing (ClaimPending) → sent
// либо обратно в pending (Release) для повторной попытки,
// либо failed (MarkFailed) после исчерпания попыток.
type OutboxRepository interface {
	// Enqueue сохраняет запись со статусом pending.
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// ClaimPending забирает до limit записей в статус publishing,
	// увеличивая счётчик попыток. Конкурирующие воркеры не получают
	// одну и ту же запись.
	ClaimPending(limit int) ([]OutboxMessage, error)
	// Release возвращает запись в pending после неудачной публикации.
	Release(id, note string) error
	// MarkSent помечает запись опубликованной.
	MarkSent(id string) error
	// MarkFailed финализирует запись после исчерпания попыток.
	MarkFailed(id, note string) error
	// Stats возвращает состояние backlog для админки и метрик.
	Stats() (OutboxStats, error)
}

// OutboxStats описывает backlog transactional outbox.
// PendingCount учитывает и записи, находящиеся в публикации.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
