package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mestocker/payments/internal/domain"
)

const outboxDefaultClaimLimit = 100

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

// Enqueue сохраняет запись со статусом pending.
// Вызывается в одной транзакции с изменением заказа на уровне сервиса,
// либо отдельно — для некритичных событий.
func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusPending
	msg.Attempts = 0
	msg.CreatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempts, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,'',$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

// ClaimPending атомарно переводит порцию pending-записей в publishing.
// SKIP LOCKED позволяет запускать несколько воркеров без раздачи
// одной записи дважды.
func (r *outboxRepository) ClaimPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = outboxDefaultClaimLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_messages
		SET status = 'publishing',
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload,
		          attempts, last_error, created_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	claimed := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		msg := domain.OutboxMessage{Status: domain.OutboxStatusPublishing}
		var createdAt time.Time
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Attempts,
			&msg.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed outbox message: %w", err)
		}
		msg.CreatedAt = createdAt.UTC()
		claimed = append(claimed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed outbox rows: %w", err)
	}

	return claimed, nil
}

// Release возвращает запись в pending для следующей попытки публикации.
func (r *outboxRepository) Release(id, note string) error {
	return r.transition(id, domain.OutboxStatusPending, note)
}

// MarkSent помечает запись опубликованной.
func (r *outboxRepository) MarkSent(id string) error {
	return r.transition(id, domain.OutboxStatusSent, "")
}

// MarkFailed финализирует запись после исчерпания попыток.
func (r *outboxRepository) MarkFailed(id, note string) error {
	return r.transition(id, domain.OutboxStatusFailed, note)
}

func (r *outboxRepository) transition(id string, status domain.OutboxStatus, note string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    last_error = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(status), note)
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}

	return nil
}

// Stats возвращает состояние backlog. Записи в статусе publishing
// тоже считаются backlog-ом: они ещё не подтверждены брокером.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending','publishing')),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at) FILTER (WHERE status IN ('pending','publishing'))
		FROM outbox_messages
	`).Scan(&stats.PendingCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
