package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mestocker/payments/internal/domain"
)

type webhookRepository struct {
	db *sql.DB
}

// NewWebhookRepository создаёт PostgreSQL-реализацию WebhookRepository.
func NewWebhookRepository(store *Store) domain.WebhookRepository {
	return &webhookRepository{db: store.DB()}
}

// ApplyPaymentEvent применяет событие шлюза к заказу в одной транзакции.
// Порядок строгий: сначала вставка события (unique constraint на
// (provider, event_id) отсекает повторную доставку до любых побочных
// эффектов), затем блокировка строки заказа через SELECT ... FOR UPDATE,
// затем проверка whitelist переходов и обновление платежа и заказа.
func (r *webhookRepository) ApplyPaymentEvent(event domain.WebhookEvent) (domain.WebhookApplyResult, error) {
	if errs := event.Validate(); len(errs) > 0 {
		return domain.WebhookApplyResult{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WebhookApplyResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webhook_events (
			id, provider, event_id, event_type, order_id, payload, signature,
			payment_status, status, note, received_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		event.ID, string(event.Provider), event.EventID, event.EventType,
		event.OrderID, event.Payload, event.Signature,
		string(event.PaymentStatus), string(domain.WebhookEventReceived), "",
		event.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			return domain.WebhookApplyResult{
				Outcome: domain.WebhookOutcomeDuplicate,
				OrderID: event.OrderID,
			}, nil
		}
		return domain.WebhookApplyResult{}, fmt.Errorf("insert webhook event: %w", err)
	}

	order, lockErr := r.lockOrder(ctx, tx, event.OrderID)
	if lockErr != nil {
		if errors.Is(lockErr, domain.ErrOrderNotFound) {
			return r.finishRejected(ctx, tx, event, domain.Order{}, "order not found", now)
		}
		err = lockErr
		return domain.WebhookApplyResult{}, err
	}

	next, transErr := domain.NextStatus(order.Status, event.PaymentStatus)
	if transErr != nil {
		note := fmt.Sprintf("transition %s -> payment %s rejected: %v", order.Status, event.PaymentStatus, transErr)
		return r.finishRejected(ctx, tx, event, order, note, now)
	}

	if err = r.upsertPayment(ctx, tx, event, order, now); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	if next == order.Status {
		if err = r.markEvent(ctx, tx, event.ID, domain.WebhookEventSkipped, "no status change", now); err != nil {
			return domain.WebhookApplyResult{}, err
		}
		if err = tx.Commit(); err != nil {
			return domain.WebhookApplyResult{}, fmt.Errorf("commit webhook event: %w", err)
		}
		return domain.WebhookApplyResult{
			Outcome:    domain.WebhookOutcomeNoChange,
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			Reason:     "no status change",
		}, nil
	}

	// Строка заблокирована FOR UPDATE, version бампается без optimistic check.
	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
	`, string(next), now, order.ID); err != nil {
		return domain.WebhookApplyResult{}, fmt.Errorf("update order status: %w", err)
	}

	if err = r.markEvent(ctx, tx, event.ID, domain.WebhookEventProcessed, "", now); err != nil {
		return domain.WebhookApplyResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.WebhookApplyResult{}, fmt.Errorf("commit webhook event: %w", err)
	}

	return domain.WebhookApplyResult{
		Outcome:    domain.WebhookOutcomeApplied,
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   next,
	}, nil
}

// finishRejected помечает событие failed и коммитит транзакцию: запись о
// событии должна остаться, иначе не сработает дедупликация повторных доставок.
func (r *webhookRepository) finishRejected(ctx context.Context, tx *sql.Tx, event domain.WebhookEvent, order domain.Order, note string, now time.Time) (domain.WebhookApplyResult, error) {
	if err := r.markEvent(ctx, tx, event.ID, domain.WebhookEventFailed, note, now); err != nil {
		_ = tx.Rollback()
		return domain.WebhookApplyResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WebhookApplyResult{}, fmt.Errorf("commit rejected webhook event: %w", err)
	}

	result := domain.WebhookApplyResult{
		Outcome: domain.WebhookOutcomeRejected,
		OrderID: event.OrderID,
		Reason:  note,
	}
	if order.ID != "" {
		result.FromStatus = order.Status
		result.ToStatus = order.Status
	}
	return result, nil
}

func (r *webhookRepository) lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (domain.Order, error) {
	var order domain.Order
	var status string

	err := tx.QueryRowContext(ctx, `
		SELECT id, order_number, customer_id, status, currency, amount_minor, version, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &status, &order.Currency,
		&order.AmountMinor, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order row: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	return order, nil
}

func (r *webhookRepository) upsertPayment(ctx context.Context, tx *sql.Tx, event domain.WebhookEvent, order domain.Order, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    updated_at = $2
		WHERE provider = $3 AND external_id = $4 AND external_id <> ''
	`, string(event.PaymentStatus), now, string(event.Provider), event.EventID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, provider, external_id, method, status, amount_minor, created_at, updated_at
		) VALUES ($1,$2,$3,$4,'',$5,$6,$7,$8)
	`,
		uuid.NewString(), order.ID, string(event.Provider), event.EventID,
		string(event.PaymentStatus), order.AmountMinor, now, now,
	); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *webhookRepository) markEvent(ctx context.Context, tx *sql.Tx, id string, status domain.WebhookEventStatus, note string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $1,
		    note = $2,
		    processed_at = $3
		WHERE id = $4
	`, string(status), note, now, id); err != nil {
		return fmt.Errorf("mark webhook event %s: %w", status, err)
	}
	return nil
}

func (r *webhookRepository) Get(provider domain.PaymentProvider, eventID string) (domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, provider, event_id, event_type, order_id, payload, signature,
		       payment_status, status, note, received_at, processed_at
		FROM webhook_events
		WHERE provider = $1 AND event_id = $2
	`, string(provider), eventID))
}

func (r *webhookRepository) ListByOrder(orderID string) ([]domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, event_id, event_type, order_id, payload, signature,
		       payment_status, status, note, received_at, processed_at
		FROM webhook_events
		WHERE order_id = $1
		ORDER BY received_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *webhookRepository) ListRecent(limit int) ([]domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider, event_id, event_type, order_id, payload, signature,
		       payment_status, status, note, received_at, processed_at
		FROM webhook_events
		ORDER BY received_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent webhook events: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *webhookRepository) scanRows(rows *sql.Rows) ([]domain.WebhookEvent, error) {
	events := make([]domain.WebhookEvent, 0)
	for rows.Next() {
		event, err := scanWebhookEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}

	return events, nil
}

func (r *webhookRepository) scanOne(row *sql.Row) (domain.WebhookEvent, error) {
	event, err := scanWebhookEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrWebhookEventNotFound
		}
		return domain.WebhookEvent{}, err
	}
	return event, nil
}

func scanWebhookEvent(scan func(dest ...any) error) (domain.WebhookEvent, error) {
	var (
		event         domain.WebhookEvent
		provider      string
		paymentStatus string
		status        string
		processedAt   sql.NullTime
	)

	if err := scan(
		&event.ID, &provider, &event.EventID, &event.EventType, &event.OrderID,
		&event.Payload, &event.Signature, &paymentStatus, &status, &event.Note,
		&event.ReceivedAt, &processedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEvent{}, err
		}
		return domain.WebhookEvent{}, fmt.Errorf("scan webhook event: %w", err)
	}

	event.Provider = domain.PaymentProvider(provider)
	event.PaymentStatus = domain.PaymentStatus(paymentStatus)
	event.Status = domain.WebhookEventStatus(status)
	if processedAt.Valid {
		event.ProcessedAt = processedAt.Time.UTC()
	}

	return event, nil
}

var _ domain.WebhookRepository = (*webhookRepository)(nil)
