package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mestocker/payments/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, provider, external_id, method, status, amount_minor, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		payment.ID, payment.OrderID, string(payment.Provider), payment.ExternalID,
		payment.Method, string(payment.Status), payment.AmountMinor,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPaymentDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, provider, external_id, method, status, amount_minor, created_at, updated_at
		FROM payments
		WHERE id = $1
	`, id))
}

func (r *paymentRepository) GetByExternalID(provider domain.PaymentProvider, externalID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, provider, external_id, method, status, amount_minor, created_at, updated_at
		FROM payments
		WHERE provider = $1 AND external_id = $2
	`, string(provider), externalID))
}

func (r *paymentRepository) ListByOrder(orderID string) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, provider, external_id, method, status, amount_minor, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		var (
			payment  domain.Payment
			provider string
			status   string
		)
		if err := rows.Scan(
			&payment.ID, &payment.OrderID, &provider, &payment.ExternalID,
			&payment.Method, &status, &payment.AmountMinor,
			&payment.CreatedAt, &payment.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payment.Provider = domain.PaymentProvider(provider)
		payment.Status = domain.PaymentStatus(status)
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) Save(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET external_id = $1,
		    method = $2,
		    status = $3,
		    amount_minor = $4,
		    updated_at = $5
		WHERE id = $6
	`,
		payment.ExternalID, payment.Method, string(payment.Status),
		payment.AmountMinor, payment.UpdatedAt, payment.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

func (r *paymentRepository) scanOne(row *sql.Row) (domain.Payment, error) {
	var (
		payment  domain.Payment
		provider string
		status   string
	)

	err := row.Scan(
		&payment.ID, &payment.OrderID, &provider, &payment.ExternalID,
		&payment.Method, &status, &payment.AmountMinor,
		&payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	payment.Provider = domain.PaymentProvider(provider)
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
