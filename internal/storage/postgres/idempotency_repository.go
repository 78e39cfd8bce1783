package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mestocker/payments/internal/domain"
)

const idempotencyDefaultTTL = 24 * time.Hour

const (
	idempotencyInsertQuery = `
		INSERT INTO idempotency_keys (
			key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		) VALUES ($1, $2, NULL, NULL, 'processing', $3, $4, $4)`

	idempotencySelectQuery = `
		SELECT key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1`

	idempotencyFinishQuery = `
		UPDATE idempotency_keys
		SET response_body = $2,
		    http_status = $3,
		    status = $4,
		    updated_at = $5
		WHERE key = $1`
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

// CreateProcessing занимает ключ через unique constraint на idempotency_keys.key:
// из двух конкурентных запросов с одним ключом INSERT выигрывает ровно один,
// второй получает запись победителя.
func (r *idempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(idempotencyDefaultTTL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, idempotencyInsertQuery, key, requestHash, ttlAt, now); err != nil {
		if isUniqueViolation(err) {
			return r.resolveConflict(key, requestHash)
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// resolveConflict читает занятый ключ и различает повтор того же запроса
// и попытку переиспользовать ключ с другим телом.
func (r *idempotencyRepository) resolveConflict(key, requestHash string) (domain.IdempotencyRecord, error) {
	existing, err := r.Get(key)
	if err != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if !existing.MatchesRequest(requestHash) {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx, idempotencySelectQuery, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record %q: %w", key, err)
	}

	return record, nil
}

func (r *idempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, idempotencyFinishQuery,
		key, responseBody, httpStatus, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}

	return nil
}

// DeleteExpired удаляет до limit записей с истёкшим TTL.
// limit<=0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}

	return int(affected), nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record       domain.IdempotencyRecord
		statusRaw    string
		responseBody []byte
		httpStatus   sql.NullInt64
	)

	if err := row.Scan(
		&record.Key,
		&record.RequestHash,
		&responseBody,
		&httpStatus,
		&statusRaw,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q", statusRaw)
	}
	record.ResponseBody = append([]byte(nil), responseBody...)
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}

	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
