package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
	"github.com/mestocker/payments/internal/storage/memory"
	"github.com/mestocker/payments/internal/storage/postgres"
)

// Dependencies содержит репозитории приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Payments    domain.PaymentRepository
	Webhooks    domain.WebhookRepository
	Timeline    domain.TimelineRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository
	Logger      *log.Entry

	store *postgres.Store
}

// NewDependencies собирает репозитории поверх PostgreSQL, если задан DSN,
// иначе поверх in-memory реализаций (локальная разработка и тесты).
func NewDependencies(ctx context.Context, dsn string, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if dsn == "" {
		logger.Warn("postgres dsn is empty, using in-memory storage")
		orders := memory.NewOrderRepository()
		payments := memory.NewPaymentRepository()
		return &Dependencies{
			Orders:      orders,
			Payments:    payments,
			Webhooks:    memory.NewWebhookRepository(orders, payments),
			Timeline:    memory.NewTimelineRepository(),
			Outbox:      memory.NewOutboxRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
			Logger:      logger,
		}, nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("postgres storage initialized")
	return &Dependencies{
		Orders:      postgres.NewOrderRepository(store),
		Payments:    postgres.NewPaymentRepository(store),
		Webhooks:    postgres.NewWebhookRepository(store),
		Timeline:    postgres.NewTimelineRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		Logger:      logger,
		store:       store,
	}, nil
}

// Ping проверяет доступность хранилища (для readiness-проверки).
func (d *Dependencies) Ping(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.store.Ping(ctx)
}

// Close освобождает подключение к хранилищу.
func (d *Dependencies) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
