package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Options задаёт параметры пула подключений к PostgreSQL.
// Дефолты рассчитаны на один инстанс сервиса платежей: вебхуки держат
// короткие транзакции, фоновые воркеры добирают остаток пула.
type Options struct {
	ConnTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func defaultStoreOptions() Options {
	return Options{
		ConnTimeout:     5 * time.Second,
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// StoreOption настраивает подключение.
type StoreOption func(*Options)

// WithConnTimeout задаёт таймаут установления соединения и ping-а.
func WithConnTimeout(timeout time.Duration) StoreOption {
	return func(opts *Options) {
		if timeout > 0 {
			opts.ConnTimeout = timeout
		}
	}
}

// WithPoolSize задаёт размер пула подключений.
func WithPoolSize(maxOpen, maxIdle int) StoreOption {
	return func(opts *Options) {
		if maxOpen > 0 {
			opts.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			opts.MaxIdleConns = maxIdle
		}
	}
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db          *sql.DB
	connTimeout time.Duration
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	opts := defaultStoreOptions()
	for _, option := range options {
		option(&opts)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	store := &Store{db: db, connTimeout: opts.ConnTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return store, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.connTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema приводит схему к актуальной: применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
