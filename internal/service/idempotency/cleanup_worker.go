package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultCleanupRetention — насколько дольше TTL живёт запись.
	// Запоздавший повтор REST-запроса в этом окне всё ещё получает
	// сохранённый ответ, а не повторное исполнение.
	defaultCleanupRetention = time.Hour
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pay_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pay_idempotency_cleanup_deleted_total",
		Help: "Total number of deleted expired idempotency records.",
	})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_idempotency_cleanup_last_deleted",
		Help: "Number of deleted records during the last cleanup run.",
	})
)

// CleanupOptions задаёт параметры уборки протухших idempotency-ключей.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период между проходами уборки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер порции одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задаёт, сколько держать запись после истечения её TTL.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Retention = retention
	}
}

// CleanupWorker периодически удаляет idempotency-записи, чей TTL истёк
// дольше retention назад. Удаление порционное, чтобы разовый проход
// не держал длинную блокировку на таблице.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewCleanupWorker создаёт воркер уборки idempotency-ключей.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultCleanupRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention < 0 {
		opts.Retention = 0
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
	}
}

// Run запускает периодическую уборку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.retention)

	deleted, err := w.Sweep(ctx, cutoff)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("idempotency cleanup run failed")
		return
	}

	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// Sweep удаляет порциями все записи с ttl_at <= cutoff.
// Возвращает суммарное число удалённых записей.
func (w *CleanupWorker) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(cutoff, w.batchSize)
		if err != nil {
			return total, err
		}
		if deleted > 0 {
			total += deleted
			idempotencyCleanupDeletedTotal.Add(float64(deleted))
		}

		// Неполная порция означает, что протухших записей не осталось.
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
