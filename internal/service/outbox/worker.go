package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
)

var (
	outboxPublishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pay_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxBacklogRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_outbox_pending_records",
		Help: "Current number of unpublished records in transactional outbox.",
	})
	outboxFailedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_outbox_failed_records",
		Help: "Current number of outbox records that exhausted publish attempts.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pay_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest unpublished outbox record.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	DLQPublisher domain.OutboxPublisher
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер одной порции из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации до failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// Worker публикует записи transactional outbox в брокер.
//
// Каждый цикл забирает порцию pending-записей (ClaimPending увеличивает
// счётчик попыток), публикует их и раскладывает результаты: sent при успехе,
// возврат в очередь при временной ошибке, DLQ + failed после maxAttempts.
// Повторные попытки размазаны по циклам опроса, воркер нигде не спит
// внутри батча.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxAttempts:  defaultMaxAttempts,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
	}
}

// Run запускает периодический опрос outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл: claim → publish → sent/release/failed.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	batch, err := w.repo.ClaimPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to claim pending outbox messages")
		return
	}

	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		w.publishOne(msg)
	}

	w.refreshBacklogMetrics()
}

func (w *Worker) publishOne(msg domain.OutboxMessage) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"attempt":    msg.Attempts,
	})

	pubErr := w.publisher.Publish(msg)
	if pubErr == nil {
		outboxPublishResults.WithLabelValues("sent").Inc()
		if err := w.repo.MarkSent(msg.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as sent")
		}
		return
	}

	if msg.Attempts < w.maxAttempts {
		outboxPublishResults.WithLabelValues("requeued").Inc()
		entry.WithError(pubErr).Warn("outbox publish failed, message requeued")
		if err := w.repo.Release(msg.ID, pubErr.Error()); err != nil {
			entry.WithError(err).Warn("failed to release outbox message")
		}
		return
	}

	// Попытки исчерпаны: запись уходит в DLQ и финализируется.
	outboxPublishResults.WithLabelValues("failed").Inc()
	entry.WithError(pubErr).Error("outbox publish failed after max attempts")

	if err := w.publishToDLQ(msg, pubErr); err != nil {
		outboxPublishResults.WithLabelValues("dlq_failed").Inc()
		entry.WithError(err).Warn("failed to publish outbox message to DLQ")
	}

	note := fmt.Sprintf("max attempts exceeded: %v", pubErr)
	if err := w.repo.MarkFailed(msg.ID, note); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxBacklogRecords.Set(float64(stats.PendingCount))
	outboxFailedRecords.Set(float64(stats.FailedCount))

	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}
	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}

// publishToDLQ заворачивает исходное событие в DLQ-запись.
// Формат понимает cmd/dlq-reprocess: исходный payload вложен целиком
// и может быть переопубликован в основной топик.
func (w *Worker) publishToDLQ(msg domain.OutboxMessage, pubErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        msg.ID,
		"aggregate_type":   msg.AggregateType,
		"aggregate_id":     msg.AggregateID,
		"event_type":       msg.EventType,
		"payload":          json.RawMessage(msg.Payload),
		"attempts":         msg.Attempts,
		"publish_error":    pubErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqMsg := domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(dlqMsg); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
