package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/gateway"
	healthcheck "github.com/mestocker/payments/internal/health"
	"github.com/mestocker/payments/internal/messaging/kafka"
	"github.com/mestocker/payments/internal/metrics"
	"github.com/mestocker/payments/internal/service/idempotency"
	"github.com/mestocker/payments/internal/service/order"
	"github.com/mestocker/payments/internal/service/outbox"
	"github.com/mestocker/payments/internal/service/webhook"
	httpapi "github.com/mestocker/payments/internal/transport/http"
	"github.com/mestocker/payments/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает зависимости и запускает HTTP API и служебный сервер.
// Блокируется до отмены контекста или фатальной ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()

	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers)
	switch {
	case err != nil:
		// Сервис стартует и без брокера: события копятся в outbox
		// и уедут, когда Kafka вернётся.
		logger.WithError(err).Warn("kafka недоступна, продолжаем без публикации событий")
	case kafkaProducer != nil:
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer инициализирован")
	}
	defer closeKafka(kafkaProducer, logger)

	registry := gateway.NewRegistry(gateway.Secrets{
		WompiEventsSecret: cfg.WompiEventsSecret,
		PayUAPIKey:        cfg.PayUAPIKey,
		PayUMerchantID:    cfg.PayUMerchantID,
		EfectySecret:      cfg.EfectySecret,
	})

	webhookMetrics := metrics.NewWebhookMetrics()
	httpMetrics := metrics.NewHTTPMetrics()

	orderService := order.NewService(deps.Orders,
		order.WithPayments(deps.Payments),
		order.WithTimeline(deps.Timeline),
		order.WithOutbox(deps.Outbox),
		order.WithLogger(logger.WithField("layer", "order-service")),
	)
	processor := webhook.NewProcessor(registry, deps.Orders, deps.Webhooks,
		webhook.WithTimeline(deps.Timeline),
		webhook.WithOutbox(deps.Outbox),
		webhook.WithMetrics(webhookMetrics),
		webhook.WithLogger(logger.WithField("layer", "webhook-processor")),
	)

	// Фоновые воркеры: публикация outbox в Kafka, приём внутренних
	// платёжных событий и очистка протухших idempotency-ключей.
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		dlqPublisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		worker := outbox.NewWorker(deps.Outbox, publisher,
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithLogger(logger.WithField("layer", "outbox-worker")),
		)
		go worker.Run(ctx)

		consumer, err := startPaymentEventConsumer(ctx, cfg.KafkaBrokers, processor, kafkaProducer, logger)
		if err != nil {
			logger.WithError(err).Warn("consumer платёжных событий не запустился, внутренний топик не читается")
		} else {
			defer func() { _ = consumer.Stop() }()
		}
	}
	cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
	)
	go cleanup.Run(ctx)

	apiHandler := httpapi.NewHandler(httpapi.Config{APIKey: cfg.APIKey}, httpapi.Deps{
		Orders:      orderService,
		Webhooks:    processor,
		WebhookLog:  deps.Webhooks,
		Idempotency: deps.Idempotency,
		Outbox:      deps.Outbox,
		Metrics:     httpMetrics,
		Logger:      logger.WithField("layer", "http"),
	})

	healthRegistry := healthcheck.NewRegistry(version.GetVersion())
	healthRegistry.Register("storage", deps.Ping)
	if kafkaProducer != nil {
		healthRegistry.Register("kafka", func(context.Context) error {
			return kafkaProducer.Healthy()
		})
	}

	opsSrv := startOpsServer(ctx, cfg.OpsAddr, logger, healthRegistry)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiHandler}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(opsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(opsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startOpsServer запускает служебный HTTP-сервер: /metrics и health-checks.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthRegistry *healthcheck.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthRegistry.Healthz())
	mux.HandleFunc("/readyz", healthRegistry.Readyz())
	mux.HandleFunc("/livez", healthcheck.Livez)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
