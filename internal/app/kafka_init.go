package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/messaging/kafka"
	"github.com/mestocker/payments/internal/service/webhook"
)

// paymentEventsGroupID — consumer group сервиса на внутреннем топике
// платёжных событий. Общая группа для всех реплик: каждое событие
// применяется к заказу один раз.
const paymentEventsGroupID = "payments-service"

// initKafkaProducer создаёт producer, если список брокеров не пуст.
// Пустой список — штатный режим без Kafka: (nil, nil).
func initKafkaProducer(brokers string) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}
	return kafka.NewProducer(brokerList)
}

// startPaymentEventConsumer подключает внутренний топик платёжных событий
// к webhook-процессору: back-office и миграции попадают в тот же
// идемпотентный путь применения, что и вебхуки шлюзов. Неприменившиеся
// события уходят в DLQ через тот же producer.
func startPaymentEventConsumer(ctx context.Context, brokers string, processor *webhook.Processor, producer *kafka.Producer, logger *log.Entry) (*kafka.PaymentEventConsumer, error) {
	handler := func(ctx context.Context, event kafka.PaymentEvent) error {
		_, err := processor.ApplyInternal(ctx, event)
		return err
	}

	consumer, err := kafka.NewPaymentEventConsumer(splitBrokers(brokers), paymentEventsGroupID, handler,
		kafka.WithConsumerDLQ(producer),
		kafka.WithConsumerLogger(logger.WithField("layer", "payment-events-consumer")),
	)
	if err != nil {
		return nil, err
	}

	consumer.Start(ctx)
	return consumer, nil
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// splitBrokers разбирает список брокеров из конфигурации,
// отбрасывая пустые элементы вида "broker1,,broker2".
func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
