package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerMaxAttempts = 3
	defaultConsumerRetryDelay  = 100 * time.Millisecond
)

// PaymentEventHandler применяет платёжное событие из внутреннего топика.
// Ошибка означает временный сбой: сообщение будет повторено, затем уйдёт в DLQ.
type PaymentEventHandler func(ctx context.Context, event PaymentEvent) error

// ConsumerOptions задаёт параметры потребителя платёжных событий.
type ConsumerOptions struct {
	Logger      *log.Entry
	DLQ         *Producer
	Topics      []string
	MaxAttempts int
	RetryDelay  time.Duration
}

// ConsumerOption настраивает PaymentEventConsumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger потребителя.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithConsumerDLQ задаёт продюсер для карантина необработанных сообщений.
func WithConsumerDLQ(producer *Producer) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DLQ = producer
	}
}

// WithConsumerTopics переопределяет список топиков.
func WithConsumerTopics(topics ...string) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Topics = topics
	}
}

// WithConsumerMaxAttempts задаёт число попыток применения события.
func WithConsumerMaxAttempts(maxAttempts int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithConsumerRetryDelay задаёт паузу между попытками.
func WithConsumerRetryDelay(delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.RetryDelay = delay
	}
}

// PaymentEventConsumer читает внутренний топик платёжных событий:
// подтверждения из back-office и миграционные дозаливки, которые приходят
// мимо вебхуков шлюзов. События применяются к заказам тем же идемпотентным
// путём, что и вебхуки, поэтому повторная доставка безопасна.
//
// Непарсящиеся сообщения и события, не применившиеся за maxAttempts попыток,
// уходят в DLQ и позже переигрываются инструментом dlq-reprocess.
type PaymentEventConsumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     PaymentEventHandler
	dlq         *Producer
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Entry
	wg          sync.WaitGroup
}

// NewPaymentEventConsumer создаёт consumer group для платёжных событий.
func NewPaymentEventConsumer(brokers []string, groupID string, handler PaymentEventHandler, options ...ConsumerOption) (*PaymentEventConsumer, error) {
	opts := ConsumerOptions{
		Topics:      []string{TopicPaymentEvents},
		MaxAttempts: defaultConsumerMaxAttempts,
		RetryDelay:  defaultConsumerRetryDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	// Внутренний топик — источник данных, а не поток уведомлений:
	// после простоя дочитываем всё с последнего коммита.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create payment events consumer: %w", err)
	}

	consumer := &PaymentEventConsumer{
		group:       group,
		topics:      opts.Topics,
		handler:     handler,
		dlq:         opts.DLQ,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		logger:      opts.Logger,
	}
	if consumer.logger == nil {
		consumer.logger = log.WithField("component", "payment-events-consumer")
	}
	if consumer.maxAttempts <= 0 {
		consumer.maxAttempts = defaultConsumerMaxAttempts
	}
	return consumer, nil
}

// Start запускает цикл потребления в фоне.
func (c *PaymentEventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при ребалансе группы и вызывается снова.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("payment events consume failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("payment events consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("payment events consumer started")
}

// Stop закрывает consumer group и дожидается горутин.
func (c *PaymentEventConsumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close payment events consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("payment events consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *PaymentEventConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *PaymentEventConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *PaymentEventConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.consumeMessage(ctx, message) {
				session.MarkMessage(message, "")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// consumeMessage возвращает true, если offset сообщения можно коммитить.
// false оставляет сообщение на повторную доставку после рестарта —
// так ведут себя только события, которые не удалось ни применить,
// ни поместить в DLQ.
func (c *PaymentEventConsumer) consumeMessage(ctx context.Context, message *sarama.ConsumerMessage) bool {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})

	var event PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		// Повторять бессмысленно: сообщение само не починится.
		entry.WithError(err).Warn("payment event is not parseable, sending to DLQ")
		if dlqErr := c.quarantine(message, err); dlqErr != nil {
			entry.WithError(dlqErr).Error("failed to quarantine unparseable payment event")
			return false
		}
		return true
	}

	err := c.applyWithRetry(ctx, event)
	if err == nil {
		entry.WithFields(log.Fields{
			"event_id": event.EventID,
			"order_id": event.OrderID,
		}).Debug("payment event applied")
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	entry.WithError(err).WithField("event_id", event.EventID).Error("payment event failed after all attempts, sending to DLQ")
	if dlqErr := c.quarantine(message, err); dlqErr != nil {
		entry.WithError(dlqErr).Error("failed to quarantine payment event")
		return false
	}
	return true
}

func (c *PaymentEventConsumer) applyWithRetry(ctx context.Context, event PaymentEvent) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			return nil
		}
		if attempt == c.maxAttempts || c.retryDelay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return lastErr
}

// quarantine публикует сообщение в DLQ в формате consumer-записи.
// Формат разделяется с dlq-reprocess: original_topic/original_value
// позволяют переиграть событие в исходный топик.
func (c *PaymentEventConsumer) quarantine(message *sarama.ConsumerMessage, cause error) error {
	if c.dlq == nil {
		return fmt.Errorf("dlq producer is not configured")
	}

	record := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      cause.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"attempts":           c.maxAttempts,
	}
	return c.dlq.PublishJSON(TopicDeadLetterQueue, string(message.Key), record)
}
