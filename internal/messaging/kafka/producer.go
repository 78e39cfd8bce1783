package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer — синхронный Kafka-продюсер сервиса платежей.
// Настроен идемпотентно (acks=all, max in-flight 1): повторная отправка
// события заказа не должна порождать дубликатов в топике.
type Producer struct {
	client sarama.Client
	sync   sarama.SyncProducer
	logger *log.Entry
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer подключается к брокерам и создаёт продюсер.
// Клиент сохраняется отдельно: health-check использует его метаданные.
func NewProducer(brokers []string) (*Producer, error) {
	client, err := sarama.NewClient(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	sync, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		client: client,
		sync:   sync,
		logger: log.WithField("component", "kafka-producer"),
	}, nil
}

// Publish отправляет готовое тело сообщения в топик.
func (p *Producer) Publish(topic, key string, value []byte) error {
	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("send message to %s: %w", topic, err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")
	return nil
}

// PublishJSON сериализует событие и отправляет его в топик.
func (p *Producer) PublishJSON(topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	return p.Publish(topic, key, value)
}

// Healthy сообщает, доступен ли хотя бы один брокер.
func (p *Producer) Healthy() error {
	if p == nil || p.client == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	for _, broker := range p.client.Brokers() {
		if ok, _ := broker.Connected(); ok {
			return nil
		}
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("no reachable kafka brokers: %w", err)
	}
	return nil
}

// Close закрывает продюсер и клиент.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		if p.client != nil {
			_ = p.client.Close()
		}
		return fmt.Errorf("close kafka producer: %w", err)
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil && err != sarama.ErrClosedClient {
			return fmt.Errorf("close kafka client: %w", err)
		}
	}
	return nil
}
