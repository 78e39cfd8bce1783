package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mestocker/payments/internal/domain"
)

// OutboxTopicPublisher публикует outbox-записи в заданный Kafka-топик.
// Конверт сохраняет идентификаторы агрегата: потребители и dlq-reprocess
// восстанавливают по ним исходное событие.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishJSON(p.topic, msg.PartitionKey(), envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
