package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
)

func testProducer(sync sarama.SyncProducer) *Producer {
	return &Producer{
		sync:   sync,
		logger: log.WithField("component", "kafka-test"),
	}
}

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope struct {
			ID          string          `json:"id"`
			AggregateID string          `json:"aggregate_id"`
			EventType   string          `json:"event_type"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.AggregateID != "order-123" {
			t.Errorf("unexpected envelope: %+v", envelope)
		}
		if string(envelope.Payload) != `{"status":"confirmed"}` {
			t.Errorf("payload must be embedded verbatim, got %s", envelope.Payload)
		}
		return nil
	})

	publisher := NewOutboxPublisher(testProducer(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     "payment.approved",
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(testProducer(mockProducer), TopicOrderEvents)
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: "order",
		AggregateID:   "order-234",
		EventType:     "payment.declined",
		Payload:       []byte(`{"status":"cancelled"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}
