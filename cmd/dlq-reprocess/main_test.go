package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_ConsumerDLQPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_topic": "payments.payment.events",
		"original_key":   "order-1",
		"original_value": `{"event_type":"payment.approved"}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "payments.payment.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != `{"event_type":"payment.approved"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
}

func TestExtractReplayMessage_OutboxDLQPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.confirmed",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.confirmed",
			"payload":        map[string]any{"status": "confirmed"},
			"publish_error":  "timeout",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "payments.order.events")
	if err != nil {
		t.Fatalf("extractReplayMessage failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "payments.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}

	var replay replayEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("replay payload must be valid JSON: %v", err)
	}
	if replay.EventType != "order.confirmed" {
		t.Fatalf("unexpected event type: %s", replay.EventType)
	}
}

func TestExtractReplayMessage_OutboxInvalidNestedPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.confirmed",
		"payload": map[string]any{
			"outbox_id":  "outbox-1",
			"event_type": "order.confirmed",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, "payments.order.events")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("message without payload must not be a replay candidate")
	}
}

func TestExtractReplayMessage_UnparseableValue(t *testing.T) {
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte("not json")}, "topic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("unparseable message must be skipped")
	}
}

type fakeOffsetClient struct {
	oldest, newest int64
	partitions     []int32
}

func (c fakeOffsetClient) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return c.oldest, nil
	}
	return c.newest, nil
}

func (c fakeOffsetClient) Partitions(string) ([]int32, error) { return c.partitions, nil }
func (c fakeOffsetClient) Close() error                       { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (c fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return c.messages }
func (c fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return c.errors }
func (c fakePartitionConsumer) Close() error                             { return nil }

type fakeConsumerSource struct {
	consumer fakePartitionConsumer
}

func (s fakeConsumerSource) ConsumePartition(string, int32, int64) (partitionConsumer, error) {
	return s.consumer, nil
}
func (s fakeConsumerSource) Close() error { return nil }

type recordingProducer struct {
	sent []*sarama.ProducerMessage
}

func (p *recordingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.sent = append(p.sent, msg)
	return 0, int64(len(p.sent)), nil
}
func (p *recordingProducer) Close() error { return nil }

func TestRunReplay_ExecutePublishesCandidates(t *testing.T) {
	value, err := json.Marshal(map[string]any{
		"original_topic": "payments.payment.events",
		"original_key":   "order-7",
		"original_value": `{"event_type":"payment.approved"}`,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	messages := make(chan *sarama.ConsumerMessage, 2)
	messages <- &sarama.ConsumerMessage{Topic: "payments.dlq", Partition: 0, Offset: 0, Value: value}
	messages <- &sarama.ConsumerMessage{Topic: "payments.dlq", Partition: 0, Offset: 1, Value: []byte("garbage")}

	consumer := fakeConsumerSource{consumer: fakePartitionConsumer{
		messages: messages,
		errors:   make(chan *sarama.ConsumerError),
	}}
	client := fakeOffsetClient{oldest: 0, newest: 2, partitions: []int32{0}}
	producer := &recordingProducer{}

	cfg := config{
		brokers:     []string{"broker:9092"},
		sourceTopic: "payments.dlq",
		targetTopic: "payments.order.events",
		limit:       10,
		execute:     true,
		idleTimeout: 100 * time.Millisecond,
	}

	if err := runReplay(context.Background(), cfg, client, consumer, producer); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}

	if len(producer.sent) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(producer.sent))
	}
	if producer.sent[0].Topic != "payments.payment.events" {
		t.Fatalf("unexpected topic: %s", producer.sent[0].Topic)
	}
}

func TestRunReplay_ExecuteRequiresProducer(t *testing.T) {
	cfg := config{
		brokers:     []string{"broker:9092"},
		sourceTopic: "payments.dlq",
		targetTopic: "payments.order.events",
		limit:       10,
		execute:     true,
		idleTimeout: 100 * time.Millisecond,
	}

	client := fakeOffsetClient{partitions: []int32{0}}
	consumer := fakeConsumerSource{}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err == nil {
		t.Fatal("expected error when producer is missing in execute mode")
	}
}
