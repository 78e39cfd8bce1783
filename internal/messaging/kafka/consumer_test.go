package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func newTestConsumer(handler PaymentEventHandler, dlq *Producer) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		topics:      []string{TopicPaymentEvents},
		handler:     handler,
		dlq:         dlq,
		maxAttempts: 2,
		retryDelay:  0,
		logger:      log.WithField("test", "payment-events-consumer"),
	}
}

func paymentEventMessage(t *testing.T, event PaymentEvent) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{
		Topic:     TopicPaymentEvents,
		Partition: 1,
		Offset:    42,
		Key:       []byte(event.OrderID),
		Value:     value,
	}
}

func TestNewPaymentEventConsumerError(t *testing.T) {
	_, err := NewPaymentEventConsumer([]string{"invalid-broker:9092"}, "payments-service", func(context.Context, PaymentEvent) error { return nil })
	if err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestPaymentEventConsumer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(_ context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
			if len(topics) != 1 || topics[0] != TopicPaymentEvents {
				t.Errorf("unexpected topics: %v", topics)
			}
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newTestConsumer(func(context.Context, PaymentEvent) error { return nil }, nil)
	consumer.group = group

	errorsCh <- errors.New("background error")
	consumer.Start(ctx)
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestPaymentEventConsumer_StopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newTestConsumer(nil, nil)
	consumer.group = group
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestPaymentEventConsumer_SetupCleanup(t *testing.T) {
	consumer := &PaymentEventConsumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestPaymentEventConsumer_AppliesEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var applied []PaymentEvent
	consumer := newTestConsumer(func(_ context.Context, event PaymentEvent) error {
		applied = append(applied, event)
		return nil
	}, nil)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentEventMessage(t, PaymentEvent{
		EventType: EventTypePaymentApproved,
		EventID:   "evt-1",
		OrderID:   "order-1",
		Provider:  "wompi",
		Status:    "approved",
	})
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(applied) != 1 || applied[0].EventID != "evt-1" {
		t.Fatalf("expected one applied event evt-1, got %+v", applied)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected one marked message, got %d", len(session.marked))
	}
}

func TestPaymentEventConsumer_RetriesThenApplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	consumer := newTestConsumer(func(context.Context, PaymentEvent) error {
		attempts++
		if attempts == 1 {
			return errors.New("temporary")
		}
		return nil
	}, nil)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentEventMessage(t, PaymentEvent{EventType: EventTypePaymentApproved, EventID: "evt-2", OrderID: "order-2", Provider: "payu", Status: "approved"})
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(session.marked) != 1 {
		t.Fatalf("recovered message should be marked, got %d", len(session.marked))
	}
}

func TestPaymentEventConsumer_QuarantinesAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var record struct {
			OriginalTopic string `json:"original_topic"`
			OriginalValue string `json:"original_value"`
			ErrorMessage  string `json:"error_message"`
			Attempts      int    `json:"attempts"`
		}
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		if record.OriginalTopic != TopicPaymentEvents {
			t.Errorf("unexpected original topic: %s", record.OriginalTopic)
		}
		if record.ErrorMessage != "permanent" {
			t.Errorf("unexpected error message: %s", record.ErrorMessage)
		}
		if record.Attempts != 2 {
			t.Errorf("expected 2 attempts in dlq record, got %d", record.Attempts)
		}
		if record.OriginalValue == "" {
			t.Error("original value must be preserved for replay")
		}
		return nil
	})

	attempts := 0
	consumer := newTestConsumer(func(context.Context, PaymentEvent) error {
		attempts++
		return errors.New("permanent")
	}, testProducer(mockProducer))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentEventMessage(t, PaymentEvent{EventType: EventTypePaymentDeclined, EventID: "evt-3", OrderID: "order-3", Provider: "wompi", Status: "declined"})
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected maxAttempts=2 handler calls, got %d", attempts)
	}
	if len(session.marked) != 1 {
		t.Fatal("quarantined message must be marked to avoid a poison loop")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentEventConsumer_QuarantinesUnparseable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	handlerCalls := 0
	consumer := newTestConsumer(func(context.Context, PaymentEvent) error {
		handlerCalls++
		return nil
	}, testProducer(mockProducer))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicPaymentEvents, Partition: 1, Offset: 7, Key: []byte("k"), Value: []byte("{not json")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if handlerCalls != 0 {
		t.Fatalf("handler must not see unparseable messages, got %d calls", handlerCalls)
	}
	if len(session.marked) != 1 {
		t.Fatal("unparseable message must be marked after quarantine")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentEventConsumer_UnmarkedWhenQuarantineFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	consumer := newTestConsumer(func(context.Context, PaymentEvent) error {
		return errors.New("permanent")
	}, testProducer(mockProducer))

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentEventMessage(t, PaymentEvent{EventType: EventTypePaymentDeclined, EventID: "evt-4", OrderID: "order-4", Provider: "payu", Status: "declined"})
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatal("message must stay unmarked when quarantine fails")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentEventConsumer_NoDLQLeavesUnmarked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newTestConsumer(func(context.Context, PaymentEvent) error {
		return errors.New("permanent")
	}, nil)

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 1, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- paymentEventMessage(t, PaymentEvent{EventType: EventTypePaymentDeclined, EventID: "evt-5", OrderID: "order-5", Provider: "wompi", Status: "declined"})
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatal("without dlq a failed message must stay unmarked")
	}
}

func TestPaymentEventConsumer_ConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newTestConsumer(func(context.Context, PaymentEvent) error { return nil }, nil)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicPaymentEvents, partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
