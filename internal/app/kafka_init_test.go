package app

import (
	"reflect"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSplitBrokers(t *testing.T) {
	cases := []struct {
		name    string
		brokers string
		want    []string
	}{
		{name: "empty", brokers: "", want: []string{}},
		{name: "single", brokers: "kafka:9092", want: []string{"kafka:9092"}},
		{name: "list with spaces", brokers: "kafka-1:9092, kafka-2:9092", want: []string{"kafka-1:9092", "kafka-2:9092"}},
		{name: "empty elements dropped", brokers: "kafka-1:9092,,kafka-2:9092,", want: []string{"kafka-1:9092", "kafka-2:9092"}},
		{name: "only separators", brokers: " , ,", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitBrokers(tc.brokers)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitBrokers(%q) = %v, want %v", tc.brokers, got, tc.want)
			}
		})
	}
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer("")
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	producer, err := initKafkaProducer("invalid-broker:9999")
	if err == nil {
		t.Error("expected error for invalid brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	// Не должно паниковать.
	closeKafka(nil, log.WithField("test", "kafka"))
}
