package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewWebhookMetrics(t *testing.T) {
	metrics := newWebhookMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("newWebhookMetricsWithRegisterer should not return nil")
	}

	if metrics.eventsApplied == nil {
		t.Error("eventsApplied counter should not be nil")
	}
	if metrics.eventsDuplicate == nil {
		t.Error("eventsDuplicate counter should not be nil")
	}
	if metrics.eventsNoChange == nil {
		t.Error("eventsNoChange counter should not be nil")
	}
	if metrics.eventsRejected == nil {
		t.Error("eventsRejected counter should not be nil")
	}
	if metrics.signatureFailures == nil {
		t.Error("signatureFailures counter should not be nil")
	}
	if metrics.decodeFailures == nil {
		t.Error("decodeFailures counter should not be nil")
	}
	if metrics.internalErrors == nil {
		t.Error("internalErrors counter should not be nil")
	}
	if metrics.processingDuration == nil {
		t.Error("processingDuration histogram should not be nil")
	}
	if metrics.orderTransitions == nil {
		t.Error("orderTransitions counter should not be nil")
	}
}

func TestWebhookMetrics_DoubleRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := newWebhookMetricsWithRegisterer(reg)
	second := newWebhookMetricsWithRegisterer(reg)

	first.RecordApplied("wompi")
	second.RecordApplied("wompi")

	metric := &dto.Metric{}
	counter, err := first.eventsApplied.GetMetricWithLabelValues("wompi")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", metric.Counter.GetValue())
	}
}

func TestWebhookMetrics_RecordOutcomes(t *testing.T) {
	metrics := newWebhookMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordDuplicate("payu")
	metrics.RecordDuplicate("payu")
	metrics.RecordRejected("efecty")
	metrics.RecordSignatureFailure("wompi")
	metrics.RecordNoChange("wompi")
	metrics.RecordDecodeFailure("payu")
	metrics.RecordInternalError("efecty")

	checkCounter := func(vec *prometheus.CounterVec, provider string, want float64) {
		t.Helper()
		counter, err := vec.GetMetricWithLabelValues(provider)
		if err != nil {
			t.Fatalf("get counter: %v", err)
		}
		metric := &dto.Metric{}
		if err := counter.Write(metric); err != nil {
			t.Fatalf("failed to write metric: %v", err)
		}
		if metric.Counter.GetValue() != want {
			t.Errorf("expected counter value %f, got %f", want, metric.Counter.GetValue())
		}
	}

	checkCounter(metrics.eventsDuplicate, "payu", 2.0)
	checkCounter(metrics.eventsRejected, "efecty", 1.0)
	checkCounter(metrics.signatureFailures, "wompi", 1.0)
	checkCounter(metrics.eventsNoChange, "wompi", 1.0)
	checkCounter(metrics.decodeFailures, "payu", 1.0)
	checkCounter(metrics.internalErrors, "efecty", 1.0)
}

func TestWebhookMetrics_RecordProcessingDuration(t *testing.T) {
	metrics := newWebhookMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordProcessingDuration("wompi", 100*time.Millisecond)
	metrics.RecordProcessingDuration("wompi", 500*time.Millisecond)

	observer, err := metrics.processingDuration.GetMetricWithLabelValues("wompi")
	if err != nil {
		t.Fatalf("get histogram: %v", err)
	}

	metric := &dto.Metric{}
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}

	sum := metric.Histogram.GetSampleSum()
	if sum < 0.55 || sum > 0.65 {
		t.Errorf("expected sum around 0.6, got %f", sum)
	}
}

func TestWebhookMetrics_RecordOrderTransition(t *testing.T) {
	metrics := newWebhookMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderTransition("pending", "confirmed")
	metrics.RecordOrderTransition("pending", "confirmed")
	metrics.RecordOrderTransition("confirmed", "refunded")

	counter, err := metrics.orderTransitions.GetMetricWithLabelValues("pending", "confirmed")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2.0, got %f", metric.Counter.GetValue())
	}
}
