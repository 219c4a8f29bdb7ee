package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_SubmissionReceived(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SubmissionReceived("form-1")
	sink.SubmissionReceived("form-1")
	sink.SubmissionReceived("form-2")

	val := getCounterVecValue(t, reg, "leadrelay_submissions_total",
		map[string]string{"form_id": "form-1"})
	if val != 2 {
		t.Errorf("form_id=form-1 = %v, want 2", val)
	}
}

func TestPrometheusSink_RateLimitRejected(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RateLimitRejected()
	sink.RateLimitRejected()

	val := getCounterValue(t, reg, "leadrelay_rate_limited_total")
	if val != 2 {
		t.Errorf("rate_limited_total = %v, want 2", val)
	}
}

func TestPrometheusSink_DeliveryAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted("2xx", 100*time.Millisecond)
	sink.DeliveryAttemptCompleted("5xx", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "leadrelay_delivery_attempts_total",
		map[string]string{"status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("status=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "leadrelay_delivery_attempts_total",
		map[string]string{"status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("status=5xx = %v, want 1", val2)
	}
}

func TestPrometheusSink_DeliveryOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryOutcome(OutcomeSuccess)
	sink.DeliveryOutcome(OutcomeFailed)
	sink.DeliveryOutcome(OutcomeSuccess)

	successVal := getCounterVecValue(t, reg, "leadrelay_delivery_outcomes_total",
		map[string]string{"outcome": "success"})
	if successVal != 2 {
		t.Errorf("outcome=success = %v, want 2", successVal)
	}

	failedVal := getCounterVecValue(t, reg, "leadrelay_delivery_outcomes_total",
		map[string]string{"outcome": "failed"})
	if failedVal != 1 {
		t.Errorf("outcome=failed = %v, want 1", failedVal)
	}
}

func TestPrometheusSink_QueueMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RetryScheduled()
	sink.RetryScheduled()
	sink.QueueDepthUpdate(7)
	sink.TaskEvicted("delivered")
	sink.TaskEvicted("exhausted")
	sink.TaskEvicted("delivered")
	sink.SweepCompleted(50*time.Millisecond, 3)

	if val := getCounterValue(t, reg, "leadrelay_retries_scheduled_total"); val != 2 {
		t.Errorf("retries_scheduled_total = %v, want 2", val)
	}
	if val := getGaugeValue(t, reg, "leadrelay_queue_depth"); val != 7 {
		t.Errorf("queue_depth = %v, want 7", val)
	}
	delivered := getCounterVecValue(t, reg, "leadrelay_queue_tasks_evicted_total",
		map[string]string{"reason": "delivered"})
	if delivered != 2 {
		t.Errorf("reason=delivered = %v, want 2", delivered)
	}
	if val := getCounterValue(t, reg, "leadrelay_queue_sweep_processed_total"); val != 3 {
		t.Errorf("sweep_processed_total = %v, want 3", val)
	}
}

func TestPrometheusSink_NotificationSent(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.NotificationSent("final_failure")
	sink.NotificationSent("delivery_failed")
	sink.NotificationSent("final_failure")

	val := getCounterVecValue(t, reg, "leadrelay_notifications_sent_total",
		map[string]string{"kind": "final_failure"})
	if val != 2 {
		t.Errorf("kind=final_failure = %v, want 2", val)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
