package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Intake metrics
	submissionsTotal *prometheus.CounterVec
	rateLimitedTotal prometheus.Counter

	// Delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram

	// Retry queue metrics
	retriesScheduledTotal prometheus.Counter
	tasksEvictedTotal     *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	sweepDuration         prometheus.Histogram
	sweepProcessedTotal   prometheus.Counter

	// Notification metrics
	notificationsTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initIntakeMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initQueueMetrics(reg)
	s.initNotificationMetrics(reg)
	return s
}

func (s *PrometheusSink) initIntakeMetrics(reg prometheus.Registerer) {
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadrelay_submissions_total",
		Help: "Total number of form submissions received.",
	}, []string{"form_id"})
	s.rateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadrelay_rate_limited_total",
		Help: "Total number of submissions rejected by the rate limiter.",
	})

	s.register(reg, s.submissionsTotal, "leadrelay_submissions_total")
	s.register(reg, s.rateLimitedTotal, "leadrelay_rate_limited_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadrelay_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadrelay_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes.",
	}, []string{"outcome"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadrelay_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	s.register(reg, s.deliveryAttemptsTotal, "leadrelay_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "leadrelay_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "leadrelay_webhook_duration_seconds")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.retriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadrelay_retries_scheduled_total",
		Help: "Total number of failed deliveries placed on the retry queue.",
	})
	s.tasksEvictedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadrelay_queue_tasks_evicted_total",
		Help: "Total number of tasks removed from the retry queue.",
	}, []string{"reason"})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leadrelay_queue_depth",
		Help: "Current number of tasks in the retry queue.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadrelay_queue_sweep_duration_seconds",
		Help:    "Duration of each retry queue sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})
	s.sweepProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadrelay_queue_sweep_processed_total",
		Help: "Total number of due tasks processed across sweeps.",
	})

	s.register(reg, s.retriesScheduledTotal, "leadrelay_retries_scheduled_total")
	s.register(reg, s.tasksEvictedTotal, "leadrelay_queue_tasks_evicted_total")
	s.register(reg, s.queueDepth, "leadrelay_queue_depth")
	s.register(reg, s.sweepDuration, "leadrelay_queue_sweep_duration_seconds")
	s.register(reg, s.sweepProcessedTotal, "leadrelay_queue_sweep_processed_total")
}

func (s *PrometheusSink) initNotificationMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadrelay_notifications_sent_total",
		Help: "Total number of operator notification emails sent.",
	}, []string{"kind"})

	s.register(reg, s.notificationsTotal, "leadrelay_notifications_sent_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Intake metrics implementation

func (s *PrometheusSink) SubmissionReceived(formID string) {
	s.submissionsTotal.WithLabelValues(formID).Inc()
}

func (s *PrometheusSink) RateLimitRejected() {
	s.rateLimitedTotal.Inc()
}

// Delivery metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

// Retry queue metrics implementation

func (s *PrometheusSink) RetryScheduled() {
	s.retriesScheduledTotal.Inc()
}

func (s *PrometheusSink) TaskEvicted(reason string) {
	s.tasksEvictedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, processed int) {
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepProcessedTotal.Add(float64(processed))
}

// Notification metrics implementation

func (s *PrometheusSink) NotificationSent(kind string) {
	s.notificationsTotal.WithLabelValues(kind).Inc()
}
