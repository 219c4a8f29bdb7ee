package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SubmissionReceived(formID string)                             {}
func (n *NoopSink) RateLimitRejected()                                           {}
func (n *NoopSink) DeliveryAttemptCompleted(statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                               {}
func (n *NoopSink) RetryScheduled()                                              {}
func (n *NoopSink) TaskEvicted(reason string)                                    {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                   {}
func (n *NoopSink) SweepCompleted(duration time.Duration, processed int)         {}
func (n *NoopSink) NotificationSent(kind string)                                 {}
