package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Intake metrics
	SubmissionReceived(formID string)
	RateLimitRejected()

	// Delivery metrics
	DeliveryAttemptCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)

	// Retry queue metrics
	RetryScheduled()
	TaskEvicted(reason string)
	QueueDepthUpdate(depth int)
	SweepCompleted(duration time.Duration, processed int)

	// Notification metrics
	NotificationSent(kind string)
}

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and transport error message to a
// status class. errMsg is empty when the request got an HTTP response.
func ClassifyStatus(statusCode int, errMsg string) string {
	if errMsg != "" {
		lower := strings.ToLower(errMsg)
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
			strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
