package domain

import "time"

// Task is one durable unit of deferred retry work. Endpoint fields are
// snapshotted at enqueue time; later configuration changes never affect an
// in-flight task. Payload is the exact transformed payload of the failed
// attempt and is replayed verbatim, never re-transformed.
type Task struct {
	ID            string            `json:"id"`
	FormID        string            `json:"form_id"`
	EndpointID    string            `json:"endpoint_id"`
	EndpointURL   string            `json:"endpoint_url"`
	EndpointType  EndpointType      `json:"endpoint_type"`
	EndpointLabel string            `json:"endpoint_label"`
	Payload       map[string]string `json:"payload"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	Errors        []string          `json:"errors"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TargetName returns the endpoint label, falling back to the URL.
func (t Task) TargetName() string {
	if t.EndpointLabel != "" {
		return t.EndpointLabel
	}
	return t.EndpointURL
}

// Exhausted reports whether the task has used up all allowed attempts.
func (t Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}
