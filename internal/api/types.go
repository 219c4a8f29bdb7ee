package api

import (
	"time"

	"github.com/webylead/leadrelay/internal/auditlog"
	"github.com/webylead/leadrelay/internal/domain"
)

// SubmissionResponse is returned for an accepted form submission.
type SubmissionResponse struct {
	FormID  string           `json:"form_id"`
	Results []OutcomeSummary `json:"results"`
}

// OutcomeSummary is the per-endpoint outcome of one submission.
type OutcomeSummary struct {
	EndpointID string `json:"endpoint_id"`
	Target     string `json:"target"`
	OK         bool   `json:"ok"`
	Code       int    `json:"code"`
	Error      string `json:"error,omitempty"`
}

// TaskResponse is one retry queue entry.
type TaskResponse struct {
	ID            string   `json:"id"`
	FormID        string   `json:"form_id"`
	Target        string   `json:"target"`
	EndpointURL   string   `json:"endpoint_url"`
	Attempts      int      `json:"attempts"`
	MaxAttempts   int      `json:"max_attempts"`
	NextAttemptAt string   `json:"next_attempt_at"`
	Errors        []string `json:"errors"`
	CreatedAt     string   `json:"created_at"`
}

// ListTasksResponse is the retry queue listing.
type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// LogsResponse carries audit records plus log statistics. Failures is the
// unacknowledged-failure count before this read reset it.
type LogsResponse struct {
	Records   []auditlog.Record `json:"records"`
	Failures  int               `json:"failures"`
	SizeBytes int64             `json:"size_bytes"`
	Lines     int               `json:"lines"`
}

// TestEndpointRequest carries an endpoint definition plus a sample
// submission to deliver through it.
type TestEndpointRequest struct {
	Endpoint domain.Endpoint `json:"endpoint"`
	Sample   map[string]any  `json:"sample"`
}

// TestEndpointResponse shows what was sent and what came back.
type TestEndpointResponse struct {
	Payload map[string]string `json:"payload"`
	OK      bool              `json:"ok"`
	Code    int               `json:"code"`
	Error   string            `json:"error,omitempty"`
	Preview string            `json:"preview,omitempty"`
}

// StatusResponse is the generic acknowledgment body.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func taskResponse(task domain.Task) TaskResponse {
	return TaskResponse{
		ID:            task.ID,
		FormID:        task.FormID,
		Target:        string(task.EndpointType) + ":" + task.TargetName(),
		EndpointURL:   task.EndpointURL,
		Attempts:      task.Attempts,
		MaxAttempts:   task.MaxAttempts,
		NextAttemptAt: formatTime(task.NextAttemptAt),
		Errors:        task.Errors,
		CreatedAt:     formatTime(task.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
