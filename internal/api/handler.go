// Package api exposes the relay's HTTP surface: submission intake plus the
// operator endpoints for the retry queue and the audit log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/webylead/leadrelay/internal/auditlog"
	"github.com/webylead/leadrelay/internal/dispatcher"
	"github.com/webylead/leadrelay/internal/domain"
	"github.com/webylead/leadrelay/internal/queue"
)

// Log read defaults and limits.
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Dispatcher handles submissions and endpoint test sends.
type Dispatcher interface {
	Handle(ctx context.Context, formID string, raw map[string]any, clientIP string) ([]dispatcher.Result, error)
	TestSend(ctx context.Context, ep domain.Endpoint, raw map[string]any) (map[string]string, domain.Outcome)
}

// Queue exposes the retry queue operations.
type Queue interface {
	List(ctx context.Context) ([]domain.Task, error)
	ProcessDue(ctx context.Context) error
	ManualRetry(ctx context.Context, taskID string) error
	Dismiss(ctx context.Context, taskID string) error
}

// AuditLog exposes the audit trail operations.
type AuditLog interface {
	Read(limit int, filter auditlog.Filter) ([]auditlog.Record, error)
	Clear() error
	FailureCount() int
	ResetFailureCounter() error
	Size() int64
	LineCount() (int, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// FormLister is used by verbose health checks to count configured forms.
type FormLister interface {
	ListForms(ctx context.Context) ([]domain.FormConfig, error)
}

// Handler routes the relay's HTTP API.
type Handler struct {
	dispatcher Dispatcher
	queue      Queue
	audit      AuditLog
	db         HealthChecker // optional, nil = simple health only
	forms      FormLister    // optional
}

// NewHandler creates the API handler.
func NewHandler(d Dispatcher, q Queue, audit AuditLog) *Handler {
	return &Handler{dispatcher: d, queue: q, audit: audit}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithFormLister adds a configured-forms count to verbose /health responses.
func (h *Handler) WithFormLister(forms FormLister) *Handler {
	h.forms = forms
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case strings.HasPrefix(path, "/forms/") && strings.HasSuffix(path, "/submissions") && r.Method == http.MethodPost:
		h.submit(w, r)

	case path == "/queue" && r.Method == http.MethodGet:
		h.listQueue(w, r)

	case path == "/queue/process" && r.Method == http.MethodPost:
		h.processQueue(w, r)

	case strings.HasPrefix(path, "/queue/") && strings.HasSuffix(path, "/retry") && r.Method == http.MethodPost:
		h.retryTask(w, r)

	case strings.HasPrefix(path, "/queue/") && r.Method == http.MethodDelete:
		h.dismissTask(w, r)

	case path == "/logs" && r.Method == http.MethodGet:
		h.readLogs(w, r)

	case path == "/logs" && r.Method == http.MethodDelete:
		h.clearLogs(w, r)

	case path == "/endpoints/test" && r.Method == http.MethodPost:
		h.testEndpoint(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Forms      int               `json:"forms,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	if h.forms != nil {
		if forms, err := h.forms.ListForms(ctx); err == nil {
			resp.Forms = len(forms)
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	// Path: /forms/{formID}/submissions
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "forms" || parts[2] != "submissions" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	formID := parts[1]

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	results, err := h.dispatcher.Handle(r.Context(), formID, raw, clientIP(r))
	if err != nil {
		if errors.Is(err, dispatcher.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		log.Printf("api: submission for %s failed: %v", formID, err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	resp := SubmissionResponse{FormID: formID, Results: make([]OutcomeSummary, len(results))}
	for i, res := range results {
		resp.Results[i] = OutcomeSummary{
			EndpointID: res.EndpointID,
			Target:     res.Target,
			OK:         res.Outcome.OK,
			Code:       res.Outcome.Code,
			Error:      res.Outcome.Error,
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.queue.List(r.Context())
	if err != nil {
		log.Printf("api: list queue error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list queue")
		return
	}

	resp := ListTasksResponse{Tasks: make([]TaskResponse, len(tasks))}
	for i, task := range tasks {
		resp.Tasks[i] = taskResponse(task)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) processQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.ProcessDue(r.Context()); err != nil {
		log.Printf("api: process queue error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to process queue")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) retryTask(w http.ResponseWriter, r *http.Request) {
	// Path: /queue/{id}/retry
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "queue" || parts[2] != "retry" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.queue.ManualRetry(r.Context(), parts[1]); err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		log.Printf("api: retry task error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to retry task")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) dismissTask(w http.ResponseWriter, r *http.Request) {
	// Path: /queue/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "queue" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.queue.Dismiss(r.Context(), parts[1]); err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		log.Printf("api: dismiss task error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to dismiss task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readLogs returns recent records and acknowledges the failure counter:
// viewing the log is the acknowledgment, so the pre-reset count rides along
// in the response.
func (h *Handler) readLogs(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLogLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > MaxLogLimit {
			writeError(w, http.StatusBadRequest, "limit exceeds maximum of "+strconv.Itoa(MaxLogLimit))
			return
		}
		if n > 0 {
			limit = n
		}
	}

	var filter auditlog.Filter
	switch r.URL.Query().Get("filter") {
	case "", "all":
		filter = auditlog.FilterAll
	case "ok":
		filter = auditlog.FilterOK
	case "fail":
		filter = auditlog.FilterFail
	default:
		writeError(w, http.StatusBadRequest, "invalid filter")
		return
	}

	records, err := h.audit.Read(limit, filter)
	if err != nil {
		log.Printf("api: read logs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}

	failures := h.audit.FailureCount()
	if err := h.audit.ResetFailureCounter(); err != nil {
		log.Printf("api: reset failure counter error: %v", err)
	}

	lines, err := h.audit.LineCount()
	if err != nil {
		log.Printf("api: line count error: %v", err)
	}

	if records == nil {
		records = []auditlog.Record{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{
		Records:   records,
		Failures:  failures,
		SizeBytes: h.audit.Size(),
		Lines:     lines,
	})
}

func (h *Handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.audit.Clear(); err != nil {
		log.Printf("api: clear logs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TestEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Endpoint.URL == "" {
		writeError(w, http.StatusBadRequest, "endpoint.url is required")
		return
	}
	if req.Endpoint.Rules == nil {
		writeError(w, http.StatusBadRequest, "endpoint rules are required")
		return
	}

	payload, out := h.dispatcher.TestSend(r.Context(), req.Endpoint, req.Sample)
	writeJSON(w, http.StatusOK, TestEndpointResponse{
		Payload: payload,
		OK:      out.OK,
		Code:    out.Code,
		Error:   out.Error,
		Preview: out.Preview,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
