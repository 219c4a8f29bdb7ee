// Package queue holds failed deliveries for scheduled replay. Tasks are
// persisted as a single list replaced wholesale on every mutation; one
// mutex serializes every read-modify-write cycle so a sweep can never
// interleave with an enqueue, manual retry or dismiss.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webylead/leadrelay/internal/domain"
	"github.com/webylead/leadrelay/internal/metrics"
)

// ErrTaskNotFound is returned by manual actions on unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// minRetryDelay is the floor applied to the configured retry delay.
const minRetryDelay = time.Minute

// Store persists the ordered task list. Replace must be atomic: a partial
// write may never lose or duplicate tasks.
type Store interface {
	Load() ([]domain.Task, error)
	Replace(tasks []domain.Task) error
}

// Sender replays a stored payload. Retry sends never carry a Referer.
type Sender interface {
	Send(ctx context.Context, url string, payload map[string]string, withReferer bool) domain.Outcome
}

// AuditLog records replay attempts.
type AuditLog interface {
	Append(target string, payload map[string]string, out domain.Outcome, formID string) error
}

// Notifier delivers the terminal notice when a task exhausts its attempts.
// Best effort: failures never affect queue state.
type Notifier interface {
	FinalFailure(to string, task domain.Task)
}

// SettingsSource supplies current global settings. The retry delay and
// notification settings follow live configuration; MaxAttempts stays
// snapshotted per task.
type SettingsSource interface {
	GetSettings(ctx context.Context) (domain.Settings, error)
}

// MetricsSink records queue metrics, fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryScheduled()
	TaskEvicted(reason string)
	QueueDepthUpdate(depth int)
	SweepCompleted(duration time.Duration, processed int)
}

// Eviction reasons reported to metrics.
const (
	EvictDelivered = "delivered"
	EvictExhausted = "exhausted"
	EvictDismissed = "dismissed"
)

// Queue is the durable retry queue.
type Queue struct {
	mu       sync.Mutex
	store    Store
	sender   Sender
	audit    AuditLog
	notifier Notifier // optional, nil = disabled
	settings SettingsSource
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	newID    func() string
}

// New creates a retry queue over the given store.
func New(store Store, sender Sender, audit AuditLog, settings SettingsSource) *Queue {
	return &Queue{
		store:    store,
		sender:   sender,
		audit:    audit,
		settings: settings,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// WithNotifier attaches the final-failure notifier.
func (q *Queue) WithNotifier(n Notifier) *Queue {
	q.notifier = n
	return q
}

// WithMetrics attaches a metrics sink.
func (q *Queue) WithMetrics(m MetricsSink) *Queue {
	q.metrics = m
	return q
}

// WithClock overrides the time source, for tests.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Enqueue snapshots the endpoint and current retry settings into a new
// task. Callers must check RetryMax > 0 first; the first attempt is
// scheduled one retry delay (floored at one minute) from now.
func (q *Queue) Enqueue(ctx context.Context, ep domain.Endpoint, payload map[string]string, formID, initialError string) error {
	settings, err := q.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}

	now := q.clock().UTC()
	maxAttempts := settings.RetryMax
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	task := domain.Task{
		ID:            q.newID(),
		FormID:        formID,
		EndpointID:    ep.ID,
		EndpointURL:   ep.URL,
		EndpointType:  ep.Type(),
		EndpointLabel: ep.Label,
		Payload:       payload,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now.Add(retryDelay(settings)),
		Errors:        []string{now.Format(time.RFC3339) + " | " + initialError},
		CreatedAt:     now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	tasks = append(tasks, task)
	if err := q.store.Replace(tasks); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	log.Printf("queue: task=%s enqueued endpoint=%s next=%s", task.ID, task.TargetName(), task.NextAttemptAt.Format(time.RFC3339))
	if q.metrics != nil {
		q.metrics.RetryScheduled()
		q.metrics.QueueDepthUpdate(len(tasks))
	}
	return nil
}

// List returns the stored tasks in queue order.
func (q *Queue) List(ctx context.Context) ([]domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Load()
}

// ProcessDue walks the queue once: due tasks that already used all their
// attempts are evicted with a terminal record, other due tasks are
// replayed. The updated collection is written back as one atomic replace.
func (q *Queue) ProcessDue(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processDueLocked(ctx)
}

func (q *Queue) processDueLocked(ctx context.Context) error {
	start := q.clock()
	settings, err := q.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}

	tasks, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	now := q.clock().UTC()
	kept := make([]domain.Task, 0, len(tasks))
	processed := 0

	for _, task := range tasks {
		if task.NextAttemptAt.After(now) {
			kept = append(kept, task)
			continue
		}
		processed++

		if task.Exhausted() {
			q.evictExhausted(task, settings)
			continue
		}

		task, keep := q.attempt(ctx, task, settings, now)
		if keep {
			kept = append(kept, task)
		}
	}

	if err := q.store.Replace(kept); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(len(kept))
		q.metrics.SweepCompleted(q.clock().Sub(start), processed)
	}
	return nil
}

// attempt replays one due task. The second return is false when the
// delivery succeeded and the task must be evicted.
func (q *Queue) attempt(ctx context.Context, task domain.Task, settings domain.Settings, now time.Time) (domain.Task, bool) {
	sendStart := q.clock()
	out := q.sender.Send(ctx, task.EndpointURL, task.Payload, false)
	task.Attempts++

	if q.metrics != nil {
		q.metrics.DeliveryAttemptCompleted(metrics.ClassifyStatus(out.Code, out.Error), q.clock().Sub(sendStart))
	}

	if out.OK {
		log.Printf("queue: task=%s delivered on attempt %d", task.ID, task.Attempts)
		q.appendAudit("retry_ok:"+task.TargetName(), task.Payload, out, task.FormID)
		if q.metrics != nil {
			q.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
			q.metrics.TaskEvicted(EvictDelivered)
		}
		return domain.Task{}, false
	}

	log.Printf("queue: task=%s attempt %d/%d failed: %s", task.ID, task.Attempts, task.MaxAttempts, out.FailureMessage())
	task.Errors = append(task.Errors, fmt.Sprintf("%s (attempt %d) | %s", now.Format(time.RFC3339), task.Attempts, out.FailureMessage()))
	task.NextAttemptAt = now.Add(retryDelay(settings))
	if q.metrics != nil {
		q.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	}
	return task, true
}

func (q *Queue) evictExhausted(task domain.Task, settings domain.Settings) {
	log.Printf("queue: task=%s dropped after %d attempts", task.ID, task.Attempts)
	out := domain.Outcome{OK: false, Code: 0, Error: "max retries reached"}
	q.appendAudit("retry_failed:"+task.TargetName(), task.Payload, out, task.FormID)

	if settings.NotifyOnFailure && q.notifier != nil {
		q.notifier.FinalFailure(settings.NotifyEmail, task)
	}
	if q.metrics != nil {
		q.metrics.DeliveryOutcome(metrics.OutcomeAbandoned)
		q.metrics.TaskEvicted(EvictExhausted)
	}
}

// ManualRetry gives a task one more chance: attempts is decremented
// (clamped at zero), the task is made due immediately, and a processing
// pass runs right away so the operator sees the result without waiting for
// the scheduler.
func (q *Queue) ManualRetry(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	found := false
	now := q.clock().UTC()
	for i := range tasks {
		if tasks[i].ID == taskID {
			if tasks[i].Attempts > 0 {
				tasks[i].Attempts--
			}
			tasks[i].NextAttemptAt = now
			found = true
			break
		}
	}
	if !found {
		return ErrTaskNotFound
	}

	if err := q.store.Replace(tasks); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	return q.processDueLocked(ctx)
}

// Dismiss removes a task unconditionally.
func (q *Queue) Dismiss(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	kept := make([]domain.Task, 0, len(tasks))
	found := false
	for _, task := range tasks {
		if task.ID == taskID {
			found = true
			continue
		}
		kept = append(kept, task)
	}
	if !found {
		return ErrTaskNotFound
	}

	if err := q.store.Replace(kept); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}

	log.Printf("queue: task=%s dismissed", taskID)
	if q.metrics != nil {
		q.metrics.TaskEvicted(EvictDismissed)
		q.metrics.QueueDepthUpdate(len(kept))
	}
	return nil
}

func retryDelay(settings domain.Settings) time.Duration {
	if settings.RetryDelay < minRetryDelay {
		return minRetryDelay
	}
	return settings.RetryDelay
}

func (q *Queue) appendAudit(target string, payload map[string]string, out domain.Outcome, formID string) {
	if err := q.audit.Append(target, payload, out, formID); err != nil {
		log.Printf("queue: audit append failed: %v", err)
	}
}
