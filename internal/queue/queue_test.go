package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
	"github.com/webylead/leadrelay/internal/testutil"
)

// memStore is an in-memory Store that counts replaces.
type memStore struct {
	mu       sync.Mutex
	tasks    []domain.Task
	replaces int
	loadErr  error
}

func (s *memStore) Load() ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out, nil
}

func (s *memStore) Replace(tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make([]domain.Task, len(tasks))
	copy(s.tasks, tasks)
	s.replaces++
	return nil
}

func (s *memStore) snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// fakeSender returns scripted outcomes in order, then repeats the last one.
type fakeSender struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	calls    []string // URLs seen
}

func (f *fakeSender) Send(ctx context.Context, url string, payload map[string]string, withReferer bool) domain.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if len(f.outcomes) == 0 {
		return domain.Outcome{OK: true, Code: 200}
	}
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeAudit records appended entries.
type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

type auditEntry struct {
	Target string
	OK     bool
	Code   int
	Error  string
	FormID string
}

func (a *fakeAudit) Append(target string, payload map[string]string, out domain.Outcome, formID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{Target: target, OK: out.OK, Code: out.Code, Error: out.Error, FormID: formID})
	return nil
}

func (a *fakeAudit) all() []auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// fakeSettings serves fixed settings.
type fakeSettings struct {
	settings domain.Settings
}

func (f *fakeSettings) GetSettings(ctx context.Context) (domain.Settings, error) {
	return f.settings, nil
}

// fakeNotifier records final-failure notices.
type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Task
	tos     []string
}

func (n *fakeNotifier) FinalFailure(to string, task domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tos = append(n.tos, to)
	n.notices = append(n.notices, task)
}

func testSettings() domain.Settings {
	return domain.Settings{
		RetryMax:   2,
		RetryDelay: 5 * time.Minute,
	}
}

func newTestQueue(store *memStore, sender *fakeSender, audit *fakeAudit, settings domain.Settings, clock *testutil.FakeClock) *Queue {
	q := New(store, sender, audit, &fakeSettings{settings: settings})
	q.WithClock(clock.Now)
	return q
}

func testEndpoint() domain.Endpoint {
	return domain.Endpoint{
		ID:      "ep-1",
		Label:   "Bridge",
		URL:     "https://example.com/hook",
		Enabled: true,
		Rules:   domain.SlugListRules{Slugs: "a,b"},
	}
}

func TestEnqueueSnapshotsSettings(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	q := newTestQueue(store, &fakeSender{}, &fakeAudit{}, testSettings(), clock)

	err := q.Enqueue(context.Background(), testEndpoint(), map[string]string{"a": "1"}, "form-1", "HTTP 500")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	tasks := store.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("len = %d, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Attempts != 0 || task.MaxAttempts != 2 {
		t.Errorf("attempts = %d/%d, want 0/2", task.Attempts, task.MaxAttempts)
	}
	if task.EndpointURL != "https://example.com/hook" || task.EndpointType != domain.EndpointSlugList || task.EndpointLabel != "Bridge" {
		t.Errorf("endpoint snapshot wrong: %+v", task)
	}
	wantNext := clock.Now().UTC().Add(5 * time.Minute)
	if !task.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next attempt = %v, want %v", task.NextAttemptAt, wantNext)
	}
	if len(task.Errors) != 1 || !strings.Contains(task.Errors[0], "HTTP 500") {
		t.Errorf("errors = %v", task.Errors)
	}
}

func TestEnqueueFloorsDelayAtOneMinute(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	settings := testSettings()
	settings.RetryDelay = 5 * time.Second
	q := newTestQueue(store, &fakeSender{}, &fakeAudit{}, settings, clock)

	q.Enqueue(context.Background(), testEndpoint(), nil, "form-1", "x")

	task := store.snapshot()[0]
	wantNext := clock.Now().UTC().Add(time.Minute)
	if !task.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next attempt = %v, want floor of 1m (%v)", task.NextAttemptAt, wantNext)
	}
}

// TestRetryLifecycle walks a maxAttempts=2 task through two failures and
// the terminal sweep: the eviction check runs at the start of each pass,
// before any send, so the task survives the pass that exhausts it.
func TestRetryLifecycle(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: false, Code: 502}}}
	audit := &fakeAudit{}
	q := newTestQueue(store, sender, audit, testSettings(), clock)
	q.Enqueue(context.Background(), testEndpoint(), map[string]string{"a": "1"}, "form-1", "HTTP 502")

	ctx := context.Background()

	// First pass: task due, fails, kept with attempts=1.
	clock.Advance(6 * time.Minute)
	if err := q.ProcessDue(ctx); err != nil {
		t.Fatalf("first ProcessDue: %v", err)
	}
	tasks := store.snapshot()
	if len(tasks) != 1 || tasks[0].Attempts != 1 {
		t.Fatalf("after first pass: %+v", tasks)
	}
	if !tasks[0].NextAttemptAt.After(clock.Now().UTC().Add(4 * time.Minute)) {
		t.Errorf("next attempt not advanced: %v", tasks[0].NextAttemptAt)
	}
	if len(tasks[0].Errors) != 2 || !strings.Contains(tasks[0].Errors[1], "(attempt 1)") {
		t.Errorf("errors = %v", tasks[0].Errors)
	}

	// Second pass: fails again, attempts=2 == max, still kept.
	clock.Advance(6 * time.Minute)
	if err := q.ProcessDue(ctx); err != nil {
		t.Fatalf("second ProcessDue: %v", err)
	}
	tasks = store.snapshot()
	if len(tasks) != 1 || tasks[0].Attempts != 2 {
		t.Fatalf("after second pass: %+v", tasks)
	}

	// Third pass: attempts >= max, evicted with a terminal record and no send.
	sendsBefore := sender.callCount()
	clock.Advance(6 * time.Minute)
	if err := q.ProcessDue(ctx); err != nil {
		t.Fatalf("third ProcessDue: %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("task not evicted after exhausting attempts")
	}
	if sender.callCount() != sendsBefore {
		t.Error("terminal pass performed a send")
	}

	entries := audit.all()
	last := entries[len(entries)-1]
	if !strings.HasPrefix(last.Target, "retry_failed:") || last.OK || last.Code != 0 || last.Error != "max retries reached" {
		t.Errorf("terminal record = %+v", last)
	}
}

func TestProcessDueSkipsNotYetDue(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{}
	q := newTestQueue(store, sender, &fakeAudit{}, testSettings(), clock)
	q.Enqueue(context.Background(), testEndpoint(), nil, "form-1", "x")

	// Not yet due: untouched.
	if err := q.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	tasks := store.snapshot()
	if len(tasks) != 1 || tasks[0].Attempts != 0 {
		t.Errorf("not-due task touched: %+v", tasks)
	}
	if sender.callCount() != 0 {
		t.Error("not-due task was sent")
	}
}

func TestProcessDueSuccessEvicts(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: true, Code: 200, Preview: "ok"}}}
	audit := &fakeAudit{}
	q := newTestQueue(store, sender, audit, testSettings(), clock)
	q.Enqueue(context.Background(), testEndpoint(), map[string]string{"a": "1"}, "form-1", "x")

	clock.Advance(10 * time.Minute)
	if err := q.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	if len(store.snapshot()) != 0 {
		t.Error("delivered task not evicted")
	}
	entries := audit.all()
	last := entries[len(entries)-1]
	if !strings.HasPrefix(last.Target, "retry_ok:") || !last.OK {
		t.Errorf("success record = %+v", last)
	}
}

func TestProcessDuePreservesOrder(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: false, Code: 500}}}
	q := newTestQueue(store, sender, &fakeAudit{}, testSettings(), clock)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ep := testEndpoint()
		ep.ID = string(rune('a' + i))
		q.Enqueue(ctx, ep, nil, "form-1", "x")
	}

	clock.Advance(10 * time.Minute)
	q.ProcessDue(ctx)

	tasks := store.snapshot()
	if len(tasks) != 3 {
		t.Fatalf("len = %d, want 3", len(tasks))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tasks[i].EndpointID != want {
			t.Errorf("tasks[%d].EndpointID = %q, want %q", i, tasks[i].EndpointID, want)
		}
	}
}

func TestExhaustedTaskNotifies(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	notifier := &fakeNotifier{}
	settings := testSettings()
	settings.NotifyOnFailure = true
	settings.NotifyEmail = "ops@example.com"

	q := newTestQueue(store, &fakeSender{}, &fakeAudit{}, settings, clock)
	q.WithNotifier(notifier)

	// Seed an already exhausted, due task.
	store.Replace([]domain.Task{{
		ID:            "t1",
		EndpointURL:   "https://example.com",
		EndpointLabel: "Bridge",
		Attempts:      2,
		MaxAttempts:   2,
		NextAttemptAt: clock.Now().UTC().Add(-time.Minute),
	}})

	if err := q.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(notifier.notices))
	}
	if notifier.tos[0] != "ops@example.com" {
		t.Errorf("to = %q", notifier.tos[0])
	}
	if notifier.notices[0].ID != "t1" {
		t.Errorf("notified task = %+v", notifier.notices[0])
	}
}

// TestManualRetryTerminalTask verifies the "one more chance" semantics: a
// terminal task gets attempts decremented and is attempted immediately
// within the same operation.
func TestManualRetryTerminalTask(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: false, Code: 500}}}
	q := newTestQueue(store, sender, &fakeAudit{}, domain.Settings{RetryMax: 3, RetryDelay: 5 * time.Minute}, clock)

	store.Replace([]domain.Task{{
		ID:            "t1",
		EndpointURL:   "https://example.com",
		Attempts:      3,
		MaxAttempts:   3,
		NextAttemptAt: clock.Now().UTC().Add(time.Hour),
	}})

	if err := q.ManualRetry(context.Background(), "t1"); err != nil {
		t.Fatalf("ManualRetry: %v", err)
	}

	if sender.callCount() != 1 {
		t.Fatalf("sends = %d, want 1 (attempted immediately)", sender.callCount())
	}
	tasks := store.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("len = %d, want 1 (failed again, kept)", len(tasks))
	}
	// 3 - 1 = 2, then the immediate failed attempt brings it back to 3.
	if tasks[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", tasks[0].Attempts)
	}
}

func TestManualRetryClampsAtZero(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: true, Code: 200}}}
	q := newTestQueue(store, sender, &fakeAudit{}, testSettings(), clock)

	store.Replace([]domain.Task{{
		ID:            "t1",
		EndpointURL:   "https://example.com",
		Attempts:      0,
		MaxAttempts:   2,
		NextAttemptAt: clock.Now().UTC().Add(time.Hour),
	}})

	if err := q.ManualRetry(context.Background(), "t1"); err != nil {
		t.Fatalf("ManualRetry: %v", err)
	}
	if len(store.snapshot()) != 0 {
		t.Error("delivered task not evicted")
	}
}

func TestManualRetryUnknownTask(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Now())
	q := newTestQueue(store, &fakeSender{}, &fakeAudit{}, testSettings(), clock)

	if err := q.ManualRetry(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestDismiss(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Now())
	q := newTestQueue(store, &fakeSender{}, &fakeAudit{}, testSettings(), clock)

	store.Replace([]domain.Task{
		{ID: "t1", NextAttemptAt: clock.Now().Add(time.Hour)},
		{ID: "t2", NextAttemptAt: clock.Now().Add(time.Hour)},
	})

	if err := q.Dismiss(context.Background(), "t1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	tasks := store.snapshot()
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Errorf("tasks = %+v", tasks)
	}

	if err := q.Dismiss(context.Background(), "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second dismiss err = %v, want ErrTaskNotFound", err)
	}
}

func TestRetryErrorsIncludeHTTPCode(t *testing.T) {
	store := &memStore{}
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	sender := &fakeSender{outcomes: []domain.Outcome{{OK: false, Code: 503}}}
	q := newTestQueue(store, sender, &fakeAudit{}, testSettings(), clock)
	q.Enqueue(context.Background(), testEndpoint(), nil, "form-1", "HTTP 503")

	clock.Advance(10 * time.Minute)
	q.ProcessDue(context.Background())

	task := store.snapshot()[0]
	if !strings.Contains(task.Errors[1], "HTTP 503") {
		t.Errorf("errors = %v, want HTTP code in retry entry", task.Errors)
	}
}
