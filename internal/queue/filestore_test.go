package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{
			ID:            "t1",
			FormID:        "form-1",
			EndpointID:    "ep-1",
			EndpointURL:   "https://example.com/hook",
			EndpointType:  domain.EndpointSlugList,
			EndpointLabel: "Bridge",
			Payload:       map[string]string{"email": "a@b.c"},
			Attempts:      1,
			MaxAttempts:   3,
			NextAttemptAt: now.Add(15 * time.Minute),
			Errors:        []string{"2024-05-01T10:00:00Z | HTTP 500"},
			CreatedAt:     now,
		},
		{ID: "t2", NextAttemptAt: now},
	}

	if err := store.Replace(tasks); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len = %d, want 2", len(loaded))
	}
	got := loaded[0]
	if got.ID != "t1" || got.Attempts != 1 || got.MaxAttempts != 3 {
		t.Errorf("task fields wrong: %+v", got)
	}
	if !got.NextAttemptAt.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("NextAttemptAt = %v", got.NextAttemptAt)
	}
	if got.Payload["email"] != "a@b.c" {
		t.Errorf("payload = %v", got.Payload)
	}
	if len(got.Errors) != 1 || got.Errors[0] != "2024-05-01T10:00:00Z | HTTP 500" {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tasks, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("len = %d, want 0", len(tasks))
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, queueFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("len = %d, want 0 (corrupt file treated as empty)", len(tasks))
	}
}

func TestFileStoreSkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	// One valid task, one entry with a wrong type for attempts.
	raw := `[{"id":"t1","attempts":1,"max_attempts":3},{"id":"t2","attempts":"bad"}]`
	if err := os.WriteFile(filepath.Join(dir, queueFileName), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	tasks, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Errorf("tasks = %+v, want only t1", tasks)
	}
}

func TestFileStoreReplaceIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Replace([]domain.Task{{ID: "t1"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Replace(nil); err != nil {
		t.Fatalf("Replace nil: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != queueFileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want only %s", names, queueFileName)
	}

	data, err := os.ReadFile(filepath.Join(dir, queueFileName))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("empty queue file = %q, want []", data)
	}
}
