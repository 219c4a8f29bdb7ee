package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/webylead/leadrelay/internal/domain"
)

const queueFileName = "retry-queue.json"

// FileStore persists the task list as one JSON array, replaced wholesale
// via a temp file and rename so readers never observe a partial write.
type FileStore struct {
	path string
}

// NewFileStore creates the data directory if needed and returns a store
// backed by <dir>/retry-queue.json.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, queueFileName)}, nil
}

// Load reads the stored task list. A missing file is an empty queue.
// Corrupt entries are skipped so one bad record cannot wedge the whole
// queue; an unreadable file is treated as empty and logged.
func (s *FileStore) Load() ([]domain.Task, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("queue: store file corrupt, starting empty: %v", err)
		return nil, nil
	}

	tasks := make([]domain.Task, 0, len(raw))
	for _, entry := range raw {
		var task domain.Task
		if err := json.Unmarshal(entry, &task); err != nil {
			log.Printf("queue: skipping corrupt task entry: %v", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Replace writes the full task list atomically.
func (s *FileStore) Replace(tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), queueFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp queue file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
