// Package auditlog records every delivery attempt as one masked JSON object
// per line in an append-only file, and tracks an unacknowledged-failure
// counter for the operator.
package auditlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
)

// Filter selects which records a read returns.
type Filter string

const (
	FilterAll  Filter = ""
	FilterOK   Filter = "ok"
	FilterFail Filter = "fail"
)

const (
	logFileName     = "audit.log"
	counterFileName = "failures.count"
)

// Record is one logged delivery attempt. Records are append-only and never
// mutated after being written.
type Record struct {
	TS      time.Time         `json:"ts"`
	Target  string            `json:"target"`
	FormID  string            `json:"form_id"`
	OK      bool              `json:"ok"`
	Code    int               `json:"code"`
	Error   string            `json:"error,omitempty"`
	Payload map[string]string `json:"payload"`
	Preview string            `json:"preview"`
}

// Log is a durable audit trail. All mutations hold an exclusive lock so
// concurrent dispatches and queue sweeps never interleave writes.
type Log struct {
	mu    sync.Mutex
	dir   string
	clock func() time.Time
}

// New opens (creating if needed) the audit log under dir.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Log{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the timestamp source, for tests.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append writes one record for a delivery attempt. Sensitive payload values
// are masked before serialization. Failed outcomes also increment the
// unacknowledged-failure counter.
func (l *Log) Append(target string, payload map[string]string, out domain.Outcome, formID string) error {
	record := Record{
		TS:      l.clock().UTC(),
		Target:  target,
		FormID:  formID,
		OK:      out.OK,
		Code:    out.Code,
		Error:   out.Error,
		Payload: MaskPayload(payload),
		Preview: out.Preview,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}

	if !out.OK {
		l.writeCounter(l.readCounter() + 1)
	}
	return nil
}

// Read returns up to limit records, most recent first. Malformed lines are
// skipped; reading never mutates the log.
func (l *Log) Read(limit int, filter Filter) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.logPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	records := make([]Record, 0, limit)

	for i := len(lines) - 1; i >= 0 && len(records) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // corrupt line, keep reading
		}
		if filter == FilterOK && !rec.OK {
			continue
		}
		if filter == FilterFail && rec.OK {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear empties the log and resets the failure counter.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.WriteFile(l.logPath(), nil, 0o644); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	l.writeCounter(0)
	return nil
}

// FailureCount returns the number of failures recorded since the last
// acknowledgment.
func (l *Log) FailureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readCounter()
}

// ResetFailureCounter acknowledges all recorded failures without touching
// the stored records.
func (l *Log) ResetFailureCounter() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeCounter(0)
	return nil
}

// Size returns the log file size in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.logPath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// LineCount returns the number of non-empty lines in the log file.
func (l *Log) LineCount() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.logPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}

func (l *Log) logPath() string {
	return filepath.Join(l.dir, logFileName)
}

func (l *Log) counterPath() string {
	return filepath.Join(l.dir, counterFileName)
}

func (l *Log) readCounter() int {
	data, err := os.ReadFile(l.counterPath())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (l *Log) writeCounter(n int) {
	// Counter loss is tolerable; failures stay visible in the records.
	_ = os.WriteFile(l.counterPath(), []byte(strconv.Itoa(n)), 0o644)
}
