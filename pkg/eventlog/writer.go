// Package eventlog provides an append-only JSONL audit export of
// workflow execution log entries with time-based file rotation.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentflow/pkg/persistence"
)

// Writer appends execution log entries to rotated JSONL files.
type Writer struct {
	currentFile   *os.File
	logDir        string
	currentBucket string
	rotationHours int
	mu            sync.Mutex
}

// NewWriter creates a writer rotating files every rotationHours in
// logDir. Invalid rotation values default to daily rotation.
func NewWriter(logDir string, rotationHours int) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	if rotationHours <= 0 || rotationHours > 24 {
		rotationHours = 24
	}

	writer := &Writer{
		logDir:        logDir,
		rotationHours: rotationHours,
	}

	if err := writer.rotateIfNeeded(time.Now()); err != nil {
		return nil, fmt.Errorf("failed to initialize audit file: %w", err)
	}
	return writer, nil
}

// Record appends one entry to the current audit file, rotating first
// when the time bucket changed. Entries are synced to disk so the audit
// trail survives a crash.
func (w *Writer) Record(entry *persistence.ExecutionLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(time.Now()); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}

	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	return nil
}

// bucketFor returns the rotation bucket label for t. Daily rotation
// buckets by date; sub-daily rotation includes the truncated hour.
func (w *Writer) bucketFor(t time.Time) string {
	if w.rotationHours >= 24 {
		return t.Format("2006-01-02")
	}
	hour := (t.Hour() / w.rotationHours) * w.rotationHours
	return fmt.Sprintf("%s-%02d", t.Format("2006-01-02"), hour)
}

func (w *Writer) rotateIfNeeded(now time.Time) error {
	bucket := w.bucketFor(now)
	if w.currentFile != nil && w.currentBucket == bucket {
		return nil
	}
	return w.rotate(bucket)
}

func (w *Writer) rotate(bucket string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close audit file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", bucket))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentBucket = bucket
	return nil
}

// Close closes the current audit file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}
	return nil
}

// CurrentFile returns the path of the active audit file.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentBucket))
}

// ReadEntries reads and parses all entries from one audit file.
func ReadEntries(path string) ([]persistence.ExecutionLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	var entries []persistence.ExecutionLog
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var entry persistence.ExecutionLog
			if err := json.Unmarshal(line, &entry); err != nil {
				return nil, fmt.Errorf("failed to parse audit entry: %w", err)
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// ListFiles returns all audit files in logDir, oldest first by name.
func ListFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit files: %w", err)
	}
	return files, nil
}
