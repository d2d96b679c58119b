package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neuroinsight/neuroinsight/pkg/log"
)

const (
	defaultMaxFileSize = 50 * 1024 * 1024
	ringSize           = 512
)

// Entry is one audit event
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger appends audit entries to daily JSONL files
type Logger struct {
	mu          sync.Mutex
	dir         string
	maxFileSize int64

	ring  []Entry
	start int
	count int
}

// New creates the audit directory and the logger
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	return &Logger{
		dir:         dir,
		maxFileSize: defaultMaxFileSize,
		ring:        make([]Entry, ringSize),
	}, nil
}

// Record appends one event. Write failures are logged, never surfaced:
// auditing must not break the operation being audited.
func (l *Logger) Record(event string, details map[string]any) {
	l.record(event, "info", details)
}

// RecordWarning appends one warning-severity event
func (l *Logger) RecordWarning(event string, details map[string]any) {
	l.record(event, "warning", details)
}

func (l *Logger) record(event, severity string, details map[string]any) {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Event:     event,
		Severity:  severity,
		Details:   details,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[(l.start+l.count)%len(l.ring)] = entry
	if l.count < len(l.ring) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.ring)
	}

	if err := l.appendLocked(entry); err != nil {
		log.WithComponent("audit").Error().Err(err).Str("event", event).Msg("failed to write audit entry")
	}
}

func (l *Logger) appendLocked(entry Entry) error {
	path := l.currentPath()
	if info, err := os.Stat(path); err == nil && info.Size() > l.maxFileSize {
		rotated := fmt.Sprintf("%s-%s.jsonl", path[:len(path)-len(".jsonl")], time.Now().UTC().Format("150405"))
		_ = os.Rename(path, rotated)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(raw, '\n'))
	return err
}

func (l *Logger) currentPath() string {
	day := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", day))
}

// Recent returns up to limit entries, newest first, optionally filtered by
// event name
func (l *Logger) Recent(limit int, eventFilter string) []Entry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, limit)
	for i := l.count - 1; i >= 0 && len(out) < limit; i-- {
		e := l.ring[(l.start+i)%len(l.ring)]
		if eventFilter != "" && e.Event != eventFilter {
			continue
		}
		out = append(out, e)
	}
	return out
}
