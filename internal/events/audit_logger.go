package events

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// LogEntry is one line of the audit log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	BatchID   string         `json:"batch_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	SenderID  string         `json:"sender_id,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`
}

// AuditLogger appends envelope events to a JSONL file and rotates it into
// an archive directory once it exceeds maxSize.
type AuditLogger struct {
	mu             sync.Mutex
	file           *os.File
	currentSize    int64
	maxSize        int64
	logPath        string
	enableChecksum bool
	rotations      int
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	l := &AuditLogger{logPath: logPath, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.currentSize = stat.Size()
	return nil
}

// Record writes an event. The well-known keys batch_id, request_id,
// sender_id and error_code are lifted out of the event data.
func (l *AuditLogger) Record(e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	details := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		s, isString := v.(string)
		switch {
		case k == "batch_id" && isString:
			entry.BatchID = s
		case k == "request_id" && isString:
			entry.RequestID = s
		case k == "sender_id" && isString:
			entry.SenderID = s
		case k == "error_code" && isString:
			entry.ErrorCode = s
		default:
			details[k] = v
		}
	}
	if len(details) > 0 {
		entry.Details = details
	}
	return l.WriteEntry(&entry)
}

// Attach records every envelope event published on bus until the returned
// function is called. Write failures are passed to onError when it is set.
func (l *AuditLogger) Attach(bus *Bus, onError func(error)) func() {
	return bus.Subscribe(func(e Event) {
		if err := l.Record(e); err != nil && onError != nil {
			onError(err)
		}
	}, EventEnvelopeProcessed, EventEnvelopeDelivered, EventRequestFailed, EventDescriptorsReloaded)
}

func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log is closed")
	}
	if l.enableChecksum {
		entry.Checksum = checksum(entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize > 0 && l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	l.file = nil

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotations++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	name := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), l.rotations, LogFileExtension)
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, name)); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}
	return l.open()
}

func checksum(entry *LogEntry) string {
	c := *entry
	c.Checksum = ""
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

// VerifyLogIntegrity returns the number of entries in the file and how many
// of them pass their checksum. Entries without a checksum count as valid.
func VerifyLogIntegrity(logPath string) (total, valid int, err error) {
	f, err := os.Open(logPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var entry LogEntry
		if err := dec.Decode(&entry); err != nil {
			return total, valid, fmt.Errorf("decode audit entry %d: %w", total+1, err)
		}
		total++
		if entry.Checksum == "" || entry.Checksum == checksum(&entry) {
			valid++
		}
	}
	return total, valid, nil
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *AuditLogger) Path() string { return l.logPath }

func (l *AuditLogger) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}
