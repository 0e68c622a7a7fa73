// Package eventlog records memory-system audit events.
//
// Every sink implements memory.AuditLogger. FileLogger appends one JSON
// object per line, SQLiteLogger keeps a queryable table, and Multi fans an
// event out to several sinks. Audit failures are logged and never surface to
// the memory operation that produced the event.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/grace/memory"
)

// Event is one audit record.
type Event struct {
	// ID is set by sinks that assign identifiers (SQLiteLogger).
	ID string `json:"id,omitempty"`

	// Timestamp is float Unix seconds.
	Timestamp float64 `json:"timestamp"`

	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Time converts the timestamp back to a time.Time.
func (e Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func newEvent(now time.Time, eventType string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Type:      eventType,
		Data:      data,
	}
}

// FileLogger appends events to a JSON lines file. Concurrent writers are
// serialized so lines never interleave.
type FileLogger struct {
	mu     sync.Mutex
	f      *os.File
	logger *zap.Logger
	now    func() time.Time
}

// NewFileLogger opens path for appending, creating it and its directory when
// missing.
func NewFileLogger(path string) (*FileLogger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileLogger{
		f:      f,
		logger: zap.L().Named("eventlog"),
		now:    time.Now,
	}, nil
}

// Log appends one event line.
func (l *FileLogger) Log(_ context.Context, eventType string, data map[string]any) {
	line, err := json.Marshal(newEvent(l.now(), eventType, data))
	if err != nil {
		l.logger.Warn("encode event failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		l.logger.Warn("append event failed", zap.String("type", eventType), zap.Error(err))
	}
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ReadFile parses a JSON lines event log. Blank lines are skipped.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}

// Multi fans each event out to every non-nil logger.
func Multi(loggers ...memory.AuditLogger) memory.AuditLogger {
	var out multi
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type multi []memory.AuditLogger

func (m multi) Log(ctx context.Context, eventType string, data map[string]any) {
	for _, l := range m {
		l.Log(ctx, eventType, data)
	}
}

// Nop discards every event.
type Nop struct{}

// Log does nothing.
func (Nop) Log(context.Context, string, map[string]any) {}
