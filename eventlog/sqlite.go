package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteLogger stores events in a SQLite table so they can be queried by
// type and recency.
type SQLiteLogger struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex // guards entropy
	entropy io.Reader
}

// NewSQLiteLogger opens or creates the event database at dbPath.
func NewSQLiteLogger(dbPath string) (*SQLiteLogger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	l := &SQLiteLogger{
		db:      db,
		logger:  zap.L().Named("eventlog"),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

func (l *SQLiteLogger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id        TEXT PRIMARY KEY,
		timestamp REAL NOT NULL,
		type      TEXT NOT NULL,
		data      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, id DESC);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *SQLiteLogger) newID(t time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), l.entropy).String()
}

// Log inserts one event.
func (l *SQLiteLogger) Log(ctx context.Context, eventType string, data map[string]any) {
	now := l.now()
	ev := newEvent(now, eventType, data)
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		l.logger.Warn("encode event failed", zap.String("type", eventType), zap.Error(err))
		return
	}

	// Audit writes outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, type, data) VALUES (?, ?, ?, ?)`,
		l.newID(now), ev.Timestamp, ev.Type, string(raw))
	if err != nil {
		l.logger.Warn("insert event failed", zap.String("type", eventType), zap.Error(err))
	}
}

// Recent returns up to limit events, newest first. A non-empty eventType
// restricts the result to that type.
func (l *SQLiteLogger) Recent(ctx context.Context, limit int, eventType string) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, type, data FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev  Event
			raw string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of stored events of eventType, or of all types
// when eventType is empty.
func (l *SQLiteLogger) Count(ctx context.Context, eventType string) (int, error) {
	var n int
	var err error
	if eventType == "" {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE type = ?`, eventType).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *SQLiteLogger) Close() error {
	return l.db.Close()
}
