package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/grace/memory"
)

func TestFileLogger_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l, err := NewFileLogger(path)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Unix(1700000000, 500000000) }

	ctx := context.Background()
	l.Log(ctx, memory.EventMemoryAdded, map[string]any{"memory_id": "m1", "user_id": "alice"})
	l.Log(ctx, memory.EventError, nil)
	require.NoError(t, l.Close())

	events, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, memory.EventMemoryAdded, events[0].Type)
	assert.Equal(t, "m1", events[0].Data["memory_id"])
	assert.InDelta(t, 1700000000.5, events[0].Timestamp, 1e-6)
	assert.Equal(t, int64(1700000000), events[0].Time().Unix())
	assert.NotNil(t, events[1].Data)

	// Reopening appends rather than truncating.
	l, err = NewFileLogger(path)
	require.NoError(t, err)
	l.Log(ctx, memory.EventMemoryDeleted, nil)
	require.NoError(t, l.Close())

	events, err = ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestFileLogger_ConcurrentWritesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Log(context.Background(), memory.EventMemoryAdded, map[string]any{"n": i})
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	events, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "blank.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("\n{\"timestamp\":1,\"type\":\"error\",\"data\":{}}\n\n"), 0o644))
	events, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"type\":\"error\"}\nnot json\n"), 0o644))
	events, err = ReadFile(bad)
	assert.ErrorContains(t, err, "line 2")
	assert.Len(t, events, 1)

	_, err = ReadFile(filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}

type captureLogger struct {
	types []string
}

func (c *captureLogger) Log(_ context.Context, eventType string, _ map[string]any) {
	c.types = append(c.types, eventType)
}

func TestMulti(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := Multi(a, nil, b, Nop{})
	m.Log(context.Background(), memory.EventMemoryPruned, nil)

	assert.Equal(t, []string{memory.EventMemoryPruned}, a.types)
	assert.Equal(t, []string{memory.EventMemoryPruned}, b.types)
}

func TestSQLiteLogger_RecentAndCount(t *testing.T) {
	l, err := NewSQLiteLogger(filepath.Join(t.TempDir(), "db", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	base := time.Unix(1700000000, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		i := i
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		eventType := memory.EventMemoryAdded
		if i%2 == 1 {
			eventType = memory.EventError
		}
		l.Log(ctx, eventType, map[string]any{"n": fmt.Sprint(i)})
	}

	total, err := l.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	errs, err := l.Count(ctx, memory.EventError)
	require.NoError(t, err)
	assert.Equal(t, 2, errs)

	recent, err := l.Recent(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "4", recent[0].Data["n"])
	assert.Equal(t, "3", recent[1].Data["n"])
	assert.NotEmpty(t, recent[0].ID)

	added, err := l.Recent(ctx, 0, memory.EventMemoryAdded)
	require.NoError(t, err)
	require.Len(t, added, 3)
	for _, ev := range added {
		assert.Equal(t, memory.EventMemoryAdded, ev.Type)
	}
	assert.Equal(t, "0", added[2].Data["n"])
}

func TestSQLiteLogger_SameInstantKeepsOrder(t *testing.T) {
	l, err := NewSQLiteLogger(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	fixed := time.Unix(1700000000, 0)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		l.Log(ctx, memory.EventMemoryAdded, map[string]any{"n": fmt.Sprint(i)})
	}

	recent, err := l.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, recent, 10)
	for i, ev := range recent {
		assert.Equal(t, fmt.Sprint(9-i), ev.Data["n"])
	}
}

func TestSQLiteLogger_LogSurvivesCancelledContext(t *testing.T) {
	l, err := NewSQLiteLogger(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Log(ctx, memory.EventCommandLearn, nil)

	n, err := l.Count(context.Background(), memory.EventCommandLearn)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
