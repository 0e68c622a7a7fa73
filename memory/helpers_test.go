package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/memory/embedder/mock"
	"github.com/becomeliminal/grace/memory/store/chromem"
)

const admin = "admin@example.com"

// recordingAudit keeps every audit event for assertions.
type recordingAudit struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type string
	Data map[string]any
}

func (r *recordingAudit) Log(_ context.Context, eventType string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Data: data})
}

func (r *recordingAudit) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recordingAudit) Last(eventType string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return recordedEvent{}, false
}

// testClock is a settable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store   memory.Store
	manager *memory.Manager
	audit   *recordingAudit
	clock   *testClock
}

// newTestEnv builds a manager over an in-memory chromem store with admin
// authorized. wrap, when non-nil, decorates the store.
func newTestEnv(t *testing.T, wrap func(memory.Store) memory.Store) *testEnv {
	t.Helper()

	var store memory.Store
	cs, err := chromem.New(mock.New(0), chromem.Config{Logger: zap.NewNop()})
	require.NoError(t, err)
	store = cs
	if wrap != nil {
		store = wrap(store)
	}

	env := &testEnv{store: store, audit: &recordingAudit{}, clock: newTestClock()}
	env.manager, err = memory.NewManager(context.Background(), store, memory.NewAllowList(admin), nil,
		memory.WithAudit(env.audit),
		memory.WithClock(env.clock.Now),
		memory.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	return env
}

var errBoom = errors.New("boom")

// failingStore fails chosen operations on chosen collections.
type failingStore struct {
	memory.Store
	failQuery map[string]bool
	failAdd   map[string]bool
}

func (s *failingStore) Collection(ctx context.Context, name string) (memory.Collection, error) {
	col, err := s.Store.Collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingCollection{Collection: col, failQuery: s.failQuery[name], failAdd: s.failAdd[name]}, nil
}

type failingCollection struct {
	memory.Collection
	failQuery bool
	failAdd   bool
}

func (c *failingCollection) Query(ctx context.Context, text string, n int, where map[string]string) ([]memory.Hit, error) {
	if c.failQuery {
		return nil, errBoom
	}
	return c.Collection.Query(ctx, text, n, where)
}

func (c *failingCollection) Add(ctx context.Context, ids, docs []string, mds []map[string]string) error {
	if c.failAdd {
		return errBoom
	}
	return c.Collection.Add(ctx, ids, docs, mds)
}
