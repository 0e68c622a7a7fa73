package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QueryOptions controls a cross-scope query.
type QueryOptions struct {
	// UserID selects the user collection. Without it the user scope is skipped.
	UserID string

	// Scopes to query. Default: core, global, and user when UserID is set.
	Scopes []Scope

	// MemoryTypes narrows the tiers considered. Long-term enables core and
	// global; short/medium enable the user scope and, when only one of them
	// is given, filter the user collection by memory_type. Default: all.
	MemoryTypes []MemoryType

	// Limit is the maximum number of results per scope.
	Limit int
}

// QueryMemory runs one similarity query per scope concurrently and joins the
// results. A scope that fails is logged and contributes an empty list; it
// never blocks or fails the other scopes.
func (m *Manager) QueryMemory(ctx context.Context, query string, opts QueryOptions) ScopedResults {
	results := newScopedResults()
	if query == "" {
		return results
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = m.config.DefaultLimit
	}
	scopes, userWhere := m.planQuery(opts)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, scope := range scopes {
		g.Go(func() error {
			rs, err := m.queryScope(ctx, scope, query, opts.UserID, limit, userWhere)
			if err != nil {
				m.readFailed(ctx, scope, opts.UserID, err)
				rs = nil
			}
			mu.Lock()
			results.set(scope, rs)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Debug("queried memory",
		zap.String("query", truncateLog(query, 50)),
		zap.String("user", opts.UserID),
		zap.Int("core", len(results.Core)),
		zap.Int("global", len(results.Global)),
		zap.Int("user_results", len(results.User)))
	return results
}

// planQuery resolves the scopes to query and the user-collection filter.
func (m *Manager) planQuery(opts QueryOptions) ([]Scope, map[string]string) {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []Scope{ScopeCore, ScopeGlobal}
		if opts.UserID != "" {
			scopes = append(scopes, ScopeUser)
		}
	}

	wantLong, wantShort, wantMedium := true, true, true
	if len(opts.MemoryTypes) > 0 {
		wantLong, wantShort, wantMedium = false, false, false
		for _, t := range opts.MemoryTypes {
			switch t {
			case LongTerm:
				wantLong = true
			case ShortTerm:
				wantShort = true
			case MediumTerm:
				wantMedium = true
			}
		}
	}

	var userWhere map[string]string
	switch {
	case wantShort && !wantMedium:
		userWhere = map[string]string{KeyMemoryType: string(ShortTerm)}
	case wantMedium && !wantShort:
		userWhere = map[string]string{KeyMemoryType: string(MediumTerm)}
	}

	planned := make([]Scope, 0, len(scopes))
	seen := make(map[Scope]bool)
	for _, s := range scopes {
		if seen[s] {
			continue
		}
		seen[s] = true
		switch s {
		case ScopeCore, ScopeGlobal:
			if wantLong {
				planned = append(planned, s)
			}
		case ScopeUser:
			if opts.UserID != "" && (wantShort || wantMedium) {
				planned = append(planned, s)
			}
		}
	}
	return planned, userWhere
}

// queryScope runs a single scope's similarity query.
func (m *Manager) queryScope(ctx context.Context, scope Scope, query, userID string, limit int, userWhere map[string]string) ([]MemoryResult, error) {
	ctx, span := m.tracer.Start(ctx, "memory.query_scope", trace.WithAttributes(
		attribute.String("memory.scope", string(scope)),
		attribute.Int("memory.limit", limit),
	))
	defer span.End()

	var (
		col   Collection
		where map[string]string
		err   error
	)
	switch scope {
	case ScopeCore:
		col = m.system
	case ScopeGlobal:
		col = m.global
	case ScopeUser:
		col, err = m.UserCollection(ctx, userID)
		where = userWhere
	default:
		err = fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits, err := col.Query(ctx, query, limit, where)
	if err != nil {
		err = &StorageError{Op: "query", Collection: col.Name(), Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("memory.results", len(hits)))
	return m.formatResults(hits, scope), nil
}

// readFailed logs and audits a read failure. Reads degrade to empty results.
func (m *Manager) readFailed(ctx context.Context, scope Scope, userID string, err error) {
	m.logger.Warn("memory query failed", zap.String("scope", string(scope)), zap.String("user", userID), zap.Error(err))
	m.audit.Log(ctx, EventError, map[string]any{
		"op":      "query_" + string(scope),
		"user_id": userID,
		"error":   err.Error(),
	})
}

func (m *Manager) formatResults(hits []Hit, scope Scope) []MemoryResult {
	return FormatResults(hits, scope, m.allow)
}

// FormatResults converts raw hits into ranked results.
//
// Each hit gets relevance = 1 - min(distance, 1), clamped to [0, 1]. Hits
// authored by an authorized user or tagged priority "high" sort before all
// others; within each bucket hits sort by ascending distance.
func FormatResults(hits []Hit, scope Scope, allow *AllowList) []MemoryResult {
	results := make([]MemoryResult, 0, len(hits))
	for _, h := range hits {
		md := Metadata(h.Metadata)
		if md == nil {
			md = Metadata{}
		}
		results = append(results, MemoryResult{
			ID:        h.ID,
			Text:      h.Text,
			Metadata:  md,
			Distance:  h.Distance,
			Relevance: Relevance(h.Distance),
			Priority:  resolvePriority(md, allow),
			Scope:     scope,
		})
	}
	SortByPriority(results)
	return results
}

// SortByPriority orders results high priority first, then by ascending
// distance. The sort is stable so equal hits keep their store order.
func SortByPriority(results []MemoryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		hi, hj := results[i].Priority == PriorityHigh, results[j].Priority == PriorityHigh
		if hi != hj {
			return hi
		}
		return results[i].Distance < results[j].Distance
	})
}

// Relevance converts a vector distance into a [0, 1] score.
func Relevance(distance float64) float64 {
	if distance > 1 {
		distance = 1
	}
	r := 1 - distance
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func resolvePriority(md Metadata, allow *AllowList) string {
	if md[KeyPriority] == PriorityHigh || allow.Contains(md.Author()) {
		return PriorityHigh
	}
	if p := md[KeyPriority]; p != "" {
		return p
	}
	return "normal"
}
