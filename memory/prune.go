package memory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PruneReport summarizes a pruning sweep.
type PruneReport struct {
	Collections int `json:"collections"`
	ShortTerm   int `json:"short_term"`
	MediumTerm  int `json:"medium_term"`
}

// PruneExpiredMemories removes short-term records older than ShortTermTTL and
// medium-term records older than MediumTermTTL from every known per-user
// collection. Long-term and core records are never pruned.
//
// Pruning is idempotent and may run concurrently with reads; a record
// returned by a read may be deleted moments later. Failures in one collection
// do not stop the sweep; they are joined into the returned error.
func (m *Manager) PruneExpiredMemories(ctx context.Context) (PruneReport, error) {
	var (
		report PruneReport
		errs   []error
	)
	now := m.now()

	for _, name := range m.userCollectionNames() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		col, err := m.store.Collection(ctx, name)
		if err != nil {
			errs = append(errs, &StorageError{Op: "open", Collection: name, Err: err})
			continue
		}
		report.Collections++

		n, err := m.pruneTier(ctx, col, ShortTerm, m.config.ShortTermTTL, now)
		report.ShortTerm += n
		if err != nil {
			errs = append(errs, err)
		}
		n, err = m.pruneTier(ctx, col, MediumTerm, m.config.MediumTermTTL, now)
		report.MediumTerm += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn("prune finished with errors", zap.Error(err))
		m.audit.Log(ctx, EventError, map[string]any{"op": "prune", "error": err.Error()})
	}
	m.logger.Info("pruned expired memories",
		zap.Int("collections", report.Collections),
		zap.Int("short_term", report.ShortTerm),
		zap.Int("medium_term", report.MediumTerm))
	return report, err
}

// pruneTier deletes records of one tier older than ttl.
func (m *Manager) pruneTier(ctx context.Context, col Collection, memType MemoryType, ttl time.Duration, now time.Time) (int, error) {
	docs, err := col.Get(ctx, nil, map[string]string{KeyMemoryType: string(memType)})
	if err != nil {
		return 0, &StorageError{Op: "scan", Collection: col.Name(), Err: err}
	}

	cutoff := float64(now.Add(-ttl).UnixNano()) / 1e9
	var expired []string
	for _, doc := range docs {
		ts := Metadata(doc.Metadata).Timestamp()
		if ts > 0 && ts < cutoff {
			expired = append(expired, doc.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := col.Delete(ctx, expired); err != nil {
		return 0, &StorageError{Op: "delete", Collection: col.Name(), Err: err}
	}
	m.audit.Log(ctx, EventMemoryPruned, map[string]any{
		"collection":  col.Name(),
		"memory_type": string(memType),
		"count":       len(expired),
		"ids":         expired,
	})
	return len(expired), nil
}
