package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Maintainer runs the periodic memory jobs: TTL pruning, entity-graph
// rebuilds and long-term merging.
type Maintainer struct {
	manager  *Manager
	bridge   *Bridge
	interval time.Duration
	merge    bool
	logger   *zap.Logger
}

// MaintenanceReport is the outcome of one maintenance pass.
type MaintenanceReport struct {
	Prune PruneReport `json:"prune"`
	Merge MergeReport `json:"merge"`
}

// NewMaintainer creates a Maintainer. bridge may be nil, in which case the
// entity graph is not rebuilt. merge toggles the long-term merge job.
func NewMaintainer(manager *Manager, bridge *Bridge, interval time.Duration, merge bool) *Maintainer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Maintainer{
		manager:  manager,
		bridge:   bridge,
		interval: interval,
		merge:    merge,
		logger:   manager.logger.Named("maintenance"),
	}
}

// RunOnce performs a single maintenance pass. Failures of one job are logged
// and do not prevent the others from running.
func (mt *Maintainer) RunOnce(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport
	var err error

	if report.Prune, err = mt.manager.PruneExpiredMemories(ctx); err != nil {
		mt.logger.Warn("prune failed", zap.Error(err))
	}
	if mt.bridge != nil {
		if err := mt.bridge.UpdateEntityRelationships(ctx); err != nil {
			mt.logger.Warn("entity graph rebuild failed", zap.Error(err))
		}
	}
	if mt.merge {
		if report.Merge, err = mt.manager.MergeAllEntities(ctx, mt.manager.config.MergeThreshold); err != nil {
			mt.logger.Warn("merge failed", zap.Error(err))
		}
	}
	return report
}

// Run performs a pass immediately and then every interval until ctx is
// cancelled.
func (mt *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(mt.interval)
	defer ticker.Stop()

	mt.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt.RunOnce(ctx)
		}
	}
}
