package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
)

// Snapshot is a point-in-time view of pipeline health.
type Snapshot struct {
	StaleScans     []model.ScanRun `json:"stale_scans,omitempty"`
	StaleAfter     time.Duration   `json:"stale_after"`
	UnprocessedCnt int             `json:"unprocessed_items"`
	OpenTasks      int             `json:"open_enrichment_tasks"`
	CollectedAt    time.Time       `json:"collected_at"`
}

// Collector gathers health data from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect reports running scans that have not checkpointed within staleAfter
// and have no continuation pending, plus queue depths.
func (c *Collector) Collect(ctx context.Context, staleAfter time.Duration) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{StaleAfter: staleAfter, CollectedAt: now}

	stale, err := c.store.ListStaleScans(ctx, now.Add(-staleAfter))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list stale scans")
	}
	snap.StaleScans = stale

	if snap.UnprocessedCnt, err = c.store.CountUnprocessedItems(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count unprocessed items")
	}

	tasks, err := c.store.ListOpenTasks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list open tasks")
	}
	snap.OpenTasks = len(tasks)

	return snap, nil
}
