package scan

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/store"
)

const claimLimit = 10

// Worker claims scans with a due continuation and runs them.
type Worker struct {
	store    store.Store
	orch     *Orchestrator
	interval time.Duration
	now      func() time.Time
}

// NewWorker creates a Worker polling every interval (default 5s).
func NewWorker(st store.Store, orch *Orchestrator, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{store: st, orch: orch, interval: interval, now: time.Now}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("scan: worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("scan: worker tick", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			zap.L().Info("scan: worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims due scans and runs one invocation of each, sequentially. It
// returns how many scans were claimed. A failing scan does not stop the
// others.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	ids, err := w.store.ClaimDueScans(ctx, w.now(), claimLimit)
	if err != nil {
		return 0, eris.Wrap(err, "scan: claim due scans")
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := w.orch.RunWork(ctx, id, true); err != nil {
			zap.L().Warn("scan: continuation failed", zap.String("scan_id", id), zap.Error(err))
		}
	}
	return len(ids), nil
}
