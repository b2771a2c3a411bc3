// Package scan drives a fetch+analyze campaign to completion across as many
// time-bounded invocations as it takes, checkpointing progress on the
// ScanRun row after every batch.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/signal"
	"github.com/sells-group/signal-cli/internal/source"
	"github.com/sells-group/signal-cli/internal/store"
)

// SourceFetcher stages new source items. Called at most once per scan.
type SourceFetcher interface {
	FetchSourceItems(ctx context.Context) (*source.FetchResult, error)
}

// Analyzer processes one batch of staged items.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context) (*signal.BatchResult, error)
}

// Options tunes an Orchestrator.
type Options struct {
	// Budget is the usable wall-clock time per invocation, safety margin
	// already subtracted.
	Budget time.Duration
	// MaxBatchesPerTick bounds batches per invocation; 0 means unlimited.
	MaxBatchesPerTick int
	// BatchPause is slept between batches.
	BatchPause time.Duration
	// BaseContext is the parent of detached runs. Defaults to Background.
	BaseContext context.Context
}

// Orchestrator runs scans.
type Orchestrator struct {
	store    store.Store
	fetcher  SourceFetcher
	analyzer Analyzer
	cont     Continuer
	opts     Options

	group  singleflight.Group
	active sync.Map // scanID -> time.Time the current run started
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator. A nil Continuer schedules
// continuations on the ScanRun row for the Worker to claim.
func NewOrchestrator(st store.Store, f SourceFetcher, a Analyzer, cont Continuer, opts Options) *Orchestrator {
	if opts.Budget <= 0 {
		opts.Budget = 75 * time.Second
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if cont == nil {
		cont = NewScheduleContinuer(st)
	}
	return &Orchestrator{
		store:    st,
		fetcher:  f,
		analyzer: a,
		cont:     cont,
		opts:     opts,
		now:      time.Now,
	}
}

// StartScan records a new running scan, launches its first invocation in the
// background and returns the scan id without waiting.
func (o *Orchestrator) StartScan(ctx context.Context) (string, error) {
	scan, err := o.store.CreateScan(ctx)
	if err != nil {
		return "", eris.Wrap(err, "scan: start")
	}
	zap.L().Info("scan: started", zap.String("scan_id", scan.ID))
	o.detach(scan.ID, false)
	return scan.ID, nil
}

// Resume launches another invocation of an existing scan in the background.
// A terminal scan is returned as-is and nothing is launched.
func (o *Orchestrator) Resume(ctx context.Context, scanID string, skipFetch bool) (*model.ScanRun, error) {
	scan, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, eris.Wrap(err, "scan: resume")
	}
	if scan.Status.Terminal() {
		return scan, nil
	}
	o.detach(scanID, skipFetch)
	return scan, nil
}

// Running reports whether an invocation of scanID is in flight in this
// process.
func (o *Orchestrator) Running(scanID string) bool {
	_, ok := o.active.Load(scanID)
	return ok
}

// Wait blocks until every detached invocation has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) detach(scanID string, skipFetch bool) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.RunWork(o.opts.BaseContext, scanID, skipFetch); err != nil {
			zap.L().Error("scan: background run failed", zap.String("scan_id", scanID), zap.Error(err))
		}
	}()
}

// RunWork performs one invocation of a scan: optionally fetch, then analyze
// batches until the queue drains (scan completed) or the invocation budget
// is spent (continuation arranged). Concurrent calls for the same scan join
// the invocation already in flight. The continuation is handed off only
// after the invocation has left the in-flight set, so a continuation that
// lands back in this process starts a fresh invocation instead of joining
// the finished one.
func (o *Orchestrator) RunWork(ctx context.Context, scanID string, skipFetch bool) error {
	var next bool
	_, err, shared := o.group.Do(scanID, func() (any, error) {
		o.active.Store(scanID, o.now())
		defer o.active.Delete(scanID)
		var err error
		next, err = o.runWork(ctx, scanID, skipFetch)
		return nil, err
	})
	if shared {
		zap.L().Debug("scan: joined in-flight invocation", zap.String("scan_id", scanID))
	}
	if err != nil || !next {
		return err
	}
	if err := o.cont.Continue(context.WithoutCancel(ctx), scanID); err != nil {
		return o.stopOn(err, "scan: schedule continuation")
	}
	return nil
}

// runWork reports whether the scan needs another invocation.
func (o *Orchestrator) runWork(ctx context.Context, scanID string, skipFetch bool) (bool, error) {
	log := zap.L().With(zap.String("component", "scan"), zap.String("scan_id", scanID))
	started := o.now()

	scan, err := o.store.GetScan(ctx, scanID)
	if err != nil {
		return false, eris.Wrap(err, "scan: load")
	}
	if scan.Status.Terminal() {
		log.Info("scan: already terminal, nothing to do", zap.String("status", string(scan.Status)))
		return false, nil
	}
	if err := o.store.StartInvocation(ctx, scanID); err != nil {
		if errors.Is(err, store.ErrScanNotRunning) {
			return false, nil
		}
		return false, eris.Wrap(err, "scan: start invocation")
	}

	if !skipFetch && o.fetcher != nil {
		res, err := o.fetcher.FetchSourceItems(ctx)
		if err != nil {
			return false, o.fail(ctx, scanID, eris.Wrap(err, "scan: fetch"))
		}
		if err := o.store.SetScanFetched(ctx, scanID, res.NewItemsSaved); err != nil {
			return false, o.stopOn(err, "scan: record fetch")
		}
		log.Info("scan: fetched", zap.Int("new_items", res.NewItemsSaved), zap.Int("api_requests", res.APIRequests))
	}

	batches := 0
	for {
		res, err := o.analyzer.AnalyzeBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, o.pause(ctx, scanID, log)
			}
			return false, o.fail(ctx, scanID, eris.Wrap(err, "scan: analyze"))
		}
		batches++

		if res.ProcessedCount == 0 {
			if err := o.store.CompleteScan(ctx, scanID); err != nil {
				return false, o.stopOn(err, "scan: complete")
			}
			log.Info("scan: completed", zap.Int("batches", batches))
			return false, nil
		}

		if err := o.store.CheckpointScan(ctx, scanID, res.ProcessedCount, res.CreatedCount); err != nil {
			return false, o.stopOn(err, "scan: checkpoint")
		}
		log.Info("scan: batch checkpointed",
			zap.Int("batch", batches),
			zap.Int("items_processed", res.ProcessedCount),
			zap.Int("signals_created", res.CreatedCount),
		)

		elapsed := o.now().Sub(started)
		if elapsed > o.opts.Budget || (o.opts.MaxBatchesPerTick > 0 && batches >= o.opts.MaxBatchesPerTick) {
			log.Info("scan: invocation budget spent, continuing later",
				zap.Duration("elapsed", elapsed),
				zap.Int("batches", batches),
			)
			return true, nil
		}

		if o.opts.BatchPause > 0 {
			timer := time.NewTimer(o.opts.BatchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, o.pause(ctx, scanID, log)
			case <-timer.C:
			}
		}
	}
}

// pause leaves an interrupted scan running with a continuation due now.
func (o *Orchestrator) pause(ctx context.Context, scanID string, log *zap.Logger) error {
	wctx := context.WithoutCancel(ctx)
	if err := o.store.ScheduleContinuation(wctx, scanID, o.now()); err != nil {
		return o.stopOn(err, "scan: schedule continuation on shutdown")
	}
	log.Info("scan: interrupted, continuation scheduled")
	return nil
}

// fail marks the scan failed with cause and returns cause.
func (o *Orchestrator) fail(ctx context.Context, scanID string, cause error) error {
	wctx := context.WithoutCancel(ctx)
	if err := o.store.FailScan(wctx, scanID, cause.Error()); err != nil && !errors.Is(err, store.ErrScanNotRunning) {
		zap.L().Error("scan: record failure", zap.String("scan_id", scanID), zap.Error(err))
	}
	zap.L().Error("scan: failed", zap.String("scan_id", scanID), zap.Error(cause))
	return cause
}

// stopOn ends the invocation quietly when another writer already made the
// scan terminal.
func (o *Orchestrator) stopOn(err error, action string) error {
	if errors.Is(err, store.ErrScanNotRunning) {
		return nil
	}
	return eris.Wrap(err, action)
}
