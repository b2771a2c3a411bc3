package scan

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/signal"
	"github.com/sells-group/signal-cli/internal/source"
	"github.com/sells-group/signal-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// scriptedAnalyzer returns its batches in order, then empty batches.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	batches []signal.BatchResult
	err     error
	calls   int
	before  func(call int)
}

func (a *scriptedAnalyzer) AnalyzeBatch(ctx context.Context) (*signal.BatchResult, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	if a.before != nil {
		a.before(call)
	}
	if a.err != nil {
		return nil, a.err
	}
	if call <= len(a.batches) {
		res := a.batches[call-1]
		return &res, nil
	}
	return &signal.BatchResult{}, nil
}

func (a *scriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubFetcher struct {
	res   *source.FetchResult
	err   error
	calls int
}

func (f *stubFetcher) FetchSourceItems(context.Context) (*source.FetchResult, error) {
	f.calls++
	return f.res, f.err
}

func getScan(t *testing.T, st store.Store, id string) *model.ScanRun {
	t.Helper()
	run, err := st.GetScan(context.Background(), id)
	require.NoError(t, err)
	return run
}

func TestRunWork_DrainsToCompletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	fetcher := &stubFetcher{res: &source.FetchResult{NewItemsSaved: 45, APIRequests: 1}}
	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{
		{ProcessedCount: 30, CreatedCount: 4},
		{ProcessedCount: 15, CreatedCount: 2},
	}}
	o := NewOrchestrator(st, fetcher, analyzer, nil, Options{Budget: time.Minute})

	require.NoError(t, o.RunWork(ctx, scan.ID, false))

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusCompleted, run.Status)
	assert.Equal(t, 45, run.ItemsFetched)
	assert.Equal(t, 45, run.ItemsAnalyzed)
	assert.Equal(t, 6, run.SignalsCreated)
	assert.Equal(t, 1, run.Invocations)
	assert.NotNil(t, run.CompletedAt)
	assert.Nil(t, run.NextRunAt)
	assert.Equal(t, 3, analyzer.Calls())
	assert.Equal(t, 1, fetcher.calls)
}

func TestRunWork_TerminalScanIsNoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CompleteScan(ctx, scan.ID))
	before := getScan(t, st, scan.ID)

	analyzer := &scriptedAnalyzer{}
	fetcher := &stubFetcher{res: &source.FetchResult{}}
	o := NewOrchestrator(st, fetcher, analyzer, nil, Options{})

	require.NoError(t, o.RunWork(ctx, scan.ID, false))
	require.NoError(t, o.RunWork(ctx, scan.ID, true))

	after := getScan(t, st, scan.ID)
	assert.Equal(t, 0, analyzer.Calls())
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, before.Invocations, after.Invocations)
	assert.Equal(t, model.ScanStatusCompleted, after.Status)
}

func TestRunWork_FetchFailureFailsScan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	analyzer := &scriptedAnalyzer{}
	o := NewOrchestrator(st, &stubFetcher{err: eris.New("content api down")}, analyzer, nil, Options{})

	err = o.RunWork(ctx, scan.ID, false)
	require.Error(t, err)

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "content api down")
	assert.Equal(t, 0, analyzer.Calls())
}

func TestRunWork_SkipFetch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	fetcher := &stubFetcher{res: &source.FetchResult{}}
	o := NewOrchestrator(st, fetcher, &scriptedAnalyzer{}, nil, Options{})
	require.NoError(t, o.RunWork(ctx, scan.ID, true))
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, model.ScanStatusCompleted, getScan(t, st, scan.ID).Status)
}

func TestRunWork_AnalyzeErrorKeepsCheckpoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{{ProcessedCount: 30, CreatedCount: 1}}}
	analyzer.before = func(call int) {
		if call == 2 {
			analyzer.err = eris.New("signal: parse model response")
		}
	}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{Budget: time.Minute})

	require.Error(t, o.RunWork(ctx, scan.ID, true))

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusFailed, run.Status)
	assert.Equal(t, 30, run.ItemsAnalyzed)
	assert.Contains(t, run.ErrorMessage, "parse model response")
}

func TestRunWork_MaxBatchesSchedulesContinuation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{
		{ProcessedCount: 30}, {ProcessedCount: 30}, {ProcessedCount: 5},
	}}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{Budget: time.Minute, MaxBatchesPerTick: 2})

	require.NoError(t, o.RunWork(ctx, scan.ID, true))
	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusRunning, run.Status)
	assert.Equal(t, 60, run.ItemsAnalyzed)
	assert.NotNil(t, run.NextRunAt)
	assert.Equal(t, 2, analyzer.Calls())
}

func TestRunWork_BudgetSchedulesContinuation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{{ProcessedCount: 30}, {ProcessedCount: 30}}}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{Budget: time.Second})
	clock := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	o.now = func() time.Time {
		clock = clock.Add(2 * time.Second)
		return clock
	}

	require.NoError(t, o.RunWork(ctx, scan.ID, true))
	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusRunning, run.Status)
	assert.Equal(t, 30, run.ItemsAnalyzed)
	assert.NotNil(t, run.NextRunAt)
	assert.Equal(t, 1, analyzer.Calls())
}

// slowFetcher advances a fake clock while fetching.
type slowFetcher struct {
	advance func()
}

func (f *slowFetcher) FetchSourceItems(context.Context) (*source.FetchResult, error) {
	f.advance()
	return &source.FetchResult{NewItemsSaved: 90, APIRequests: 5}, nil
}

func TestRunWork_FetchTimeCountsAgainstBudget(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	clock := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &slowFetcher{advance: func() { clock = clock.Add(100 * time.Second) }}
	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{
		{ProcessedCount: 30}, {ProcessedCount: 30}, {ProcessedCount: 30},
	}}
	o := NewOrchestrator(st, fetcher, analyzer, nil, Options{Budget: 75 * time.Second})
	o.now = func() time.Time { return clock }

	require.NoError(t, o.RunWork(ctx, scan.ID, false))

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusRunning, run.Status)
	assert.Equal(t, 90, run.ItemsFetched)
	assert.Equal(t, 30, run.ItemsAnalyzed)
	assert.NotNil(t, run.NextRunAt)
	assert.Equal(t, 1, analyzer.Calls())
}

func TestRunWork_CancelDuringPauseLeavesScanRunning(t *testing.T) {
	st := newTestStore(t)
	scan, err := st.CreateScan(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{{ProcessedCount: 30}, {ProcessedCount: 30}}}
	analyzer.before = func(call int) {
		if call == 1 {
			time.AfterFunc(100*time.Millisecond, cancel)
		}
	}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{Budget: time.Minute, BatchPause: time.Hour})

	require.NoError(t, o.RunWork(ctx, scan.ID, true))

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusRunning, run.Status)
	assert.Equal(t, 30, run.ItemsAnalyzed)
	assert.NotNil(t, run.NextRunAt)
}

func TestRunWork_ConcurrentCallsJoin(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	scan, err := st.CreateScan(ctx)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	analyzer := &scriptedAnalyzer{}
	analyzer.before = func(call int) {
		if call == 1 {
			close(entered)
			<-release
		}
	}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = o.RunWork(ctx, scan.ID, true)
	}()
	<-entered
	assert.True(t, o.Running(scan.ID))

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = o.RunWork(ctx, scan.ID, true)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, analyzer.Calls())
	assert.False(t, o.Running(scan.ID))

	run := getScan(t, st, scan.ID)
	assert.Equal(t, model.ScanStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Invocations)
}

func TestStartScan_RunsDetached(t *testing.T) {
	st := newTestStore(t)
	analyzer := &scriptedAnalyzer{batches: []signal.BatchResult{{ProcessedCount: 3, CreatedCount: 1}}}
	fetcher := &stubFetcher{res: &source.FetchResult{NewItemsSaved: 3}}

	reqCtx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(st, fetcher, analyzer, nil, Options{})
	id, err := o.StartScan(reqCtx)
	require.NoError(t, err)
	cancel() // the request ending must not stop the scan
	o.Wait()

	run := getScan(t, st, id)
	assert.Equal(t, model.ScanStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ItemsFetched)
	assert.Equal(t, 3, run.ItemsAnalyzed)
}

func TestResume(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	done, err := st.CreateScan(ctx)
	require.NoError(t, err)
	require.NoError(t, st.FailScan(ctx, done.ID, "boom"))

	analyzer := &scriptedAnalyzer{}
	o := NewOrchestrator(st, nil, analyzer, nil, Options{})

	run, err := o.Resume(ctx, done.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ScanStatusFailed, run.Status)
	o.Wait()
	assert.Equal(t, 0, analyzer.Calls())

	open, err := st.CreateScan(ctx)
	require.NoError(t, err)
	_, err = o.Resume(ctx, open.ID, true)
	require.NoError(t, err)
	o.Wait()
	assert.Equal(t, model.ScanStatusCompleted, getScan(t, st, open.ID).Status)

	_, err = o.Resume(ctx, "missing", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
