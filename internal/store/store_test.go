package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SourceItemsUpsertCountsOnlyNew", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		items := []model.SourceItem{
			{Source: "newsapi", Title: "A", URL: "https://n.example/a", PublishedAt: time.Now().Add(-2 * time.Hour)},
			{Source: "newsapi", Title: "B", URL: "https://n.example/b", PublishedAt: time.Now().Add(-1 * time.Hour)},
		}
		n, err := s.InsertSourceItems(ctx, items)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		more := []model.SourceItem{
			{Source: "newsapi", Title: "A again", URL: "https://n.example/a"},
			{Source: "newsapi", Title: "C", URL: "https://n.example/c"},
		}
		n, err = s.InsertSourceItems(ctx, more)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, err := s.CountUnprocessedItems(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("UnprocessedNewestFirstAndMark", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		_, err := s.InsertSourceItems(ctx, []model.SourceItem{
			{Source: "newsapi", Title: "old", URL: "https://n.example/old", PublishedAt: now.Add(-3 * time.Hour)},
			{Source: "newsapi", Title: "new", URL: "https://n.example/new", PublishedAt: now.Add(-1 * time.Hour)},
			{Source: "newsapi", Title: "mid", URL: "https://n.example/mid", PublishedAt: now.Add(-2 * time.Hour)},
		})
		require.NoError(t, err)

		items, err := s.ListUnprocessedItems(ctx, 2)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "new", items[0].Title)
		assert.Equal(t, "mid", items[1].Title)
		assert.False(t, items[0].Processed)

		require.NoError(t, s.MarkItemsProcessed(ctx, []string{items[0].ID, items[1].ID}))
		require.NoError(t, s.MarkItemsProcessed(ctx, nil))

		rest, err := s.ListUnprocessedItems(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "old", rest[0].Title)
	})

	t.Run("SignalDedup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sig := &model.Signal{
			CompanyName: "Acme Corp",
			SignalType:  model.SignalTypeFunding,
			Detail:      "Raised $10M",
			Score:       9,
			SourceURL:   "https://n.example/acme",
			Source:      "newsapi",
		}
		created, err := s.InsertSignal(ctx, sig)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, sig.ID)
		assert.Equal(t, 5, sig.Score)

		exists, err := s.SignalExists(ctx, "Acme Corp", "https://n.example/acme", "newsapi")
		require.NoError(t, err)
		assert.True(t, exists)

		dup := &model.Signal{CompanyName: "Acme Corp", SourceURL: "https://n.example/acme", Source: "newsapi", Score: 3}
		created, err = s.InsertSignal(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SignalTypeFunding, got.SignalType)
		assert.Equal(t, model.SignalStatusNew, got.Status)
		assert.Equal(t, model.EnrichmentNone, got.EnrichmentStatus)

		all, err := s.ListSignals(ctx, SignalFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("GetSignalNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSignal(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListSignalsFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i, name := range []string{"A Co", "B Co", "C Co"} {
			_, err := s.InsertSignal(ctx, &model.Signal{
				CompanyName: name, SignalType: model.SignalTypeHiring, Score: i + 2,
				SourceURL: "https://n.example/" + name, Source: "newsapi",
			})
			require.NoError(t, err)
		}
		all, err := s.ListSignals(ctx, SignalFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.NoError(t, s.UpdateSignalEnrichment(ctx, all[0].ID, model.EnrichmentProcessing, nil))

		processing, err := s.ListSignals(ctx, SignalFilter{EnrichmentStatus: model.EnrichmentProcessing})
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, all[0].ID, processing[0].ID)

		high, err := s.ListSignals(ctx, SignalFilter{MinScore: 4})
		require.NoError(t, err)
		assert.Len(t, high, 1)

		limited, err := s.ListSignals(ctx, SignalFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("UpdateSignalEnrichmentKeepsCompanyInfo", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sig := &model.Signal{CompanyName: "Acme", SourceURL: "u", Source: "newsapi", Score: 3}
		_, err := s.InsertSignal(ctx, sig)
		require.NoError(t, err)

		require.NoError(t, s.UpdateSignalEnrichment(ctx, sig.ID, model.EnrichmentCompleted, json.RawMessage(`{"industry":"saas"}`)))
		require.NoError(t, s.UpdateSignalEnrichment(ctx, sig.ID, model.EnrichmentCompleted, nil))

		got, err := s.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EnrichmentCompleted, got.EnrichmentStatus)
		assert.JSONEq(t, `{"industry":"saas"}`, string(got.CompanyInfo))

		err = s.UpdateSignalEnrichment(ctx, "missing", model.EnrichmentFailed, nil)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ScanLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateScan(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusRunning, run.Status)

		require.NoError(t, s.StartInvocation(ctx, run.ID))
		require.NoError(t, s.SetScanFetched(ctx, run.ID, 45))
		require.NoError(t, s.CheckpointScan(ctx, run.ID, 30, 4))
		require.NoError(t, s.CheckpointScan(ctx, run.ID, 15, 2))

		got, err := s.GetScan(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 45, got.ItemsFetched)
		assert.Equal(t, 45, got.ItemsAnalyzed)
		assert.Equal(t, 6, got.SignalsCreated)
		assert.Equal(t, 1, got.Invocations)
		assert.Nil(t, got.CompletedAt)

		require.NoError(t, s.CompleteScan(ctx, run.ID))
		got, err = s.GetScan(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("TerminalScanIsNeverWritten", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateScan(ctx)
		require.NoError(t, err)
		require.NoError(t, s.FailScan(ctx, run.ID, "boom"))

		require.ErrorIs(t, s.CheckpointScan(ctx, run.ID, 1, 1), ErrScanNotRunning)
		require.ErrorIs(t, s.CompleteScan(ctx, run.ID), ErrScanNotRunning)
		require.ErrorIs(t, s.FailScan(ctx, run.ID, "again"), ErrScanNotRunning)
		require.ErrorIs(t, s.ScheduleContinuation(ctx, run.ID, time.Now()), ErrScanNotRunning)
		require.ErrorIs(t, s.StartInvocation(ctx, run.ID), ErrScanNotRunning)

		got, err := s.GetScan(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScanStatusFailed, got.Status)
		assert.Equal(t, "boom", got.ErrorMessage)
		assert.Equal(t, 0, got.ItemsAnalyzed)
	})

	t.Run("GetScanNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetScan(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ClaimDueScansOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		due, err := s.CreateScan(ctx)
		require.NoError(t, err)
		later, err := s.CreateScan(ctx)
		require.NoError(t, err)
		idle, err := s.CreateScan(ctx)
		require.NoError(t, err)
		_ = idle

		require.NoError(t, s.ScheduleContinuation(ctx, due.ID, now.Add(-time.Second)))
		require.NoError(t, s.ScheduleContinuation(ctx, later.ID, now.Add(time.Hour)))

		ids, err := s.ClaimDueScans(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{due.ID}, ids)

		ids, err = s.ClaimDueScans(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)

		got, err := s.GetScan(ctx, due.ID)
		require.NoError(t, err)
		assert.Nil(t, got.NextRunAt)
	})

	t.Run("ClaimDueScansConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateScan(ctx)
		require.NoError(t, err)
		require.NoError(t, s.ScheduleContinuation(ctx, run.ID, time.Now().Add(-time.Second)))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids, err := s.ClaimDueScans(ctx, time.Now(), 10)
				assert.NoError(t, err)
				mu.Lock()
				claimed += len(ids)
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, claimed)
	})

	t.Run("ListStaleScans", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		stale, err := s.CreateScan(ctx)
		require.NoError(t, err)
		pending, err := s.CreateScan(ctx)
		require.NoError(t, err)
		require.NoError(t, s.ScheduleContinuation(ctx, pending.ID, time.Now().Add(time.Hour)))
		done, err := s.CreateScan(ctx)
		require.NoError(t, err)
		require.NoError(t, s.CompleteScan(ctx, done.ID))

		runs, err := s.ListStaleScans(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, stale.ID, runs[0].ID)

		runs, err = s.ListStaleScans(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("ListScans", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateScan(ctx)
		require.NoError(t, err)
		_, err = s.CreateScan(ctx)
		require.NoError(t, err)
		require.NoError(t, s.CompleteScan(ctx, a.ID))

		all, err := s.ListScans(ctx, ScanFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		completed, err := s.ListScans(ctx, ScanFilter{Status: model.ScanStatusCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, a.ID, completed[0].ID)
	})

	t.Run("TaskLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		none, err := s.GetOpenTask(ctx, "sig-1")
		require.NoError(t, err)
		assert.Nil(t, none)

		task := &model.EnrichmentTask{OwnerID: "sig-1", ExternalTaskID: "ext-1", ExternalTaskURL: "https://live/ext-1"}
		require.NoError(t, s.CreateTask(ctx, task))
		assert.Equal(t, model.TaskStatusProcessing, task.Status)

		err = s.CreateTask(ctx, &model.EnrichmentTask{OwnerID: "sig-1", ExternalTaskID: "ext-2"})
		require.ErrorIs(t, err, ErrOpenTaskExists)

		open, err := s.GetOpenTask(ctx, "sig-1")
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "ext-1", open.ExternalTaskID)

		require.NoError(t, s.UpdateTaskProviderStatus(ctx, task.ID, "running"))
		tasks, err := s.ListOpenTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "running", tasks[0].ProviderStatus)

		require.NoError(t, s.CompleteTask(ctx, task.ID, json.RawMessage(`{"size":"50"}`), json.RawMessage(`"raw"`)))
		require.ErrorIs(t, s.CompleteTask(ctx, task.ID, nil, nil), ErrNotFound)

		open, err = s.GetOpenTask(ctx, "sig-1")
		require.NoError(t, err)
		assert.Nil(t, open)

		// A new task may be opened once the previous one is terminal.
		next := &model.EnrichmentTask{OwnerID: "sig-1", ExternalTaskID: "ext-3"}
		require.NoError(t, s.CreateTask(ctx, next))
		require.NoError(t, s.FailTask(ctx, next.ID, "agent crashed"))

		tasks, err = s.ListOpenTasks(ctx)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("TerminalTaskRecordedDirectly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		task := &model.EnrichmentTask{OwnerID: "sig-9", Status: model.TaskStatusError, ErrorMessage: "no api key"}
		require.NoError(t, s.CreateTask(ctx, task))
		require.NotNil(t, task.CompletedAt)

		open, err := s.GetOpenTask(ctx, "sig-9")
		require.NoError(t, err)
		assert.Nil(t, open)
	})

	t.Run("ContactsUniquePerOwnerName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.InsertContacts(ctx, []model.Contact{
			{OwnerID: "sig-1", FullName: "Ann Lee", JobTitle: "CEO", PriorityScore: 80},
			{OwnerID: "sig-1", FullName: "Bob Ray", JobTitle: "Office Manager", PriorityScore: 90},
			{OwnerID: "sig-1", FullName: "ann lee", JobTitle: "Founder"},
			{OwnerID: "sig-2", FullName: "Ann Lee"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		count, err := s.CountContacts(ctx, "sig-1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		n, err = s.InsertContacts(ctx, []model.Contact{{OwnerID: "sig-1", FullName: "Ann Lee"}})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		contacts, err := s.ListContacts(ctx, "sig-1")
		require.NoError(t, err)
		require.Len(t, contacts, 2)
		assert.Equal(t, "Bob Ray", contacts[0].FullName)
		assert.Equal(t, model.OutreachPending, contacts[0].OutreachStatus)
		assert.Equal(t, model.ContactSourceAgent, contacts[0].Source)
	})
}
