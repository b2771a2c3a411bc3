package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/resilience"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/agent"
	"github.com/sells-group/signal-cli/pkg/agent/mocks"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedSignal(t *testing.T, st store.Store, company string) *model.Signal {
	t.Helper()
	sig := &model.Signal{
		CompanyName: company,
		SignalType:  model.SignalTypeFunding,
		Detail:      "Raised a Series A",
		Score:       4,
		SourceURL:   "https://news.example/" + company,
		Source:      "newsapi",
	}
	created, err := st.InsertSignal(context.Background(), sig)
	require.NoError(t, err)
	require.True(t, created)
	return sig
}

func TestLaunch_CreatesTask(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Acme")

	ac := mocks.NewMockClient(t)
	ac.On("CreateTask", mock.Anything, mock.MatchedBy(func(r agent.CreateTaskRequest) bool {
		return assert.Contains(t, r.Prompt, `"Acme"`)
	})).Return(&agent.CreateTaskResponse{ID: "t-1", URL: "https://agent.example/t-1"}, nil).Once()

	l := NewLauncher(st, ac)
	res, err := l.Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.TaskID)
	assert.Equal(t, "https://agent.example/t-1", res.TaskURL)
	assert.False(t, res.Fallback)
	assert.Equal(t, model.EnrichmentProcessing, res.Status)

	task, err := st.GetOpenTask(ctx, sig.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t-1", task.ExternalTaskID)

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentProcessing, got.EnrichmentStatus)

	// A second launch returns the open task without calling the provider.
	again, err := l.Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, "t-1", again.TaskID)
}

func TestLaunch_ProviderFailureFallsBack(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Globex")

	ac := mocks.NewMockClient(t)
	ac.On("CreateTask", mock.Anything, mock.Anything).
		Return(nil, resilience.ClassifyHTTP("agent", 500, &agent.APIError{StatusCode: 500, Body: "oops"})).Once()

	res, err := NewLauncher(st, ac).Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, res.ContactsCreated)
	assert.Equal(t, model.EnrichmentCompleted, res.Status)

	contacts, err := st.ListContacts(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "info@globex.com", contacts[0].Email)
	assert.Equal(t, model.ContactSourceFallback, contacts[0].Source)

	open, err := st.GetOpenTask(ctx, sig.ID)
	require.NoError(t, err)
	assert.Nil(t, open, "owner must not be left with a processing task")

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.EnrichmentStatus)
}

func TestLaunch_QuotaErrorSurfacesWithFallback(t *testing.T) {
	st := newTestStore(t)
	sig := seedSignal(t, st, "Initech")

	ac := mocks.NewMockClient(t)
	ac.On("CreateTask", mock.Anything, mock.Anything).
		Return(nil, resilience.ClassifyHTTP("agent", 402, &agent.APIError{StatusCode: 402, Body: "pay up"})).Once()

	res, err := NewLauncher(st, ac).Launch(context.Background(), sig.ID)
	require.Error(t, err)
	qe, ok := resilience.AsQuota(err)
	require.True(t, ok)
	assert.Equal(t, resilience.QuotaBillingRequired, qe.Kind)
	require.NotNil(t, res)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, res.ContactsCreated)
}

func TestLaunch_NoAgentConfigured(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Hooli")

	res, err := NewLauncher(st, nil).Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Contains(t, res.Message, "not configured")

	// A repeat fallback does not add a second contact.
	res, err = NewLauncher(st, nil).Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ContactsCreated)
	assert.Equal(t, model.EnrichmentCompleted, res.Status)

	n, err := st.CountContacts(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLaunch_NoDomainMarksFailed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "!!!")

	ac := mocks.NewMockClient(t)
	ac.On("CreateTask", mock.Anything, mock.Anything).Return(nil, eris.New("dial tcp: refused")).Once()

	res, err := NewLauncher(st, ac).Launch(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ContactsCreated)
	assert.Equal(t, model.EnrichmentFailed, res.Status)

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentFailed, got.EnrichmentStatus)
}

func TestLaunch_UnknownOwner(t *testing.T) {
	st := newTestStore(t)
	_, err := NewLauncher(st, nil).Launch(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
