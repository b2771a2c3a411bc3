package enrich

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/agent"
	"github.com/sells-group/signal-cli/pkg/agent/mocks"
)

func launchTask(t *testing.T, st store.Store, ac *mocks.MockClient, sig *model.Signal, taskID string) {
	t.Helper()
	ac.On("CreateTask", mock.Anything, mock.Anything).
		Return(&agent.CreateTaskResponse{ID: taskID}, nil).Once()
	_, err := NewLauncher(st, ac).Launch(context.Background(), sig.ID)
	require.NoError(t, err)
}

const completedOutput = `{
	"contacts": [
		{"full_name": "jane roe", "job_title": "Executive Assistant", "email": "jane@acme.com"},
		{"name": "Sam Poe", "title": "CTO", "linkedin": "https://linkedin.example/in/sam"}
	],
	"company_info": {"website": "https://acme.com", "industry": "Widgets"},
	"search_method": "company website team page"
}`

// A task polled while running stays processing; the next poll after the
// provider finishes stores contacts and company info exactly once.
func TestReconciler_RunningThenCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Acme")

	ac := mocks.NewMockClient(t)
	launchTask(t, st, ac, sig, "t-1")

	ac.On("GetTask", mock.Anything, "t-1").
		Return(&agent.TaskResponse{ID: "t-1", Status: "Started"}, nil).Once()
	ac.On("GetTask", mock.Anything, "t-1").
		Return(&agent.TaskResponse{ID: "t-1", Status: "FINISHED", Output: json.RawMessage(completedOutput)}, nil).Once()

	r := NewReconciler(st, ac, nil, ReconcilerOptions{})

	first, err := r.Check(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "processing", first.Status)
	assert.Equal(t, "Started", first.ProviderStatus)

	task, err := st.GetOpenTask(ctx, sig.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "Started", task.ProviderStatus)

	second, err := r.Check(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", second.Status)
	assert.Equal(t, 2, second.ContactsFound)

	contacts, err := st.ListContacts(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Jane Roe", contacts[0].FullName)
	assert.Equal(t, 100, contacts[0].PriorityScore)
	assert.Equal(t, "Sam Poe", contacts[1].FullName)
	assert.Equal(t, "https://linkedin.example/in/sam", contacts[1].LinkedInURL)

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.EnrichmentStatus)
	assert.JSONEq(t, `{"website":"https://acme.com","industry":"Widgets"}`, string(got.CompanyInfo))

	open, err := st.GetOpenTask(ctx, sig.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	// With the task closed a further check reports state without polling.
	third, err := r.Check(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", third.Status)
	assert.Equal(t, 2, third.ContactsFound)
}

func TestReconciler_ContactsInsertedOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Acme")

	ac := mocks.NewMockClient(t)
	launchTask(t, st, ac, sig, "t-1")
	ac.On("GetTask", mock.Anything, "t-1").
		Return(&agent.TaskResponse{Status: "done", Output: json.RawMessage(completedOutput)}, nil).Once()
	r := NewReconciler(st, ac, nil, ReconcilerOptions{})
	_, err := r.Check(ctx, sig.ID)
	require.NoError(t, err)

	// Relaunch and complete again: the existing contacts guard skips insert.
	launchTask(t, st, ac, sig, "t-2")
	ac.On("GetTask", mock.Anything, "t-2").
		Return(&agent.TaskResponse{Status: "done", Output: json.RawMessage(`[{"full_name":"Someone New"}]`)}, nil).Once()
	res, err := r.Check(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ContactsFound)

	n, err := st.CountContacts(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconciler_ProviderFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Acme")

	ac := mocks.NewMockClient(t)
	launchTask(t, st, ac, sig, "t-1")
	ac.On("GetTask", mock.Anything, "t-1").
		Return(&agent.TaskResponse{Status: "Cancelled", Error: "user stopped"}, nil).Once()

	res, err := NewReconciler(st, ac, nil, ReconcilerOptions{}).Check(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, "user stopped", res.Message)

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentFailed, got.EnrichmentStatus)
}

func TestReconciler_PollErrorLeavesTaskOpen(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sig := seedSignal(t, st, "Acme")

	ac := mocks.NewMockClient(t)
	launchTask(t, st, ac, sig, "t-1")
	ac.On("GetTask", mock.Anything, "t-1").Return(nil, eris.New("timeout")).Once()

	_, err := NewReconciler(st, ac, nil, ReconcilerOptions{}).Check(ctx, sig.ID)
	require.Error(t, err)

	open, err := st.GetOpenTask(ctx, sig.ID)
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestReconciler_CheckAllIsolatesOwners(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := seedSignal(t, st, "Acme")
	b := seedSignal(t, st, "Globex")
	c := seedSignal(t, st, "Initech")

	ac := mocks.NewMockClient(t)
	launchTask(t, st, ac, a, "t-a")
	launchTask(t, st, ac, b, "t-b")
	launchTask(t, st, ac, c, "t-c")

	ac.On("GetTask", mock.Anything, "t-a").Return(nil, eris.New("boom")).Once()
	ac.On("GetTask", mock.Anything, "t-b").
		Return(&agent.TaskResponse{Status: "running"}, nil).Once()
	ac.On("GetTask", mock.Anything, "t-c").
		Return(&agent.TaskResponse{Status: "completed", Output: json.RawMessage(`"no contacts today"`)}, nil).Once()

	res, err := NewReconciler(st, ac, nil, ReconcilerOptions{}).CheckAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.StillProcessing)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.Results, 3)

	got, err := st.GetSignal(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentCompleted, got.EnrichmentStatus)
}

func TestReconciler_RunDisabled(t *testing.T) {
	r := NewReconciler(newTestStore(t), nil, nil, ReconcilerOptions{})
	assert.NoError(t, r.Run(context.Background(), 0))
}
