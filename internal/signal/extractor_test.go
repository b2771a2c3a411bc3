package signal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/anthropic"
	"github.com/sells-group/signal-cli/pkg/anthropic/mocks"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "signal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedItems(t *testing.T, st store.Store, n int) []model.SourceItem {
	t.Helper()
	now := time.Now().UTC()
	items := make([]model.SourceItem, n)
	for i := range items {
		items[i] = model.SourceItem{
			Source:      "newsapi",
			Title:       fmt.Sprintf("Story %d", i),
			Body:        "<p>Body</p>",
			URL:         fmt.Sprintf("https://news.example/story-%d", i),
			PublishedAt: now.Add(-time.Duration(i) * time.Minute),
		}
	}
	saved, err := st.InsertSourceItems(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, n, saved)
	return items
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func TestAnalyzeBatch_EmptyQueue(t *testing.T) {
	st := newTestStore(t)
	ai := mocks.NewMockClient(t)

	ex := NewExtractor(st, ai, Options{Model: "claude-haiku-4-5-20251001"})
	res, err := ex.AnalyzeBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ProcessedCount)
	assert.Equal(t, 0, res.CreatedCount)
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestAnalyzeBatch_CreatesSignalsAndMarksItems(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedItems(t, st, 3)

	pending, err := st.ListUnprocessedItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		prompt := req.Messages[0].Content
		return strings.Contains(prompt, "[0]") && strings.Contains(prompt, "[2]") &&
			strings.Contains(prompt, pending[0].URL) && strings.Contains(prompt, "Signal types:")
	})).Return(textResponse(`{"signals":[
		{"item_index":0,"company_name":"Acme Corp","signal_type":"Funding","detail":"Raised a Series B","score":9},
		{"item_index":1,"company_name":"  ","signal_type":"hiring","detail":"no name","score":3},
		{"item_index":2,"company_name":"Globex","signal_type":"space_travel","detail":"Something","score":0,"source_url":"https://elsewhere.example/globex"}
	]}`), nil).Once()

	ex := NewExtractor(st, ai, Options{Model: "claude-haiku-4-5-20251001", BatchSize: 10})
	res, err := ex.AnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ProcessedCount)
	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, 1, res.SkippedCount)

	remaining, err := st.CountUnprocessedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	sigs, err := st.ListSignals(ctx, store.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	byName := map[string]model.Signal{}
	for _, s := range sigs {
		byName[s.CompanyName] = s
	}
	acme := byName["Acme Corp"]
	assert.Equal(t, model.SignalTypeFunding, acme.SignalType)
	assert.Equal(t, 5, acme.Score)
	assert.Equal(t, pending[0].URL, acme.SourceURL)
	assert.Equal(t, "newsapi", acme.Source)
	assert.Equal(t, model.EnrichmentNone, acme.EnrichmentStatus)

	globex := byName["Globex"]
	assert.Equal(t, model.SignalTypeOther, globex.SignalType)
	assert.Equal(t, 1, globex.Score)
	assert.Equal(t, "https://elsewhere.example/globex", globex.SourceURL)
}

func TestAnalyzeBatch_DedupAcrossBatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	items := seedItems(t, st, 2)

	same := `{"signals":[{"item_index":0,"company_name":"Acme","signal_type":"expansion","detail":"x","score":4,"source_url":"` + items[0].URL + `"}]}`

	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(same), nil).Twice()

	ex := NewExtractor(st, ai, Options{BatchSize: 1})
	first, err := ex.AnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.CreatedCount)

	second, err := ex.AnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ProcessedCount)
	assert.Equal(t, 0, second.CreatedCount)

	sigs, err := st.ListSignals(ctx, store.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestAnalyzeBatch_FencedAndWrappedResponses(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"fenced", "```json\n{\"signals\":[{\"item_index\":0,\"company_name\":\"Initech\",\"signal_type\":\"hiring\",\"detail\":\"d\",\"score\":3}]}\n```"},
		{"prose", "Here you go:\n{\"signals\":[{\"item_index\":0,\"company_name\":\"Initech\",\"signal_type\":\"hiring\",\"detail\":\"d\",\"score\":3}]}\nThanks!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			seedItems(t, st, 1)

			ai := mocks.NewMockClient(t)
			ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(tt.text), nil).Once()

			res, err := NewExtractor(st, ai, Options{}).AnalyzeBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.CreatedCount)
		})
	}
}

func TestAnalyzeBatch_UnparseableLeavesItemsUnprocessed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedItems(t, st, 2)

	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I could not find anything."), nil).Once()

	_, err := NewExtractor(st, ai, Options{}).AnalyzeBatch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal: parse model response")

	remaining, err := st.CountUnprocessedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestAnalyzeBatch_TruncatedResponseLeavesItemsUnprocessed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedItems(t, st, 3)

	truncated := `{"signals":[{"item_index":0,"company_name":"Acme","signal_type":"funding","detail":"d","score":4},{"item_index":1,"company_name":"Glo`
	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(truncated), nil).Once()

	res, err := NewExtractor(st, ai, Options{}).AnalyzeBatch(ctx)
	require.Error(t, err)
	assert.Nil(t, res)

	remaining, err := st.CountUnprocessedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	sigs, err := st.ListSignals(ctx, store.SignalFilter{})
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestAnalyzeBatch_ModelErrorLeavesItemsUnprocessed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)

	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("boom")).Once()

	_, err := NewExtractor(st, ai, Options{}).AnalyzeBatch(ctx)
	require.Error(t, err)

	remaining, err := st.CountUnprocessedItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestAnalyzeBatch_MinScoreFilter(t *testing.T) {
	st := newTestStore(t)
	seedItems(t, st, 1)

	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"signals":[
		{"item_index":0,"company_name":"Low","signal_type":"other","detail":"d","score":2},
		{"item_index":0,"company_name":"High","signal_type":"funding","detail":"d","score":4}
	]}`), nil).Once()

	res, err := NewExtractor(st, ai, Options{MinScore: 3}).AnalyzeBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedCount)
	assert.Equal(t, 1, res.SkippedCount)
}

func TestItemFor(t *testing.T) {
	items := []model.SourceItem{{ID: "a", URL: "https://x/a"}, {ID: "b", URL: "https://x/b"}}
	idx := func(i int) *int { return &i }

	assert.Equal(t, "b", itemFor(extractedSignal{ItemIndex: idx(1)}, items).ID)
	assert.Equal(t, "a", itemFor(extractedSignal{ItemIndex: idx(7), SourceURL: "https://x/a"}, items).ID)
	assert.Nil(t, itemFor(extractedSignal{ItemIndex: idx(-1)}, items))
	assert.Nil(t, itemFor(extractedSignal{SourceURL: "https://other"}, items))
}
