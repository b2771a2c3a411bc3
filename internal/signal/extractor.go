// Package signal extracts scored business signals from staged source items
// with one LLM call per batch.
package signal

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/anthropic"
)

// Options configures an Extractor.
type Options struct {
	Model        string
	MaxTokens    int64
	BatchSize    int
	MaxBodyChars int
	MinScore     int
	Rubric       *Rubric
}

// BatchResult reports one AnalyzeBatch call.
type BatchResult struct {
	ProcessedCount int `json:"items_processed"`
	CreatedCount   int `json:"signals_created"`
	SkippedCount   int `json:"signals_skipped"`
}

// Extractor turns unprocessed source items into signals.
type Extractor struct {
	store store.Store
	ai    anthropic.Client
	opts  Options
}

// NewExtractor creates an Extractor. Zero options take defaults.
func NewExtractor(st store.Store, ai anthropic.Client, opts Options) *Extractor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 30
	}
	if opts.MaxBodyChars <= 0 {
		opts.MaxBodyChars = 1500
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.MinScore < model.MinSignalScore {
		opts.MinScore = model.MinSignalScore
	}
	if opts.Rubric == nil {
		opts.Rubric = DefaultRubric()
	}
	return &Extractor{store: st, ai: ai, opts: opts}
}

// BatchSize returns the configured batch size.
func (e *Extractor) BatchSize() int {
	return e.opts.BatchSize
}

// AnalyzeBatch pulls up to BatchSize unprocessed items (newest first), asks
// the model for signals in one call, stores new signals through the dedup
// gate and marks every item of the batch processed. A model or parse failure
// returns an error and leaves the items unprocessed.
func (e *Extractor) AnalyzeBatch(ctx context.Context) (*BatchResult, error) {
	items, err := e.store.ListUnprocessedItems(ctx, e.opts.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "signal: load batch")
	}
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	log := zap.L().With(zap.String("component", "signal_extractor"), zap.Int("batch", len(items)))

	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: e.buildPrompt(items)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "signal: analyze batch")
	}
	resp.Usage.LogCost(e.opts.Model, "signal_extract")

	parsed, err := parseExtraction(resp.Text())
	if err != nil {
		log.Error("signal: unparseable model response", zap.String("stop_reason", resp.StopReason), zap.Error(err))
		return nil, err
	}

	result := &BatchResult{ProcessedCount: len(items)}
	for _, raw := range parsed.Signals {
		sig, ok := e.normalize(raw, items)
		if !ok {
			result.SkippedCount++
			continue
		}

		exists, err := e.store.SignalExists(ctx, sig.CompanyName, sig.SourceURL, sig.Source)
		if err != nil {
			return nil, eris.Wrap(err, "signal: dedup check")
		}
		if exists {
			result.SkippedCount++
			continue
		}
		created, err := e.store.InsertSignal(ctx, sig)
		if err != nil {
			return nil, eris.Wrap(err, "signal: insert")
		}
		if created {
			result.CreatedCount++
		} else {
			result.SkippedCount++
		}
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := e.store.MarkItemsProcessed(ctx, ids); err != nil {
		return nil, eris.Wrap(err, "signal: mark processed")
	}

	log.Info("signal: batch analyzed",
		zap.Int("signals_returned", len(parsed.Signals)),
		zap.Int("signals_created", result.CreatedCount),
		zap.Int("signals_skipped", result.SkippedCount),
	)
	return result, nil
}

// normalize validates one model entry and attributes it to its item.
func (e *Extractor) normalize(raw extractedSignal, items []model.SourceItem) (*model.Signal, bool) {
	name := strings.TrimSpace(raw.CompanyName)
	if name == "" {
		return nil, false
	}

	item := itemFor(raw, items)
	score := model.ClampScore(raw.Score)
	if score < e.opts.MinScore {
		return nil, false
	}

	sig := &model.Signal{
		CompanyName: name,
		SignalType:  model.ParseSignalType(raw.SignalType),
		Detail:      strings.TrimSpace(raw.Detail),
		Score:       score,
		SourceURL:   strings.TrimSpace(raw.SourceURL),
	}
	if item != nil {
		sig.Source = item.Source
		sig.SourceItemID = item.ID
		if sig.SourceURL == "" {
			sig.SourceURL = item.URL
		}
	} else {
		sig.Source = items[0].Source
	}
	if sig.SourceURL == "" {
		return nil, false
	}
	return sig, true
}

// itemFor resolves the item a model entry refers to, by index and then by URL.
func itemFor(raw extractedSignal, items []model.SourceItem) *model.SourceItem {
	if raw.ItemIndex != nil && *raw.ItemIndex >= 0 && *raw.ItemIndex < len(items) {
		return &items[*raw.ItemIndex]
	}
	if raw.SourceURL != "" {
		for i := range items {
			if items[i].URL == raw.SourceURL {
				return &items[i]
			}
		}
	}
	return nil
}

const systemPrompt = `You are an analyst who reads business news and extracts buying signals about specific companies.
Respond with a single JSON object and nothing else.`

func (e *Extractor) buildPrompt(items []model.SourceItem) string {
	var sb strings.Builder
	sb.WriteString(e.opts.Rubric.render())
	sb.WriteString(`
For each item below, identify companies that show one of the signal types. An item may yield zero, one
or several signals. Ignore items without a concrete named company.

Return JSON exactly in this shape:
{"signals":[{"item_index":0,"company_name":"","signal_type":"","detail":"","score":1,"source_url":""}]}

- item_index: the number of the item the signal came from
- signal_type: one of the signal types above
- detail: one sentence describing the event
- score: integer 1-5 per the scoring guide
- source_url: the item's URL

Items:
`)
	for i, it := range items {
		fmt.Fprintf(&sb, "\n[%d] %s\nURL: %s\n", i, strings.TrimSpace(it.Title), it.URL)
		if !it.PublishedAt.IsZero() {
			fmt.Fprintf(&sb, "Published: %s\n", it.PublishedAt.Format("2006-01-02"))
		}
		if body := truncate(plainText(it.Body), e.opts.MaxBodyChars); body != "" {
			fmt.Fprintf(&sb, "%s\n", body)
		}
	}
	return sb.String()
}
