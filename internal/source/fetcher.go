// Package source pulls raw items from the content API into the staging table
// and adapts registry and engagement events into signals.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/config"
	"github.com/sells-group/signal-cli/internal/model"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/newsapi"
)

// FetchResult reports one fetch pass.
type FetchResult struct {
	NewItemsSaved int `json:"new_items_saved"`
	APIRequests   int `json:"api_requests"`
	ArticlesSeen  int `json:"articles_seen"`
}

// Fetcher pages through the content API and stages new articles.
type Fetcher struct {
	store  store.Store
	client newsapi.Client
	cfg    config.SourceConfig
	now    func() time.Time
}

// NewFetcher creates a Fetcher.
func NewFetcher(st store.Store, client newsapi.Client, cfg config.SourceConfig) *Fetcher {
	if cfg.Name == "" {
		cfg.Name = "newsapi"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.LookbackHours <= 0 {
		cfg.LookbackHours = 24
	}
	return &Fetcher{store: st, client: client, cfg: cfg, now: time.Now}
}

// FetchSourceItems requests pages for the lookback window until a short page
// or the page cap, and upserts every article as a SourceItem. Only rows that
// did not already exist are counted.
func (f *Fetcher) FetchSourceItems(ctx context.Context) (*FetchResult, error) {
	to := f.now().UTC()
	from := to.Add(-time.Duration(f.cfg.LookbackHours) * time.Hour)
	log := zap.L().With(zap.String("component", "source_fetcher"), zap.String("source", f.cfg.Name))

	result := &FetchResult{}
	for page := 1; page <= f.cfg.MaxPages; page++ {
		resp, err := f.client.Everything(ctx, newsapi.EverythingRequest{
			Query:    f.cfg.Query,
			From:     from,
			To:       to,
			Language: f.cfg.Language,
			Page:     page,
			PageSize: f.cfg.PageSize,
		})
		result.APIRequests++
		if err != nil {
			return result, eris.Wrapf(err, "source: fetch page %d", page)
		}

		items := f.toItems(resp.Articles)
		result.ArticlesSeen += len(resp.Articles)
		if len(items) > 0 {
			saved, err := f.store.InsertSourceItems(ctx, items)
			if err != nil {
				return result, eris.Wrap(err, "source: save items")
			}
			result.NewItemsSaved += saved
		}

		log.Debug("source: page fetched",
			zap.Int("page", page),
			zap.Int("articles", len(resp.Articles)),
			zap.Int("total_results", resp.TotalResults),
		)

		if len(resp.Articles) < f.cfg.PageSize {
			break
		}
	}

	log.Info("source: fetch complete",
		zap.Int("new_items_saved", result.NewItemsSaved),
		zap.Int("api_requests", result.APIRequests),
	)
	return result, nil
}

func (f *Fetcher) toItems(articles []newsapi.Article) []model.SourceItem {
	items := make([]model.SourceItem, 0, len(articles))
	for _, a := range articles {
		url := strings.TrimSpace(a.URL)
		if url == "" {
			continue
		}
		items = append(items, model.SourceItem{
			Source:      f.cfg.Name,
			Title:       strings.TrimSpace(a.Title),
			Body:        articleBody(a),
			URL:         url,
			PublishedAt: a.PublishedAt,
		})
	}
	return items
}

func articleBody(a newsapi.Article) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{a.Description, a.Content} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
