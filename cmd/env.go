package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/config"
	"github.com/sells-group/signal-cli/internal/enrich"
	"github.com/sells-group/signal-cli/internal/fetcher"
	"github.com/sells-group/signal-cli/internal/monitoring"
	"github.com/sells-group/signal-cli/internal/resultparse"
	"github.com/sells-group/signal-cli/internal/scan"
	"github.com/sells-group/signal-cli/internal/signal"
	"github.com/sells-group/signal-cli/internal/source"
	"github.com/sells-group/signal-cli/internal/store"
	"github.com/sells-group/signal-cli/pkg/agent"
	anthropicpkg "github.com/sells-group/signal-cli/pkg/anthropic"
	"github.com/sells-group/signal-cli/pkg/newsapi"
)

// appEnv holds the store and every pipeline component built from config.
type appEnv struct {
	Store        store.Store
	Fetcher      *source.Fetcher
	Extractor    *signal.Extractor
	Orchestrator *scan.Orchestrator
	Worker       *scan.Worker
	Launcher     *enrich.Launcher
	Reconciler   *enrich.Reconciler
	Checker      *monitoring.Checker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Orchestrator != nil {
		e.Orchestrator.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "signal.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore initializes and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode and wires every component. baseCtx is
// the parent of detached scan runs and should outlive any single request.
func initEnv(ctx, baseCtx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return buildEnv(baseCtx, cfg, st, newClients(cfg)), nil
}

// clients groups the provider clients so tests can substitute fakes.
type clients struct {
	LLM   anthropicpkg.Client
	News  newsapi.Client
	Agent agent.Client // nil when no agent key is configured
	Files fetcher.Fetcher
}

func newClients(c *config.Config) clients {
	out := clients{
		LLM: anthropicpkg.NewClient(c.Anthropic.Key),
		News: newsapi.NewClient(c.NewsAPI.Key,
			newsapi.WithBaseURL(c.NewsAPI.BaseURL),
			newsapi.WithRateLimit(c.NewsAPI.RatePerSec),
			newsapi.WithHTTPClient(&http.Client{Timeout: time.Duration(c.NewsAPI.TimeoutSecs) * time.Second}),
		),
	}

	fileOpts := fetcher.HTTPOptions{}
	if c.Agent.Key != "" {
		out.Agent = agent.NewClient(c.Agent.Key,
			agent.WithBaseURL(c.Agent.BaseURL),
			agent.WithTimeout(time.Duration(c.Agent.TimeoutSecs)*time.Second),
		)
		// Output file links come from agent output; only the provider's own
		// host may see its key.
		if host := agentHost(c.Agent.BaseURL); host != "" {
			fileOpts.Header = http.Header{"Authorization": []string{"Bearer " + c.Agent.Key}}
			fileOpts.HeaderHosts = []string{host}
		}
	} else {
		zap.L().Warn("agent.key not set: enrichment launches will use the fallback path")
	}
	out.Files = fetcher.NewHTTPFetcher(fileOpts)
	return out
}

func agentHost(baseURL string) string {
	if baseURL == "" {
		baseURL = agent.DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func buildEnv(baseCtx context.Context, c *config.Config, st store.Store, cl clients) *appEnv {
	rubric, err := signal.LoadRubric(c.Signal.RubricPath)
	if err != nil {
		zap.L().Warn("rubric file unreadable, using embedded default", zap.Error(err))
		rubric = signal.DefaultRubric()
	}

	env := &appEnv{Store: st}
	env.Fetcher = source.NewFetcher(st, cl.News, c.Source)
	env.Extractor = signal.NewExtractor(st, cl.LLM, signal.Options{
		Model:        c.Anthropic.Model,
		MaxTokens:    c.Anthropic.MaxTokens,
		BatchSize:    c.Scan.BatchSize,
		MaxBodyChars: c.Signal.MaxBodyChars,
		MinScore:     c.Signal.MinScore,
		Rubric:       rubric,
	})

	var cont scan.Continuer = scan.NewScheduleContinuer(st)
	if c.Scan.Continuation == "http" {
		cont = scan.NewHTTPContinuer(c.Scan.ContinuationURL, nil, cont)
	}
	env.Orchestrator = scan.NewOrchestrator(st, env.Fetcher, env.Extractor, cont, scan.Options{
		Budget:            c.Scan.Budget(),
		MaxBatchesPerTick: c.Scan.MaxBatchesPerTick,
		BatchPause:        time.Duration(c.Scan.BatchPauseMs) * time.Millisecond,
		BaseContext:       baseCtx,
	})
	env.Worker = scan.NewWorker(st, env.Orchestrator, time.Duration(c.Scan.WorkerIntervalSecs)*time.Second)

	env.Launcher = enrich.NewLauncher(st, cl.Agent)
	env.Reconciler = enrich.NewReconciler(st, cl.Agent, resultparse.New(cl.Files), enrich.ReconcilerOptions{
		PollPause:   time.Duration(c.Enrich.PollPauseMs) * time.Millisecond,
		MaxContacts: c.Enrich.MaxContacts,
	})

	env.Checker = monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)
	return env
}
