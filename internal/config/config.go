package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// process start and passed to every component.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	NewsAPI    NewsAPIConfig    `yaml:"newsapi" mapstructure:"newsapi"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Signal     SignalConfig     `yaml:"signal" mapstructure:"signal"`
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds the long-running agent provider settings.
type AgentConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NewsAPIConfig holds the content API settings.
type NewsAPIConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SourceConfig configures the source fetch phase.
type SourceConfig struct {
	Name          string `yaml:"name" mapstructure:"name"`
	Query         string `yaml:"query" mapstructure:"query"`
	Language      string `yaml:"language" mapstructure:"language"`
	LookbackHours int    `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	PageSize      int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// SignalConfig configures LLM signal extraction.
type SignalConfig struct {
	RubricPath   string `yaml:"rubric_path" mapstructure:"rubric_path"`
	MaxBodyChars int    `yaml:"max_body_chars" mapstructure:"max_body_chars"`
	MinScore     int    `yaml:"min_score" mapstructure:"min_score"`
}

// ScanConfig configures the scan orchestrator and its continuation worker.
type ScanConfig struct {
	BatchSize          int    `yaml:"batch_size" mapstructure:"batch_size"`
	BudgetSecs         int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	SafetyMarginSecs   int    `yaml:"safety_margin_secs" mapstructure:"safety_margin_secs"`
	MaxBatchesPerTick  int    `yaml:"max_batches_per_tick" mapstructure:"max_batches_per_tick"`
	BatchPauseMs       int    `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	WorkerIntervalSecs int    `yaml:"worker_interval_secs" mapstructure:"worker_interval_secs"`
	Continuation       string `yaml:"continuation" mapstructure:"continuation"`
	ContinuationURL    string `yaml:"continuation_url" mapstructure:"continuation_url"`
}

// Budget returns the usable wall-clock budget for one invocation.
func (c ScanConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSecs-c.SafetyMarginSecs) * time.Second
}

// EnrichConfig configures enrichment launch and reconciliation.
type EnrichConfig struct {
	PollPauseMs      int `yaml:"poll_pause_ms" mapstructure:"poll_pause_ms"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxContacts      int `yaml:"max_contacts" mapstructure:"max_contacts"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the stale-scan checker.
type MonitoringConfig struct {
	CheckIntervalSecs  int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleScanAfterMins int    `yaml:"stale_scan_after_mins" mapstructure:"stale_scan_after_mins"`
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	BacklogThreshold   int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("agent.base_url", "https://api.browser-use.com/api/v1")
	v.SetDefault("agent.timeout_secs", 30)
	v.SetDefault("newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("newsapi.rate_per_sec", 1.0)
	v.SetDefault("newsapi.timeout_secs", 30)
	v.SetDefault("source.name", "newsapi")
	v.SetDefault("source.language", "en")
	v.SetDefault("source.lookback_hours", 24)
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.max_pages", 5)
	v.SetDefault("signal.max_body_chars", 1500)
	v.SetDefault("signal.min_score", 1)
	v.SetDefault("scan.batch_size", 30)
	v.SetDefault("scan.budget_secs", 85)
	v.SetDefault("scan.safety_margin_secs", 10)
	v.SetDefault("scan.max_batches_per_tick", 0)
	v.SetDefault("scan.batch_pause_ms", 2000)
	v.SetDefault("scan.worker_interval_secs", 5)
	v.SetDefault("scan.continuation", "worker")
	v.SetDefault("enrich.poll_pause_ms", 1000)
	v.SetDefault("enrich.poll_interval_secs", 60)
	v.SetDefault("enrich.max_contacts", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_scan_after_mins", 15)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given run mode are
// present. Modes: "serve", "scan", "enrich", "worker".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "serve", "worker":
		c.validateStore(require)
		require(c.Anthropic.Key != "", "anthropic.key is required")
		if mode == "serve" {
			require(c.Server.Port > 0, "server.port must be > 0")
		}
		c.validateScan(require)
	case "scan":
		c.validateStore(require)
		require(c.Anthropic.Key != "", "anthropic.key is required")
		c.validateScan(require)
	case "enrich":
		// agent.key is optional: without it the launcher takes the degraded path.
		c.validateStore(require)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(problems, "; ")))
	}
	return nil
}

func (c *Config) validateStore(require func(bool, string)) {
	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	case "sqlite":
	default:
		require(false, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
}

func (c *Config) validateScan(require func(bool, string)) {
	require(c.Scan.BatchSize > 0, "scan.batch_size must be > 0")
	require(c.Scan.BudgetSecs > c.Scan.SafetyMarginSecs, "scan.budget_secs must exceed scan.safety_margin_secs")
	switch c.Scan.Continuation {
	case "worker":
	case "http":
		require(c.Scan.ContinuationURL != "", "scan.continuation_url is required when scan.continuation is http")
	default:
		require(false, fmt.Sprintf("scan.continuation %q must be worker or http", c.Scan.Continuation))
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
