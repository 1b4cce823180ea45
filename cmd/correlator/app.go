package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/alert"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/api/coingecko"
	"github.com/Alias1177/Correlator/internal/api/fred"
	"github.com/Alias1177/Correlator/internal/api/yahoo"
	"github.com/Alias1177/Correlator/internal/cache"
	"github.com/Alias1177/Correlator/internal/config"
	"github.com/Alias1177/Correlator/internal/coordinator"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/etl"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/internal/notify"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
	"github.com/Alias1177/Correlator/internal/vectorstore"
)

// app holds every service the commands share
type app struct {
	cfg       *config.Config
	db        *database.DB
	metrics   *metrics.Registry
	cache     cache.Cache
	pipeline  *etl.Pipeline
	alerts    *alert.Manager
	analyzer  *analysis.Analyzer
	portfolio *portfolio.Service
	vectors   *vectorstore.Store
	analyst   *insight.Analyst
	notifier  notify.Notifier
	reports   *report.Generator
	coord     *coordinator.Coordinator
	scheduler *scheduler.Scheduler
}

// newApp loads configuration and builds the service graph. Nothing is started.
func newApp(ctx context.Context) (*app, error) {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	a := &app{cfg: cfg, metrics: metrics.New()}

	// 2. Storage
	a.db, err = database.New(ctx, database.DefaultConfig(cfg.DatabaseDriver, cfg.DatabaseURL))
	if err != nil {
		return nil, err
	}
	a.cache = cache.NewAuto(ctx, cfg.RedisAddr, cfg.RedisPassword)

	// 3. Collection
	a.pipeline = etl.New(a.db, a.sources(), etl.Config{
		LookbackDays:     cfg.LookbackDays,
		RawRetentionDays: cfg.RawRetentionDays,
	})

	// 4. Analytics
	a.alerts = alert.NewManager(alert.Thresholds{
		Correlation:  cfg.AlertCorrelation,
		Volatility:   cfg.AlertVolatility,
		RegimeChange: cfg.AlertRegimeChange,
		Anomaly:      cfg.AlertAnomaly,
	}, alert.Options{Store: a.db, Metrics: a.metrics})

	symbols := cfg.AllSymbols()
	a.analyzer = analysis.New(a.db, a.alerts, a.metrics, analysis.Config{
		Symbols:              symbols,
		LookbackDays:         cfg.LookbackDays,
		CorrelationThreshold: cfg.CorrelationThreshold,
		NetworkThreshold:     cfg.NetworkThreshold,
		MaxLags:              cfg.MaxLags,
		Regimes:              cfg.Regimes,
		VolatilityHorizon:    cfg.VolatilityHorizon,
	})
	a.portfolio = portfolio.NewService(a.db, portfolio.Config{
		LookbackDays:       cfg.LookbackDays,
		RiskFreeRate:       cfg.RiskFreeRate,
		RebalanceThreshold: cfg.RebalanceThreshold,
	})

	// 5. LLM commentary and pattern memory
	a.vectors = vectorstore.New(cfg.VectorDim, cfg.VectorFile)
	if err := a.vectors.Load(""); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", cfg.VectorFile).Msg("Vector store not restored")
	}
	provider, err := insight.NewProvider(ctx, insight.ProviderConfig{
		Provider:     cfg.LLMProvider,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.OpenAIModel,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.LLMProvider).Msg("LLM provider unavailable")
	}
	a.analyst = insight.New(provider, a.db, a.vectors, insight.Config{LookbackDays: cfg.LookbackDays})

	// 6. Notifications and reports
	a.notifier, err = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatIDs)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram notifier disabled")
		a.notifier = notify.Nop{}
	}
	a.reports = report.New(a.db, a.analyzer, report.Options{
		Risk:     a.portfolio,
		Notifier: a.notifier,
		Health:   func() []agent.Snapshot { return a.coord.Registry().Snapshots() },
	}, report.Config{
		Dir:           cfg.ReportDir,
		RetentionDays: cfg.ReportRetentionDays,
		Symbols:       symbols,
	})

	// 7. Agents and schedule
	a.coord = coordinator.New(coordinator.Services{
		Collector:   a.pipeline,
		Analyzer:    a.analyzer,
		Recommender: a.portfolio,
		Reporter:    a.reports,
		Insight:     a.analyst,
		Alerts:      a.alerts,
		Notifier:    a.notifier,
	}, coordinator.Config{
		Agent: agent.Config{
			Workers:     cfg.AgentWorkers,
			QueueSize:   cfg.AgentQueueSize,
			TaskTimeout: cfg.TaskTimeout,
		},
		Symbols:       symbols,
		RetentionDays: cfg.ProcessedRetention,
	}, a.metrics)

	a.scheduler = scheduler.New(a.coord, scheduler.Config{
		File:          cfg.JobsFile,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		RetryAttempts: cfg.JobRetryAttempts,
		RetryDelay:    cfg.JobRetryDelay,
	})
	return a, nil
}

// sources binds each configured universe list to its collector. FRED is
// skipped without an API key.
func (a *app) sources() []etl.Source {
	cfg := a.cfg
	ds := cfg.Sources
	out := []etl.Source{
		{
			Collector: yahoo.NewClient(yahoo.ClientOptions{
				BaseURL:           cfg.YahooBaseURL,
				RequestTimeout:    cfg.RequestTimeout,
				RequestsPerMinute: ds.RateLimit("yahoo_finance"),
				Metrics:           a.metrics,
			}),
			Symbols: ds.Stocks,
		},
		{
			Collector: coingecko.NewClient(coingecko.ClientOptions{
				BaseURL:           cfg.CoinGeckoURL,
				RequestTimeout:    cfg.RequestTimeout,
				RequestsPerMinute: ds.RateLimit("coingecko"),
				Metrics:           a.metrics,
			}),
			Symbols: ds.Crypto,
		},
	}
	if cfg.FREDAPIKey == "" {
		log.Warn().Msg("FRED_API_KEY not set, economic indicators will not be collected")
		return out
	}
	return append(out, etl.Source{
		Collector: fred.NewClient(fred.ClientOptions{
			APIKey:            cfg.FREDAPIKey,
			BaseURL:           cfg.FREDBaseURL,
			RequestTimeout:    cfg.RequestTimeout,
			RequestsPerMinute: ds.RateLimit("fred"),
			Metrics:           a.metrics,
		}),
		Symbols: ds.FREDSeries,
	})
}

func (a *app) Close() {
	if c, ok := a.cache.(*cache.Redis); ok {
		c.Close()
	}
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Closing database")
	}
}
