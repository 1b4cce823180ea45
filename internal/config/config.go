package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"false"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:correlator.db?_pragma=busy_timeout(5000)"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`

	FREDAPIKey     string        `env:"FRED_API_KEY"`
	YahooBaseURL   string        `env:"YAHOO_BASE_URL" envDefault:"https://query1.finance.yahoo.com"`
	FREDBaseURL    string        `env:"FRED_BASE_URL" envDefault:"https://api.stlouisfed.org/fred"`
	CoinGeckoURL   string        `env:"COINGECKO_BASE_URL" envDefault:"https://api.coingecko.com/api/v3"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	LookbackDays   int           `env:"LOOKBACK_DAYS" envDefault:"365"`

	DataSourcesFile string `env:"DATA_SOURCES_FILE" envDefault:"config/data_sources.yaml"`

	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	APIKeys         []string      `env:"API_KEYS" envSeparator:","`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES" envSeparator:","`

	LLMProvider  string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	VectorDim    int    `env:"VECTOR_DIMENSION" envDefault:"384"`
	VectorFile   string `env:"VECTOR_STORE_FILE" envDefault:"data/vectors.json"`

	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatIDs  []int64 `env:"TELEGRAM_CHAT_IDS" envSeparator:","`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`
	BillingSuccessURL   string `env:"BILLING_SUCCESS_URL" envDefault:"http://localhost:8000/billing/success"`
	BillingCancelURL    string `env:"BILLING_CANCEL_URL" envDefault:"http://localhost:8000/billing/cancel"`

	ReportDir           string `env:"REPORT_DIR" envDefault:"reports"`
	ReportRetentionDays int    `env:"REPORT_RETENTION_DAYS" envDefault:"30"`
	JobsFile            string `env:"JOBS_FILE" envDefault:"data/jobs.json"`
	RawRetentionDays    int    `env:"RAW_RETENTION_DAYS" envDefault:"90"`
	ProcessedRetention  int    `env:"PROCESSED_RETENTION_DAYS" envDefault:"365"`

	CorrelationThreshold float64 `env:"CORRELATION_THRESHOLD" envDefault:"0.7"`
	AlertCorrelation     float64 `env:"ALERT_CORRELATION_THRESHOLD" envDefault:"0.8"`
	AlertVolatility      float64 `env:"ALERT_VOLATILITY_THRESHOLD" envDefault:"0.5"`
	AlertRegimeChange    float64 `env:"ALERT_REGIME_CHANGE_THRESHOLD" envDefault:"0.8"`
	AlertAnomaly         float64 `env:"ALERT_ANOMALY_THRESHOLD" envDefault:"0.7"`
	NetworkThreshold     float64 `env:"NETWORK_THRESHOLD" envDefault:"0.5"`
	RebalanceThreshold   float64 `env:"REBALANCE_THRESHOLD" envDefault:"0.05"`
	RiskFreeRate         float64 `env:"RISK_FREE_RATE" envDefault:"0.02"`
	MaxLags              int     `env:"VAR_MAX_LAGS" envDefault:"5"`
	Regimes              int     `env:"REGIME_COUNT" envDefault:"3"`
	VolatilityHorizon    int     `env:"VOLATILITY_HORIZON" envDefault:"5"`

	AgentWorkers      int           `env:"AGENT_WORKERS" envDefault:"2"`
	AgentQueueSize    int           `env:"AGENT_QUEUE_SIZE" envDefault:"256"`
	TaskTimeout       time.Duration `env:"TASK_TIMEOUT" envDefault:"10m"`
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS" envDefault:"5"`
	JobRetryAttempts  int           `env:"JOB_RETRY_ATTEMPTS" envDefault:"3"`
	JobRetryDelay     time.Duration `env:"JOB_RETRY_DELAY" envDefault:"300s"`

	Sources DataSources `env:"-"`
}

// DataSources is the collection universe, normally read from data_sources.yaml
type DataSources struct {
	Stocks     []string       `yaml:"stocks"`
	Crypto     []string       `yaml:"crypto"`
	FREDSeries []string       `yaml:"fred_series"`
	RateLimits map[string]int `yaml:"rate_limits"`
}

// DefaultDataSources is used when no data sources file exists
func DefaultDataSources() DataSources {
	return DataSources{
		Stocks:     []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
		Crypto:     []string{"bitcoin", "ethereum", "cardano"},
		FREDSeries: []string{"GDP", "UNRATE", "FEDFUNDS"},
		RateLimits: map[string]int{
			"yahoo_finance": 100,
			"coingecko":     50,
			"fred":          120,
		},
	}
}

// RateLimit returns the per-minute request budget for a source
func (d DataSources) RateLimit(source string) int {
	if n, ok := d.RateLimits[source]; ok && n > 0 {
		return n
	}
	return DefaultDataSources().RateLimits[source]
}

// Load initializes configuration from environment variables and the data sources file
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	sources, err := LoadDataSources(cfg.DataSourcesFile)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDataSources reads a YAML universe file, falling back to defaults when it is absent.
// Lists missing from the file keep their defaults.
func LoadDataSources(path string) (DataSources, error) {
	defaults := DefaultDataSources()
	if path == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("Data sources file not found, using defaults")
		return defaults, nil
	}
	if err != nil {
		return DataSources{}, fmt.Errorf("reading data sources: %w", err)
	}

	var ds DataSources
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return DataSources{}, fmt.Errorf("parsing data sources %s: %w", path, err)
	}

	if len(ds.Stocks) == 0 {
		ds.Stocks = defaults.Stocks
	}
	if len(ds.Crypto) == 0 {
		ds.Crypto = defaults.Crypto
	}
	if len(ds.FREDSeries) == 0 {
		ds.FREDSeries = defaults.FREDSeries
	}
	if ds.RateLimits == nil {
		ds.RateLimits = map[string]int{}
	}
	for k, v := range defaults.RateLimits {
		if _, ok := ds.RateLimits[k]; !ok {
			ds.RateLimits[k] = v
		}
	}
	return ds, nil
}

// minSecretLen is the shortest JWT signing secret accepted outside debug mode
const minSecretLen = 32

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort))
	}

	unit := map[string]float64{
		"CORRELATION_THRESHOLD":         c.CorrelationThreshold,
		"ALERT_CORRELATION_THRESHOLD":   c.AlertCorrelation,
		"ALERT_REGIME_CHANGE_THRESHOLD": c.AlertRegimeChange,
		"ALERT_ANOMALY_THRESHOLD":       c.AlertAnomaly,
		"NETWORK_THRESHOLD":             c.NetworkThreshold,
		"REBALANCE_THRESHOLD":           c.RebalanceThreshold,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	if c.AlertVolatility <= 0 {
		errs = append(errs, fmt.Errorf("ALERT_VOLATILITY_THRESHOLD must be positive"))
	}
	if c.MaxLags < 1 {
		errs = append(errs, fmt.Errorf("VAR_MAX_LAGS must be at least 1"))
	}
	if c.Regimes < 2 {
		errs = append(errs, fmt.Errorf("REGIME_COUNT must be at least 2"))
	}
	if c.AgentWorkers < 1 || c.AgentQueueSize < 1 || c.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("agent workers, queue size and concurrent jobs must be positive"))
	}
	switch {
	case c.JWTSecret == "":
		errs = append(errs, errors.New("JWT_SECRET is required"))
	case !c.DebugMode && len(c.JWTSecret) < minSecretLen:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters unless DEBUG_MODE is set", minSecretLen))
	}
	switch strings.ToLower(c.LLMProvider) {
	case "openai", "gemini", "none", "":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	return errors.Join(errs...)
}

// AllSymbols returns the tradable universe used for analysis (stocks and upper-cased coins)
func (c *Config) AllSymbols() []string {
	out := make([]string, 0, len(c.Sources.Stocks)+len(c.Sources.Crypto))
	out = append(out, c.Sources.Stocks...)
	for _, coin := range c.Sources.Crypto {
		out = append(out, strings.ToUpper(coin))
	}
	return out
}
