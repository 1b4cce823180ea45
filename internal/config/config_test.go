package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_SOURCES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 0.7, cfg.CorrelationThreshold)
	assert.Equal(t, 5, cfg.MaxLags)
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "TSLA"}, cfg.Sources.Stocks)
	assert.Equal(t, 120, cfg.Sources.RateLimit("fred"))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATA_SOURCES_FILE", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("TELEGRAM_CHAT_IDS", "100,-200")
	t.Setenv("API_KEYS", "ops:admin:hash1,svc:user:hash2")
	t.Setenv("JOB_RETRY_DELAY", "1m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, []int64{100, -200}, cfg.TelegramChatIDs)
	assert.Len(t, cfg.APIKeys, 2)
	assert.Equal(t, time.Minute, cfg.JobRetryDelay)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("DATA_SOURCES_FILE", "")
	t.Setenv("DATABASE_DRIVER", "oracle")
	t.Setenv("CORRELATION_THRESHOLD", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DRIVER")
	assert.Contains(t, err.Error(), "CORRELATION_THRESHOLD")
}

func TestJWTSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		debug  string
		ok     bool
	}{
		{"missing", "", "false", false},
		{"missing in debug", "", "true", false},
		{"short", "change-me", "false", false},
		{"short in debug", "change-me", "true", true},
		{"strong", testSecret, "false", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATA_SOURCES_FILE", "")
			t.Setenv("JWT_SECRET", tt.secret)
			t.Setenv("DEBUG_MODE", tt.debug)

			_, err := Load()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "JWT_SECRET")
		})
	}
}

func TestLoadDataSourcesMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_sources.yaml")
	content := `
stocks: [SPY, QQQ]
rate_limits:
  yahoo_finance: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ds, err := LoadDataSources(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "QQQ"}, ds.Stocks)
	assert.Equal(t, []string{"bitcoin", "ethereum", "cardano"}, ds.Crypto)
	assert.Equal(t, 30, ds.RateLimit("yahoo_finance"))
	assert.Equal(t, 50, ds.RateLimit("coingecko"))
}

func TestLoadDataSourcesInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stocks: [unclosed"), 0o644))

	_, err := LoadDataSources(path)
	assert.Error(t, err)
}

func TestAllSymbols(t *testing.T) {
	cfg := &Config{Sources: DataSources{Stocks: []string{"AAPL"}, Crypto: []string{"bitcoin"}}}
	assert.Equal(t, []string{"AAPL", "BITCOIN"}, cfg.AllSymbols())
}
