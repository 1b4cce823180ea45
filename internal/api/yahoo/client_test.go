package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/models"
)

const chartAAPL = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL"},
      "timestamp": [1704205800, 1704292200, 1704378600, 1704465000],
      "indicators": {
        "quote": [{
          "open":   [187.15, 184.22, null, 181.99],
          "high":   [188.44, 185.88, 183.09, 182.76],
          "low":    [183.89, 183.43, 180.88, 180.17],
          "close":  [185.64, 184.25, 181.91, 181.18],
          "volume": [82488700, 58414500, 71983600, 62303300]
        }],
        "adjclose": [{"adjclose": [184.94, 183.55, 181.22, 180.49]}]
      }
    }],
    "error": null
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{BaseURL: srv.URL, RequestsPerMinute: 6000, MaxRetries: 1})
}

func TestParseChart(t *testing.T) {
	now := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	rows, err := parseChart([]byte(chartAAPL), "AAPL", now)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	first := rows[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, models.AssetClassEquity, first.AssetClass)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, 185.64, first.Close)
	assert.Equal(t, 184.94, first.AdjustedClose)
	assert.Equal(t, 82488700.0, first.Volume)
	assert.Equal(t, now, first.CollectedAt)

	// null open stays zero so cleaning can drop the row
	assert.Equal(t, 0.0, rows[2].Open)
}

func TestParseChartError(t *testing.T) {
	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	_, err := parseChart([]byte(body), "ZZZZ", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol may be delisted")
}

func TestCollectCleansAndScores(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v8/finance/chart/"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartAAPL)
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := client.Collect(context.Background(), []string{"AAPL"}, start, start.AddDate(0, 0, 7))
	require.NoError(t, err)

	require.Len(t, rows, 3, "row with a null open is dropped")
	for _, r := range rows {
		assert.Greater(t, r.QualityScore, 0.9)
		assert.Equal(t, models.SourceYahooFinance, r.Source)
	}
}

func TestCollectContinuesPastFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/MISSING") {
			http.Error(w, `{"chart":{"result":null}}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, chartAAPL)
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := client.Collect(context.Background(), []string{"MISSING", "AAPL"}, start, start.AddDate(0, 0, 7))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSymbolNotFound))
	assert.Contains(t, err.Error(), "MISSING")
	assert.Len(t, rows, 3)
}
