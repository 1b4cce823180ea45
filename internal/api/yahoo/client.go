package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/metrics"
	httpClient "github.com/Alias1177/Correlator/internal/platform/http"
	"github.com/Alias1177/Correlator/internal/quality"
	"github.com/Alias1177/Correlator/models"
)

// ErrSymbolNotFound is returned when Yahoo has no chart for a symbol
var ErrSymbolNotFound = errors.New("symbol not found")

// Client is the Yahoo Finance chart API client
type Client struct {
	baseURL    string
	httpClient *httpClient.Client
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Yahoo Finance client
type ClientOptions struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	MaxRetries        int
	Metrics           *metrics.Registry
}

// NewClient creates a new Yahoo Finance client
func NewClient(options ClientOptions) *Client {
	if options.BaseURL == "" {
		options.BaseURL = "https://query1.finance.yahoo.com"
	}
	if options.RequestsPerMinute == 0 {
		options.RequestsPerMinute = 100
	}

	return &Client{
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpClient.NewClient(models.SourceYahooFinance, httpClient.ClientOptions{
			Timeout:           options.RequestTimeout,
			RequestsPerMinute: options.RequestsPerMinute,
			MaxRetries:        options.MaxRetries,
			Metrics:           options.Metrics,
		}),
		metrics: options.Metrics,
		logger:  log.With().Str("component", "yahoo_client").Logger(),
	}
}

// Source identifies the collector
func (c *Client) Source() string { return models.SourceYahooFinance }

// Collect fetches, cleans and scores daily bars for every symbol.
// Symbols that fail are skipped and reported in the returned error.
func (c *Client) Collect(ctx context.Context, symbols []string, start, end time.Time) ([]models.MarketData, error) {
	var (
		out  []models.MarketData
		errs []error
	)
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rows, err := c.FetchSymbol(ctx, symbol, start, end)
		if err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to collect symbol")
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}

		cleaned := quality.Clean(rows, true)
		if removed := cleaned.Removed(); removed > 0 {
			c.logger.Warn().Str("symbol", symbol).Int("removed", removed).Msg("Removed invalid rows")
		}
		score := quality.Score(cleaned.Rows)
		for i := range cleaned.Rows {
			cleaned.Rows[i].QualityScore = score
		}

		c.logger.Info().
			Str("symbol", symbol).
			Int("records", len(cleaned.Rows)).
			Float64("quality", score).
			Msg("Collected symbol")
		c.metrics.Collected(c.Source(), len(cleaned.Rows))
		out = append(out, cleaned.Rows...)
	}
	return out, errors.Join(errs...)
}

// FetchSymbol downloads the raw daily chart for one symbol without cleaning
func (c *Client) FetchSymbol(ctx context.Context, symbol string, start, end time.Time) ([]models.MarketData, error) {
	params := url.Values{}
	params.Set("period1", fmt.Sprint(start.Unix()))
	params.Set("period2", fmt.Sprint(end.Unix()))
	params.Set("interval", "1d")
	params.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	c.logger.Debug().Str("url", endpoint).Msg("Fetching chart")

	body, err := c.httpClient.Get(ctx, endpoint)
	if err != nil {
		var statusErr *httpClient.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, ErrSymbolNotFound
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	rows, err := parseChart(body, symbol, time.Now().UTC())
	if err != nil {
		c.logger.Error().Err(err).Str("symbol", symbol).Msg("Error parsing chart")
		return nil, err
	}
	return rows, nil
}

func parseChart(body []byte, symbol string, collectedAt time.Time) ([]models.MarketData, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	if desc, err := jsonpath.Get("$.chart.error.description", doc); err == nil {
		if s, ok := desc.(string); ok && s != "" {
			return nil, fmt.Errorf("yahoo finance error: %s", s)
		}
	}

	timestamps, err := floatSeries(doc, "$.chart.result[0].timestamp")
	if err != nil || len(timestamps) == 0 {
		return nil, fmt.Errorf("empty data returned for %s", symbol)
	}

	quote := "$.chart.result[0].indicators.quote[0]."
	opens, _ := floatSeries(doc, quote+"open")
	highs, _ := floatSeries(doc, quote+"high")
	lows, _ := floatSeries(doc, quote+"low")
	closes, err := floatSeries(doc, quote+"close")
	if err != nil {
		return nil, fmt.Errorf("missing close prices for %s: %w", symbol, err)
	}
	volumes, _ := floatSeries(doc, quote+"volume")
	adjCloses, _ := floatSeries(doc, "$.chart.result[0].indicators.adjclose[0].adjclose")

	rows := make([]models.MarketData, 0, len(timestamps))
	for i, ts := range timestamps {
		row := models.MarketData{
			Symbol:      symbol,
			AssetClass:  models.AssetClassEquity,
			Date:        truncateDay(time.Unix(int64(ts), 0).UTC()),
			Open:        at(opens, i),
			High:        at(highs, i),
			Low:         at(lows, i),
			Close:       at(closes, i),
			Volume:      at(volumes, i),
			Source:      models.SourceYahooFinance,
			CollectedAt: collectedAt,
		}
		row.AdjustedClose = at(adjCloses, i)
		if row.AdjustedClose == 0 {
			row.AdjustedClose = row.Close
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// floatSeries reads a JSON array at path; null entries become zero
func floatSeries(doc interface{}, path string) ([]float64, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s is not an array", path)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		if f, ok := item.(float64); ok {
			out[i] = f
		}
	}
	return out, nil
}

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
