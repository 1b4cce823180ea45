package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/metrics"
	httpClient "github.com/Alias1177/Correlator/internal/platform/http"
	"github.com/Alias1177/Correlator/models"
)

const (
	defaultQuality = 0.95
	maxDays        = 365
)

// Client is the CoinGecko public API client
type Client struct {
	baseURL    string
	currency   string
	httpClient *httpClient.Client
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new CoinGecko client
type ClientOptions struct {
	BaseURL           string
	Currency          string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	MaxRetries        int
	Metrics           *metrics.Registry
}

type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// NewClient creates a new CoinGecko client
func NewClient(options ClientOptions) *Client {
	if options.BaseURL == "" {
		options.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if options.Currency == "" {
		options.Currency = "usd"
	}
	if options.RequestsPerMinute == 0 {
		options.RequestsPerMinute = 50
	}

	return &Client{
		baseURL:  strings.TrimRight(options.BaseURL, "/"),
		currency: options.Currency,
		httpClient: httpClient.NewClient(models.SourceCoinGecko, httpClient.ClientOptions{
			Timeout:           options.RequestTimeout,
			RequestsPerMinute: options.RequestsPerMinute,
			MaxRetries:        options.MaxRetries,
			Metrics:           options.Metrics,
		}),
		metrics: options.Metrics,
		logger:  log.With().Str("component", "coingecko_client").Logger(),
	}
}

// Source identifies the collector
func (c *Client) Source() string { return models.SourceCoinGecko }

// Collect fetches daily history for every coin id
func (c *Client) Collect(ctx context.Context, coinIDs []string, start, end time.Time) ([]models.MarketData, error) {
	days := DaysBetween(start, end)

	var (
		out  []models.MarketData
		errs []error
	)
	for _, id := range coinIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rows, err := c.MarketChart(ctx, id, days)
		if err != nil {
			c.logger.Error().Err(err).Str("coin", id).Msg("Failed to collect coin")
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}

		kept := rows[:0]
		for _, r := range rows {
			if !r.Date.Before(truncateDay(start)) {
				kept = append(kept, r)
			}
		}
		c.logger.Info().Str("coin", id).Int("records", len(kept)).Msg("Collected coin")
		c.metrics.Collected(c.Source(), len(kept))
		out = append(out, kept...)
	}
	return out, errors.Join(errs...)
}

// MarketChart downloads price, market cap and volume history for one coin
func (c *Client) MarketChart(ctx context.Context, coinID string, days int) ([]models.MarketData, error) {
	params := url.Values{}
	params.Set("vs_currency", c.currency)
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(coinID), params.Encode())

	body, err := c.httpClient.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	var chart marketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		c.logger.Error().Err(err).Str("coin", coinID).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(chart.Prices) == 0 {
		return nil, fmt.Errorf("empty data returned for %s", coinID)
	}
	return chartToRows(chart, coinID, time.Now().UTC()), nil
}

func chartToRows(chart marketChart, coinID string, collectedAt time.Time) []models.MarketData {
	byDay := make(map[time.Time]*models.MarketData)
	symbol := strings.ToUpper(coinID)

	row := func(ms float64) *models.MarketData {
		day := truncateDay(time.UnixMilli(int64(ms)).UTC())
		if r, ok := byDay[day]; ok {
			return r
		}
		r := &models.MarketData{
			Symbol:       symbol,
			AssetClass:   models.AssetClassCryptocurrency,
			Date:         day,
			Source:       models.SourceCoinGecko,
			QualityScore: defaultQuality,
			CollectedAt:  collectedAt,
		}
		byDay[day] = r
		return r
	}

	for _, p := range chart.Prices {
		r := row(p[0])
		r.Close = p[1]
		r.AdjustedClose = p[1]
	}
	for _, p := range chart.MarketCaps {
		row(p[0]).MarketCap = p[1]
	}
	for _, p := range chart.TotalVolumes {
		row(p[0]).Volume = p[1]
	}

	out := make([]models.MarketData, 0, len(byDay))
	for _, r := range byDay {
		if r.Close > 0 {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// DaysBetween converts a date range to the days parameter, clamped to [1, 365]
func DaysBetween(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	if days > maxDays {
		return maxDays
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
