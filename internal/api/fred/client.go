package fred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/metrics"
	httpClient "github.com/Alias1177/Correlator/internal/platform/http"
	"github.com/Alias1177/Correlator/models"
)

// ErrMissingAPIKey is returned when no FRED API key was configured
var ErrMissingAPIKey = errors.New("FRED API key not configured")

const dateLayout = "2006-01-02"

// Client is the FRED (Federal Reserve Economic Data) API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpClient.Client
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new FRED client
type ClientOptions struct {
	APIKey            string
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	MaxRetries        int
	Metrics           *metrics.Registry
}

// Series describes one FRED series returned by a search
type Series struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Frequency          string `json:"frequency"`
	Units              string `json:"units"`
	SeasonalAdjustment string `json:"seasonal_adjustment"`
	ObservationStart   string `json:"observation_start"`
	ObservationEnd     string `json:"observation_end"`
	Popularity         int    `json:"popularity"`
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type searchResponse struct {
	Seriess []Series `json:"seriess"`
}

// NewClient creates a new FRED API client
func NewClient(options ClientOptions) *Client {
	if options.BaseURL == "" {
		options.BaseURL = "https://api.stlouisfed.org/fred"
	}
	if options.RequestsPerMinute == 0 {
		options.RequestsPerMinute = 120
	}

	return &Client{
		apiKey:  options.APIKey,
		baseURL: strings.TrimRight(options.BaseURL, "/"),
		httpClient: httpClient.NewClient(models.SourceFRED, httpClient.ClientOptions{
			Timeout:           options.RequestTimeout,
			RequestsPerMinute: options.RequestsPerMinute,
			MaxRetries:        options.MaxRetries,
			Metrics:           options.Metrics,
		}),
		metrics: options.Metrics,
		logger:  log.With().Str("component", "fred_client").Logger(),
	}
}

// Source identifies the collector
func (c *Client) Source() string { return models.SourceFRED }

// Collect fetches observations for every series id
func (c *Client) Collect(ctx context.Context, seriesIDs []string, start, end time.Time) ([]models.MarketData, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var (
		out  []models.MarketData
		errs []error
	)
	for _, id := range seriesIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rows, err := c.Observations(ctx, id, start, end)
		if err != nil {
			c.logger.Error().Err(err).Str("series", id).Msg("Failed to collect series")
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		c.logger.Info().Str("series", id).Int("records", len(rows)).Msg("Collected series")
		c.metrics.Collected(c.Source(), len(rows))
		out = append(out, rows...)
	}
	return out, errors.Join(errs...)
}

// Observations fetches a single series between start and end, oldest first
func (c *Client) Observations(ctx context.Context, seriesID string, start, end time.Time) ([]models.MarketData, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	params.Set("observation_start", start.Format(dateLayout))
	params.Set("observation_end", end.Format(dateLayout))
	params.Set("sort_order", "asc")

	body, err := c.httpClient.Get(ctx, c.baseURL+"/series/observations?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	var data observationsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if data.ErrorMessage != "" {
		return nil, fmt.Errorf("FRED API error %d: %s", data.ErrorCode, data.ErrorMessage)
	}

	collectedAt := time.Now().UTC()
	rows := make([]models.MarketData, 0, len(data.Observations))
	skipped := 0
	for _, obs := range data.Observations {
		// FRED marks missing observations with "."
		if obs.Value == "." || obs.Value == "" {
			skipped++
			continue
		}
		value, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			skipped++
			continue
		}
		date, err := time.Parse(dateLayout, obs.Date)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, models.MarketData{
			Symbol:        seriesID,
			AssetClass:    models.AssetClassEconomicIndicator,
			Date:          date,
			Close:         value,
			AdjustedClose: value,
			Source:        models.SourceFRED,
			QualityScore:  1.0,
			CollectedAt:   collectedAt,
		})
	}
	if skipped > 0 {
		c.logger.Debug().Str("series", seriesID).Int("skipped", skipped).Msg("Skipped missing observations")
	}
	return rows, nil
}

// SearchSeries looks up series matching free text
func (c *Client) SearchSeries(ctx context.Context, text string, limit int) ([]Series, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("search_text", text)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.httpClient.Get(ctx, c.baseURL+"/series/search?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	var data searchResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return data.Seriess, nil
}
