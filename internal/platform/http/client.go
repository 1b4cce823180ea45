package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Alias1177/Correlator/internal/metrics"
)

// maxBodySize caps upstream responses at 32 MiB
const maxBodySize = 32 << 20

// Client is a wrapper for HTTP client with rate limiting, retries and a circuit breaker
type Client struct {
	Name       string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Breaker    *gobreaker.CircuitBreaker

	maxRetries      int
	maxRetryTimeout time.Duration
	userAgent       string
	metrics         *metrics.Registry
	logger          zerolog.Logger
}

// ClientOptions holds options for creating a new Client
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSec    float64
	RequestsPerMinute int
	MaxRetries        int
	MaxRetryTimeout   time.Duration
	UserAgent         string
	Metrics           *metrics.Registry

	// Circuit breaker tuning
	BreakerTimeout      time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
}

// NewClient creates a new HTTP client for one upstream source
func NewClient(name string, opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
		if opts.RequestsPerMinute > 0 {
			opts.RequestsPerSec = float64(opts.RequestsPerMinute) / 60
		}
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 30 * time.Second
	}
	if opts.BreakerTimeout == 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.FailureRatio == 0 {
		opts.FailureRatio = 0.6
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "correlator/1.0"
	}

	logger := log.With().Str("component", "http_client").Str("source", name).Logger()

	burst := int(opts.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= opts.ConsecutiveFailures {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= opts.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Client errors mean a bad request, not an unhealthy upstream
			var statusErr *HTTPStatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
	}

	return &Client{
		Name: name,
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		Limiter:         rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst),
		Breaker:         gobreaker.NewCircuitBreaker(settings),
		maxRetries:      opts.MaxRetries,
		maxRetryTimeout: opts.MaxRetryTimeout,
		userAgent:       opts.UserAgent,
		metrics:         opts.Metrics,
		logger:          logger,
	}
}

// Get fetches url and returns the response body of a 2xx answer
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.DoRequest(ctx, req)
}

// DoRequest performs an HTTP request with rate limiting, circuit breaking and retries
func (c *Client) DoRequest(ctx context.Context, req *http.Request) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	operation := func() error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		out, err := c.Breaker.Execute(func() (interface{}, error) {
			return c.do(req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s unavailable: %w", c.Name, err))
			}
			var statusErr *HTTPStatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			c.logger.Debug().Err(err).Str("url", req.URL.Redacted()).Msg("Retrying request")
			return err
		}
		body = out.([]byte)
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = c.maxRetryTimeout
	policy := backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		c.metrics.Upstream(c.Name, "error")
		return nil, err
	}
	c.metrics.Upstream(c.Name, "ok")
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

// State returns the current circuit breaker state name
func (c *Client) State() string {
	return c.Breaker.State().String()
}

// HTTPStatusError represents an error due to a non-2xx HTTP status code
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("unexpected status %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether repeating the request may succeed
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
