package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/cache"
	"github.com/Alias1177/Correlator/internal/coordinator"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/scheduler"
	"github.com/Alias1177/Correlator/models"
)

type fakeStore struct {
	pingErr error
}

func (f fakeStore) Ping(context.Context) error { return f.pingErr }
func (fakeStore) Driver() string { return database.DriverSQLite }
func (fakeStore) Stats(context.Context) (map[string]int64, error) {
	return map[string]int64{"market_data": 3}, nil
}
func (fakeStore) MarketData(_ context.Context, f database.MarketDataFilter) ([]models.MarketData, error) {
	return []models.MarketData{{Symbol: "SPY", Close: 101.5}}, nil
}
func (fakeStore) Symbols(context.Context) ([]database.SymbolSummary, error) {
	return []database.SymbolSummary{{Symbol: "SPY", AssetClass: "equity", Records: 3}}, nil
}
func (fakeStore) Correlations(context.Context, database.CorrelationFilter) ([]models.CorrelationRecord, error) {
	return nil, nil
}
func (fakeStore) QualityReports(context.Context, int) ([]models.QualityReport, error) {
	return nil, nil
}
func (fakeStore) Alerts(context.Context, time.Time, int) ([]models.Alert, error) {
	return nil, nil
}

type fakeAnalyzer struct {
	correlations atomic.Int32
}

func (f *fakeAnalyzer) Correlation(_ context.Context, req analysis.Request) (*analysis.CorrelationResult, error) {
	f.correlations.Add(1)
	return &analysis.CorrelationResult{
		Method:  "pearson",
		Symbols: req.Symbols,
		Matrix:  map[string]map[string]float64{"SPY": {"SPY": 1}},
	}, nil
}
func (f *fakeAnalyzer) Volatility(context.Context, analysis.Request) (*analysis.VolatilityResult, error) {
	return nil, fmt.Errorf("volatility: %w", series.ErrInsufficientData)
}
func (f *fakeAnalyzer) Causality(context.Context, analysis.Request) (*analysis.CausalityResult, error) {
	return &analysis.CausalityResult{}, nil
}
func (f *fakeAnalyzer) Regime(context.Context, analysis.Request) (*analysis.RegimeResult, error) {
	return &analysis.RegimeResult{}, nil
}
func (f *fakeAnalyzer) Network(context.Context, analysis.Request) (*analysis.NetworkResult, error) {
	return &analysis.NetworkResult{}, nil
}
func (f *fakeAnalyzer) Prediction(context.Context, analysis.Request) (*analysis.PredictionResult, error) {
	return &analysis.PredictionResult{}, nil
}
func (f *fakeAnalyzer) Anomalies(context.Context, analysis.Request) (*analysis.AnomalyResult, error) {
	return &analysis.AnomalyResult{}, nil
}
func (f *fakeAnalyzer) Comprehensive(context.Context, analysis.Request) (*analysis.ComprehensiveResult, error) {
	return &analysis.ComprehensiveResult{}, nil
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	analyzer *fakeAnalyzer
	auth     *auth.Authenticator
}

func newFixture(t *testing.T, limits map[string]int) *fixture {
	t.Helper()
	an := &fakeAnalyzer{}
	coord := coordinator.New(coordinator.Services{Analyzer: an}, coordinator.Config{}, nil)
	authn := auth.New(auth.Config{Secret: "test-secret", TTL: time.Hour, DebugMode: true}, nil, nil)
	sch := scheduler.New(scheduler.DispatchFunc(func(context.Context, scheduler.Job) error { return nil }),
		scheduler.Config{File: filepath.Join(t.TempDir(), "jobs.json")})

	cfg := DefaultConfig(0)
	if limits != nil {
		cfg.RateLimits = limits
	}
	s := New(Deps{
		Store:       fakeStore{},
		Cache:       cache.NewMemory(),
		Analyzer:    an,
		Coordinator: coord,
		Scheduler:   sch,
		Auth:        authn,
	}, cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: s, http: ts, analyzer: an, auth: authn}
}

func (f *fixture) userToken(t *testing.T) string {
	t.Helper()
	tok, err := f.auth.Issue(auth.Principal{Subject: "alice", Role: auth.RoleUser})
	require.NoError(t, err)
	return tok.AccessToken
}

type result struct {
	code   int
	header http.Header
	body   map[string]any
}

func (f *fixture) do(t *testing.T, method, path, token, body string) result {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := result{code: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func TestHealthEnvelope(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(t, http.MethodGet, "/health", "", "")

	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "success", res.body["status"])
	assert.NotEmpty(t, res.body["timestamp"])
	assert.NotEmpty(t, res.header.Get("X-Request-ID"))
	data := res.body["data"].(map[string]any)
	assert.Equal(t, "ok", data["database"])
	assert.Equal(t, "stopped", data["status"])
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodGet, "/api/v1/data/symbols", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "error", res.body["status"])

	res = f.do(t, http.MethodGet, "/api/v1/data/symbols", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = f.do(t, http.MethodGet, "/api/v1/data/symbols", f.userToken(t), "")
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["data"], 1)
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"name":"hourly","schedule":{"type":"interval","every":1,"unit":"hours"},"agent":"collector","task_type":"collect_data"}`

	res := f.do(t, http.MethodPost, "/api/v1/jobs", f.userToken(t), body)
	assert.Equal(t, http.StatusForbidden, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/jobs", auth.DevelopmentToken, body)
	assert.Equal(t, http.StatusCreated, res.code)
}

func TestRateLimitReturnsRetryAfter(t *testing.T) {
	limits := DefaultRateLimits()
	limits[CategoryMarketData] = 2
	f := newFixture(t, limits)
	tok := f.userToken(t)

	for i := 0; i < 2; i++ {
		res := f.do(t, http.MethodGet, "/api/v1/data/market", tok, "")
		require.Equal(t, http.StatusOK, res.code, "request %d", i)
	}
	res := f.do(t, http.MethodGet, "/api/v1/data/market", tok, "")
	require.Equal(t, http.StatusTooManyRequests, res.code)
	assert.NotEmpty(t, res.header.Get("Retry-After"))
	assert.Contains(t, res.body["error"], "market_data")

	// other categories have their own bucket
	res = f.do(t, http.MethodGet, "/api/v1/agents/status", tok, "")
	assert.Equal(t, http.StatusOK, res.code)
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"/data/market":           CategoryMarketData,
		"/data/symbols":          CategoryMarketData,
		"/data/correlations":     CategoryCorrelations,
		"/analysis/volatility":   CategoryCorrelations,
		"/workflow/start":        CategoryWorkflows,
		"/workflows":             CategoryWorkflows,
		"/tasks":                 CategoryTasks,
		"/collection/trigger":    CategoryTasks,
		"/recommendations/quick": CategoryDefault,
		"/llm/chat":              CategoryDefault,
	}
	for path, want := range cases {
		assert.Equal(t, want, Category(path), path)
	}
}

func TestUnknownRouteIsJSON(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, res.code)
	assert.Equal(t, "error", res.body["status"])
	assert.Contains(t, res.body["error"], "/nope")
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/v1/analysis/correlation", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dashboard.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestAnalysisIsCached(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.userToken(t)
	body := `{"symbols":["SPY","TLT"],"method":"pearson"}`

	res := f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok, body)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "correlation analysis completed", res.body["message"])

	res = f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok, body)
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "cached", res.body["message"])
	data := res.body["data"].(map[string]any)
	assert.Equal(t, "pearson", data["method"])
	assert.EqualValues(t, 1, f.analyzer.correlations.Load())

	// a different request misses the cache
	f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok, `{"symbols":["SPY"]}`)
	assert.EqualValues(t, 2, f.analyzer.correlations.Load())
}

func TestAnalysisErrors(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.userToken(t)

	res := f.do(t, http.MethodPost, "/api/v1/analysis/astrology", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/analysis/volatility", tok, `{"symbols":["SPY"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok, `{"method":"magic"}`)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok, `{"unknown_field":1}`)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/analysis/correlation", tok,
		`{"start_date":"2024-02-01T00:00:00Z","end_date":"2024-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, res.code)
}

func TestJobLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	tok := auth.DevelopmentToken

	res := f.do(t, http.MethodPost, "/api/v1/jobs", tok,
		`{"name":"hourly","schedule":{"type":"interval","every":1,"unit":"hours"},"agent":"collector","task_type":"collect_data"}`)
	require.Equal(t, http.StatusCreated, res.code)
	job := res.body["data"].(map[string]any)
	id := job["id"].(string)
	assert.Equal(t, true, job["enabled"])

	res = f.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/disable", tok, "")
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, false, res.body["data"].(map[string]any)["enabled"])

	res = f.do(t, http.MethodGet, "/api/v1/jobs", tok, "")
	require.Equal(t, http.StatusOK, res.code)
	assert.Len(t, res.body["data"].(map[string]any)["jobs"], 1)

	res = f.do(t, http.MethodDelete, "/api/v1/jobs/"+id, tok, "")
	require.Equal(t, http.StatusOK, res.code)

	res = f.do(t, http.MethodGet, "/api/v1/jobs/"+id, tok, "")
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, nil)
	tok := auth.DevelopmentToken

	res := f.do(t, http.MethodPost, "/api/v1/jobs", tok,
		`{"name":"bad","schedule":{"type":"fortnightly"},"agent":"collector","task_type":"collect_data"}`)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/jobs", tok,
		`{"name":"wrong","schedule":{"type":"daily","at":"06:00"},"agent":"collector","task_type":"analyze"}`)
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = f.do(t, http.MethodPost, "/api/v1/jobs", tok,
		`{"name":"ghost","schedule":{"type":"daily","at":"06:00"},"agent":"nobody","task_type":"analyze"}`)
	assert.Equal(t, http.StatusBadRequest, res.code)
}

func TestLLMUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(t, http.MethodPost, "/api/v1/llm/chat", f.userToken(t), `{"query":"what moved?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, res.code)

	res = f.do(t, http.MethodGet, "/api/v1/llm/status", f.userToken(t), "")
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, false, res.body["data"].(map[string]any)["available"])
}

func TestTaskStatusNotFound(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(t, http.MethodGet, "/api/v1/tasks/missing", f.userToken(t), "")
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("load: %w", database.ErrNotFound), http.StatusNotFound},
		{scheduler.ErrJobNotFound, http.StatusNotFound},
		{agent.ErrTaskNotFound, http.StatusNotFound},
		{fmt.Errorf("panel: %w", series.ErrInsufficientData), http.StatusUnprocessableEntity},
		{insight.ErrUnavailable, http.StatusServiceUnavailable},
		{agent.ErrQueueFull, http.StatusServiceUnavailable},
		{auth.ErrForbidden, http.StatusForbidden},
		{auth.ErrInvalidKey, http.StatusUnauthorized},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestClientIP(t *testing.T) {
	direct := newFixture(t, nil).srv
	proxied := newFixture(t, nil).srv
	proxied.proxies = parseProxies([]string{"10.0.0.0/8", "192.0.2.7", "not-an-ip"}, zerolog.Nop())
	require.Len(t, proxied.proxies, 2)

	tests := []struct {
		name   string
		srv    *Server
		remote string
		fwd    string
		want   string
	}{
		{"no proxy configured ignores header", direct, "203.0.113.5:4000", "198.51.100.1", "203.0.113.5"},
		{"untrusted peer ignores header", proxied, "203.0.113.5:4000", "198.51.100.1", "203.0.113.5"},
		{"trusted peer without header", proxied, "10.1.2.3:4000", "", "10.1.2.3"},
		{"trusted peer", proxied, "10.1.2.3:4000", "198.51.100.1", "198.51.100.1"},
		{"spoofed left hop is skipped", proxied, "192.0.2.7:4000", "1.1.1.1, 198.51.100.1, 10.9.9.9", "198.51.100.1"},
		{"all hops trusted", proxied, "10.1.2.3:4000", "10.4.4.4", "10.4.4.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			r.RemoteAddr = tt.remote
			if tt.fwd != "" {
				r.Header.Set("X-Forwarded-For", tt.fwd)
			}
			assert.Equal(t, tt.want, tt.srv.clientIP(r))
		})
	}
}
