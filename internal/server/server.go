// Package server exposes the correlation engine over a REST API and a websocket feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/alert"
	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/cache"
	"github.com/Alias1177/Correlator/internal/coordinator"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/internal/payment"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
	"github.com/Alias1177/Correlator/internal/vectorstore"
	"github.com/Alias1177/Correlator/models"
)

// Store is the read side of the database used by the API
type Store interface {
	Ping(ctx context.Context) error
	Driver() string
	Stats(ctx context.Context) (map[string]int64, error)
	MarketData(ctx context.Context, f database.MarketDataFilter) ([]models.MarketData, error)
	Symbols(ctx context.Context) ([]database.SymbolSummary, error)
	Correlations(ctx context.Context, f database.CorrelationFilter) ([]models.CorrelationRecord, error)
	QualityReports(ctx context.Context, limit int) ([]models.QualityReport, error)
	Alerts(ctx context.Context, since time.Time, limit int) ([]models.Alert, error)
}

// Deps are the services behind the API. Cache, Insight, Vectors, Billing and
// Metrics are optional.
type Deps struct {
	Store       Store
	Cache       cache.Cache
	Analyzer    coordinator.Analyzer
	Portfolio   *portfolio.Service
	Alerts      *alert.Manager
	Coordinator *coordinator.Coordinator
	Scheduler   *scheduler.Scheduler
	Reports     *report.Generator
	Insight     *insight.Analyst
	Vectors     *vectorstore.Store
	Auth        *auth.Authenticator
	Billing     *payment.StripeService
	Metrics     *metrics.Registry
}

// Config holds server settings
type Config struct {
	Port            int
	CORSOrigins     []string
	VectorFile      string
	Version         string
	CacheTTL        time.Duration
	RateLimits      map[string]int
	ProMultiplier   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For is honoured
	TrustedProxies []string
}

// DefaultConfig returns the production defaults for a port
func DefaultConfig(port int) Config {
	return Config{
		Port:            port,
		CORSOrigins:     []string{"*"},
		Version:         "dev",
		CacheTTL:        5 * time.Minute,
		RateLimits:      DefaultRateLimits(),
		ProMultiplier:   5,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     60 * time.Second,
		RequestTimeout:  4 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server is the HTTP API
type Server struct {
	deps     Deps
	cfg      Config
	router   *mux.Router
	server   *http.Server
	hub      *Hub
	limiter  *RateLimiter
	proxies  []netip.Prefix
	validate *validator.Validate
	started  time.Time
	logger   zerolog.Logger
}

// New builds the router. Deps.Store, Deps.Coordinator and Deps.Auth are required.
func New(deps Deps, cfg Config) *Server {
	def := DefaultConfig(cfg.Port)
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = def.CORSOrigins
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = def.RateLimits
	}
	if cfg.ProMultiplier <= 0 {
		cfg.ProMultiplier = def.ProMultiplier
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{
		deps:     deps,
		cfg:      cfg,
		router:   mux.NewRouter(),
		limiter:  NewRateLimiter(cfg.RateLimits, cfg.ProMultiplier),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now(),
		logger:   log.With().Str("component", "server").Logger(),
	}
	s.proxies = parseProxies(cfg.TrustedProxies, s.logger)
	s.hub = NewHub(deps.Coordinator.Bus(), cfg.CORSOrigins, deps.Metrics)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root HTTP handler. CORS wraps the router so that
// preflight requests are answered before route matching.
func (s *Server) Handler() http.Handler { return s.corsMiddleware(s.router) }

// Hub returns the websocket hub
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(s.recoveryMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	public := r.PathPrefix("/api/v1").Subrouter()
	public.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	public.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)
	public.HandleFunc("/billing/webhook", s.handleWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.deps.Auth.Middleware(s.writeError))
	api.Use(s.rateLimitMiddleware)
	api.Use(s.timeoutMiddleware)
	admin := auth.RequireAdmin(s.writeError)

	api.HandleFunc("/health/detailed", s.handleHealthDetailed).Methods(http.MethodGet)
	api.HandleFunc("/data/market", s.handleMarketData).Methods(http.MethodGet)
	api.HandleFunc("/data/symbols", s.handleSymbols).Methods(http.MethodGet)
	api.HandleFunc("/data/correlations", s.handleStoredCorrelations).Methods(http.MethodGet)
	api.HandleFunc("/data/quality", s.handleQuality).Methods(http.MethodGet)
	api.HandleFunc("/agents/status", s.handleAgentsStatus).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/metrics/system", s.handleSystemMetrics).Methods(http.MethodGet)

	api.HandleFunc("/analysis/{type}", s.handleAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/collection/trigger", s.handleCollect).Methods(http.MethodPost)

	api.HandleFunc("/workflow/start", s.handleStartWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflow/{id}/status", s.handleWorkflowStatus).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleSubmitTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.handleTaskStatus).Methods(http.MethodGet)

	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.Handle("/jobs", admin(http.HandlerFunc(s.handleCreateJob))).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.Handle("/jobs/{id}", admin(http.HandlerFunc(s.handleDeleteJob))).Methods(http.MethodDelete)
	api.Handle("/jobs/{id}/run", admin(http.HandlerFunc(s.handleRunJob))).Methods(http.MethodPost)
	api.Handle("/jobs/{id}/enable", admin(http.HandlerFunc(s.handleEnableJob))).Methods(http.MethodPost)
	api.Handle("/jobs/{id}/disable", admin(http.HandlerFunc(s.handleDisableJob))).Methods(http.MethodPost)

	api.HandleFunc("/reports/generate", s.handleGenerateReport).Methods(http.MethodPost)
	api.HandleFunc("/reports/export", s.handleExport).Methods(http.MethodPost)
	api.Handle("/reports/cleanup", admin(http.HandlerFunc(s.handleReportCleanup))).Methods(http.MethodPost)
	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods(http.MethodGet)

	rec := api.PathPrefix("/recommendations").Subrouter()
	rec.HandleFunc("/generate", s.handleRecommend).Methods(http.MethodPost)
	rec.HandleFunc("/optimize", s.handleOptimize).Methods(http.MethodPost)
	rec.HandleFunc("/analyze", s.handlePortfolioAnalyze).Methods(http.MethodPost)
	rec.HandleFunc("/risk-assessment", s.handleRiskAssessment).Methods(http.MethodPost)
	rec.HandleFunc("/rebalance-check", s.handleRebalanceCheck).Methods(http.MethodPost)
	rec.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	rec.HandleFunc("/universe", s.handleUniverse).Methods(http.MethodGet)
	rec.HandleFunc("/quick-recommendation", s.handleQuickRecommendation).Methods(http.MethodPost)
	rec.HandleFunc("/performance-metrics", s.handlePerformance).Methods(http.MethodGet)
	rec.HandleFunc("/agent-status", s.handleRecommenderStatus).Methods(http.MethodGet)

	llm := api.PathPrefix("/llm").Subrouter()
	llm.HandleFunc("/analyze/market", s.handleLLMMarket).Methods(http.MethodPost)
	llm.HandleFunc("/analyze/correlations", s.handleLLMCorrelations).Methods(http.MethodPost)
	llm.HandleFunc("/explain/recommendations", s.handleLLMExplain).Methods(http.MethodPost)
	llm.HandleFunc("/analyze/anomaly", s.handleLLMAnomaly).Methods(http.MethodPost)
	llm.HandleFunc("/analyze/regime", s.handleLLMRegime).Methods(http.MethodPost)
	llm.HandleFunc("/chat", s.handleLLMChat).Methods(http.MethodPost)
	llm.HandleFunc("/insights/generate", s.handleLLMInsights).Methods(http.MethodPost)
	llm.HandleFunc("/vector/search", s.handleVectorSearch).Methods(http.MethodPost)
	llm.HandleFunc("/vector/store", s.handleVectorStore).Methods(http.MethodPost)
	llm.HandleFunc("/vector/stats", s.handleVectorStats).Methods(http.MethodGet)
	llm.Handle("/vector/clear", admin(http.HandlerFunc(s.handleVectorClear))).Methods(http.MethodPost)
	llm.Handle("/vector/save", admin(http.HandlerFunc(s.handleVectorSave))).Methods(http.MethodPost)
	llm.Handle("/vector/load", admin(http.HandlerFunc(s.handleVectorLoad))).Methods(http.MethodPost)
	llm.HandleFunc("/status", s.handleLLMStatus).Methods(http.MethodGet)
	llm.HandleFunc("/models/available", s.handleLLMModels).Methods(http.MethodGet)

	api.HandleFunc("/billing/checkout", s.handleCheckout).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})
}

// Start runs the websocket hub and serves HTTP until Shutdown
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.logger.Info().Int("port", s.cfg.Port).Str("version", s.cfg.Version).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}
