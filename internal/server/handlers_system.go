package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/database"
	"github.com/Alias1177/Correlator/internal/payment"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"name":    "Multi-Market Correlation Engine",
		"version": s.cfg.Version,
		"docs":    "/api/v1",
		"health":  "/health",
		"feed":    "/ws",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Coordinator.Health().Status
	dbStatus := "ok"
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Database ping failed")
		dbStatus = "unreachable"
		status = "unhealthy"
	}
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.respond(w, code, map[string]any{
		"status":   status,
		"version":  s.cfg.Version,
		"database": dbStatus,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}, "")
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db := map[string]any{"driver": s.deps.Store.Driver(), "status": "ok"}
	if err := s.deps.Store.Ping(ctx); err != nil {
		db["status"] = "unreachable"
		db["error"] = err.Error()
	} else if stats, err := s.deps.Store.Stats(ctx); err == nil {
		db["tables"] = stats
	}

	out := map[string]any{
		"health":      s.deps.Coordinator.Health(),
		"system":      s.deps.Coordinator.Status(),
		"database":    db,
		"feed":        map[string]int{"clients": s.hub.Clients()},
		"rate_limits": s.cfg.RateLimits,
	}
	if s.deps.Scheduler != nil {
		out["scheduler"] = s.deps.Scheduler.Status()
	}
	if s.deps.Insight != nil {
		out["llm"] = s.deps.Insight.Status()
	}
	if s.deps.Billing != nil {
		out["billing"] = map[string]bool{"enabled": s.deps.Billing.Enabled()}
	}
	s.ok(w, out)
}

func splitSymbols(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	f := database.MarketDataFilter{
		Symbols: splitSymbols(r.URL.Query().Get("symbols")),
		Source:  r.URL.Query().Get("source"),
	}
	var err error
	if f.Start, err = queryTime(r, "start_date"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.End, err = queryTime(r, "end_date"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 1000, 10000); err != nil {
		s.fail(w, r, err)
		return
	}
	rows, err := s.deps.Store.MarketData(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"data": rows, "count": len(rows), "symbols": f.Symbols})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.deps.Store.Symbols(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, symbols)
}

func (s *Server) handleStoredCorrelations(w http.ResponseWriter, r *http.Request) {
	f := database.CorrelationFilter{
		Symbol: strings.ToUpper(r.URL.Query().Get("symbol")),
		Method: r.URL.Query().Get("method"),
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit", 500, 10000); err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.deps.Store.Correlations(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"correlations": recs, "count": len(recs)})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reports, err := s.deps.Store.QualityReports(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, reports)
}

func (s *Server) handleAgentsStatus(w http.ResponseWriter, r *http.Request) {
	s.ok(w, s.deps.Coordinator.Status())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24, 24*365)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 100, 1000)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	alerts, err := s.deps.Store.Alerts(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
		"counts": s.deps.Alerts.Counts(),
	})
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out := map[string]any{
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"runtime": map[string]any{
			"goroutines":    runtime.NumGoroutine(),
			"heap_alloc_mb": float64(mem.HeapAlloc) / (1 << 20),
			"sys_mb":        float64(mem.Sys) / (1 << 20),
			"gc_cycles":     mem.NumGC,
			"go_version":    runtime.Version(),
			"cpu_count":     runtime.NumCPU(),
			"gomaxprocs":    runtime.GOMAXPROCS(0),
			"last_gc_pause": time.Duration(mem.PauseNs[(mem.NumGC+255)%256]).String(),
		},
		"feed_clients": s.hub.Clients(),
		"alerts":       s.deps.Alerts.Counts(),
		"agents":       s.deps.Coordinator.Status(),
	}
	if stats, err := s.deps.Store.Stats(r.Context()); err == nil {
		out["database"] = stats
	}
	if s.deps.Scheduler != nil {
		out["scheduler"] = s.deps.Scheduler.Status()
	}
	s.ok(w, out)
}

// handleWS authenticates with the token query parameter, since browsers
// cannot set headers on websocket requests
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = auth.BearerToken(r); err != nil {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
	}
	p, err := s.deps.Auth.Verify(token)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken)
		return
	}
	s.hub.ServeWS(w, r, p.Subject)
}

type tokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tok, err := s.deps.Auth.Exchange(r.Context(), req.APIKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, tok)
}

type checkoutRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Billing == nil {
		s.fail(w, r, payment.ErrDisabled)
		return
	}
	var req checkoutRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Email == "" {
		p, _ := auth.FromContext(r.Context())
		if err := s.validate.Var(p.Subject, "email"); err != nil {
			s.fail(w, r, fmt.Errorf("%w: email is required", errBadRequest))
			return
		}
		req.Email = p.Subject
	}
	c, err := s.deps.Billing.CreateCheckoutSession(req.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, c, "checkout session created")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Billing == nil {
		s.fail(w, r, payment.ErrDisabled)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("reading request body: %w", err))
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("Stripe-Signature header required"))
		return
	}
	event, err := s.deps.Billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Webhook signature rejected")
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid signature"))
		return
	}
	if err := s.deps.Billing.HandleEvent(r.Context(), event); err != nil && !errors.Is(err, payment.ErrIgnoredEvent) {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"event_id": event.ID, "type": string(event.Type)}, "event processed")
}
