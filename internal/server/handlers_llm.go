package server

import (
	"fmt"
	"net/http"

	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/auth"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/models"
)

func (s *Server) analyst(w http.ResponseWriter, r *http.Request) (*insight.Analyst, bool) {
	if s.deps.Insight == nil {
		s.fail(w, r, insight.ErrUnavailable)
		return nil, false
	}
	return s.deps.Insight, true
}

type marketAnalysisRequest struct {
	Symbols []string `json:"symbols" validate:"omitempty,max=20,dive,required"`
	Focus   string   `json:"focus" validate:"max=500"`
}

func (s *Server) handleLLMMarket(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req marketAnalysisRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	an, err := a.MarketAnalysis(r.Context(), req.Symbols, req.Focus)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, an)
}

type correlationExplainRequest struct {
	Symbols []string                      `json:"symbols" validate:"omitempty,max=20,dive,required"`
	Matrix  map[string]map[string]float64 `json:"correlation_matrix"`
}

// handleLLMCorrelations explains a supplied matrix, or computes one for the symbols first
func (s *Server) handleLLMCorrelations(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req correlationExplainRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	matrix := req.Matrix
	if len(matrix) == 0 {
		res, err := s.deps.Analyzer.Correlation(r.Context(), analysis.Request{Symbols: req.Symbols})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		matrix = res.Matrix
	}
	if len(matrix) < 2 {
		s.fail(w, r, fmt.Errorf("%w: correlation matrix needs at least two symbols", errBadRequest))
		return
	}
	an, err := a.ExplainCorrelations(r.Context(), matrix)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, an)
}

type explainRequest struct {
	Recommendations any    `json:"recommendations" validate:"required"`
	RiskProfile     string `json:"user_risk_profile" validate:"omitempty,oneof=conservative balanced aggressive diversified"`
}

func (s *Server) handleLLMExplain(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req explainRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	an, err := a.ExplainRecommendations(r.Context(), req.Recommendations, req.RiskProfile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, an)
}

func (s *Server) handleLLMAnomaly(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req models.AnomalyDetection
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Symbol == "" && req.AnomalyType == "" {
		s.fail(w, r, fmt.Errorf("%w: symbol or anomaly_type is required", errBadRequest))
		return
	}
	an, err := a.AnalyzeAnomaly(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, an)
}

func (s *Server) handleLLMRegime(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req insight.RegimeChange
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.To == "" {
		s.fail(w, r, fmt.Errorf("%w: current_regime is required", errBadRequest))
		return
	}
	an, err := a.AnalyzeRegime(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, an)
}

type chatRequest struct {
	Query          string `json:"query" validate:"required,max=4000"`
	IncludeContext *bool  `json:"include_context"`
}

// handleLLMChat keeps one conversation per authenticated subject
func (s *Server) handleLLMChat(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	withContext := req.IncludeContext == nil || *req.IncludeContext
	an, err := a.Chat(r.Context(), p.Subject, req.Query, withContext)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{
		"response":            an,
		"conversation_length": len(a.Conversation(p.Subject)),
	})
}

type insightsRequest struct {
	Trigger string         `json:"trigger_type" validate:"omitempty,oneof=general correlation_change regime_change anomaly_detected portfolio_alert"`
	Data    map[string]any `json:"data"`
}

func (s *Server) handleLLMInsights(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req insightsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := a.GenerateInsights(r.Context(), req.Trigger, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, out)
}

func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req insight.SearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Query == "" && req.Symbol == "" {
		s.fail(w, r, fmt.Errorf("%w: query or symbol is required", errBadRequest))
		return
	}
	matches, err := a.Search(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"results": matches, "count": len(matches)})
}

type storePatternRequest struct {
	Symbol   string         `json:"symbol" validate:"required,max=20"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleVectorStore(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	var req storePatternRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := a.StorePattern(r.Context(), req.Symbol, req.Metadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]string{"pattern_id": id, "symbol": req.Symbol}, "pattern stored")
}

func (s *Server) vectors(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Vectors == nil {
		s.fail(w, r, insight.ErrUnavailable)
		return false
	}
	return true
}

func (s *Server) handleVectorStats(w http.ResponseWriter, r *http.Request) {
	if !s.vectors(w, r) {
		return
	}
	s.ok(w, s.deps.Vectors.Stats())
}

func (s *Server) handleVectorClear(w http.ResponseWriter, r *http.Request) {
	if !s.vectors(w, r) {
		return
	}
	n := s.deps.Vectors.Len()
	s.deps.Vectors.Clear()
	s.respond(w, http.StatusOK, map[string]int{"removed": n}, "vector store cleared")
}

type vectorFileRequest struct {
	Path string `json:"path" validate:"omitempty,max=512"`
}

// vectorPath resolves the snapshot file: the request path, else the configured file
func (s *Server) vectorPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req vectorFileRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return req.Path, true
}

func (s *Server) handleVectorSave(w http.ResponseWriter, r *http.Request) {
	if !s.vectors(w, r) {
		return
	}
	path, ok := s.vectorPath(w, r)
	if !ok {
		return
	}
	if path == "" {
		path = s.cfg.VectorFile
	}
	if err := s.deps.Vectors.Save(path); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"path": path, "vectors": s.deps.Vectors.Len()}, "vector store saved")
}

func (s *Server) handleVectorLoad(w http.ResponseWriter, r *http.Request) {
	if !s.vectors(w, r) {
		return
	}
	path, ok := s.vectorPath(w, r)
	if !ok {
		return
	}
	if path == "" {
		path = s.cfg.VectorFile
	}
	if err := s.deps.Vectors.Load(path); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"path": path, "vectors": s.deps.Vectors.Len()}, "vector store loaded")
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Insight == nil {
		s.ok(w, insight.Status{})
		return
	}
	s.ok(w, s.deps.Insight.Status())
}

func (s *Server) handleLLMModels(w http.ResponseWriter, r *http.Request) {
	a, ok := s.analyst(w, r)
	if !ok {
		return
	}
	names, err := a.Models(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"models": names, "count": len(names)})
}
