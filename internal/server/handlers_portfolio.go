package server

import (
	"net/http"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/portfolio"
)

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req portfolio.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.deps.Portfolio.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, rec, rec.Summary)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req portfolio.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	opt, err := s.deps.Portfolio.Optimize(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, opt)
}

func (s *Server) handlePortfolioAnalyze(w http.ResponseWriter, r *http.Request) {
	var req portfolio.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.deps.Portfolio.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, m)
}

func (s *Server) handleRiskAssessment(w http.ResponseWriter, r *http.Request) {
	var req portfolio.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.deps.Portfolio.AssessRisk(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, rep)
}

func (s *Server) handleRebalanceCheck(w http.ResponseWriter, r *http.Request) {
	var req portfolio.RebalanceRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, s.deps.Portfolio.CheckRebalance(req))
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.ok(w, portfolio.Strategies())
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	universe := portfolio.Universe()
	total := 0
	for _, symbols := range universe {
		total += len(symbols)
	}
	s.ok(w, map[string]any{"universe": universe, "total_assets": total})
}

func (s *Server) handleQuickRecommendation(w http.ResponseWriter, r *http.Request) {
	var req portfolio.QuickRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := s.deps.Portfolio.Quick(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, q, q.Summary)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start_date")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := queryTime(r, "end_date")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.deps.Portfolio.Performance(start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, rep)
}

func (s *Server) handleRecommenderStatus(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Coordinator.Registry().Get(agent.Recommender)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := map[string]any{
		"agent":                  a.Snapshot(),
		"recommendation_history": s.deps.Portfolio.History().Len(),
	}
	if last, ok := s.deps.Portfolio.History().Last(); ok {
		out["last_recommendation"] = last.GeneratedAt
	}
	s.ok(w, out)
}
