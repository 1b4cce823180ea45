package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/coordinator"
)

// analysisRunners maps the analysis path segment to the analyzer call
var analysisRunners = map[string]func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error){
	analysis.TypeCorrelation: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Correlation(ctx, req)
	},
	analysis.TypeVolatility: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Volatility(ctx, req)
	},
	analysis.TypeCausality: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Causality(ctx, req)
	},
	analysis.TypeRegime: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Regime(ctx, req)
	},
	analysis.TypeNetwork: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Network(ctx, req)
	},
	analysis.TypePrediction: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Prediction(ctx, req)
	},
	analysis.TypeAnomaly: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Anomalies(ctx, req)
	},
	analysis.TypeComprehensive: func(ctx context.Context, a coordinator.Analyzer, req analysis.Request) (any, error) {
		return a.Comprehensive(ctx, req)
	},
}

func analysisCacheKey(kind string, req analysis.Request) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return "analysis:" + kind + ":" + hex.EncodeToString(sum[:8])
}

// handleAnalysis runs one analysis synchronously. Results are cached by
// request so repeated dashboard polls do not recompute models.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["type"]
	run, ok := analysisRunners[kind]
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: unknown analysis type %q", errBadRequest, kind))
		return
	}
	var req analysis.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Start.After(req.End) && !req.End.IsZero() {
		s.fail(w, r, fmt.Errorf("%w: start_date is after end_date", errBadRequest))
		return
	}

	ctx := r.Context()
	key := analysisCacheKey(kind, req)
	if s.deps.Cache != nil {
		b, hit, err := s.deps.Cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		}
		s.deps.Metrics.CacheLookup(hit)
		if hit {
			s.respond(w, http.StatusOK, json.RawMessage(b), "cached")
			return
		}
	}

	res, err := run(ctx, s.deps.Analyzer, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := s.deps.Cache.Set(ctx, key, b, s.cfg.CacheTTL); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Cache store failed")
			}
		}
	}
	s.respond(w, http.StatusOK, res, kind+" analysis completed")
}

type collectRequest struct {
	Priority agent.Priority `json:"priority"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Priority == 0 {
		req.Priority = agent.PriorityHigh
	}
	id, err := s.deps.Coordinator.Submit(agent.Collector, agent.Task{
		Name:     "manual collection",
		Type:     agent.TaskCollectData,
		Priority: req.Priority,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"task_id": id}, "data collection started")
}

type workflowRequest struct {
	Name       string         `json:"workflow_name" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.deps.Coordinator.StartWorkflow(req.Name, req.Parameters)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, st, "workflow started")
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Coordinator.WorkflowStatus(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, st)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{
		"available": coordinator.Workflows(),
		"workflows": s.deps.Coordinator.ListWorkflows(),
	})
}

type taskRequest struct {
	Agent    string         `json:"agent" validate:"required"`
	Type     string         `json:"task_type" validate:"required"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	Priority agent.Priority `json:"priority"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		req.Name = req.Type
	}
	id, err := s.deps.Coordinator.Submit(req.Agent, agent.Task{
		Name:     req.Name,
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: req.Priority,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"task_id": id, "agent": req.Agent}, "task submitted")
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.deps.Coordinator.Task(mux.Vars(r)["id"])
	if !ok {
		s.fail(w, r, agent.ErrTaskNotFound)
		return
	}
	s.ok(w, t)
}
