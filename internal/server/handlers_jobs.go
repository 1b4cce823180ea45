package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
)

var errNoScheduler = errors.New("scheduler is not running")

func (s *Server) scheduler(w http.ResponseWriter, r *http.Request) (*scheduler.Scheduler, bool) {
	if s.deps.Scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, errNoScheduler)
		return nil, false
	}
	return s.deps.Scheduler, true
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	s.ok(w, map[string]any{"jobs": sch.List(), "status": sch.Status()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	job, err := sch.Get(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, job)
}

type jobRequest struct {
	Name     string             `json:"name" validate:"required,max=100"`
	Schedule scheduler.Schedule `json:"schedule"`
	Agent    string             `json:"agent" validate:"required"`
	TaskType string             `json:"task_type" validate:"required"`
	Payload  map[string]any     `json:"payload"`
	Priority agent.Priority     `json:"priority"`
	Enabled  *bool              `json:"enabled"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	var req jobRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Schedule.Validate(); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	a, err := s.deps.Coordinator.Registry().Get(req.Agent)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if !a.Handles(req.TaskType) {
		s.fail(w, r, fmt.Errorf("%w: agent %s does not handle %s", errBadRequest, req.Agent, req.TaskType))
		return
	}
	job := scheduler.Job{
		Name:     req.Name,
		Schedule: req.Schedule,
		Agent:    req.Agent,
		TaskType: req.TaskType,
		Payload:  req.Payload,
		Priority: req.Priority,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}
	job, err = sch.Add(job)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, job, "job created")
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	if err := sch.Remove(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, nil, "job removed")
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := sch.RunNow(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			s.fail(w, r, err)
			return
		}
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"job_id": id}, "job started")
}

func (s *Server) handleEnableJob(w http.ResponseWriter, r *http.Request) {
	s.toggleJob(w, r, true)
}

func (s *Server) handleDisableJob(w http.ResponseWriter, r *http.Request) {
	s.toggleJob(w, r, false)
}

func (s *Server) toggleJob(w http.ResponseWriter, r *http.Request, enable bool) {
	sch, ok := s.scheduler(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var err error
	if enable {
		err = sch.Enable(id)
	} else {
		err = sch.Disable(id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := sch.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, job)
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req report.Request
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Reports.Generate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, res, res.Summary)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 500)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reports, err := s.deps.Reports.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"reports": reports, "count": len(reports)})
}

// handleGetReport returns a stored report as JSON, markdown or HTML (?format=)
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, md, err := s.deps.Reports.Markdown(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch r.URL.Query().Get("format") {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(md))
	case "html":
		body, err := s.deps.Reports.HTML(rep.Title, md)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(body)
	default:
		s.ok(w, map[string]any{"report": rep, "markdown": md})
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req report.ExportRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Reports.Export(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, res, fmt.Sprintf("exported %d records", res.Records))
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"omitempty,min=1,max=3650"`
}

func (s *Server) handleReportCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Reports.Cleanup(r.Context(), req.RetentionDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, res)
}
