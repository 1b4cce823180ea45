package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
)

// Workflow names
const (
	FullMarketAnalysis        = "full_market_analysis"
	DataCollectionAndAnalysis = "data_collection_and_analysis"
	EmergencyAnalysis         = "emergency_analysis"
)

// Workflow states
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

var (
	// ErrUnknownWorkflow is returned when starting an undefined workflow
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrWorkflowNotFound is returned for unknown workflow ids
	ErrWorkflowNotFound = errors.New("workflow not found")
)

const workflowHistory = 100

// stepDef is one task of a workflow stage
type stepDef struct {
	agent    string
	taskType string
	priority agent.Priority
	payload  map[string]any
}

// Stages run in order; the steps of a stage run concurrently
var definitions = map[string][][]stepDef{
	FullMarketAnalysis: {
		{{agent: agent.Collector, taskType: agent.TaskCollectData, priority: agent.PriorityHigh}},
		{{agent: agent.Analyzer, taskType: agent.TaskAnalyze, priority: agent.PriorityHigh,
			payload: map[string]any{"analysis_type": analysis.TypeComprehensive}}},
	},
	DataCollectionAndAnalysis: {
		{{agent: agent.Collector, taskType: agent.TaskCollectData, priority: agent.PriorityMedium}},
		{{agent: agent.Analyzer, taskType: agent.TaskAnalyze, priority: agent.PriorityMedium,
			payload: map[string]any{"analysis_type": analysis.TypeCorrelation}}},
	},
	EmergencyAnalysis: {
		{
			{agent: agent.Analyzer, taskType: agent.TaskAnalyze, priority: agent.PriorityCritical,
				payload: map[string]any{"analysis_type": analysis.TypeCorrelation}},
			{agent: agent.Analyzer, taskType: agent.TaskAnalyze, priority: agent.PriorityCritical,
				payload: map[string]any{"analysis_type": analysis.TypeVolatility}},
			{agent: agent.Analyzer, taskType: agent.TaskAnalyze, priority: agent.PriorityCritical,
				payload: map[string]any{"analysis_type": analysis.TypeNetwork}},
		},
	},
}

// Workflows lists the workflow names
func Workflows() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Step is the state of one workflow task
type Step struct {
	Stage    int              `json:"stage"`
	Agent    string           `json:"agent"`
	TaskType string           `json:"task_type"`
	TaskID   string           `json:"task_id,omitempty"`
	Status   agent.TaskStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
}

// WorkflowStatus is a point in time view of a workflow
type WorkflowStatus struct {
	ID         string         `json:"workflow_id"`
	Name       string         `json:"workflow_name"`
	Status     string         `json:"status"`
	Params     map[string]any `json:"parameters,omitempty"`
	Steps      []Step         `json:"steps"`
	Completed  int            `json:"completed_tasks"`
	Total      int            `json:"total_tasks"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type workflow struct {
	id         string
	name       string
	params     map[string]any
	status     string
	steps      []Step
	startedAt  time.Time
	finishedAt time.Time
	err        string
}

// StartWorkflow launches a named workflow in the background.
// params are merged into every task payload.
func (c *Coordinator) StartWorkflow(name string, params map[string]any) (WorkflowStatus, error) {
	stages, ok := definitions[name]
	if !ok {
		return WorkflowStatus{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	if !c.running.Load() {
		return WorkflowStatus{}, agent.ErrStopped
	}
	wf := &workflow{
		id:        uuid.NewString(),
		name:      name,
		params:    params,
		status:    WorkflowRunning,
		startedAt: c.now().UTC(),
	}
	for i, stage := range stages {
		for _, def := range stage {
			wf.steps = append(wf.steps, Step{Stage: i, Agent: def.agent, TaskType: def.taskType, Status: agent.TaskPending})
		}
	}

	c.mu.Lock()
	c.workflows[wf.id] = wf
	c.trimWorkflowsLocked()
	ctx := c.runCtx()
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runWorkflow(ctx, wf, stages)
	}()

	c.logger.Info().Str("workflow_id", wf.id).Str("workflow", name).Int("tasks", len(wf.steps)).Msg("Workflow started")
	return c.WorkflowStatus(wf.id)
}

func (c *Coordinator) runWorkflow(ctx context.Context, wf *workflow, stages [][]stepDef) {
	offset := 0
	for _, stage := range stages {
		ids := make([]string, len(stage))
		failed := ""
		for j, def := range stage {
			payload := map[string]any{"workflow_id": wf.id}
			for k, v := range wf.params {
				payload[k] = v
			}
			for k, v := range def.payload {
				payload[k] = v
			}
			id, err := c.Submit(def.agent, agent.Task{
				Name:     wf.name + "_" + def.taskType,
				Type:     def.taskType,
				Priority: def.priority,
				Payload:  payload,
			})
			c.mu.Lock()
			if err != nil {
				wf.steps[offset+j].Status = agent.TaskFailed
				wf.steps[offset+j].Error = err.Error()
				failed = err.Error()
			} else {
				wf.steps[offset+j].TaskID = id
				wf.steps[offset+j].Status = agent.TaskRunning
			}
			c.mu.Unlock()
			ids[j] = id
		}

		for j, id := range ids {
			if id == "" {
				continue
			}
			a, err := c.registry.Get(stage[j].agent)
			if err != nil {
				failed = err.Error()
				continue
			}
			t, err := a.Wait(ctx, id)
			c.mu.Lock()
			switch {
			case err != nil:
				wf.steps[offset+j].Status = agent.TaskCancelled
				wf.steps[offset+j].Error = err.Error()
				failed = err.Error()
			default:
				wf.steps[offset+j].Status = t.Status
				wf.steps[offset+j].Error = t.Error
				if t.Status != agent.TaskCompleted {
					failed = fmt.Sprintf("%s %s: %s", t.Type, t.Status, t.Error)
				}
			}
			c.mu.Unlock()
		}

		offset += len(stage)
		if failed != "" {
			c.finishWorkflow(wf, WorkflowFailed, failed, offset)
			return
		}
	}
	c.finishWorkflow(wf, WorkflowCompleted, "", offset)
}

// finishWorkflow records the outcome; steps from skipFrom on never ran
func (c *Coordinator) finishWorkflow(wf *workflow, status, errMsg string, skipFrom int) {
	c.mu.Lock()
	for i := skipFrom; i < len(wf.steps); i++ {
		wf.steps[i].Status = agent.TaskCancelled
	}
	wf.status = status
	wf.err = errMsg
	wf.finishedAt = c.now().UTC()
	c.mu.Unlock()

	ev := c.logger.Info()
	if status == WorkflowFailed {
		ev = c.logger.Error().Str("error", errMsg)
	}
	ev.Str("workflow_id", wf.id).Str("workflow", wf.name).Dur("duration", wf.finishedAt.Sub(wf.startedAt)).Msg("Workflow " + status)
	c.bus.Publish("workflow_"+status, "coordinator", map[string]any{"workflow_id": wf.id, "workflow": wf.name})
}

// WorkflowStatus reports a workflow with the live status of its tasks
func (c *Coordinator) WorkflowStatus(id string) (WorkflowStatus, error) {
	c.mu.RLock()
	wf, ok := c.workflows[id]
	if !ok {
		c.mu.RUnlock()
		return WorkflowStatus{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	st := WorkflowStatus{
		ID:         wf.id,
		Name:       wf.name,
		Status:     wf.status,
		Params:     wf.params,
		Steps:      append([]Step(nil), wf.steps...),
		Total:      len(wf.steps),
		StartedAt:  wf.startedAt,
		FinishedAt: wf.finishedAt,
		Error:      wf.err,
	}
	c.mu.RUnlock()

	for i, s := range st.Steps {
		if s.TaskID != "" && !s.Status.Done() {
			if t, ok := c.Task(s.TaskID); ok {
				st.Steps[i].Status = t.Status
				st.Steps[i].Error = t.Error
			}
		}
		if st.Steps[i].Status == agent.TaskCompleted {
			st.Completed++
		}
	}
	return st, nil
}

// ListWorkflows returns known workflows, newest first
func (c *Coordinator) ListWorkflows() []WorkflowStatus {
	c.mu.RLock()
	ids := make([]string, 0, len(c.workflows))
	for id := range c.workflows {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	out := make([]WorkflowStatus, 0, len(ids))
	for _, id := range ids {
		if st, err := c.WorkflowStatus(id); err == nil {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// trimWorkflowsLocked forgets the oldest finished workflows beyond the history limit
func (c *Coordinator) trimWorkflowsLocked() {
	if len(c.workflows) <= workflowHistory {
		return
	}
	var finished []*workflow
	for _, wf := range c.workflows {
		if wf.status != WorkflowRunning {
			finished = append(finished, wf)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].startedAt.Before(finished[j].startedAt) })
	for _, wf := range finished {
		if len(c.workflows) <= workflowHistory {
			return
		}
		delete(c.workflows, wf.id)
	}
}
