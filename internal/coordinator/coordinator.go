// Package coordinator wires the service layer into agents, routes bus
// messages between them and runs multi step workflows.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/alert"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
	"github.com/Alias1177/Correlator/models"
)

// Collector runs data collection
type Collector interface {
	Run(ctx context.Context) (models.ETLRun, error)
	Prune(ctx context.Context) (int64, error)
}

// Analyzer runs market analyses
type Analyzer interface {
	Correlation(ctx context.Context, req analysis.Request) (*analysis.CorrelationResult, error)
	Volatility(ctx context.Context, req analysis.Request) (*analysis.VolatilityResult, error)
	Causality(ctx context.Context, req analysis.Request) (*analysis.CausalityResult, error)
	Regime(ctx context.Context, req analysis.Request) (*analysis.RegimeResult, error)
	Network(ctx context.Context, req analysis.Request) (*analysis.NetworkResult, error)
	Prediction(ctx context.Context, req analysis.Request) (*analysis.PredictionResult, error)
	Anomalies(ctx context.Context, req analysis.Request) (*analysis.AnomalyResult, error)
	Comprehensive(ctx context.Context, req analysis.Request) (*analysis.ComprehensiveResult, error)
}

// Recommender builds portfolio recommendations
type Recommender interface {
	Generate(ctx context.Context, req portfolio.Request) (*portfolio.Recommendation, error)
}

// Reporter generates and prunes reports
type Reporter interface {
	Generate(ctx context.Context, req report.Request) (*report.Result, error)
	Cleanup(ctx context.Context, retentionDays int) (report.CleanupResult, error)
}

// Analyst produces LLM commentary
type Analyst interface {
	Available() bool
	MarketAnalysis(ctx context.Context, symbols []string, focus string) (*insight.Analysis, error)
	AnalyzeAnomaly(ctx context.Context, d models.AnomalyDetection) (*insight.Analysis, error)
	AnalyzeRegime(ctx context.Context, rc insight.RegimeChange) (*insight.Analysis, error)
	GenerateInsights(ctx context.Context, trigger string, data map[string]any) (*insight.Insights, error)
}

// AlertSender delivers a single alert
type AlertSender interface {
	SendAlert(ctx context.Context, a models.Alert) error
}

// Services are the backends behind the agents. Alerts, Notifier and Insight may be nil.
type Services struct {
	Collector   Collector
	Analyzer    Analyzer
	Recommender Recommender
	Reporter    Reporter
	Insight     Analyst
	Alerts      *alert.Manager
	Notifier    AlertSender
}

// Config sizes the agents
type Config struct {
	Agent         agent.Config
	Symbols       []string
	RetentionDays int
}

// Coordinator owns the agents, their message routes and running workflows
type Coordinator struct {
	svc      Services
	cfg      Config
	registry *agent.Registry
	bus      *agent.Bus
	metrics  *metrics.Registry

	mu         sync.RWMutex
	workflows  map[string]*workflow
	lastRegime *analysis.RegimeResult

	running atomic.Bool
	started time.Time
	ctx     context.Context
	unsubs  []func()
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now    func() time.Time
	logger zerolog.Logger
}

// New builds the five agents and registers their handlers
func New(svc Services, cfg Config, m *metrics.Registry) *Coordinator {
	c := &Coordinator{
		svc:       svc,
		cfg:       cfg,
		registry:  agent.NewRegistry(),
		bus:       agent.NewBus(),
		metrics:   m,
		workflows: map[string]*workflow{},
		now:       time.Now,
		logger:    log.With().Str("component", "coordinator").Logger(),
	}

	collector := agent.New(agent.Collector, cfg.Agent, m)
	collector.Handle(agent.TaskCollectData, c.collect)

	analyzer := agent.New(agent.Analyzer, cfg.Agent, m)
	analyzer.Handle(agent.TaskAnalyze, c.analyze)

	recommender := agent.New(agent.Recommender, cfg.Agent, m)
	recommender.Handle(agent.TaskRecommend, c.recommend)

	reporter := agent.New(agent.Reporter, cfg.Agent, m)
	reporter.Handle(agent.TaskGenerateReport, c.generateReport)
	reporter.Handle(agent.TaskSendAlert, c.sendAlert)
	reporter.Handle(agent.TaskHealthCheck, c.healthCheck)
	reporter.Handle(agent.TaskCleanup, c.cleanup)

	analyst := agent.New(agent.Insight, cfg.Agent, m)
	analyst.Handle(agent.TaskInsightAnalysis, c.insight)

	for _, a := range []*agent.Agent{collector, analyzer, recommender, reporter, analyst} {
		// names are fixed and distinct
		_ = c.registry.Register(a)
	}

	if svc.Alerts != nil {
		svc.Alerts.Subscribe(c.publishAlert)
	}
	return c
}

// Registry returns the agent registry
func (c *Coordinator) Registry() *agent.Registry { return c.registry }

// Bus returns the message bus shared by the agents
func (c *Coordinator) Bus() *agent.Bus { return c.bus }

// Start launches the agents and the message routes
func (c *Coordinator) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	c.mu.Unlock()
	c.started = c.now()
	c.registry.StartAll(ctx)

	c.unsubs = []func(){
		c.bus.On(agent.TopicDataCollected, c.onDataCollected),
		c.bus.On(agent.TopicAlert, c.onAlert),
		c.bus.On(agent.TopicRegimeChange, c.onRegimeChange),
		c.bus.On(agent.TopicAnomaly, c.onAnomaly),
	}
	c.logger.Info().Int("agents", len(c.registry.All())).Msg("Coordinator started")
}

// Stop ends the routes, cancels running workflows and stops the agents
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	for _, unsubscribe := range c.unsubs {
		unsubscribe()
	}
	c.unsubs = nil
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := c.registry.StopAll(ctx)
	c.logger.Info().Msg("Coordinator stopped")
	return err
}

// Submit queues a task on the named agent
func (c *Coordinator) Submit(agentName string, t agent.Task) (string, error) {
	a, err := c.registry.Get(agentName)
	if err != nil {
		return "", err
	}
	return a.Submit(t)
}

// Task finds a task on any agent
func (c *Coordinator) Task(id string) (agent.Task, bool) {
	t, _, ok := c.registry.FindTask(id)
	return t, ok
}

// Dispatch runs a scheduled job on its agent and waits for the outcome
func (c *Coordinator) Dispatch(ctx context.Context, job scheduler.Job) error {
	a, err := c.registry.Get(job.Agent)
	if err != nil {
		return err
	}
	payload := make(map[string]any, len(job.Payload)+1)
	for k, v := range job.Payload {
		payload[k] = v
	}
	payload["job_id"] = job.ID
	id, err := a.Submit(agent.Task{Name: job.Name, Type: job.TaskType, Priority: job.Priority, Payload: payload})
	if err != nil {
		return fmt.Errorf("submitting job %s: %w", job.Name, err)
	}
	t, err := a.Wait(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != agent.TaskCompleted {
		return fmt.Errorf("job %s %s: %s", job.Name, t.Status, t.Error)
	}
	return nil
}

// publishAlert forwards raised alerts onto the bus
func (c *Coordinator) publishAlert(a models.Alert) {
	c.bus.Publish(agent.TopicAlert, "alerts", a)
	switch a.Type {
	case models.AlertRegimeChange:
		c.bus.Publish(agent.TopicRegimeChange, "alerts", a)
	case models.AlertAnomaly:
		c.bus.Publish(agent.TopicAnomaly, "alerts", a)
	}
}

func (c *Coordinator) route(agentName string, t agent.Task) {
	if _, err := c.Submit(agentName, t); err != nil {
		c.logger.Warn().Err(err).Str("agent", agentName).Str("type", t.Type).Msg("Failed to route message")
	}
}

func (c *Coordinator) onDataCollected(msg agent.Message) {
	c.route(agent.Analyzer, agent.Task{
		Name:     "post_collection_correlation",
		Type:     agent.TaskAnalyze,
		Priority: agent.PriorityMedium,
		Payload:  map[string]any{"analysis_type": analysis.TypeCorrelation},
	})
}

func (c *Coordinator) onAlert(msg agent.Message) {
	a, ok := msg.Payload.(models.Alert)
	if !ok {
		return
	}
	priority := agent.PriorityMedium
	if a.Severity == models.SeverityHigh {
		priority = agent.PriorityHigh
	}
	c.route(agent.Reporter, agent.Task{
		Name:     "notify_" + a.Type,
		Type:     agent.TaskSendAlert,
		Priority: priority,
		Payload:  map[string]any{"alert": a},
	})
}

func (c *Coordinator) onRegimeChange(msg agent.Message) {
	a, ok := msg.Payload.(models.Alert)
	if !ok {
		return
	}
	c.route(agent.Insight, agent.Task{
		Name:     "regime_commentary",
		Type:     agent.TaskInsightAnalysis,
		Priority: agent.PriorityHigh,
		Payload: map[string]any{
			"insight_type": insight.TypeRegime,
			"universe":     a.Subject,
			"probability":  a.Value,
		},
	})
}

func (c *Coordinator) onAnomaly(msg agent.Message) {
	a, ok := msg.Payload.(models.Alert)
	if !ok {
		return
	}
	c.route(agent.Insight, agent.Task{
		Name:     "anomaly_commentary",
		Type:     agent.TaskInsightAnalysis,
		Priority: agent.PriorityMedium,
		Payload: map[string]any{
			"insight_type": insight.TypeAnomaly,
			"symbol":       a.Subject,
			"score":        a.Value,
			"details":      a.Message,
			"date":         a.CreatedAt,
		},
	})
}

// SystemStatus summarises the coordinator and its agents
type SystemStatus struct {
	Running         bool             `json:"running"`
	Uptime          string           `json:"uptime"`
	Healthy         bool             `json:"healthy"`
	Agents          []agent.Snapshot `json:"agents"`
	ActiveWorkflows int              `json:"active_workflows"`
	TotalWorkflows  int              `json:"total_workflows"`
	DroppedMessages int64            `json:"dropped_messages"`
}

// Status describes the system
func (c *Coordinator) Status() SystemStatus {
	st := SystemStatus{
		Running:         c.running.Load(),
		Healthy:         c.registry.Healthy(),
		Agents:          c.registry.Snapshots(),
		DroppedMessages: c.bus.Dropped(),
	}
	if st.Running {
		st.Uptime = c.now().Sub(c.started).Round(time.Second).String()
	}
	c.mu.RLock()
	for _, wf := range c.workflows {
		st.TotalWorkflows++
		if wf.status == WorkflowRunning {
			st.ActiveWorkflows++
		}
	}
	c.mu.RUnlock()
	return st
}

// Health is the per agent health summary
type Health struct {
	Status string          `json:"status"`
	Agents map[string]bool `json:"agents"`
}

// Health reports healthy when every agent is healthy
func (c *Coordinator) Health() Health {
	h := Health{Status: "healthy", Agents: map[string]bool{}}
	for _, a := range c.registry.All() {
		ok := a.Healthy()
		h.Agents[a.Name()] = ok
		if !ok {
			h.Status = "degraded"
		}
	}
	if !c.running.Load() {
		h.Status = "stopped"
	}
	return h
}

// runCtx is the context workflows run under; callers hold c.mu
func (c *Coordinator) runCtx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

var errNoService = errors.New("service not configured")
