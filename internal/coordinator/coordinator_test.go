package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/alert"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/analysis/regime"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/internal/scheduler"
	"github.com/Alias1177/Correlator/models"
)

type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

func (c *calls) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.names {
		if s == name {
			n++
		}
	}
	return n
}

type fakeCollector struct {
	*calls
	err error
}

func (f fakeCollector) Run(context.Context) (models.ETLRun, error) {
	f.add("collect")
	if f.err != nil {
		return models.ETLRun{}, f.err
	}
	return models.ETLRun{ID: "run-1", Status: models.RunStatusSuccess, RecordsLoaded: 42}, nil
}

func (f fakeCollector) Prune(context.Context) (int64, error) {
	f.add("prune")
	return 7, nil
}

type fakeAnalyzer struct {
	*calls
}

func (f fakeAnalyzer) Correlation(_ context.Context, req analysis.Request) (*analysis.CorrelationResult, error) {
	f.add(analysis.TypeCorrelation)
	return &analysis.CorrelationResult{Symbols: req.Symbols}, nil
}

func (f fakeAnalyzer) Volatility(context.Context, analysis.Request) (*analysis.VolatilityResult, error) {
	f.add(analysis.TypeVolatility)
	return &analysis.VolatilityResult{}, nil
}

func (f fakeAnalyzer) Causality(context.Context, analysis.Request) (*analysis.CausalityResult, error) {
	f.add(analysis.TypeCausality)
	return &analysis.CausalityResult{}, nil
}

func (f fakeAnalyzer) Regime(context.Context, analysis.Request) (*analysis.RegimeResult, error) {
	f.add(analysis.TypeRegime)
	return &analysis.RegimeResult{Result: &regime.Result{
		Current:       "bull",
		Probabilities: map[string]float64{"bull": 0.1, "bear": 0.7, "sideways": 0.2},
	}}, nil
}

func (f fakeAnalyzer) Network(context.Context, analysis.Request) (*analysis.NetworkResult, error) {
	f.add(analysis.TypeNetwork)
	return nil, errors.New("graph too sparse")
}

func (f fakeAnalyzer) Prediction(context.Context, analysis.Request) (*analysis.PredictionResult, error) {
	f.add(analysis.TypePrediction)
	return &analysis.PredictionResult{}, nil
}

func (f fakeAnalyzer) Anomalies(context.Context, analysis.Request) (*analysis.AnomalyResult, error) {
	f.add(analysis.TypeAnomaly)
	return &analysis.AnomalyResult{}, nil
}

func (f fakeAnalyzer) Comprehensive(_ context.Context, req analysis.Request) (*analysis.ComprehensiveResult, error) {
	f.add(analysis.TypeComprehensive)
	return &analysis.ComprehensiveResult{Symbols: req.Symbols}, nil
}

type fakeReporter struct {
	*calls
}

func (f fakeReporter) Generate(_ context.Context, req report.Request) (*report.Result, error) {
	f.add("report:" + req.Type)
	if req.Type == "broken" {
		return nil, report.ErrUnknownType
	}
	return &report.Result{Report: models.Report{ID: "r1", Type: req.Type}}, nil
}

func (f fakeReporter) Cleanup(context.Context, int) (report.CleanupResult, error) {
	f.add("cleanup")
	return report.CleanupResult{Files: 2}, nil
}

type fakeRecommender struct{}

func (fakeRecommender) Generate(_ context.Context, req portfolio.Request) (*portfolio.Recommendation, error) {
	return &portfolio.Recommendation{Strategy: req.Strategy, Allocation: req.Portfolio}, nil
}

type fakeAnalyst struct {
	mu      sync.Mutex
	regimes []insight.RegimeChange
	symbols []string
}

func (f *fakeAnalyst) Available() bool { return true }

func (f *fakeAnalyst) MarketAnalysis(_ context.Context, symbols []string, _ string) (*insight.Analysis, error) {
	return &insight.Analysis{Type: insight.TypeMarket, Symbols: symbols}, nil
}

func (f *fakeAnalyst) AnalyzeAnomaly(_ context.Context, d models.AnomalyDetection) (*insight.Analysis, error) {
	f.mu.Lock()
	f.symbols = append(f.symbols, d.Symbol)
	f.mu.Unlock()
	return &insight.Analysis{Type: insight.TypeAnomaly}, nil
}

func (f *fakeAnalyst) AnalyzeRegime(_ context.Context, rc insight.RegimeChange) (*insight.Analysis, error) {
	f.mu.Lock()
	f.regimes = append(f.regimes, rc)
	f.mu.Unlock()
	return &insight.Analysis{Type: insight.TypeRegime}, nil
}

func (f *fakeAnalyst) GenerateInsights(_ context.Context, trigger string, _ map[string]any) (*insight.Insights, error) {
	return &insight.Insights{Trigger: trigger}, nil
}

func (f *fakeAnalyst) seen() ([]insight.RegimeChange, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insight.RegimeChange(nil), f.regimes...), append([]string(nil), f.symbols...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []models.Alert
}

func (f *fakeSender) SendAlert(_ context.Context, a models.Alert) error {
	f.mu.Lock()
	f.sent = append(f.sent, a)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	coord   *Coordinator
	calls   *calls
	alerts  *alert.Manager
	sender  *fakeSender
	analyst *fakeAnalyst
}

func newFixture(t *testing.T, collectErr error) *fixture {
	t.Helper()
	f := &fixture{
		calls:   &calls{},
		alerts:  alert.NewManager(alert.Thresholds{}, alert.Options{}),
		sender:  &fakeSender{},
		analyst: &fakeAnalyst{},
	}
	f.coord = New(Services{
		Collector:   fakeCollector{calls: f.calls, err: collectErr},
		Analyzer:    fakeAnalyzer{calls: f.calls},
		Recommender: fakeRecommender{},
		Reporter:    fakeReporter{calls: f.calls},
		Insight:     f.analyst,
		Alerts:      f.alerts,
		Notifier:    f.sender,
	}, Config{
		Agent:   agent.Config{Workers: 2, TaskTimeout: 5 * time.Second, RetryDelay: 10 * time.Millisecond},
		Symbols: []string{"AAPL", "MSFT"},
	}, nil)
	f.coord.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, f.coord.Stop(ctx))
	})
	return f
}

func waitWorkflow(t *testing.T, c *Coordinator, id string) WorkflowStatus {
	t.Helper()
	var st WorkflowStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = c.WorkflowStatus(id)
		return err == nil && st.Status != WorkflowRunning
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestFullMarketAnalysisWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	st, err := f.coord.StartWorkflow(FullMarketAnalysis, map[string]any{"symbols": []string{"BTC", "ETH"}})
	require.NoError(t, err)
	assert.Equal(t, FullMarketAnalysis, st.Name)
	assert.Equal(t, 2, st.Total)

	st = waitWorkflow(t, f.coord, st.ID)
	assert.Equal(t, WorkflowCompleted, st.Status)
	assert.Equal(t, 2, st.Completed)
	for _, s := range st.Steps {
		assert.Equal(t, agent.TaskCompleted, s.Status)
		assert.NotEmpty(t, s.TaskID)
	}
	assert.Equal(t, 1, f.calls.count("collect"))
	assert.Equal(t, 1, f.calls.count(analysis.TypeComprehensive))

	task, ok := f.coord.Task(st.Steps[1].TaskID)
	require.True(t, ok)
	res, ok := task.Result.(*analysis.ComprehensiveResult)
	require.True(t, ok)
	assert.Equal(t, []string{"BTC", "ETH"}, res.Symbols)

	// collection inside a workflow does not trigger the standalone follow-up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.calls.count(analysis.TypeCorrelation))
}

func TestWorkflowFailureSkipsLaterStages(t *testing.T) {
	f := newFixture(t, errors.New("yahoo unavailable"))

	st, err := f.coord.StartWorkflow(DataCollectionAndAnalysis, nil)
	require.NoError(t, err)
	st = waitWorkflow(t, f.coord, st.ID)

	assert.Equal(t, WorkflowFailed, st.Status)
	assert.Contains(t, st.Error, "yahoo unavailable")
	assert.Equal(t, agent.TaskFailed, st.Steps[0].Status)
	assert.Equal(t, agent.TaskCancelled, st.Steps[1].Status)
	assert.Empty(t, st.Steps[1].TaskID)
	assert.Equal(t, 0, f.calls.count(analysis.TypeCorrelation))
}

func TestEmergencyAnalysisRunsConcurrentSteps(t *testing.T) {
	f := newFixture(t, nil)

	st, err := f.coord.StartWorkflow(EmergencyAnalysis, nil)
	require.NoError(t, err)
	st = waitWorkflow(t, f.coord, st.ID)

	// the network step fails in the fake analyzer
	assert.Equal(t, WorkflowFailed, st.Status)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, f.calls.count(analysis.TypeCorrelation))
	assert.Equal(t, 1, f.calls.count(analysis.TypeVolatility))
	assert.Equal(t, 1, f.calls.count(analysis.TypeNetwork))
}

func TestWorkflowErrors(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.coord.StartWorkflow("weekend_trading", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	_, err = f.coord.WorkflowStatus("missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	assert.Equal(t, []string{DataCollectionAndAnalysis, EmergencyAnalysis, FullMarketAnalysis}, Workflows())
}

func TestDataCollectedTriggersAnalysis(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.coord.Submit(agent.Collector, agent.Task{Type: agent.TaskCollectData})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.calls.count(analysis.TypeCorrelation) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAlertsRouteToNotifierAndInsight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// a regime analysis first so the commentary knows the current regime
	id, err := f.coord.Submit(agent.Analyzer, agent.Task{Type: agent.TaskAnalyze, Payload: map[string]any{"analysis_type": analysis.TypeRegime}})
	require.NoError(t, err)
	a, err := f.coord.Registry().Get(agent.Analyzer)
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = a.Wait(wctx, id)
	require.NoError(t, err)

	require.True(t, f.alerts.RegimeChange(ctx, "default", "bull", 0.85))
	require.True(t, f.alerts.Anomaly(ctx, models.AnomalyDetection{Symbol: "TSLA", IsAnomaly: true, AnomalyScore: 0.95, AnomalyType: "PRICE_SPIKE"}))

	assert.Eventually(t, func() bool { return f.sender.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		regimes, symbols := f.analyst.seen()
		return len(regimes) == 1 && len(symbols) == 1
	}, 5*time.Second, 10*time.Millisecond)

	regimes, symbols := f.analyst.seen()
	assert.Equal(t, "default", regimes[0].Universe)
	assert.Equal(t, "bull", regimes[0].From)
	assert.Equal(t, "bear", regimes[0].To)
	assert.InDelta(t, 0.85, regimes[0].Probability, 1e-9)
	assert.Equal(t, []string{"TSLA"}, symbols)
}

func TestDispatchScheduledJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, job := range scheduler.DefaultJobs() {
		if job.Agent != agent.Reporter {
			continue
		}
		require.NoError(t, f.coord.Dispatch(ctx, job), job.Name)
	}
	assert.Equal(t, 1, f.calls.count("report:daily_summary"))
	assert.Equal(t, 1, f.calls.count("cleanup"))
	assert.Equal(t, 1, f.calls.count("prune"))

	err := f.coord.Dispatch(ctx, scheduler.Job{Name: "bad", Agent: agent.Reporter, TaskType: agent.TaskGenerateReport, Payload: map[string]any{"report_type": "broken"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	err = f.coord.Dispatch(ctx, scheduler.Job{Name: "ghost", Agent: "trader", TaskType: agent.TaskAnalyze})
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestRecommendTask(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.coord.Submit(agent.Recommender, agent.Task{Type: agent.TaskRecommend, Payload: map[string]any{
		"strategy":  "balanced",
		"portfolio": map[string]any{"AAPL": 0.6, "MSFT": 0.4},
	}})
	require.NoError(t, err)
	a, err := f.coord.Registry().Get(agent.Recommender)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := a.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, agent.TaskCompleted, task.Status)
	rec := task.Result.(*portfolio.Recommendation)
	assert.Equal(t, "balanced", rec.Strategy)
	assert.Equal(t, map[string]float64{"AAPL": 0.6, "MSFT": 0.4}, rec.Allocation)
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture(t, nil)

	st := f.coord.Status()
	assert.True(t, st.Running)
	assert.True(t, st.Healthy)
	assert.Len(t, st.Agents, 5)

	h := f.coord.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Len(t, h.Agents, 5)
	assert.True(t, h.Agents[agent.Insight])
}
