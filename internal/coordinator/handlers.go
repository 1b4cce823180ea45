package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/Alias1177/Correlator/internal/agent"
	"github.com/Alias1177/Correlator/internal/analysis"
	"github.com/Alias1177/Correlator/internal/insight"
	"github.com/Alias1177/Correlator/internal/portfolio"
	"github.com/Alias1177/Correlator/internal/report"
	"github.com/Alias1177/Correlator/models"
)

func (c *Coordinator) collect(ctx context.Context, t agent.Task) (any, error) {
	if c.svc.Collector == nil {
		return nil, fmt.Errorf("collector: %w", errNoService)
	}
	run, err := c.svc.Collector.Run(ctx)
	if err != nil {
		return nil, err
	}
	// workflows schedule their own follow-up analysis
	if t.PayloadString("workflow_id") == "" {
		c.bus.Publish(agent.TopicDataCollected, agent.Collector, run)
	}
	return run, nil
}

func analysisRequest(t agent.Task, symbols []string) analysis.Request {
	req := analysis.Request{
		Symbols: t.PayloadStrings("symbols"),
		Method:  t.PayloadString("method"),
		Window:  t.PayloadInt("window", 0),
		Lags:    t.PayloadInt("lags", 0),
		Regimes: t.PayloadInt("regimes", 0),
		Horizon: t.PayloadInt("horizon", 0),
	}
	if len(req.Symbols) == 0 {
		req.Symbols = symbols
	}
	if th, ok := t.PayloadFloat("threshold"); ok {
		req.Threshold = th
	}
	if days := t.PayloadInt("lookback_days", 0); days > 0 {
		req.Start = time.Now().UTC().AddDate(0, 0, -days)
	}
	return req
}

func (c *Coordinator) analyze(ctx context.Context, t agent.Task) (any, error) {
	if c.svc.Analyzer == nil {
		return nil, fmt.Errorf("analyzer: %w", errNoService)
	}
	kind := t.PayloadString("analysis_type")
	if kind == "" {
		kind = analysis.TypeComprehensive
	}
	req := analysisRequest(t, c.cfg.Symbols)
	a := c.svc.Analyzer

	var (
		result any
		err    error
	)
	switch kind {
	case analysis.TypeCorrelation:
		result, err = a.Correlation(ctx, req)
	case analysis.TypeVolatility:
		result, err = a.Volatility(ctx, req)
	case analysis.TypeCausality:
		result, err = a.Causality(ctx, req)
	case analysis.TypeRegime:
		var r *analysis.RegimeResult
		r, err = a.Regime(ctx, req)
		if err == nil {
			c.rememberRegime(r)
		}
		result = r
	case analysis.TypeNetwork:
		result, err = a.Network(ctx, req)
	case analysis.TypePrediction:
		result, err = a.Prediction(ctx, req)
	case analysis.TypeAnomaly:
		result, err = a.Anomalies(ctx, req)
	case analysis.TypeComprehensive:
		var r *analysis.ComprehensiveResult
		r, err = a.Comprehensive(ctx, req)
		if err == nil {
			c.rememberRegime(r.Regime)
		}
		result = r
	default:
		return nil, fmt.Errorf("unknown analysis type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s analysis: %w", kind, err)
	}
	c.bus.Publish(agent.TopicAnalysisCompleted, agent.Analyzer, map[string]any{
		"analysis_type": kind,
		"symbols":       req.Symbols,
		"task_id":       t.ID,
	})
	return result, nil
}

func (c *Coordinator) rememberRegime(r *analysis.RegimeResult) {
	if r == nil || r.Result == nil {
		return
	}
	c.mu.Lock()
	c.lastRegime = r
	c.mu.Unlock()
}

func (c *Coordinator) recommend(ctx context.Context, t agent.Task) (any, error) {
	if c.svc.Recommender == nil {
		return nil, fmt.Errorf("recommender: %w", errNoService)
	}
	req := portfolio.Request{
		Universe: t.PayloadStrings("universe"),
		Strategy: t.PayloadString("strategy"),
	}
	switch p := t.Payload["portfolio"].(type) {
	case map[string]float64:
		req.Portfolio = p
	case map[string]any:
		req.Portfolio = make(map[string]float64, len(p))
		for sym, w := range p {
			if f, ok := w.(float64); ok {
				req.Portfolio[sym] = f
			}
		}
	}
	return c.svc.Recommender.Generate(ctx, req)
}

func (c *Coordinator) generateReport(ctx context.Context, t agent.Task) (any, error) {
	if c.svc.Reporter == nil {
		return nil, fmt.Errorf("reporter: %w", errNoService)
	}
	res, err := c.svc.Reporter.Generate(ctx, report.Request{
		Type:    t.PayloadString("report_type"),
		Symbols: t.PayloadStrings("symbols"),
		Notify:  true,
	})
	if err != nil {
		return nil, err
	}
	c.bus.Publish(agent.TopicReportGenerated, agent.Reporter, res.Report)
	return res, nil
}

func (c *Coordinator) sendAlert(ctx context.Context, t agent.Task) (any, error) {
	a, ok := t.Payload["alert"].(models.Alert)
	if !ok {
		return nil, fmt.Errorf("task %s carries no alert", t.ID)
	}
	if c.svc.Notifier == nil {
		return map[string]any{"alert_id": a.ID, "sent": false}, nil
	}
	if err := c.svc.Notifier.SendAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("sending alert %s: %w", a.ID, err)
	}
	return map[string]any{"alert_id": a.ID, "sent": true}, nil
}

func (c *Coordinator) healthCheck(_ context.Context, _ agent.Task) (any, error) {
	h := c.Health()
	for name, ok := range h.Agents {
		if !ok {
			c.logger.Warn().Str("agent", name).Msg("Agent unhealthy")
		}
	}
	return h, nil
}

func (c *Coordinator) cleanup(ctx context.Context, t agent.Task) (any, error) {
	days := t.PayloadInt("retention_days", c.cfg.RetentionDays)
	out := map[string]any{}
	if c.svc.Reporter != nil {
		res, err := c.svc.Reporter.Cleanup(ctx, days)
		if err != nil {
			return nil, err
		}
		out["reports"] = res
	}
	if c.svc.Collector != nil {
		n, err := c.svc.Collector.Prune(ctx)
		if err != nil {
			return nil, fmt.Errorf("pruning market data: %w", err)
		}
		out["market_rows"] = n
	}
	c.svc.Alerts.Prune()
	c.logger.Info().Interface("result", out).Msg("Cleanup finished")
	return out, nil
}

func (c *Coordinator) insight(ctx context.Context, t agent.Task) (any, error) {
	if c.svc.Insight == nil || !c.svc.Insight.Available() {
		return map[string]any{"skipped": "llm provider not configured"}, nil
	}
	an := c.svc.Insight
	switch kind := t.PayloadString("insight_type"); kind {
	case insight.TypeRegime:
		rc := insight.RegimeChange{Universe: t.PayloadString("universe")}
		rc.Probability, _ = t.PayloadFloat("probability")
		c.mu.RLock()
		if r := c.lastRegime; r != nil {
			rc.From = r.Current
			rc.Regimes = r.Probabilities
			rc.To = likeliestOther(r.Probabilities, r.Current)
		}
		c.mu.RUnlock()
		return an.AnalyzeRegime(ctx, rc)
	case insight.TypeAnomaly:
		d := models.AnomalyDetection{
			Symbol:    t.PayloadString("symbol"),
			IsAnomaly: true,
			Details:   t.PayloadString("details"),
		}
		d.AnomalyScore, _ = t.PayloadFloat("score")
		if ts, ok := t.Payload["date"].(time.Time); ok {
			d.Date = ts
		}
		return an.AnalyzeAnomaly(ctx, d)
	case insight.TypeInsights:
		data, _ := t.Payload["data"].(map[string]any)
		return an.GenerateInsights(ctx, t.PayloadString("trigger"), data)
	case "", insight.TypeMarket:
		symbols := t.PayloadStrings("symbols")
		if len(symbols) == 0 {
			symbols = c.cfg.Symbols
		}
		return an.MarketAnalysis(ctx, symbols, t.PayloadString("focus"))
	default:
		return nil, fmt.Errorf("unknown insight type %q", kind)
	}
}

func likeliestOther(probs map[string]float64, current string) string {
	best, bestP := "", -1.0
	for label, p := range probs {
		if label != current && p > bestP {
			best, bestP = label, p
		}
	}
	return best
}
