package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/Correlator/internal/analysis/network"
)

// ComprehensiveResult combines every analysis; sections that failed are listed in Errors
type ComprehensiveResult struct {
	Symbols      []string           `json:"symbols"`
	Start        time.Time          `json:"start_date"`
	End          time.Time          `json:"end_date"`
	Observations int                `json:"observations"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Correlation  *CorrelationResult `json:"correlation,omitempty"`
	Volatility   *VolatilityResult  `json:"volatility,omitempty"`
	Causality    *CausalityResult   `json:"causality,omitempty"`
	Regime       *RegimeResult      `json:"regime,omitempty"`
	Network      *NetworkResult     `json:"network,omitempty"`
	Prediction   *PredictionResult  `json:"prediction,omitempty"`
	Anomalies    *AnomalyResult     `json:"anomalies,omitempty"`
	Errors       map[string]string  `json:"errors,omitempty"`
}

// Completed lists the sections that produced a result
func (r *ComprehensiveResult) Completed() []string {
	var out []string
	if r.Correlation != nil {
		out = append(out, TypeCorrelation)
	}
	if r.Volatility != nil {
		out = append(out, TypeVolatility)
	}
	if r.Causality != nil {
		out = append(out, TypeCausality)
	}
	if r.Regime != nil {
		out = append(out, TypeRegime)
	}
	if r.Network != nil {
		out = append(out, TypeNetwork)
	}
	if r.Prediction != nil {
		out = append(out, TypePrediction)
	}
	if r.Anomalies != nil {
		out = append(out, TypeAnomaly)
	}
	return out
}

// Comprehensive runs every analysis over one data load. It fails only when
// the data cannot be loaded or every section fails.
func (a *Analyzer) Comprehensive(ctx context.Context, req Request) (*ComprehensiveResult, error) {
	return run(ctx, a, TypeComprehensive, req, a.comprehensive)
}

func (a *Analyzer) comprehensive(ctx context.Context, ds *dataset, req Request) (*ComprehensiveResult, error) {
	res := &ComprehensiveResult{
		Symbols:      ds.symbols,
		Observations: ds.returns.Len(),
		GeneratedAt:  a.now().UTC(),
		Errors:       map[string]string{},
	}
	if ds.returns.Len() > 0 {
		res.Start, res.End = ds.returns.Dates[0], ds.returns.Last()
	}

	var mu sync.Mutex
	fail := func(section string, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Errors[section] = err.Error()
		a.logger.Warn().Err(err).Str("section", section).Msg("Analysis section failed")
	}

	// Sections record their own failures so one error never cancels the others
	var g errgroup.Group
	g.Go(func() error {
		r, err := a.correlation(ctx, ds, req)
		if err != nil {
			fail(TypeCorrelation, err)
			return nil
		}
		res.Correlation = r
		return nil
	})
	g.Go(func() error {
		r, err := a.volatility(ctx, ds, req)
		if err != nil {
			fail(TypeVolatility, err)
			return nil
		}
		res.Volatility = r
		return nil
	})
	g.Go(func() error {
		r, err := a.causality(ctx, ds, req)
		if err != nil {
			fail(TypeCausality, err)
			return nil
		}
		res.Causality = r
		return nil
	})
	g.Go(func() error {
		r, err := a.regime(ctx, ds, req)
		if err != nil {
			fail(TypeRegime, err)
			return nil
		}
		res.Regime = r
		return nil
	})
	g.Go(func() error {
		r, err := a.prediction(ctx, ds, req)
		if err != nil {
			fail(TypePrediction, err)
			return nil
		}
		res.Prediction = r
		return nil
	})
	g.Go(func() error {
		r, err := a.anomalies(ctx, ds, req)
		if err != nil {
			fail(TypeAnomaly, err)
			return nil
		}
		res.Anomalies = r
		return nil
	})
	_ = g.Wait()

	// the network reuses the correlation matrix when the method matches
	if res.Correlation != nil && res.Correlation.matrix != nil {
		threshold := req.Threshold
		if threshold <= 0 {
			threshold = a.cfg.NetworkThreshold
		}
		n := network.Build(res.Correlation.matrix, threshold)
		res.Network = &NetworkResult{Network: n, RiskLevel: n.RiskLevel()}
	} else if r, err := a.network(ctx, ds, req); err != nil {
		fail(TypeNetwork, err)
	} else {
		res.Network = r
	}

	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	if len(res.Completed()) == 0 {
		return nil, fmt.Errorf("every analysis section failed: %v", res.Errors)
	}
	return res, nil
}
