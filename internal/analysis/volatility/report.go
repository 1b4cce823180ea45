package volatility

import (
	"math"
	"sort"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// Report is the volatility assessment of one symbol
type Report struct {
	Symbol             string    `json:"symbol"`
	Model              *GARCH    `json:"model"`
	CurrentAnnualized  float64   `json:"current_volatility"`
	LongRunAnnualized  float64   `json:"long_run_volatility"`
	RealizedAnnualized float64   `json:"realized_volatility_20d"`
	Forecast           []float64 `json:"forecast_volatility"`
	Regime             string    `json:"regime"`
}

// Analyze fits a model per panel column; symbols that fail are reported in the error map
func Analyze(returns *series.Panel, horizon int) (map[string]Report, map[string]error) {
	if horizon <= 0 {
		horizon = 5
	}
	reports := make(map[string]Report, returns.Width())
	failures := map[string]error{}
	for j, sym := range returns.Symbols {
		g, err := FitGARCH(returns.Values[j])
		if err != nil {
			failures[sym] = err
			continue
		}
		reports[sym] = Report{
			Symbol:             sym,
			Model:              g,
			CurrentAnnualized:  math.Sqrt(g.LastVariance * TradingDays),
			LongRunAnnualized:  math.Sqrt(g.UnconditionalVariance * TradingDays),
			RealizedAnnualized: Realized(returns.Values[j], 20),
			Forecast:           g.AnnualizedForecast(horizon),
			Regime:             g.Regime(),
		}
	}
	return reports, failures
}

// Ranked orders reports by current volatility, highest first
func Ranked(reports map[string]Report) []Report {
	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentAnnualized > out[j].CurrentAnnualized })
	return out
}
