package correlation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// Rolling returns the Pearson correlation of each trailing window; element i ends at x[window-1+i]
func Rolling(x, y []float64, window int) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("series lengths differ: %d vs %d", len(x), len(y))
	}
	if window < 3 || len(x) < window {
		return nil, fmt.Errorf("window %d over %d observations: %w", window, len(x), series.ErrInsufficientData)
	}
	out := make([]float64, 0, len(x)-window+1)
	for end := window; end <= len(x); end++ {
		r := stat.Correlation(x[end-window:end], y[end-window:end], nil)
		if math.IsNaN(r) {
			r = 0
		}
		out = append(out, r)
	}
	return out, nil
}

// Forecast is a projected path of a rolling correlation
type Forecast struct {
	Path      []float64 `json:"forecast"`
	Intercept float64   `json:"intercept"`
	Slope     float64   `json:"slope"`
	RSquared  float64   `json:"r_squared"`
	Current   float64   `json:"current"`
	Trend     string    `json:"trend"`
}

// ForecastRolling regresses each rolling value on its predecessor and iterates the fit horizon steps ahead
func ForecastRolling(rolling []float64, horizon int) (Forecast, error) {
	if len(rolling) < 10 {
		return Forecast{}, fmt.Errorf("%d rolling values: %w", len(rolling), series.ErrInsufficientData)
	}
	if horizon <= 0 {
		horizon = 5
	}

	current := rolling[len(rolling)-1]
	lagged := rolling[:len(rolling)-1]
	next := rolling[1:]

	// a flat history has no slope to fit; project the current value
	alpha, beta, r2 := current, 0.0, 0.0
	if stat.Variance(lagged, nil) > 0 {
		alpha, beta = stat.LinearRegression(lagged, next, nil, false)
		r2 = stat.RSquared(lagged, next, nil, alpha, beta)
	}
	if stat.Variance(next, nil) == 0 || math.IsNaN(r2) {
		r2 = 1
	}

	f := Forecast{
		Path:      make([]float64, horizon),
		Intercept: alpha,
		Slope:     beta,
		RSquared:  r2,
		Current:   current,
	}
	prev := f.Current
	for h := 0; h < horizon; h++ {
		prev = math.Max(-1, math.Min(1, alpha+beta*prev))
		f.Path[h] = prev
	}

	switch delta := f.Path[horizon-1] - f.Current; {
	case delta > 0.05:
		f.Trend = "strengthening"
	case delta < -0.05:
		f.Trend = "weakening"
	default:
		f.Trend = "stable"
	}
	return f, nil
}
