package correlation

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

func testPanel(n int) *series.Panel {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &series.Panel{Symbols: []string{"A", "B", "C"}, Values: make([][]float64, 3)}
	for i := 0; i < n; i++ {
		p.Dates = append(p.Dates, base.AddDate(0, 0, i))
		a := math.Sin(float64(i) * 0.7)
		p.Values[0] = append(p.Values[0], a)
		p.Values[1] = append(p.Values[1], 2*a+0.1)
		p.Values[2] = append(p.Values[2], -a)
	}
	return p
}

func TestCompute(t *testing.T) {
	p := testPanel(40)
	for _, method := range []string{Pearson, Spearman, Kendall} {
		t.Run(method, func(t *testing.T) {
			m, err := Compute(p, method)
			require.NoError(t, err)
			assert.Equal(t, method, m.Method)
			assert.Equal(t, 40, m.N)
			assert.InDelta(t, 1.0, m.At(0, 0), 1e-12)
			assert.InDelta(t, 1.0, m.At(0, 1), 1e-9)
			assert.InDelta(t, -1.0, m.At(0, 2), 1e-9)
			assert.Equal(t, m.At(1, 2), m.At(2, 1))

			r, ok := m.Get("C", "B")
			require.True(t, ok)
			assert.InDelta(t, -1.0, r, 1e-9)
		})
	}

	_, err := Compute(p, "distance")
	assert.Error(t, err)

	_, err = Compute(testPanel(10), Pearson)
	assert.True(t, errors.Is(err, series.ErrInsufficientData))
}

func TestRanksAverageTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks([]float64{1, 5, 5, 9}))
}

func TestKendallTau(t *testing.T) {
	assert.InDelta(t, 1.0, KendallTau([]float64{1, 2, 3, 4}, []float64{10, 20, 30, 40}), 1e-12)
	// one discordant pair out of six
	assert.InDelta(t, 4.0/6.0, KendallTau([]float64{1, 2, 3, 4}, []float64{1, 3, 2, 4}), 1e-12)
	assert.Zero(t, KendallTau([]float64{1, 1, 1}, []float64{1, 2, 3}))
}

func TestPValueAndInterval(t *testing.T) {
	assert.Less(t, PValue(0.8, 100, Pearson), 1e-6)
	assert.Greater(t, PValue(0.05, 30, Pearson), 0.5)
	assert.InDelta(t, 1.0, PValue(0, 50, Spearman), 1e-9)
	assert.Less(t, PValue(0.5, 100, Kendall), 1e-6)
	assert.Equal(t, 1.0, PValue(0.9, 2, Pearson))

	lo, hi := ConfidenceInterval(0.5, 100)
	assert.Less(t, lo, 0.5)
	assert.Greater(t, hi, 0.5)
	assert.InDelta(t, 0.337, lo, 0.01)
	assert.InDelta(t, 0.634, hi, 0.01)
}

func TestSignificantPairsAndRecords(t *testing.T) {
	m, err := Compute(testPanel(40), Pearson)
	require.NoError(t, err)

	pairs := SignificantPairs(m, 0.7)
	require.Len(t, pairs, 3)
	for _, p := range pairs {
		assert.Equal(t, "strong", p.Strength)
	}

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := Records(m, testPanel(40), 0, now)
	require.Len(t, recs, 3)
	assert.Equal(t, "A", recs[0].Symbol1)
	assert.Equal(t, "B", recs[0].Symbol2)
	assert.Equal(t, 40, recs[0].SampleSize)
	assert.Equal(t, now, recs[0].CalculationDate)
	assert.InDelta(t, 0.0, m.Mean()+1.0/3.0, 1e-9)
}

func TestRollingAndForecast(t *testing.T) {
	x := make([]float64, 60)
	y := make([]float64, 60)
	for i := range x {
		x[i] = math.Sin(float64(i))
		y[i] = x[i] + 0.3*math.Cos(float64(3*i))
	}

	roll, err := Rolling(x, y, 20)
	require.NoError(t, err)
	assert.Len(t, roll, 41)
	for _, r := range roll {
		assert.True(t, r >= -1 && r <= 1)
	}

	_, err = Rolling(x[:5], y[:5], 20)
	assert.True(t, errors.Is(err, series.ErrInsufficientData))

	f, err := ForecastRolling(roll, 5)
	require.NoError(t, err)
	assert.Len(t, f.Path, 5)
	for _, v := range f.Path {
		assert.True(t, v >= -1 && v <= 1)
	}
	assert.Contains(t, []string{"strengthening", "weakening", "stable"}, f.Trend)

	_, err = ForecastRolling(roll[:3], 5)
	assert.Error(t, err)
}

func TestForecastFlatRolling(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 0.8
	}
	f, err := ForecastRolling(flat, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, 0.8, 0.8, 0.8, 0.8}, f.Path)
	assert.Equal(t, 0.0, f.Slope)
	assert.Equal(t, 0.8, f.Intercept)
	assert.Equal(t, 1.0, f.RSquared)
	assert.Equal(t, "stable", f.Trend)
	_, err = json.Marshal(f)
	assert.NoError(t, err)

	// a perfectly tracking pair saturates every window at 1
	x := make([]float64, 40)
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	roll, err := Rolling(x, x, 10)
	require.NoError(t, err)
	f, err = ForecastRolling(roll, 3)
	require.NoError(t, err)
	for _, v := range f.Path {
		assert.InDelta(t, 1, v, 1e-9)
	}
	assert.False(t, math.IsNaN(f.RSquared))
	_, err = json.Marshal(f)
	assert.NoError(t, err)
}
