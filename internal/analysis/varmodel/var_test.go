package varmodel

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// leadLag builds a panel where LEAD drives LAG with one day delay
func leadLag(n int) *series.Panel {
	r := rand.New(rand.NewPCG(11, 12))
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &series.Panel{Symbols: []string{"LAG", "LEAD"}, Values: make([][]float64, 2)}
	lead := make([]float64, n)
	lag := make([]float64, n)
	for i := 0; i < n; i++ {
		lead[i] = 0.01 * r.NormFloat64()
		lag[i] = 0.002 * r.NormFloat64()
		if i > 0 {
			lag[i] += 0.8 * lead[i-1]
		}
		p.Dates = append(p.Dates, base.AddDate(0, 0, i))
	}
	p.Values[0], p.Values[1] = lag, lead
	return p
}

func TestFitRecoversLeadCoefficient(t *testing.T) {
	m, err := Fit(leadLag(400), 1)
	require.NoError(t, err)

	assert.Equal(t, 399, m.Observations)
	require.Len(t, m.Coefficients, 2)
	// LAG equation: coefficient on LEAD(t-1)
	assert.InDelta(t, 0.8, m.Coefficients[0][1], 0.05)
	assert.InDelta(t, 0.0, m.Coefficients[1][0], 0.2)
	assert.Len(t, m.SigmaU, 2)

	path := m.Forecast(3)
	require.Len(t, path, 3)
	assert.Len(t, path[0], 2)
}

func TestSelectLag(t *testing.T) {
	sel, err := SelectLag(leadLag(400), 5)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sel.Selected, 1)
	assert.LessOrEqual(t, sel.Selected, 5)
	assert.Len(t, sel.AIC, 5)
	for lags, aic := range sel.AIC {
		assert.GreaterOrEqual(t, aic, sel.AIC[sel.Selected], "lag %d", lags)
	}
}

func TestGranger(t *testing.T) {
	p := leadLag(400)

	forward, err := Granger(p, "LEAD", "LAG", 2)
	require.NoError(t, err)
	assert.True(t, forward.Significant)
	assert.Less(t, forward.PValue, 0.001)

	backward, err := Granger(p, "LAG", "LEAD", 2)
	require.NoError(t, err)
	assert.Greater(t, backward.PValue, forward.PValue)

	_, err = Granger(p, "NOPE", "LAG", 2)
	assert.Error(t, err)

	all, err := GrangerMatrix(p, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "LEAD", all[0].Cause)
}

func TestMinimumObservations(t *testing.T) {
	_, err := Fit(leadLag(50), 1)
	assert.True(t, errors.Is(err, series.ErrInsufficientData))
	_, err = Granger(leadLag(50), "LEAD", "LAG", 1)
	assert.True(t, errors.Is(err, series.ErrInsufficientData))
}
