package regime

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/analysis/series"
)

// phases builds a return panel that rallies, crashes, then drifts
func phases() *series.Panel {
	r := rand.New(rand.NewPCG(5, 6))
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &series.Panel{Symbols: []string{"A", "B"}, Values: make([][]float64, 2)}
	add := func(n int, mean, sd float64) {
		for i := 0; i < n; i++ {
			p.Dates = append(p.Dates, base.AddDate(0, 0, len(p.Dates)))
			for j := range p.Values {
				p.Values[j] = append(p.Values[j], mean+sd*r.NormFloat64())
			}
		}
	}
	add(120, 0.005, 0.004)
	add(120, -0.01, 0.015)
	add(120, 0, 0.006)
	return p
}

func TestDetect(t *testing.T) {
	p := phases()
	res, err := Detect(p, Options{Regimes: 3, Window: 20})
	require.NoError(t, err)

	assert.Equal(t, Method, res.Method)
	require.Len(t, res.Labels, len(p.Dates)-19)
	assert.Len(t, res.Dates, len(res.Labels))

	var total float64
	for _, v := range res.Probabilities {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.InDelta(t, 1-res.Probabilities[res.Current], res.ChangeProbability, 1e-9)

	seen := map[string]bool{}
	for _, l := range res.Labels {
		seen[l] = true
	}
	assert.True(t, seen[Bull])
	assert.True(t, seen[Bear])
	assert.Greater(t, res.Transitions, 0)
	assert.False(t, res.LastChange.IsZero())

	// the crash phase belongs mostly to the bear cluster
	bear := 0
	for i := 140; i < 220; i++ {
		if res.Labels[i] == Bear {
			bear++
		}
	}
	assert.Greater(t, bear, 40)
	assert.Greater(t, res.Stats[Bull].MeanReturn, res.Stats[Bear].MeanReturn)

	var freq float64
	for _, s := range res.Stats {
		freq += s.Frequency
		assert.GreaterOrEqual(t, s.AverageDuration, 1.0)
	}
	assert.InDelta(t, 1.0, freq, 1e-9)
	assert.NotEmpty(t, res.Summary())
}

func TestDetectIsDeterministic(t *testing.T) {
	a, err := Detect(phases(), Options{})
	require.NoError(t, err)
	b, err := Detect(phases(), Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
}

func TestTwoRegimes(t *testing.T) {
	res, err := Detect(phases(), Options{Regimes: 2})
	require.NoError(t, err)
	for _, l := range res.Labels {
		assert.Contains(t, []string{Bull, Bear}, l)
	}
}

func TestRecordsAndShortInput(t *testing.T) {
	res, err := Detect(phases(), Options{})
	require.NoError(t, err)
	now := time.Now()
	recs := Records(res, "default", now)
	require.Len(t, recs, len(res.Labels))
	last := recs[len(recs)-1]
	assert.Equal(t, res.Current, last.Regime)
	assert.Equal(t, res.Probabilities[res.Current], last.Probability)
	assert.Equal(t, "default", last.Universe)

	short := &series.Panel{Symbols: []string{"A"}, Values: [][]float64{make([]float64, 10)}, Dates: make([]time.Time, 10)}
	_, err = Detect(short, Options{})
	assert.True(t, errors.Is(err, series.ErrInsufficientData))

	assert.InDelta(t, 0.3, ChangeProbability(map[string]float64{Bull: 0.7, Bear: 0.3}, Bull), 1e-12)
}
