package vectorstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksByCosine(t *testing.T) {
	s := New(4, "")
	a, err := s.Add(Pattern{Symbol: "AAPL", Type: PricePattern, Vector: []float64{1, 0, 0, 0}})
	require.NoError(t, err)
	b, err := s.Add(Pattern{Symbol: "MSFT", Type: PricePattern, Vector: []float64{1, 1, 0, 0}})
	require.NoError(t, err)
	_, err = s.Add(Pattern{Symbol: "BTC", Type: RegimePattern, Vector: []float64{0, 0, 1}})
	require.NoError(t, err)

	got, err := s.Search(Query{Vector: []float64{2, 0.1}, K: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].ID)
	assert.Equal(t, b, got[1].ID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
	assert.LessOrEqual(t, got[0].Similarity, 1.0)

	got, err = s.Search(Query{Vector: []float64{1, 0, 0, 0}, Type: RegimePattern})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].Symbol)
	assert.InDelta(t, 0, got[0].Similarity, 1e-12)

	got, err = s.Search(Query{Vector: []float64{1, 0, 0, 0}, Symbols: []string{"MSFT"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1/1.4142135623730951, got[0].Similarity, 1e-9)

	_, err = s.Search(Query{Vector: []float64{0, 0}})
	assert.ErrorIs(t, err, ErrEmptyVector)
	_, err = s.Add(Pattern{Vector: []float64{0, 0, 0, 0, 5}})
	assert.ErrorIs(t, err, ErrEmptyVector, "components past the dimension are truncated")
}

func TestStatsClear(t *testing.T) {
	s := New(3, "")
	for _, p := range []Pattern{
		{Symbol: "AAPL", Type: PricePattern, Vector: []float64{1}},
		{Symbol: "AAPL", Type: CorrelationPattern, Vector: []float64{0, 1}},
		{Symbol: "BTC", Type: PricePattern, Vector: []float64{0, 0, 1}},
	} {
		_, err := s.Add(p)
		require.NoError(t, err)
	}
	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, map[string]int{PricePattern: 2, CorrelationPattern: 1}, st.Types)
	assert.Equal(t, []string{"AAPL", "BTC"}, st.Symbols)
	assert.Equal(t, 3, st.Dimension)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestSaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "vectors", "store.json")
	s := New(5, file)
	id, err := s.Add(Pattern{Symbol: "ETH", Type: TextPattern, Vector: []float64{0.3, 0.4}, Text: "risk-on rally", Metadata: map[string]any{"source": "chat"}})
	require.NoError(t, err)
	require.NoError(t, s.Save(""))

	restored := New(5, file)
	require.NoError(t, restored.Load(""))
	p, ok := restored.Get(id)
	require.True(t, ok)
	assert.Equal(t, "risk-on rally", p.Text)
	assert.Equal(t, []float64{0.3, 0.4, 0, 0, 0}, p.Vector)
	assert.Equal(t, "chat", p.Metadata["source"])

	assert.Error(t, New(5, "").Save(""))
	assert.Error(t, restored.Load(filepath.Join(t.TempDir(), "missing.json")))
}

func TestEmbeddings(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i%7) + float64(i)*0.5
	}
	e := PriceEmbedding(prices)
	require.Len(t, e, PriceFeatures)
	assert.Greater(t, e[1], 0.0, "return std")
	assert.InDelta(t, prices[39]/prices[34]-1, e[12], 1e-12)
	assert.Greater(t, e[16], 0.0, "volatility ratio")
	assert.Equal(t, make([]float64, PriceFeatures), PriceEmbedding([]float64{1}))

	m := map[string]map[string]float64{
		"A": {"A": 1, "B": 0.9, "C": -0.6},
		"B": {"A": 0.9, "B": 1, "C": 0.05},
		"C": {"A": -0.6, "B": 0.05, "C": 1},
	}
	c := CorrelationEmbedding(m)
	require.Len(t, c, CorrelationFeatures)
	assert.InDelta(t, (0.9-0.6+0.05)/3, c[0], 1e-12)
	assert.Equal(t, -0.6, c[2])
	assert.Equal(t, 0.9, c[3])
	assert.Equal(t, []float64{1, 1, 1}, c[5:8])
	assert.Equal(t, []float64{0.9, 0.05, -0.6, 0}, c[8:12])

	r := RegimeEmbedding(RegimeState{Probabilities: map[string]float64{"bull": 0.6, "bear": 0.1, "sideways": 0.3}, Volatility: 0.2})
	require.Len(t, r, RegimeFeatures)
	assert.Equal(t, []float64{0.6, 0.1, 0.3, 0.2}, r[:4])
}
