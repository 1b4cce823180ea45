package anomaly

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Alias1177/Correlator/models"
)

func oscillating(n int) []models.MarketData {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]models.MarketData, n)
	for i := range rows {
		c := 100 + float64(i%2)
		rows[i] = models.MarketData{
			Symbol: "TEST",
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return rows
}

func TestDetect(t *testing.T) {
	d := NewDetector(Config{})

	t.Run("quiet market", func(t *testing.T) {
		res := d.Detect("TEST", oscillating(41))
		assert.False(t, res.IsAnomaly)
		assert.Zero(t, res.AnomalyScore)
	})

	t.Run("short history", func(t *testing.T) {
		res := d.Detect("TEST", oscillating(10))
		assert.False(t, res.IsAnomaly)
	})

	t.Run("spike with volume and gap", func(t *testing.T) {
		rows := oscillating(41)
		last := &rows[40]
		last.Open, last.Close, last.High, last.Low = 112, 112, 113, 111
		last.Volume = 5000

		res := d.Detect("TEST", rows)
		assert.True(t, res.IsAnomaly)
		assert.Equal(t, 1.0, res.AnomalyScore)
		assert.True(t, strings.HasPrefix(res.AnomalyType, TypePriceSpike))
		assert.Contains(t, res.AnomalyType, TypeVolumeSpike)
		assert.Contains(t, res.AnomalyType, TypeGap)
		assert.NotContains(t, res.AnomalyType, TypeVolatilityBreakout)
		assert.Contains(t, res.RecommendedFlags, "MONITOR_CLOSELY")
		assert.Equal(t, last.Date, res.Date)
	})

	t.Run("volume only", func(t *testing.T) {
		rows := oscillating(41)
		rows[40].Volume = 4000

		res := d.Detect("TEST", rows)
		assert.True(t, res.IsAnomaly)
		assert.Equal(t, TypeVolumeSpike, res.AnomalyType)
		assert.InDelta(t, 0.8, res.AnomalyScore, 1e-9)
	})
}

func TestDetectAllOrdersByScore(t *testing.T) {
	d := NewDetector(DefaultConfig())

	spike := oscillating(41)
	spike[40].Volume = 4000
	big := oscillating(41)
	big[40].Volume = 10000

	out := d.DetectAll(map[string][]models.MarketData{
		"QUIET": oscillating(41),
		"SPIKE": spike,
		"BIG":   big,
	})
	if assert.Len(t, out, 2) {
		assert.Equal(t, "BIG", out[0].Symbol)
		assert.Equal(t, "SPIKE", out[1].Symbol)
	}
}

func TestClassify(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]models.MarketData, 40)
	for i := range rows {
		c := 100 + float64(i)*2
		rows[i] = models.MarketData{Date: base.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
	}

	c := Classify("UP", rows)
	assert.Equal(t, "BULLISH", c.Direction)
	assert.Equal(t, "NORMAL", c.VolatilityLevel)
	assert.Equal(t, "TRENDING", c.Structure)
	assert.Equal(t, 1.0, c.MomentumStrength)

	choppy := Classify("CHOP", oscillating(40))
	assert.Equal(t, "CHOPPY", choppy.Structure)

	assert.Equal(t, "UNKNOWN", Classify("X", rows[:5]).Structure)
}
