package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/technical"
	"github.com/Alias1177/Correlator/models"
)

// Anomaly types
const (
	TypePriceSpike         = "PRICE_SPIKE"
	TypeVolumeSpike        = "VOLUME_SPIKE"
	TypeGap                = "GAP"
	TypeVolatilityBreakout = "VOLATILITY_BREAKOUT"
)

// Config holds detection thresholds
type Config struct {
	Window          int     // trailing window for return and volume baselines
	PriceSigma      float64 // return z-score considered a spike
	VolumeMultiple  float64 // volume over trailing mean considered a spike
	GapPct          float64 // open vs previous close
	VolatilityRatio float64 // ATR10 / ATR30
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		Window:          20,
		PriceSigma:      3.0,
		VolumeMultiple:  3.0,
		GapPct:          0.02,
		VolatilityRatio: 1.5,
	}
}

// Detector scores the latest row of each symbol against its own history
type Detector struct {
	cfg Config
}

// NewDetector creates a detector; zero fields in cfg take defaults
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.PriceSigma <= 0 {
		cfg.PriceSigma = def.PriceSigma
	}
	if cfg.VolumeMultiple <= 0 {
		cfg.VolumeMultiple = def.VolumeMultiple
	}
	if cfg.GapPct <= 0 {
		cfg.GapPct = def.GapPct
	}
	if cfg.VolatilityRatio <= 0 {
		cfg.VolatilityRatio = def.VolatilityRatio
	}
	return &Detector{cfg: cfg}
}

// Detect identifies unusual conditions on the most recent row of a date-ordered series
func (d *Detector) Detect(symbol string, rows []models.MarketData) models.AnomalyDetection {
	result := models.AnomalyDetection{Symbol: symbol}
	if len(rows) < d.cfg.Window+2 {
		return result
	}

	current := rows[len(rows)-1]
	prev := rows[len(rows)-2]
	result.Date = current.Date

	var (
		types   []string
		details []string
	)
	raise := func(kind string, score, bonus float64, detail string, flags ...string) {
		if result.IsAnomaly {
			result.AnomalyScore = math.Min(result.AnomalyScore+bonus, 1.0)
		} else {
			result.IsAnomaly = true
			result.AnomalyScore = math.Min(score, 1.0)
		}
		types = append(types, kind)
		details = append(details, detail)
		result.RecommendedFlags = append(result.RecommendedFlags, flags...)
	}

	// 1. Return spike against the trailing window
	closes := technical.Closes(rows)
	rets := technical.Returns(closes)
	last := rets[len(rets)-1]
	trailing := rets[len(rets)-1-d.cfg.Window : len(rets)-1]
	mean, sd := stat.MeanStdDev(trailing, nil)
	if sd > 0 {
		z := math.Abs(last-mean) / sd
		if z > d.cfg.PriceSigma {
			raise(TypePriceSpike, z/(d.cfg.PriceSigma+2), 0,
				fmt.Sprintf("Return of %.2f%% is %.1f sigma from the %d-day mean", last*100, z, d.cfg.Window),
				"REDUCE_POSITION_SIZE", "REVIEW_STOPS")
		}
	}

	// 2. Volume spike
	if current.Volume > 0 {
		ratio := technical.VolumeRatio(rows, d.cfg.Window)
		if ratio > d.cfg.VolumeMultiple {
			raise(TypeVolumeSpike, ratio/(d.cfg.VolumeMultiple+2), 0.2,
				fmt.Sprintf("Volume %.1f times the %d-day average", ratio, d.cfg.Window),
				"WAIT_FOR_CONFIRMATION")
		}
	}

	// 3. Opening gap
	if current.Open > 0 && prev.Close > 0 {
		gap := math.Abs(current.Open-prev.Close) / prev.Close
		if gap > d.cfg.GapPct {
			raise(TypeGap, gap/(d.cfg.GapPct*2.5), 0.15,
				fmt.Sprintf("Opened %.2f%% away from the previous close", gap*100),
				"EXPECT_VOLATILE_TRADING")
		}
	}

	// 4. Volatility breakout
	if current.HasOHLC() {
		ratio := technical.VolatilityRatio(rows, 10, 30)
		if ratio > d.cfg.VolatilityRatio {
			raise(TypeVolatilityBreakout, ratio/(d.cfg.VolatilityRatio+1), 0.1,
				fmt.Sprintf("Recent volatility %.1f times the baseline", ratio),
				"EXPECT_MOMENTUM", "ADJUST_TRADE_SIZE")
		}
	}

	if result.IsAnomaly {
		result.AnomalyType = strings.Join(types, "_WITH_")
		result.Details = strings.Join(details, "; ")
		result.RecommendedFlags = append(result.RecommendedFlags, "MONITOR_CLOSELY")
	}
	return result
}

// DetectAll runs Detect per symbol and returns the anomalies found, highest score first
func (d *Detector) DetectAll(bySymbol map[string][]models.MarketData) []models.AnomalyDetection {
	var out []models.AnomalyDetection
	for symbol, rows := range bySymbol {
		if res := d.Detect(symbol, rows); res.IsAnomaly {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnomalyScore == out[j].AnomalyScore {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].AnomalyScore > out[j].AnomalyScore
	})
	return out
}
