// Package quality validates collected market data and scores how trustworthy it is.
package quality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/models"
)

const (
	maxDailyJump     = 0.5
	minOutlierRows   = 10
	iqrFactor        = 1.5
	maxContinuityGap = 4 * 24 * time.Hour
)

// CleanResult describes what cleaning removed
type CleanResult struct {
	Rows          []models.MarketData
	InvalidPrices int
	InvalidOHLC   int
	ExtremeJumps  int
	Outliers      int
}

// Removed is the total number of dropped rows
func (r CleanResult) Removed() int {
	return r.InvalidPrices + r.InvalidOHLC + r.ExtremeJumps + r.Outliers
}

// Clean applies price sanity checks and IQR outlier removal to the rows of a single symbol.
// Rows are returned sorted by date.
func Clean(rows []models.MarketData, requireOHLC bool) CleanResult {
	sorted := make([]models.MarketData, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var res CleanResult
	valid := sorted[:0]
	for _, r := range sorted {
		if !positivePrices(r, requireOHLC) {
			res.InvalidPrices++
			continue
		}
		if !r.ValidOHLC() {
			res.InvalidOHLC++
			continue
		}
		valid = append(valid, r)
	}

	jumpFree := make([]models.MarketData, 0, len(valid))
	for _, r := range valid {
		if n := len(jumpFree); n > 0 {
			prev := jumpFree[n-1].Close
			if math.Abs(r.Close/prev-1) > maxDailyJump {
				res.ExtremeJumps++
				continue
			}
		}
		jumpFree = append(jumpFree, r)
	}

	res.Rows, res.Outliers = RemoveOutliers(jumpFree)
	return res
}

func positivePrices(r models.MarketData, requireOHLC bool) bool {
	if r.Date.IsZero() || r.Close <= 0 || math.IsNaN(r.Close) {
		return false
	}
	if r.AdjustedClose < 0 {
		return false
	}
	if requireOHLC {
		return r.Open > 0 && r.High > 0 && r.Low > 0
	}
	return true
}

// RemoveOutliers drops closes outside [Q1-1.5*IQR, Q3+1.5*IQR]. Short series are returned unchanged.
func RemoveOutliers(rows []models.MarketData) ([]models.MarketData, int) {
	if len(rows) < minOutlierRows {
		return rows, 0
	}
	lo, hi := IQRBounds(closes(rows), iqrFactor)

	kept := make([]models.MarketData, 0, len(rows))
	for _, r := range rows {
		if r.Close < lo || r.Close > hi {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(rows) - len(kept)
}

// IQRBounds returns the Tukey fences of values
func IQRBounds(values []float64, k float64) (float64, float64) {
	if len(values) == 0 {
		return math.Inf(-1), math.Inf(1)
	}
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	q1 := stat.Quantile(0.25, stat.LinInterp, s, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, s, nil)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Score computes a 0-1 quality score for one symbol's cleaned rows as the weighted mean of
// completeness (0.3), OHLC consistency (0.3), date continuity (0.25) and volume presence (0.15).
// Components that cannot be computed are left out of the weighting.
func Score(rows []models.MarketData) float64 {
	if len(rows) == 0 {
		return 0
	}

	var weighted, weights float64
	add := func(score, weight float64) {
		weighted += score * weight
		weights += weight
	}

	add(completeness(rows), 0.3)

	ohlcRows, validOHLC := 0, 0
	for _, r := range rows {
		if r.HasOHLC() {
			ohlcRows++
			if r.ValidOHLC() {
				validOHLC++
			}
		}
	}
	if ohlcRows > 0 {
		add(float64(validOHLC)/float64(ohlcRows), 0.3)
	}

	if len(rows) > 1 {
		sorted := make([]models.MarketData, len(rows))
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
		ok := 0
		for i := 1; i < len(sorted); i++ {
			if sorted[i].Date.Sub(sorted[i-1].Date) <= maxContinuityGap {
				ok++
			}
		}
		add(float64(ok)/float64(len(sorted)-1), 0.25)
	}

	if expectsVolume(rows[0].AssetClass) {
		withVolume := 0
		for _, r := range rows {
			if r.Volume > 0 {
				withVolume++
			}
		}
		add(float64(withVolume)/float64(len(rows)), 0.15)
	}

	return weighted / weights
}

func expectsVolume(class models.AssetClass) bool {
	return class != models.AssetClassEconomicIndicator
}

// expectedFields lists how many numeric fields a record of the class should carry
func expectedFields(class models.AssetClass) int {
	switch class {
	case models.AssetClassEquity:
		return 5
	case models.AssetClassCryptocurrency:
		return 2
	default:
		return 1
	}
}

func presentFields(r models.MarketData) int {
	n := 0
	if r.Close > 0 {
		n++
	}
	switch r.AssetClass {
	case models.AssetClassEquity:
		for _, v := range []float64{r.Open, r.High, r.Low, r.Volume} {
			if v > 0 {
				n++
			}
		}
	case models.AssetClassCryptocurrency:
		if r.Volume > 0 {
			n++
		}
	}
	return n
}

func completeness(rows []models.MarketData) float64 {
	total, present := 0, 0
	for _, r := range rows {
		total += expectedFields(r.AssetClass)
		present += presentFields(r)
	}
	if total == 0 {
		return 0
	}
	return float64(present) / float64(total)
}

func closes(rows []models.MarketData) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Close
	}
	return out
}

// Assess produces a batch quality report across all symbols
func Assess(rows []models.MarketData, now time.Time) models.QualityReport {
	report := models.QualityReport{CreatedAt: now}
	if len(rows) == 0 {
		report.ValidationErrors = []string{"No data available"}
		return report
	}
	report.TotalRecords = len(rows)

	total, present := 0, 0
	for _, r := range rows {
		total += expectedFields(r.AssetClass)
		present += presentFields(r)
	}
	report.MissingValues = total - present
	report.Completeness = float64(present) / float64(total)

	// Accuracy: IQR outliers per symbol across the OHLC columns
	bySymbol := GroupBySymbol(rows)
	for _, group := range bySymbol {
		report.OutliersDetected += countOutliers(group)
	}
	report.Accuracy = math.Max(0, 1-float64(report.OutliersDetected)/float64(len(rows)))

	latest := rows[0].CollectedAt
	for _, r := range rows {
		if r.CollectedAt.After(latest) {
			latest = r.CollectedAt
		}
	}
	report.Timeliness = timeliness(now.Sub(latest))

	consistent := 0
	missingSymbols, badPrices := 0, 0
	for _, r := range rows {
		if r.ValidOHLC() {
			consistent++
		}
		if r.Symbol == "" {
			missingSymbols++
		}
		if r.Close <= 0 {
			badPrices++
		}
	}
	report.Consistency = float64(consistent) / float64(len(rows))

	if missingSymbols > 0 {
		report.ValidationErrors = append(report.ValidationErrors, fmt.Sprintf("%d records with missing symbols", missingSymbols))
	}
	if badPrices > 0 {
		report.ValidationErrors = append(report.ValidationErrors, fmt.Sprintf("%d records with invalid prices", badPrices))
	}

	report.Overall = (report.Completeness + report.Accuracy + report.Timeliness + report.Consistency) / 4
	return report
}

// timeliness is 1 for data younger than an hour and decays linearly to 0 over a day
func timeliness(age time.Duration) float64 {
	if age <= time.Hour {
		return 1
	}
	return math.Max(0, 1-age.Hours()/24)
}

func countOutliers(rows []models.MarketData) int {
	if len(rows) < minOutlierRows {
		return 0
	}
	n := 0
	columns := []func(models.MarketData) float64{
		func(m models.MarketData) float64 { return m.Open },
		func(m models.MarketData) float64 { return m.High },
		func(m models.MarketData) float64 { return m.Low },
		func(m models.MarketData) float64 { return m.Close },
	}
	for _, col := range columns {
		values := make([]float64, 0, len(rows))
		for _, r := range rows {
			if v := col(r); v > 0 {
				values = append(values, v)
			}
		}
		if len(values) < minOutlierRows {
			continue
		}
		lo, hi := IQRBounds(values, iqrFactor)
		for _, v := range values {
			if v < lo || v > hi {
				n++
			}
		}
	}
	return n
}

// GroupBySymbol splits rows per symbol preserving input order
func GroupBySymbol(rows []models.MarketData) map[string][]models.MarketData {
	out := make(map[string][]models.MarketData)
	for _, r := range rows {
		out[r.Symbol] = append(out[r.Symbol], r)
	}
	return out
}
