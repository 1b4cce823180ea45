package technical

import "github.com/Alias1177/Correlator/models"

// OBV calculates On-Balance Volume; 0 when the latest row carries no volume
func OBV(rows []models.MarketData) float64 {
	if len(rows) < 2 || rows[len(rows)-1].Volume == 0 {
		return 0
	}

	obv := rows[0].Volume
	for i := 1; i < len(rows); i++ {
		switch {
		case rows[i].Close > rows[i-1].Close:
			obv += rows[i].Volume
		case rows[i].Close < rows[i-1].Close:
			obv -= rows[i].Volume
		}
	}
	return obv
}

// VolumeRatio compares the latest volume with the mean of the preceding window rows
func VolumeRatio(rows []models.MarketData, window int) float64 {
	if len(rows) < window+1 || window <= 0 {
		return 0
	}
	var total float64
	for _, r := range rows[len(rows)-1-window : len(rows)-1] {
		total += r.Volume
	}
	avg := total / float64(window)
	if avg == 0 {
		return 0
	}
	return rows[len(rows)-1].Volume / avg
}
