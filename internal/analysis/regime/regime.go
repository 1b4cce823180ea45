// Package regime clusters market states into bull, bear and sideways regimes.
package regime

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Alias1177/Correlator/internal/analysis/series"
	"github.com/Alias1177/Correlator/models"
)

// Labels
const (
	Bull     = "bull"
	Bear     = "bear"
	Sideways = "sideways"
)

// Method is recorded with persisted regimes
const Method = "kmeans"

const (
	maxIterations = 100
	seed          = 42
)

// Options configures detection
type Options struct {
	Regimes int
	Window  int
}

// Stats describes one regime over the sample
type Stats struct {
	Frequency       float64 `json:"frequency"`
	MeanReturn      float64 `json:"mean_return"`
	Volatility      float64 `json:"volatility"`
	AverageDuration float64 `json:"average_duration"`
	Observations    int     `json:"observations"`
}

// Result is the outcome of a detection run
type Result struct {
	Method            string             `json:"method"`
	Dates             []time.Time        `json:"dates"`
	Labels            []string           `json:"labels"`
	Current           string             `json:"current_regime"`
	Probabilities     map[string]float64 `json:"regime_probabilities"`
	Stats             map[string]Stats   `json:"regime_statistics"`
	Transitions       int                `json:"transitions"`
	LastChange        time.Time          `json:"last_change"`
	ChangeProbability float64            `json:"change_probability"`
}

// Detect clusters rolling mean and volatility of the equal-weighted market return
func Detect(returns *series.Panel, opts Options) (*Result, error) {
	if opts.Regimes < 2 {
		opts.Regimes = 3
	}
	if opts.Window < 2 {
		opts.Window = 20
	}
	if err := returns.Require(opts.Window+opts.Regimes*10, 1); err != nil {
		return nil, err
	}

	market := returns.EqualWeighted()
	n := len(market) - opts.Window + 1
	means := make([]float64, n)
	vols := make([]float64, n)
	for i := 0; i < n; i++ {
		w := market[i : i+opts.Window]
		means[i], vols[i] = stat.MeanStdDev(w, nil)
	}
	dates := returns.Dates[opts.Window-1:]
	dailyReturns := market[opts.Window-1:]

	points := make([][]float64, n)
	zm, zv := standardize(means), standardize(vols)
	for i := range points {
		points[i] = []float64{zm[i], zv[i]}
	}

	centroids, assign := kmeans(points, opts.Regimes)

	// label clusters by the mean market return of their dates
	clusterMean := make([]float64, opts.Regimes)
	counts := make([]int, opts.Regimes)
	for i, c := range assign {
		clusterMean[c] += dailyReturns[i]
		counts[c]++
	}
	order := make([]int, opts.Regimes)
	for c := range order {
		order[c] = c
		if counts[c] > 0 {
			clusterMean[c] /= float64(counts[c])
		} else {
			clusterMean[c] = math.Inf(-1)
		}
	}
	sort.Slice(order, func(a, b int) bool { return clusterMean[order[a]] > clusterMean[order[b]] })
	names := make([]string, opts.Regimes)
	for rank, c := range order {
		switch rank {
		case 0:
			names[c] = Bull
		case opts.Regimes - 1:
			names[c] = Bear
		default:
			names[c] = Sideways
		}
	}

	res := &Result{
		Method:        Method,
		Dates:         dates,
		Labels:        make([]string, n),
		Probabilities: map[string]float64{},
		Stats:         map[string]Stats{},
	}
	for i, c := range assign {
		res.Labels[i] = names[c]
	}
	res.Current = res.Labels[n-1]

	// soft assignment of the latest point from inverse squared distances
	latest := points[n-1]
	weights := make([]float64, opts.Regimes)
	var total float64
	for c, centroid := range centroids {
		d2 := sqDist(latest, centroid)
		if d2 < 1e-12 {
			weights = make([]float64, opts.Regimes)
			weights[c], total = 1, 1
			break
		}
		weights[c] = 1 / d2
		total += weights[c]
	}
	for c, w := range weights {
		res.Probabilities[names[c]] += w / total
	}
	res.ChangeProbability = ChangeProbability(res.Probabilities, res.Current)

	for i := 1; i < n; i++ {
		if res.Labels[i] != res.Labels[i-1] {
			res.Transitions++
			res.LastChange = dates[i]
		}
	}
	res.Stats = regimeStats(res.Labels, dailyReturns)
	return res, nil
}

// ChangeProbability is the probability mass not on the current regime
func ChangeProbability(probs map[string]float64, current string) float64 {
	return math.Max(0, 1-probs[current])
}

// Records converts labels into storable rows; the latest row carries the soft probability
func Records(r *Result, universe string, now time.Time) []models.RegimeRecord {
	out := make([]models.RegimeRecord, len(r.Labels))
	for i, label := range r.Labels {
		prob := 1.0
		if i == len(r.Labels)-1 {
			prob = r.Probabilities[label]
		}
		out[i] = models.RegimeRecord{
			Date:        r.Dates[i],
			Regime:      label,
			Probability: prob,
			Method:      r.Method,
			Universe:    universe,
			CreatedAt:   now,
		}
	}
	return out
}

func regimeStats(labels []string, returns []float64) map[string]Stats {
	byLabel := map[string][]float64{}
	runs := map[string][]int{}
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], returns[i])
		if i == 0 || labels[i-1] != l {
			runs[l] = append(runs[l], 0)
		}
		runs[l][len(runs[l])-1]++
	}

	out := make(map[string]Stats, len(byLabel))
	for l, rets := range byLabel {
		s := Stats{
			Frequency:    float64(len(rets)) / float64(len(labels)),
			MeanReturn:   stat.Mean(rets, nil) * 252,
			Observations: len(rets),
		}
		if len(rets) > 1 {
			s.Volatility = stat.StdDev(rets, nil) * math.Sqrt(252)
		}
		var total int
		for _, r := range runs[l] {
			total += r
		}
		s.AverageDuration = float64(total) / float64(len(runs[l]))
		out[l] = s
	}
	return out
}

func standardize(x []float64) []float64 {
	mean, sd := stat.MeanStdDev(x, nil)
	out := make([]float64, len(x))
	if sd == 0 || math.IsNaN(sd) {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / sd
	}
	return out
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// kmeans clusters points with k-means++ seeding from a fixed seed
func kmeans(points [][]float64, k int) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, seed))
	dim := len(points[0])

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points[rng.IntN(len(points))]...))
	for len(centroids) < k {
		d2 := make([]float64, len(points))
		var total float64
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centroids {
				best = math.Min(best, sqDist(p, c))
			}
			d2[i] = best
			total += best
		}
		next := rng.IntN(len(points))
		if total > 0 {
			target := rng.Float64() * total
			for i, v := range d2 {
				target -= v
				if target <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}

	assign := make([]int, len(points))
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, c := range assign {
			floats.Add(sums[c], points[i])
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
		if !changed && iter > 0 {
			break
		}
	}
	return centroids, assign
}

// Summary is a compact view for alerts and reports
func (r *Result) Summary() string {
	s := r.Stats[r.Current]
	return fmt.Sprintf("%s regime (%.0f%% of sample, average duration %.1f days, change probability %.0f%%)",
		r.Current, s.Frequency*100, s.AverageDuration, r.ChangeProbability*100)
}
