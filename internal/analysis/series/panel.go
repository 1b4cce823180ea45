// Package series aligns per-symbol market data into a dates x symbols panel.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/Alias1177/Correlator/models"
)

// ErrInsufficientData is returned when fewer observations remain than an estimator needs
var ErrInsufficientData = errors.New("insufficient data")

// ReturnKind selects how prices become returns
type ReturnKind string

const (
	SimpleReturns ReturnKind = "simple"
	LogReturns    ReturnKind = "log"
)

// DefaultFillLimit is how many consecutive dates an economic series is carried forward
const DefaultFillLimit = 3

// Panel holds one aligned series per symbol; Values[j][i] is Symbols[j] at Dates[i]
type Panel struct {
	Dates   []time.Time
	Symbols []string
	Values  [][]float64
}

// Options controls panel construction
type Options struct {
	FillLimit int
}

type column struct {
	symbol   string
	economic bool
	byDate   map[time.Time]float64
}

// FromMarketData pivots rows into a panel inner-joined on common dates.
// Economic indicators are forward filled for at most FillLimit missing dates.
func FromMarketData(rows []models.MarketData, opts Options) (*Panel, error) {
	if opts.FillLimit <= 0 {
		opts.FillLimit = DefaultFillLimit
	}

	cols := map[string]*column{}
	var order []string
	for _, r := range rows {
		price := r.AdjustedClose
		if price <= 0 {
			price = r.Close
		}
		if r.Symbol == "" || r.Date.IsZero() || price <= 0 || math.IsNaN(price) {
			continue
		}
		c, ok := cols[r.Symbol]
		if !ok {
			c = &column{symbol: r.Symbol, byDate: map[time.Time]float64{}}
			cols[r.Symbol] = c
			order = append(order, r.Symbol)
		}
		if r.AssetClass == models.AssetClassEconomicIndicator {
			c.economic = true
		}
		day := truncateDay(r.Date)
		if _, seen := c.byDate[day]; !seen {
			c.byDate[day] = price
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no usable rows: %w", ErrInsufficientData)
	}
	sort.Strings(order)

	// calendar from market series; an all-economic panel uses its own dates
	calendar := map[time.Time]struct{}{}
	for _, c := range cols {
		if c.economic {
			continue
		}
		for d := range c.byDate {
			calendar[d] = struct{}{}
		}
	}
	if len(calendar) == 0 {
		for _, c := range cols {
			for d := range c.byDate {
				calendar[d] = struct{}{}
			}
		}
	}
	dates := make([]time.Time, 0, len(calendar))
	for d := range calendar {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	full := make([][]float64, len(order))
	for j, sym := range order {
		c := cols[sym]
		vals := make([]float64, len(dates))
		last, gap := math.NaN(), 0
		for i, d := range dates {
			if v, ok := c.byDate[d]; ok {
				vals[i], last, gap = v, v, 0
				continue
			}
			gap++
			if c.economic && !math.IsNaN(last) && gap <= opts.FillLimit {
				vals[i] = last
				continue
			}
			vals[i] = math.NaN()
		}
		full[j] = vals
	}

	p := &Panel{Symbols: order, Values: make([][]float64, len(order))}
	for i, d := range dates {
		complete := true
		for j := range order {
			if math.IsNaN(full[j][i]) {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		p.Dates = append(p.Dates, d)
		for j := range order {
			p.Values[j] = append(p.Values[j], full[j][i])
		}
	}
	if len(p.Dates) == 0 {
		return nil, fmt.Errorf("no common dates across %d symbols: %w", len(order), ErrInsufficientData)
	}
	return p, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Len is the number of dates
func (p *Panel) Len() int { return len(p.Dates) }

// Width is the number of symbols
func (p *Panel) Width() int { return len(p.Symbols) }

// Column returns the series of a symbol
func (p *Panel) Column(symbol string) ([]float64, bool) {
	for j, s := range p.Symbols {
		if s == symbol {
			return p.Values[j], true
		}
	}
	return nil, false
}

// Returns converts a price panel into a return panel one date shorter
func (p *Panel) Returns(kind ReturnKind) (*Panel, error) {
	if p.Len() < 2 {
		return nil, fmt.Errorf("need at least 2 prices: %w", ErrInsufficientData)
	}
	out := &Panel{
		Dates:   append([]time.Time(nil), p.Dates[1:]...),
		Symbols: append([]string(nil), p.Symbols...),
		Values:  make([][]float64, p.Width()),
	}
	for j, vals := range p.Values {
		rets := make([]float64, len(vals)-1)
		for i := 1; i < len(vals); i++ {
			if kind == LogReturns {
				rets[i-1] = math.Log(vals[i] / vals[i-1])
			} else {
				rets[i-1] = vals[i]/vals[i-1] - 1
			}
		}
		out.Values[j] = rets
	}
	return out, nil
}

// Window keeps the last n dates
func (p *Panel) Window(n int) (*Panel, error) {
	if n <= 0 || n >= p.Len() {
		if n > p.Len() {
			return nil, fmt.Errorf("window %d over %d observations: %w", n, p.Len(), ErrInsufficientData)
		}
		return p, nil
	}
	start := p.Len() - n
	out := &Panel{
		Dates:   p.Dates[start:],
		Symbols: p.Symbols,
		Values:  make([][]float64, p.Width()),
	}
	for j, vals := range p.Values {
		out.Values[j] = vals[start:]
	}
	return out, nil
}

// Select narrows the panel to the given symbols in that order
func (p *Panel) Select(symbols ...string) (*Panel, error) {
	out := &Panel{Dates: p.Dates}
	for _, s := range symbols {
		col, ok := p.Column(s)
		if !ok {
			return nil, fmt.Errorf("symbol %s not in panel", s)
		}
		out.Symbols = append(out.Symbols, s)
		out.Values = append(out.Values, col)
	}
	return out, nil
}

// Require fails with ErrInsufficientData when the panel is shorter than n or narrower than width
func (p *Panel) Require(n, width int) error {
	if p.Len() < n {
		return fmt.Errorf("%d observations, need %d: %w", p.Len(), n, ErrInsufficientData)
	}
	if p.Width() < width {
		return fmt.Errorf("%d symbols, need %d: %w", p.Width(), width, ErrInsufficientData)
	}
	return nil
}

// Dense returns the panel as a dates x symbols matrix
func (p *Panel) Dense() *mat.Dense {
	m := mat.NewDense(p.Len(), p.Width(), nil)
	for j, vals := range p.Values {
		m.SetCol(j, vals)
	}
	return m
}

// EqualWeighted averages all columns per date
func (p *Panel) EqualWeighted() []float64 {
	out := make([]float64, p.Len())
	if p.Width() == 0 {
		return out
	}
	for _, vals := range p.Values {
		for i, v := range vals {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(p.Width())
	}
	return out
}

// Last returns the final date of the panel
func (p *Panel) Last() time.Time {
	if p.Len() == 0 {
		return time.Time{}
	}
	return p.Dates[p.Len()-1]
}
