// Package alert turns analysis results into deduplicated, persisted alerts.
package alert

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/models"
)

const (
	dedupWindow   = time.Hour
	historyWindow = 24 * time.Hour
)

// Thresholds configures when each rule fires
type Thresholds struct {
	Correlation  float64 // |r|
	Volatility   float64 // annualised forecast volatility
	RegimeChange float64 // change probability
	Anomaly      float64 // anomaly score
}

// DefaultThresholds returns the standard rule thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Correlation:  0.8,
		Volatility:   0.5,
		RegimeChange: 0.8,
		Anomaly:      0.7,
	}
}

// Store persists raised alerts
type Store interface {
	SaveAlert(ctx context.Context, a models.Alert) error
}

// Notifier forwards alerts to a chat channel
type Notifier interface {
	SendAlert(ctx context.Context, a models.Alert) error
}

// Options wires optional collaborators into the manager
type Options struct {
	Store    Store
	Notifier Notifier
	Metrics  *metrics.Registry
}

// Manager evaluates rules, suppresses repeats and fans alerts out.
// A nil *Manager accepts every call and raises nothing.
type Manager struct {
	mu          sync.Mutex
	th          Thresholds
	opts        Options
	lastRaised  map[string]time.Time
	history     []models.Alert
	subscribers []func(models.Alert)
	now         func() time.Time
	logger      zerolog.Logger
}

// NewManager creates a manager; zero thresholds take defaults
func NewManager(th Thresholds, opts Options) *Manager {
	def := DefaultThresholds()
	if th.Correlation <= 0 {
		th.Correlation = def.Correlation
	}
	if th.Volatility <= 0 {
		th.Volatility = def.Volatility
	}
	if th.RegimeChange <= 0 {
		th.RegimeChange = def.RegimeChange
	}
	if th.Anomaly <= 0 {
		th.Anomaly = def.Anomaly
	}
	return &Manager{
		th:         th,
		opts:       opts,
		lastRaised: map[string]time.Time{},
		now:        time.Now,
		logger:     log.With().Str("component", "alert").Logger(),
	}
}

// Thresholds returns the active rule thresholds
func (m *Manager) Thresholds() Thresholds { return m.th }

// Subscribe registers a callback invoked for every raised alert
func (m *Manager) Subscribe(fn func(models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Correlation fires when |r| reaches the threshold; high severity from 0.9
func (m *Manager) Correlation(ctx context.Context, symbol1, symbol2 string, r float64) bool {
	if m == nil || math.Abs(r) < m.th.Correlation {
		return false
	}
	severity := models.SeverityMedium
	if math.Abs(r) >= 0.9 {
		severity = models.SeverityHigh
	}
	return m.Raise(ctx, models.Alert{
		Type:      models.AlertHighCorrelation,
		Severity:  severity,
		Subject:   symbol1 + "_" + symbol2,
		Message:   fmt.Sprintf("High correlation detected between %s and %s: %.3f", symbol1, symbol2, r),
		Value:     r,
		Threshold: m.th.Correlation,
	})
}

// Volatility fires when the annualised forecast reaches the threshold; high severity from twice the threshold
func (m *Manager) Volatility(ctx context.Context, symbol string, annualized float64) bool {
	if m == nil || annualized < m.th.Volatility {
		return false
	}
	severity := models.SeverityMedium
	if annualized >= 2*m.th.Volatility {
		severity = models.SeverityHigh
	}
	return m.Raise(ctx, models.Alert{
		Type:      models.AlertHighVolatility,
		Severity:  severity,
		Subject:   symbol,
		Message:   fmt.Sprintf("High volatility forecast for %s: %.1f%% annualised", symbol, annualized*100),
		Value:     annualized,
		Threshold: m.th.Volatility,
	})
}

// RegimeChange fires when the probability of leaving the current regime is high
func (m *Manager) RegimeChange(ctx context.Context, universe, current string, probability float64) bool {
	if m == nil || probability < m.th.RegimeChange {
		return false
	}
	return m.Raise(ctx, models.Alert{
		Type:      models.AlertRegimeChange,
		Severity:  models.SeverityHigh,
		Subject:   universe,
		Message:   fmt.Sprintf("Possible regime change from %s: change probability %.0f%%", current, probability*100),
		Value:     probability,
		Threshold: m.th.RegimeChange,
	})
}

// Anomaly fires for detections scoring at or above the threshold
func (m *Manager) Anomaly(ctx context.Context, d models.AnomalyDetection) bool {
	if m == nil || !d.IsAnomaly || d.AnomalyScore < m.th.Anomaly {
		return false
	}
	severity := models.SeverityMedium
	if d.AnomalyScore >= 0.9 {
		severity = models.SeverityHigh
	}
	return m.Raise(ctx, models.Alert{
		Type:      models.AlertAnomaly,
		Severity:  severity,
		Subject:   d.Symbol,
		Message:   fmt.Sprintf("%s anomaly on %s: %s", d.AnomalyType, d.Symbol, d.Details),
		Value:     d.AnomalyScore,
		Threshold: m.th.Anomaly,
	})
}

// Raise records an alert unless the same type and subject fired within the last hour.
// It reports whether the alert was raised.
func (m *Manager) Raise(ctx context.Context, a models.Alert) bool {
	if m == nil {
		return false
	}
	now := m.now()
	key := a.Type + "|" + a.Subject

	m.mu.Lock()
	if last, ok := m.lastRaised[key]; ok && now.Sub(last) < dedupWindow {
		m.mu.Unlock()
		m.logger.Debug().Str("type", a.Type).Str("subject", a.Subject).Msg("Alert suppressed")
		return false
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	m.lastRaised[key] = now
	m.history = append(m.history, a)
	m.pruneLocked(now)
	subs := append(([]func(models.Alert))(nil), m.subscribers...)
	m.mu.Unlock()

	m.logger.Warn().
		Str("type", a.Type).
		Str("severity", a.Severity).
		Str("subject", a.Subject).
		Float64("value", a.Value).
		Msg(a.Message)
	m.opts.Metrics.Alert(a.Type, a.Severity)

	if m.opts.Store != nil {
		if err := m.opts.Store.SaveAlert(ctx, a); err != nil {
			m.logger.Error().Err(err).Str("id", a.ID).Msg("Failed to store alert")
		}
	}
	for _, fn := range subs {
		fn(a)
	}
	if m.opts.Notifier != nil {
		if err := m.opts.Notifier.SendAlert(ctx, a); err != nil {
			m.logger.Error().Err(err).Str("id", a.ID).Msg("Failed to notify alert")
		}
	}
	return true
}

// Recent returns alerts raised since t, newest first
func (m *Manager) Recent(since time.Time) []models.Alert {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())

	var out []models.Alert
	for _, a := range m.history {
		if !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Counts groups the in-memory history by severity
func (m *Manager) Counts() map[string]int {
	out := map[string]int{}
	for _, a := range m.Recent(time.Time{}) {
		out[a.Severity]++
	}
	return out
}

// Prune drops history and dedup entries older than 24h
func (m *Manager) Prune() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(m.now())
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-historyWindow)
	kept := m.history[:0]
	for _, a := range m.history {
		if a.CreatedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.history = kept
	for k, t := range m.lastRaised {
		if now.Sub(t) >= dedupWindow {
			delete(m.lastRaised, k)
		}
	}
}
