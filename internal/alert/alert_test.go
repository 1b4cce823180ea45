package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alias1177/Correlator/internal/metrics"
	"github.com/Alias1177/Correlator/models"
)

type memStore struct{ saved []models.Alert }

func (s *memStore) SaveAlert(_ context.Context, a models.Alert) error {
	s.saved = append(s.saved, a)
	return nil
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) SendAlert(context.Context, models.Alert) error {
	n.calls++
	return errors.New("offline")
}

func newTestManager(t *testing.T) (*Manager, *memStore, *time.Time) {
	t.Helper()
	store := &memStore{}
	m := NewManager(Thresholds{}, Options{Store: store})
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, store, &clock
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		fire     func(m *Manager) bool
		raised   bool
		severity string
	}{
		{"correlation below", func(m *Manager) bool { return m.Correlation(ctx, "A", "B", 0.79) }, false, ""},
		{"correlation medium", func(m *Manager) bool { return m.Correlation(ctx, "A", "B", -0.85) }, true, models.SeverityMedium},
		{"correlation high", func(m *Manager) bool { return m.Correlation(ctx, "A", "B", 0.95) }, true, models.SeverityHigh},
		{"volatility below", func(m *Manager) bool { return m.Volatility(ctx, "TSLA", 0.4) }, false, ""},
		{"volatility medium", func(m *Manager) bool { return m.Volatility(ctx, "TSLA", 0.6) }, true, models.SeverityMedium},
		{"volatility high", func(m *Manager) bool { return m.Volatility(ctx, "TSLA", 1.0) }, true, models.SeverityHigh},
		{"regime", func(m *Manager) bool { return m.RegimeChange(ctx, "default", "bull", 0.85) }, true, models.SeverityHigh},
		{"regime below", func(m *Manager) bool { return m.RegimeChange(ctx, "default", "bull", 0.5) }, false, ""},
		{"anomaly", func(m *Manager) bool {
			return m.Anomaly(ctx, models.AnomalyDetection{Symbol: "AAPL", IsAnomaly: true, AnomalyScore: 0.75, AnomalyType: "GAP"})
		}, true, models.SeverityMedium},
		{"anomaly low score", func(m *Manager) bool {
			return m.Anomaly(ctx, models.AnomalyDetection{Symbol: "AAPL", IsAnomaly: true, AnomalyScore: 0.5})
		}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, _ := newTestManager(t)
			assert.Equal(t, tt.raised, tt.fire(m))
			if !tt.raised {
				assert.Empty(t, store.saved)
				return
			}
			require.Len(t, store.saved, 1)
			assert.Equal(t, tt.severity, store.saved[0].Severity)
			assert.NotEmpty(t, store.saved[0].ID)
		})
	}
}

func TestDeduplicationAndPrune(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newTestManager(t)

	var published []models.Alert
	m.Subscribe(func(a models.Alert) { published = append(published, a) })

	assert.True(t, m.Volatility(ctx, "BTC", 0.7))
	assert.False(t, m.Volatility(ctx, "BTC", 0.9))
	assert.True(t, m.Volatility(ctx, "ETH", 0.9))

	*clock = clock.Add(61 * time.Minute)
	assert.True(t, m.Volatility(ctx, "BTC", 0.9))
	assert.Len(t, store.saved, 3)
	assert.Len(t, published, 3)
	assert.Len(t, m.Recent(time.Time{}), 3)

	*clock = clock.Add(24 * time.Hour)
	m.Prune()
	assert.Empty(t, m.Recent(time.Time{}))
}

func TestRecentOrderAndCounts(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager(t)
	m.Correlation(ctx, "A", "B", 0.95)
	*clock = clock.Add(time.Minute)
	m.Volatility(ctx, "A", 0.6)

	recent := m.Recent(clock.Add(-30 * time.Second))
	require.Len(t, recent, 1)
	assert.Equal(t, models.AlertHighVolatility, recent[0].Type)

	all := m.Recent(time.Time{})
	require.Len(t, all, 2)
	assert.Equal(t, models.AlertHighVolatility, all[0].Type)
	assert.Equal(t, map[string]int{models.SeverityHigh: 1, models.SeverityMedium: 1}, m.Counts())
}

func TestNotifierFailureDoesNotBlock(t *testing.T) {
	reg := metrics.New()
	n := &failingNotifier{}
	m := NewManager(DefaultThresholds(), Options{Notifier: n, Metrics: reg})
	assert.True(t, m.Correlation(context.Background(), "A", "B", 0.99))
	assert.Equal(t, 1, n.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.AlertsRaised.WithLabelValues(models.AlertHighCorrelation, models.SeverityHigh)))
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Correlation(context.Background(), "A", "B", 1))
	assert.Nil(t, m.Recent(time.Time{}))
	m.Prune()
}
