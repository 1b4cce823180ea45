package server

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limit categories
const (
	CategoryMarketData   = "market_data"
	CategoryCorrelations = "correlations"
	CategoryWorkflows    = "workflows"
	CategoryTasks        = "tasks"
	CategoryDefault      = "default"
)

const limiterIdle = 10 * time.Minute

// DefaultRateLimits are requests per minute per client
func DefaultRateLimits() map[string]int {
	return map[string]int{
		CategoryMarketData:   60,
		CategoryCorrelations: 30,
		CategoryWorkflows:    10,
		CategoryTasks:        20,
		CategoryDefault:      100,
	}
}

// Category maps an API path (without the /api/v1 prefix) to its rate limit category
func Category(path string) string {
	switch {
	case strings.HasPrefix(path, "/data/correlations"), strings.HasPrefix(path, "/analysis/"):
		return CategoryCorrelations
	case strings.HasPrefix(path, "/data/"):
		return CategoryMarketData
	case strings.HasPrefix(path, "/workflow"):
		return CategoryWorkflows
	case strings.HasPrefix(path, "/tasks"), strings.HasPrefix(path, "/collection/"):
		return CategoryTasks
	}
	return CategoryDefault
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per category and client. A bucket holds a
// full minute of requests and refills continuously.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	boost   int
	buckets map[string]*bucket
	calls   int
	now     func() time.Time
}

// NewRateLimiter creates a limiter; boosted clients get limits multiplied by boost
func NewRateLimiter(limits map[string]int, boost int) *RateLimiter {
	if boost < 1 {
		boost = 1
	}
	return &RateLimiter{
		limits:  limits,
		boost:   boost,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Limit returns the per minute limit of a category
func (l *RateLimiter) Limit(category string, boosted bool) int {
	n, ok := l.limits[category]
	if !ok {
		n = l.limits[CategoryDefault]
	}
	if n <= 0 {
		n = 100
	}
	if boosted {
		n *= l.boost
	}
	return n
}

// Allow takes one request from the client's bucket. When the bucket is empty
// it returns false and how long until the next request is allowed.
func (l *RateLimiter) Allow(category, client string, boosted bool) (bool, time.Duration) {
	now := l.now()
	key := category + ":" + client
	if boosted {
		key += ":boost"
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		n := l.Limit(category, boosted)
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(n)/60), n)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.calls++
	if l.calls%1000 == 0 {
		l.sweepLocked(now)
	}
	l.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Remaining reports how many requests the client can make right now
func (l *RateLimiter) Remaining(category, client string, boosted bool) int {
	key := category + ":" + client
	if boosted {
		key += ":boost"
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return l.Limit(category, boosted)
	}
	return int(b.lim.TokensAt(l.now()))
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdle {
			delete(l.buckets, k)
		}
	}
}
