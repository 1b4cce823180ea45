package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics of the correlation engine.
// All recording methods are safe to call on a nil *Registry.
type Registry struct {
	reg *prometheus.Registry

	HTTPDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec

	UpstreamRequests *prometheus.CounterVec
	RecordsCollected *prometheus.CounterVec

	AnalysisDuration *prometheus.HistogramVec
	AlertsRaised     *prometheus.CounterVec

	AgentTasks *prometheus.CounterVec
	QueueDepth *prometheus.GaugeVec

	CacheLookups *prometheus.CounterVec
	FeedClients  prometheus.Gauge
}

// New creates a registry with every metric registered, plus Go runtime collectors
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "correlator_http_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_http_requests_total",
				Help: "Total API requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_upstream_requests_total",
				Help: "Requests to upstream data sources by outcome",
			},
			[]string{"source", "outcome"},
		),
		RecordsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_records_collected_total",
				Help: "Market data records collected by source",
			},
			[]string{"source"},
		),
		AnalysisDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "correlator_analysis_duration_seconds",
				Help:    "Duration of analysis runs by type and result",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"type", "result"},
		),
		AlertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_alerts_total",
				Help: "Alerts raised by type and severity",
			},
			[]string{"type", "severity"},
		),
		AgentTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_agent_tasks_total",
				Help: "Agent tasks finished by agent and status",
			},
			[]string{"agent", "status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "correlator_agent_queue_depth",
				Help: "Pending tasks per agent",
			},
			[]string{"agent"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_cache_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		FeedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "correlator_feed_clients",
				Help: "Connected websocket feed clients",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HTTPDuration, r.HTTPRequests,
		r.UpstreamRequests, r.RecordsCollected,
		r.AnalysisDuration, r.AlertsRaised,
		r.AgentTasks, r.QueueDepth,
		r.CacheLookups, r.FeedClients,
	)
	return r
}

// Handler exposes the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveHTTP(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPDuration.WithLabelValues(route, method).Observe(d.Seconds())
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

func (r *Registry) Upstream(source, outcome string) {
	if r == nil {
		return
	}
	r.UpstreamRequests.WithLabelValues(source, outcome).Inc()
}

func (r *Registry) Collected(source string, n int) {
	if r == nil {
		return
	}
	r.RecordsCollected.WithLabelValues(source).Add(float64(n))
}

func (r *Registry) ObserveAnalysis(kind string, err error, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.AnalysisDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (r *Registry) Alert(kind, severity string) {
	if r == nil {
		return
	}
	r.AlertsRaised.WithLabelValues(kind, severity).Inc()
}

func (r *Registry) Task(agent, status string) {
	if r == nil {
		return
	}
	r.AgentTasks.WithLabelValues(agent, status).Inc()
}

func (r *Registry) SetQueueDepth(agent string, n int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(agent).Set(float64(n))
}

func (r *Registry) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}

func (r *Registry) FeedClientsDelta(delta int) {
	if r == nil {
		return
	}
	r.FeedClients.Add(float64(delta))
}
