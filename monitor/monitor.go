// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers     prometheus.Gauge
	MonitoredSessions prometheus.Gauge
	Rolls             prometheus.Counter
	ForcedSkips       prometheus.Counter
	ChatOutcomes      *prometheus.CounterVec
	Kicks             *prometheus.CounterVec
	Sanctions         *prometheus.CounterVec
	Votes             *prometheus.CounterVec
	StorageFaults     *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected players",
		}),
		MonitoredSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_sessions",
			Help:      "Sessions watched by the liveness watchdog",
		}),
		Rolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rolls_total",
			Help:      "Moves committed by players",
		}),
		ForcedSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_skips_total",
			Help:      "Turns skipped by the watchdog",
		}),
		ChatOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages by moderation outcome",
		}, []string{"outcome"}),
		Kicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kicks_total",
			Help:      "Kicks processed by source",
		}, []string{"source"}),
		Sanctions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanctions_total",
			Help:      "Sanction records written by type",
		}, []string{"type"}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote-kicks by result",
		}, []string{"result"}),
		StorageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_faults_total",
			Help:      "Swallowed storage faults by operation",
		}, []string{"operation"}),
		OperationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Core operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.MonitoredSessions,
		m.Rolls,
		m.ForcedSkips,
		m.ChatOutcomes,
		m.Kicks,
		m.Sanctions,
		m.Votes,
		m.StorageFaults,
		m.OperationLatency,
	)

	return m
}

// Monitor wraps the metrics. A nil *Monitor is valid and records nothing.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
}

// Handler serves the monitor's registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	go http.ListenAndServe(addr, mux)
}

func (m *Monitor) IncOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetMonitoredSessions(count int) {
	if m == nil {
		return
	}
	m.metrics.MonitoredSessions.Set(float64(count))
}

func (m *Monitor) IncRolls() {
	if m == nil {
		return
	}
	m.metrics.Rolls.Inc()
}

func (m *Monitor) IncForcedSkips() {
	if m == nil {
		return
	}
	m.metrics.ForcedSkips.Inc()
}

func (m *Monitor) IncChatOutcome(outcome string) {
	if m == nil {
		return
	}
	m.metrics.ChatOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Monitor) IncKicks(source string) {
	if m == nil {
		return
	}
	m.metrics.Kicks.WithLabelValues(source).Inc()
}

func (m *Monitor) IncSanctions(kind string) {
	if m == nil {
		return
	}
	m.metrics.Sanctions.WithLabelValues(kind).Inc()
}

func (m *Monitor) IncVotes(result string) {
	if m == nil {
		return
	}
	m.metrics.Votes.WithLabelValues(result).Inc()
}

func (m *Monitor) IncStorageFaults(operation string) {
	if m == nil {
		return
	}
	m.metrics.StorageFaults.WithLabelValues(operation).Inc()
}

// ObserveLatency records the time elapsed since start.
func (m *Monitor) ObserveLatency(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.metrics.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
