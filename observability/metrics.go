package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_roulette"

// Metrics holds every collector of the process on a dedicated registry,
// so tests can build as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	Connected      prometheus.Gauge
	Waiting        prometheus.Gauge
	ActiveRooms    prometheus.Gauge
	Pairs          prometheus.Counter
	Relayed        prometheus.Counter
	Rejected       *prometheus.CounterVec
	WorkerRestarts *prometheus.CounterVec
	ProcessRSS     prometheus.Gauge
	ProcessCPU     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_connected",
			Help: "Sessions currently attached to the matchmaker.",
		}),
		Waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_waiting",
			Help: "Sessions currently in the waiting pool.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_active",
			Help: "Rooms currently open.",
		}),
		Pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pairs_total",
			Help: "Pairs created by the matchmaker.",
		}),
		Relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_relayed_total",
			Help: "Messages ordered by a room and fanned out.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_rejected_total",
			Help: "Messages dropped, by reason.",
		}, []string{"reason"}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_restarts_total",
			Help: "Workers restarted by the supervisor.",
		}, []string{"worker"}),
		ProcessRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes",
			Help: "Resident memory sampled by the telemetry worker.",
		}),
		ProcessCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent",
			Help: "CPU usage sampled by the telemetry worker.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.Connected, m.Waiting, m.ActiveRooms,
		m.Pairs, m.Relayed, m.Rejected,
		m.WorkerRestarts, m.ProcessRSS, m.ProcessCPU,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
