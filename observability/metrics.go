// Package observability exposes broadcast measurements as Prometheus metrics.
package observability

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

var (
	_ contract.IRecorder     = (*Metrics)(nil)
	_ contract.INodeObserver = (*Metrics)(nil)
)

type Metrics struct {
	registry     *prometheus.Registry
	broadcasts   *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	staleRemoved prometheus.Counter
	duration     prometheus.Histogram
	connections  prometheus.Gauge
	sessions     prometheus.Gauge
	inFlight     prometheus.Gauge
	cpuPercent   prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast invocations, by whether the overall deadline cut them short.",
		}, []string{"partial"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		staleRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_connections_removed_total",
			Help:      "Connections removed after the transport reported them gone.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of one broadcast, stale removal included.",
			Buckets:   prometheus.DefBuckets,
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_connections",
			Help:      "Connections seen by the last broadcast snapshot.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "WebSocket sessions held by this process.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_in_flight",
			Help:      "Published events queued or being broadcast.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of this process at the last heartbeat.",
		}),
	}
	m.registry.MustRegister(
		m.broadcasts, m.deliveries, m.staleRemoved, m.duration, m.connections,
		m.sessions, m.inFlight, m.cpuPercent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveBroadcast(result domain.BroadcastResult, took time.Duration) {
	partial := "false"
	if result.Partial {
		partial = "true"
	}
	m.broadcasts.WithLabelValues(partial).Inc()
	m.staleRemoved.Add(float64(result.StaleRemoved))
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) ObserveDelivery(outcome domain.DeliveryOutcome) {
	m.deliveries.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *Metrics) ObserveNode(stats domain.NodeStats) {
	m.sessions.Set(float64(stats.Sessions))
	m.inFlight.Set(float64(stats.InFlight))
	m.cpuPercent.Set(stats.CPUPercent)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed so other components can register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
