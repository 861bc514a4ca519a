package observability

import (
	"chat-hub/domain/event"
	"chat-hub/runtime"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// StatsProvider is usually Orchestrator.Stats.
type StatsProvider func() runtime.Stats

// Metrics exposes the orchestrator counters to Prometheus.
// Values are read on scrape, nothing is copied in between.
// It is also a telemetry handler counting every internal event by type.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.GaugeFunc
	online         prometheus.GaugeFunc
	queued         prometheus.GaugeFunc
	sinkBuffered   prometheus.GaugeFunc
	delivered      prometheus.CounterFunc
	dropped        prometheus.CounterFunc
	persisted      prometheus.CounterFunc
	persistFailed  prometheus.CounterFunc
	rejected       prometheus.CounterFunc
	evicted        prometheus.CounterFunc
	sinkPublished  prometheus.CounterFunc
	sinkFailed     prometheus.CounterFunc
	sinkDropped    prometheus.CounterFunc
	workerRestarts prometheus.CounterFunc
	telemetry      *prometheus.CounterVec
}

func NewMetrics(stats StatsProvider) *Metrics {
	gauge := func(name, help string, value func(runtime.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return value(stats()) })
	}
	counter := func(name, help string, value func(runtime.Stats) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(value(stats())) })
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: gauge("connections", "Live client connections.",
			func(s runtime.Stats) float64 { return float64(s.Connections) }),
		online: gauge("online_users", "Users currently considered online.",
			func(s runtime.Stats) float64 { return float64(s.OnlineUsers) }),
		queued: gauge("persistence_queue_length", "Messages waiting for the message store.",
			func(s runtime.Stats) float64 { return float64(s.Persistence.Queued) }),
		sinkBuffered: gauge("event_sink_buffer_length", "Events waiting for the external event log.",
			func(s runtime.Stats) float64 { return float64(s.SinkBuffered) }),
		delivered: counter("deliveries_total", "Events handed to a connection.",
			func(s runtime.Stats) uint64 { return s.Delivered }),
		dropped: counter("deliveries_dropped_total", "Events lost on a slow or closed connection.",
			func(s runtime.Stats) uint64 { return s.DeliveryDropped }),
		persisted: counter("messages_persisted_total", "Messages appended to the store.",
			func(s runtime.Stats) uint64 { return s.Persistence.Persisted }),
		persistFailed: counter("messages_persistence_failed_total", "Messages given up after every retry.",
			func(s runtime.Stats) uint64 { return s.Persistence.Failed }),
		rejected: counter("messages_persistence_rejected_total", "Messages refused by a full persistence queue.",
			func(s runtime.Stats) uint64 { return s.Persistence.Rejected }),
		evicted: counter("messages_persistence_evicted_total", "System notices evicted from a full queue.",
			func(s runtime.Stats) uint64 { return s.Persistence.Evicted }),
		sinkPublished: counter("events_published_total", "Events accepted by the external event log.",
			func(s runtime.Stats) uint64 { return s.SinkPublished }),
		sinkFailed: counter("events_publish_failed_total", "Events the external event log refused.",
			func(s runtime.Stats) uint64 { return s.SinkFailed }),
		sinkDropped: counter("events_dropped_total", "Events dropped before reaching the external event log.",
			func(s runtime.Stats) uint64 { return s.SinkDropped }),
		workerRestarts: counter("worker_restarts_total", "Workers restarted after a panic.",
			func(s runtime.Stats) uint64 { return s.WorkerRestarts }),
		telemetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Internal telemetry events by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.connections, m.online, m.queued, m.sinkBuffered,
		m.delivered, m.dropped, m.persisted, m.persistFailed, m.rejected, m.evicted,
		m.sinkPublished, m.sinkFailed, m.sinkDropped, m.workerRestarts,
		m.telemetry,
		newMessagesCollector(stats),
	)
	return m
}

// Handle counts a telemetry event, Metrics can be added to the orchestrator handlers.
func (m *Metrics) Handle(e event.Event) {
	m.telemetry.WithLabelValues(string(e.Type)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// messagesCollector reports published messages with their type as label.
type messagesCollector struct {
	stats StatsProvider
	desc  *prometheus.Desc
}

func newMessagesCollector(stats StatsProvider) *messagesCollector {
	return &messagesCollector{
		stats: stats,
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "messages_published_total"),
			"Messages ordered by the room pipeline.", []string{"type"}, nil),
	}
}

func (c *messagesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *messagesCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.TextMessages), "text")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.SystemNotices), "system")
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(s.TypingIndicators), "typing")
}
