package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replinet/replinet/pkg/client"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/server"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "replinet").
	Namespace string

	// Subsystem is the metrics subsystem, usually "server" or "client"
	// (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for tick duration.
	// Default: 100µs to 100ms.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the tick duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "replinet",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records tick, connection and entity measurements as Prometheus
// collectors. It implements server.Recorder and client.Recorder.
//
// Metrics collected (with the default namespace):
//   - replinet_ticks_total: Counter of ticks
//   - replinet_tick_duration_seconds: Histogram of tick duration
//   - replinet_events_total: Counter of transport events drained
//   - replinet_connects_total / replinet_disconnects_total
//   - replinet_packets_received_total / replinet_bytes_received_total
//   - replinet_spawns_total / replinet_destroys_total
//   - replinet_errors_total: Counter of reported errors by code
//   - replinet_commands_rejected_total
//   - replinet_entities / replinet_connections: Gauges
type Metrics struct {
	ticks            prometheus.Counter
	tickDuration     prometheus.Histogram
	events           prometheus.Counter
	connects         prometheus.Counter
	disconnects      prometheus.Counter
	packetsIn        prometheus.Counter
	bytesIn          prometheus.Counter
	spawns           prometheus.Counter
	destroys         prometheus.Counter
	errors           *prometheus.CounterVec
	commandsRejected prometheus.Counter
	entities         prometheus.Gauge
	connections      prometheus.Gauge
}

// NewMetrics registers the collectors. It panics if they are already
// registered with the registry, as promauto does.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		ticks: counter("ticks_total", "Total number of update ticks"),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tick_duration_seconds",
			Help:        "Update tick duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
		events:      counter("events_total", "Total number of transport events drained"),
		connects:    counter("connects_total", "Total number of established connections"),
		disconnects: counter("disconnects_total", "Total number of closed connections"),
		packetsIn:   counter("packets_received_total", "Total number of packets received"),
		bytesIn:     counter("bytes_received_total", "Total number of bytes received"),
		spawns:      counter("spawns_total", "Total number of spawned entities"),
		destroys:    counter("destroys_total", "Total number of destroyed entities"),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of reported errors by code",
			ConstLabels: config.ConstLabels,
		}, []string{"code"}),
		commandsRejected: counter("commands_rejected_total", "Total number of commands from clients without authority"),
		entities:         gauge("entities", "Number of spawned entities"),
		connections:      gauge("connections", "Number of open connections"),
	}
}

// RecordTick implements server.Recorder.
func (m *Metrics) RecordTick(d time.Duration, events int) {
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	m.events.Add(float64(events))
}

// RecordConnect implements server.Recorder.
func (m *Metrics) RecordConnect() {
	m.connects.Inc()
	m.connections.Inc()
}

// RecordDisconnect implements server.Recorder.
func (m *Metrics) RecordDisconnect() {
	m.disconnects.Inc()
	m.connections.Dec()
}

// RecordPacketIn implements server.Recorder.
func (m *Metrics) RecordPacketIn(bytes int) {
	m.packetsIn.Inc()
	m.bytesIn.Add(float64(bytes))
}

// RecordSpawn implements server.Recorder.
func (m *Metrics) RecordSpawn() { m.spawns.Inc() }

// RecordDestroy implements server.Recorder.
func (m *Metrics) RecordDestroy() { m.destroys.Inc() }

// RecordError implements server.Recorder. The code name is the label so
// cardinality stays bounded by the code table.
func (m *Metrics) RecordError(code protocol.ErrorCode) {
	m.errors.WithLabelValues(code.String()).Inc()
}

// RecordCommandRejected implements server.Recorder.
func (m *Metrics) RecordCommandRejected() { m.commandsRejected.Inc() }

// SetEntities implements server.Recorder.
func (m *Metrics) SetEntities(n int) { m.entities.Set(float64(n)) }

// SetConnections implements server.Recorder. It overrides the running
// count kept by RecordConnect and RecordDisconnect.
func (m *Metrics) SetConnections(n int) { m.connections.Set(float64(n)) }

// Handler serves the metrics in g. A nil gatherer serves the default one.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var (
	_ server.Recorder = (*Metrics)(nil)
	_ client.Recorder = (*Metrics)(nil)
)
