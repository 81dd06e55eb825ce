package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replinet/replinet/pkg/protocol"
)

// Recorder receives measurements from the tick. telemetry.Metrics
// implements it with Prometheus collectors.
type Recorder interface {
	RecordTick(d time.Duration, events int)
	RecordConnect()
	RecordDisconnect()
	RecordPacketIn(bytes int)
	RecordSpawn()
	RecordDestroy()
	RecordError(code protocol.ErrorCode)
	RecordCommandRejected()
	SetEntities(n int)
	SetConnections(n int)
}

// ServerMetrics aggregates metrics across the server.
type ServerMetrics struct {
	// Connections
	ActiveConnections int64
	TotalConnections  int64
	Disconnects       int64
	PeakConnections   int64

	// Entities
	Entities int64
	Spawns   int64
	Destroys int64

	// Network
	PacketsReceived int64
	BytesReceived   int64

	// Ticks
	Ticks          int64
	EventsHandled  int64
	TickLatencyP50 time.Duration
	TickLatencyP99 time.Duration

	// Errors
	Errors           int64
	ErrorsByCode     map[protocol.ErrorCode]int64
	CommandsRejected int64

	// Timestamp
	CollectedAt time.Time
}

// MetricsCollector collects and aggregates metrics over time. Counters are
// atomic so the admin surface may read a Snapshot while the tick runs.
type MetricsCollector struct {
	// Counters (atomic)
	activeConns      atomic.Int64
	totalConns       atomic.Int64
	disconnects      atomic.Int64
	peakConns        atomic.Int64
	entities         atomic.Int64
	spawns           atomic.Int64
	destroys         atomic.Int64
	packetsIn        atomic.Int64
	bytesIn          atomic.Int64
	ticks            atomic.Int64
	eventsHandled    atomic.Int64
	errors           atomic.Int64
	commandsRejected atomic.Int64

	mu         sync.Mutex
	errorCodes map[protocol.ErrorCode]int64
	latencies  []time.Duration
}

// NewMetricsCollector creates a new MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		errorCodes: make(map[protocol.ErrorCode]int64),
		latencies:  make([]time.Duration, 0, 1000),
	}
}

// RecordTick records one Update and the events it drained.
func (m *MetricsCollector) RecordTick(d time.Duration, events int) {
	m.ticks.Add(1)
	m.eventsHandled.Add(int64(events))

	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep only recent samples
	if len(m.latencies) >= 1000 {
		m.latencies = m.latencies[500:]
	}
	m.latencies = append(m.latencies, d)
}

// RecordConnect records an accepted connection.
func (m *MetricsCollector) RecordConnect() {
	m.totalConns.Add(1)
	n := m.activeConns.Add(1)
	for {
		peak := m.peakConns.Load()
		if n <= peak || m.peakConns.CompareAndSwap(peak, n) {
			return
		}
	}
}

// RecordDisconnect records a removed connection.
func (m *MetricsCollector) RecordDisconnect() {
	m.disconnects.Add(1)
	m.activeConns.Add(-1)
}

// RecordPacketIn records a received packet.
func (m *MetricsCollector) RecordPacketIn(bytes int) {
	m.packetsIn.Add(1)
	m.bytesIn.Add(int64(bytes))
}

// RecordSpawn records a spawned identity.
func (m *MetricsCollector) RecordSpawn() {
	m.spawns.Add(1)
}

// RecordDestroy records a destroyed identity.
func (m *MetricsCollector) RecordDestroy() {
	m.destroys.Add(1)
}

// RecordError records a reported error by code.
func (m *MetricsCollector) RecordError(code protocol.ErrorCode) {
	m.errors.Add(1)
	m.mu.Lock()
	m.errorCodes[code]++
	m.mu.Unlock()
}

// RecordCommandRejected records a command refused by the authority check.
func (m *MetricsCollector) RecordCommandRejected() {
	m.commandsRejected.Add(1)
}

// SetEntities records the number of spawned identities.
func (m *MetricsCollector) SetEntities(n int) {
	m.entities.Store(int64(n))
}

// SetConnections records the number of live connections.
func (m *MetricsCollector) SetConnections(n int) {
	m.activeConns.Store(int64(n))
}

// Snapshot returns current metrics.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	metrics := &ServerMetrics{
		ActiveConnections: m.activeConns.Load(),
		TotalConnections:  m.totalConns.Load(),
		Disconnects:       m.disconnects.Load(),
		PeakConnections:   m.peakConns.Load(),
		Entities:          m.entities.Load(),
		Spawns:            m.spawns.Load(),
		Destroys:          m.destroys.Load(),
		PacketsReceived:   m.packetsIn.Load(),
		BytesReceived:     m.bytesIn.Load(),
		Ticks:             m.ticks.Load(),
		EventsHandled:     m.eventsHandled.Load(),
		Errors:            m.errors.Load(),
		CommandsRejected:  m.commandsRejected.Load(),
		CollectedAt:       time.Now(),
	}

	m.mu.Lock()
	metrics.ErrorsByCode = make(map[protocol.ErrorCode]int64, len(m.errorCodes))
	for code, n := range m.errorCodes {
		metrics.ErrorsByCode[code] = n
	}
	latencies := slices.Clone(m.latencies)
	m.mu.Unlock()

	metrics.TickLatencyP50, metrics.TickLatencyP99 = latencyPercentiles(latencies)
	return metrics
}

// Reset clears all metrics.
func (m *MetricsCollector) Reset() {
	m.totalConns.Store(0)
	m.disconnects.Store(0)
	m.peakConns.Store(m.activeConns.Load())
	m.spawns.Store(0)
	m.destroys.Store(0)
	m.packetsIn.Store(0)
	m.bytesIn.Store(0)
	m.ticks.Store(0)
	m.eventsHandled.Store(0)
	m.errors.Store(0)
	m.commandsRejected.Store(0)

	m.mu.Lock()
	clear(m.errorCodes)
	m.latencies = m.latencies[:0]
	m.mu.Unlock()
}

func latencyPercentiles(samples []time.Duration) (p50, p99 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	slices.Sort(samples)
	p50 = samples[len(samples)*50/100]
	p99 = samples[min(len(samples)*99/100, len(samples)-1)]
	return p50, p99
}

// recorders fans measurements out to the collector and the configured
// recorder.
type recorders []Recorder

func (rs recorders) RecordTick(d time.Duration, events int) {
	for _, r := range rs {
		r.RecordTick(d, events)
	}
}

func (rs recorders) RecordConnect() {
	for _, r := range rs {
		r.RecordConnect()
	}
}

func (rs recorders) RecordDisconnect() {
	for _, r := range rs {
		r.RecordDisconnect()
	}
}

func (rs recorders) RecordPacketIn(bytes int) {
	for _, r := range rs {
		r.RecordPacketIn(bytes)
	}
}

func (rs recorders) RecordSpawn() {
	for _, r := range rs {
		r.RecordSpawn()
	}
}

func (rs recorders) RecordDestroy() {
	for _, r := range rs {
		r.RecordDestroy()
	}
}

func (rs recorders) RecordError(code protocol.ErrorCode) {
	for _, r := range rs {
		r.RecordError(code)
	}
}

func (rs recorders) RecordCommandRejected() {
	for _, r := range rs {
		r.RecordCommandRejected()
	}
}

func (rs recorders) SetEntities(n int) {
	for _, r := range rs {
		r.SetEntities(n)
	}
}

func (rs recorders) SetConnections(n int) {
	for _, r := range rs {
		r.SetConnections(n)
	}
}
