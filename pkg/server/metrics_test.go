package server

import (
	"testing"
	"time"

	"github.com/replinet/replinet/pkg/protocol"
)

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordConnect()
	m.RecordConnect()
	m.RecordDisconnect()
	m.RecordPacketIn(100)
	m.RecordPacketIn(20)
	m.RecordSpawn()
	m.RecordDestroy()
	m.RecordError(protocol.CodeNotAuthority)
	m.RecordError(protocol.CodeNotAuthority)
	m.RecordError(protocol.CodeBadMessage)
	m.RecordCommandRejected()
	m.SetEntities(4)
	for i := 1; i <= 100; i++ {
		m.RecordTick(time.Duration(i)*time.Millisecond, 1)
	}

	snap := m.Snapshot()
	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"ActiveConnections", snap.ActiveConnections, 1},
		{"TotalConnections", snap.TotalConnections, 2},
		{"PeakConnections", snap.PeakConnections, 2},
		{"Disconnects", snap.Disconnects, 1},
		{"PacketsReceived", snap.PacketsReceived, 2},
		{"BytesReceived", snap.BytesReceived, 120},
		{"Spawns", snap.Spawns, 1},
		{"Destroys", snap.Destroys, 1},
		{"Errors", snap.Errors, 3},
		{"NotAuthority", snap.ErrorsByCode[protocol.CodeNotAuthority], 2},
		{"CommandsRejected", snap.CommandsRejected, 1},
		{"Entities", snap.Entities, 4},
		{"Ticks", snap.Ticks, 100},
		{"EventsHandled", snap.EventsHandled, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
			}
		})
	}
	if snap.TickLatencyP50 != 51*time.Millisecond || snap.TickLatencyP99 != 100*time.Millisecond {
		t.Errorf("tick latency p50 = %v, p99 = %v", snap.TickLatencyP50, snap.TickLatencyP99)
	}

	m.Reset()
	snap = m.Snapshot()
	if snap.Errors != 0 || len(snap.ErrorsByCode) != 0 || snap.Ticks != 0 {
		t.Errorf("Snapshot() after Reset = %+v", snap)
	}
	if snap.ActiveConnections != 1 {
		t.Errorf("ActiveConnections after Reset = %d, want 1", snap.ActiveConnections)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()
	if cfg.Port != 7777 || cfg.MaxEventsPerTick != 500 || cfg.Logger == nil {
		t.Errorf("withDefaults() = port %d, events %d, logger %v", cfg.Port, cfg.MaxEventsPerTick, cfg.Logger)
	}
	if len(cfg.Topology.Default.Channels) != 2 {
		t.Errorf("channels = %v, want the default two", cfg.Topology.Default.Channels)
	}

	orig := DefaultConfig()
	clone := orig.Clone()
	clone.Topology.Default.Channels[0] = 99
	if orig.Topology.Default.Channels[0] == 99 {
		t.Error("Clone() shares the channel slice")
	}
	if got := orig.WithPort(9000); got.Port != 9000 || orig.Port != 7777 {
		t.Errorf("WithPort() = %d, original = %d", got.Port, orig.Port)
	}
}
