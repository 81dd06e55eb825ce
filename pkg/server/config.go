package server

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/replinet/replinet/pkg/channel"
	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/transport"
)

// Config holds configuration for the server.
type Config struct {
	// Network

	// Topology describes the channels of every connection and the
	// connection limit.
	// Default: transport.DefaultHostTopology().
	Topology transport.HostTopology

	// Port is the port the host listens on.
	// Default: 7777.
	Port int

	// Tick

	// MaxEventsPerTick bounds the transport events drained by one Update.
	// Default: 500.
	MaxEventsPerTick int

	// MaxDelay is the batching delay applied to every channel of a new
	// connection. Zero flushes on every send.
	// Default: 10ms.
	MaxDelay time.Duration

	// Channel tunes the channel buffers of every connection.
	// Default: channel.DefaultConfig().
	Channel channel.Config

	// Behaviour

	// ScriptCRCCheck sends the behaviour table to every new connection.
	// Default: true.
	ScriptCRCCheck bool

	// DestroyPlayersOnDisconnect destroys the players and owned objects of
	// a connection when it disconnects.
	// Default: true.
	DestroyPlayersOnDisconnect bool

	// LogNetworkMessages logs every received frame at debug level.
	// Default: false.
	LogNetworkMessages bool

	// PlayerFactory creates the player identity for an add-player request.
	// The server spawns it and sends the owner message. Without a factory
	// add-player requests are ignored.
	// Default: nil.
	PlayerFactory PlayerFactory

	// Observability

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Recorder receives tick, connection and error measurements in
	// addition to the built-in collector. Default: nil.
	Recorder Recorder

	// Tracer opens spans around ticks and command dispatch.
	// Default: otel.Tracer("github.com/replinet/replinet/pkg/server").
	Tracer trace.Tracer
}

// PlayerFactory creates a player identity for controller id pcid of c.
// payload is the application data of the request.
type PlayerFactory func(c *conn.Connection, pcid int16, payload []byte) (*replica.Identity, error)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Topology:                   transport.DefaultHostTopology(),
		Port:                       7777,
		MaxEventsPerTick:           500,
		MaxDelay:                   10 * time.Millisecond,
		Channel:                    channel.DefaultConfig(),
		ScriptCRCCheck:             true,
		DestroyPlayersOnDisconnect: true,
	}
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Topology.Default = c.Topology.Default.Clone()
	return &clone
}

// WithPort returns a copy of the config with the given port.
func (c *Config) WithPort(port int) *Config {
	clone := c.Clone()
	clone.Port = port
	return clone
}

// WithLogger returns a copy of the config with the given logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	clone := c.Clone()
	clone.Logger = logger
	return clone
}

// WithRecorder returns a copy of the config with the given recorder.
func (c *Config) WithRecorder(r Recorder) *Config {
	clone := c.Clone()
	clone.Recorder = r
	return clone
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	clone := c.Clone()
	if len(clone.Topology.Default.Channels) == 0 {
		clone.Topology = defaults.Topology
	}
	if clone.Port == 0 {
		clone.Port = defaults.Port
	}
	if clone.MaxEventsPerTick <= 0 {
		clone.MaxEventsPerTick = defaults.MaxEventsPerTick
	}
	if clone.MaxDelay < 0 {
		clone.MaxDelay = 0
	}
	if clone.Logger == nil {
		clone.Logger = slog.Default()
	}
	return clone
}
