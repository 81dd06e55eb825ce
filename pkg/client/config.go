package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/replinet/replinet/pkg/channel"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/transport"
)

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Recorder receives client measurements. telemetry.Metrics satisfies it.
type Recorder interface {
	RecordTick(d time.Duration, events int)
	RecordConnect()
	RecordDisconnect()
	RecordPacketIn(bytes int)
	RecordError(code protocol.ErrorCode)
}

// Config holds configuration for the client.
type Config struct {
	// Network

	// Connection describes the channels of the connection. It must match
	// the server topology.
	// Default: transport.DefaultConnectionConfig().
	Connection transport.ConnectionConfig

	// Resolver resolves host names that are not IP literals.
	// Default: net.DefaultResolver.
	Resolver Resolver

	// ResolveTimeout bounds one host name lookup.
	// Default: 10s.
	ResolveTimeout time.Duration

	// Tick

	// MaxEventsPerTick bounds the transport events drained by one Update.
	// Default: 500.
	MaxEventsPerTick int

	// MaxDelay is the batching delay of every channel. Zero flushes on
	// every send.
	// Default: 10ms.
	MaxDelay time.Duration

	// Channel tunes the channel buffers.
	// Default: channel.DefaultConfig().
	Channel channel.Config

	// Behaviour

	// StrictCRC disconnects when the server's behaviour table does not
	// match the local one. Otherwise the mismatch is only reported.
	// Default: false.
	StrictCRC bool

	// LogNetworkMessages logs every received frame at debug level.
	// Default: false.
	LogNetworkMessages bool

	// Observability

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Recorder receives tick, connection and error measurements.
	// Default: nil.
	Recorder Recorder
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Connection:       transport.DefaultConnectionConfig(),
		ResolveTimeout:   10 * time.Second,
		MaxEventsPerTick: 500,
		MaxDelay:         10 * time.Millisecond,
		Channel:          channel.DefaultConfig(),
	}
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Connection = c.Connection.Clone()
	return &clone
}

// WithLogger returns a copy of the config with the given logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	clone := c.Clone()
	clone.Logger = logger
	return clone
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	clone := c.Clone()
	if len(clone.Connection.Channels) == 0 {
		clone.Connection = defaults.Connection
	}
	if clone.ResolveTimeout <= 0 {
		clone.ResolveTimeout = defaults.ResolveTimeout
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
