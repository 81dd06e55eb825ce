package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/internal/logging"
	"github.com/replinet/replinet/pkg/channel"
	"github.com/replinet/replinet/pkg/client"
	"github.com/replinet/replinet/pkg/server"
	"github.com/replinet/replinet/pkg/transport"
)

const (
	// DefaultPort is the default listen port.
	DefaultPort = 7777

	// DefaultAddress is the default listen address.
	DefaultAddress = "0.0.0.0"

	// DefaultTickRate is the default interval between two server updates.
	DefaultTickRate = 33 * time.Millisecond

	// EnvLogLevel overrides LogLevel when set.
	EnvLogLevel = "REPLINET_LOG_LEVEL"

	maxChannels       = 256
	maxPendingPackets = 512

	// minPacketSize leaves room for the channel reserve and one message.
	minPacketSize = 200
)

// Snapshot store kinds.
const (
	StoreNone   = ""
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

// Format is a configuration file format.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf returns the format for the extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.New("E102").WithDetail("Cannot load " + path + ".")
	}
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler (TOML and JSON).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.New("E108").WithDetail(fmt.Sprintf("%q is not a duration.", text)).Wrap(err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the replinet configuration file.
type Config struct {
	// LogLevel is debug, info, warn or error. REPLINET_LOG_LEVEL overrides it.
	LogLevel string `toml:"log_level" yaml:"log_level" json:"log_level"`

	// LogJSON selects JSON log output.
	LogJSON bool `toml:"log_json" yaml:"log_json" json:"log_json"`

	Server     ServerConfig     `toml:"server" yaml:"server" json:"server"`
	Connection ConnectionConfig `toml:"connection" yaml:"connection" json:"connection"`
	WebSocket  WebSocketConfig  `toml:"websocket" yaml:"websocket" json:"websocket"`
	Client     ClientConfig     `toml:"client" yaml:"client" json:"client"`
	Snapshot   SnapshotConfig   `toml:"snapshot" yaml:"snapshot" json:"snapshot"`

	path string
}

// ServerConfig configures the host.
type ServerConfig struct {
	// Address is the interface the HTTP listener binds.
	Address string `toml:"address" yaml:"address" json:"address"`

	// Port serves the websocket endpoint and the admin routes.
	Port int `toml:"port" yaml:"port" json:"port"`

	MaxConnections             int      `toml:"max_connections" yaml:"max_connections" json:"max_connections"`
	MaxEventsPerTick           int      `toml:"max_events_per_tick" yaml:"max_events_per_tick" json:"max_events_per_tick"`
	TickRate                   Duration `toml:"tick_rate" yaml:"tick_rate" json:"tick_rate"`
	ScriptCRCCheck             bool     `toml:"script_crc_check" yaml:"script_crc_check" json:"script_crc_check"`
	DestroyPlayersOnDisconnect bool     `toml:"destroy_players_on_disconnect" yaml:"destroy_players_on_disconnect" json:"destroy_players_on_disconnect"`
	LogNetworkMessages         bool     `toml:"log_network_messages" yaml:"log_network_messages" json:"log_network_messages"`

	// Metrics mounts /metrics.
	Metrics bool `toml:"metrics" yaml:"metrics" json:"metrics"`
}

// ConnectionConfig describes the channels shared by server and client.
type ConnectionConfig struct {
	PacketSize        int      `toml:"packet_size" yaml:"packet_size" json:"packet_size"`
	FragmentSize      int      `toml:"fragment_size" yaml:"fragment_size" json:"fragment_size"`
	Channels          []string `toml:"channels" yaml:"channels" json:"channels"`
	MaxDelay          Duration `toml:"max_delay" yaml:"max_delay" json:"max_delay"`
	MaxPendingPackets int      `toml:"max_pending_packets" yaml:"max_pending_packets" json:"max_pending_packets"`
	RecoveryRatio     float64  `toml:"recovery_ratio" yaml:"recovery_ratio" json:"recovery_ratio"`
}

// WebSocketConfig tunes the websocket transport.
type WebSocketConfig struct {
	Path             string   `toml:"path" yaml:"path" json:"path"`
	ReadBufferSize   int      `toml:"read_buffer_size" yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize  int      `toml:"write_buffer_size" yaml:"write_buffer_size" json:"write_buffer_size"`
	SendQueueSize    int      `toml:"send_queue_size" yaml:"send_queue_size" json:"send_queue_size"`
	EventQueueSize   int      `toml:"event_queue_size" yaml:"event_queue_size" json:"event_queue_size"`
	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout" json:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
}

// ClientConfig configures the connect command.
type ClientConfig struct {
	ResolveTimeout Duration `toml:"resolve_timeout" yaml:"resolve_timeout" json:"resolve_timeout"`
	StrictCRC      bool     `toml:"strict_crc" yaml:"strict_crc" json:"strict_crc"`
}

// SnapshotConfig selects where registry checkpoints go.
type SnapshotConfig struct {
	// Store is memory, sqlite, s3 or empty to disable checkpoints.
	Store    string   `toml:"store" yaml:"store" json:"store"`
	Interval Duration `toml:"interval" yaml:"interval" json:"interval"`
	Keep     int      `toml:"keep" yaml:"keep" json:"keep"`

	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path"`
	Table      string `toml:"table" yaml:"table" json:"table"`

	S3Bucket   string `toml:"s3_bucket" yaml:"s3_bucket" json:"s3_bucket"`
	S3Prefix   string `toml:"s3_prefix" yaml:"s3_prefix" json:"s3_prefix"`
	S3Region   string `toml:"s3_region" yaml:"s3_region" json:"s3_region"`
	S3Endpoint string `toml:"s3_endpoint" yaml:"s3_endpoint" json:"s3_endpoint"`
}

// New returns a Config with default values.
func New() *Config {
	conn := transport.DefaultConnectionConfig()
	ws := transport.DefaultWebSocketConfig()
	ch := channel.DefaultConfig()
	srv := server.DefaultConfig()
	cli := client.DefaultConfig()

	channels := make([]string, len(conn.Channels))
	for i, q := range conn.Channels {
		channels[i] = qosName(q)
	}

	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Address:                    DefaultAddress,
			Port:                       DefaultPort,
			MaxConnections:             srv.Topology.MaxConnections,
			MaxEventsPerTick:           srv.MaxEventsPerTick,
			TickRate:                   Duration(DefaultTickRate),
			ScriptCRCCheck:             srv.ScriptCRCCheck,
			DestroyPlayersOnDisconnect: srv.DestroyPlayersOnDisconnect,
			Metrics:                    true,
		},
		Connection: ConnectionConfig{
			PacketSize:        conn.PacketSize,
			FragmentSize:      conn.FragmentSize,
			Channels:          channels,
			MaxDelay:          Duration(ch.MaxDelay),
			MaxPendingPackets: ch.MaxPendingPackets,
			RecoveryRatio:     ch.RecoveryRatio,
		},
		WebSocket: WebSocketConfig{
			Path:             ws.Path,
			ReadBufferSize:   ws.ReadBufferSize,
			WriteBufferSize:  ws.WriteBufferSize,
			SendQueueSize:    ws.SendQueueSize,
			EventQueueSize:   ws.EventQueueSize,
			HandshakeTimeout: Duration(ws.HandshakeTimeout),
			WriteTimeout:     Duration(ws.WriteTimeout),
		},
		Client: ClientConfig{
			ResolveTimeout: Duration(cli.ResolveTimeout),
		},
		Snapshot: SnapshotConfig{
			Interval:   Duration(30 * time.Second),
			Keep:       10,
			SQLitePath: "replinet.db",
			Table:      "replinet_snapshots",
			S3Prefix:   "replinet/",
		},
	}
}

// Load reads, validates and returns the configuration at path. An empty
// path returns the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := New()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").WithDetail("No file at " + path + ".").Wrap(err)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		if re, ok := err.(*errors.ReplinetError); ok && re.Location != nil {
			re.WithLocation(path, re.Location.Line, re.Location.Column)
		}
		return nil, err
	}
	cfg.path = path
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults. It does not validate.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := New()
	var err error
	switch format {
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if err == nil {
			if keys := md.Undecoded(); len(keys) > 0 {
				return nil, errors.New("E101").WithDetail(fmt.Sprintf("Unknown key %q.", keys[0].String()))
			}
		}
	case FormatYAML:
		err = yaml.UnmarshalStrict(data, cfg)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return nil, errors.New("E102").WithDetail(fmt.Sprintf("Unknown format %q.", format))
	}
	if err != nil {
		return nil, parseError(err, data, format)
	}
	return cfg, nil
}

// parseError converts a decoder error, keeping the position when the
// decoder reports one.
func parseError(err error, data []byte, format Format) error {
	var re *errors.ReplinetError
	if !stderrors.As(err, &re) {
		re = errors.New("E101").WithDetail(fmt.Sprintf("Invalid %s: %v", strings.ToUpper(string(format)), err)).Wrap(err)
	}

	var perr toml.ParseError
	var serr *json.SyntaxError
	switch {
	case stderrors.As(err, &perr):
		re.Location = &errors.Location{Line: perr.Position.Line, Column: perr.Position.Col}
	case stderrors.As(err, &serr):
		line, col := offsetPosition(data, serr.Offset)
		re.Location = &errors.Location{Line: line, Column: col}
	}
	return re
}

func offsetPosition(data []byte, offset int64) (line, col int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	prefix := data[:offset]
	line = bytes.Count(prefix, []byte("\n")) + 1
	col = int(offset) - bytes.LastIndexByte(prefix, '\n')
	return line, col
}

func (c *Config) applyEnv() {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errors.New("E106").WithDetail(fmt.Sprintf("log_level %q is not a level.", c.LogLevel))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("E103").WithDetail(fmt.Sprintf("server.port = %d; ports must be between 1 and 65535.", c.Server.Port))
	}
	if c.Server.MaxConnections < 0 || c.Server.MaxEventsPerTick <= 0 || c.Server.TickRate <= 0 {
		return errors.New("E110").WithDetail("server.max_connections must not be negative; max_events_per_tick and tick_rate must be positive.")
	}
	if c.Connection.PacketSize < minPacketSize {
		return errors.New("E105").WithDetail(fmt.Sprintf("connection.packet_size = %d; the minimum is %d.", c.Connection.PacketSize, minPacketSize))
	}
	if c.Connection.FragmentSize <= 0 {
		return errors.New("E105").WithDetail("connection.fragment_size must be positive.")
	}
	if len(c.Connection.Channels) == 0 {
		return errors.New("E104").WithDetail("connection.channels is empty.")
	}
	if len(c.Connection.Channels) > maxChannels {
		return errors.New("E109").WithDetail(fmt.Sprintf("connection.channels has %d entries; the maximum is %d.", len(c.Connection.Channels), maxChannels))
	}
	for i, name := range c.Connection.Channels {
		if _, err := parseQoS(name); err != nil {
			return errors.New("E104").WithDetail(fmt.Sprintf("connection.channels[%d] = %q.", i, name))
		}
	}
	if c.Connection.MaxDelay < 0 {
		return errors.New("E108").WithDetail("connection.max_delay must not be negative.")
	}
	if c.Connection.MaxPendingPackets < 1 || c.Connection.MaxPendingPackets > maxPendingPackets {
		return errors.New("E110").WithDetail(fmt.Sprintf("connection.max_pending_packets must be between 1 and %d.", maxPendingPackets))
	}
	if c.Connection.RecoveryRatio <= 0 || c.Connection.RecoveryRatio >= 1 {
		return errors.New("E110").WithDetail("connection.recovery_ratio must be between 0 and 1.")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return errors.New("E110").WithDetail(fmt.Sprintf("websocket.path %q must start with '/'.", c.WebSocket.Path))
	}

	switch c.Snapshot.Store {
	case StoreNone, StoreMemory:
	case StoreSQLite:
		if c.Snapshot.SQLitePath == "" {
			return errors.New("E107").WithDetail("snapshot.sqlite_path is required for the sqlite store.")
		}
	case StoreS3:
		if c.Snapshot.S3Bucket == "" {
			return errors.New("E107").WithDetail("snapshot.s3_bucket is required for the s3 store.")
		}
	default:
		return errors.New("E107").WithDetail(fmt.Sprintf("snapshot.store = %q.", c.Snapshot.Store))
	}
	if c.Snapshot.Store != StoreNone && c.Snapshot.Interval <= 0 {
		return errors.New("E108").WithDetail("snapshot.interval must be positive.")
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// ToConnectionConfig converts the channel list. Call after Validate.
func (c *Config) ToConnectionConfig() transport.ConnectionConfig {
	out := transport.ConnectionConfig{
		PacketSize:   c.Connection.PacketSize,
		FragmentSize: c.Connection.FragmentSize,
		Channels:     make([]transport.QoS, len(c.Connection.Channels)),
	}
	for i, name := range c.Connection.Channels {
		out.Channels[i], _ = parseQoS(name)
	}
	return out
}

// ToTopology returns the host topology of the server.
func (c *Config) ToTopology() transport.HostTopology {
	return transport.HostTopology{
		Default:        c.ToConnectionConfig(),
		MaxConnections: c.Server.MaxConnections,
	}
}

// ToChannelConfig returns the channel buffer tunables.
func (c *Config) ToChannelConfig() channel.Config {
	return channel.Config{
		MaxPendingPackets: c.Connection.MaxPendingPackets,
		RecoveryRatio:     c.Connection.RecoveryRatio,
		MaxDelay:          c.Connection.MaxDelay.Std(),
	}
}

// ToServerConfig returns the server config. Logger, recorder and player
// factory are left for the caller.
func (c *Config) ToServerConfig() *server.Config {
	cfg := server.DefaultConfig()
	cfg.Topology = c.ToTopology()
	cfg.Port = c.Server.Port
	cfg.MaxEventsPerTick = c.Server.MaxEventsPerTick
	cfg.MaxDelay = c.Connection.MaxDelay.Std()
	cfg.Channel = c.ToChannelConfig()
	cfg.ScriptCRCCheck = c.Server.ScriptCRCCheck
	cfg.DestroyPlayersOnDisconnect = c.Server.DestroyPlayersOnDisconnect
	cfg.LogNetworkMessages = c.Server.LogNetworkMessages
	return cfg
}

// ToClientConfig returns the client config.
func (c *Config) ToClientConfig() *client.Config {
	cfg := client.DefaultConfig()
	cfg.Connection = c.ToConnectionConfig()
	cfg.MaxDelay = c.Connection.MaxDelay.Std()
	cfg.Channel = c.ToChannelConfig()
	cfg.ResolveTimeout = c.Client.ResolveTimeout.Std()
	cfg.StrictCRC = c.Client.StrictCRC
	cfg.LogNetworkMessages = c.Server.LogNetworkMessages
	return cfg
}

// ToWebSocketConfig returns the websocket transport config.
func (c *Config) ToWebSocketConfig() transport.WebSocketConfig {
	cfg := transport.DefaultWebSocketConfig()
	cfg.Path = c.WebSocket.Path
	cfg.ReadBufferSize = c.WebSocket.ReadBufferSize
	cfg.WriteBufferSize = c.WebSocket.WriteBufferSize
	cfg.SendQueueSize = c.WebSocket.SendQueueSize
	cfg.EventQueueSize = c.WebSocket.EventQueueSize
	cfg.HandshakeTimeout = c.WebSocket.HandshakeTimeout.Std()
	cfg.WriteTimeout = c.WebSocket.WriteTimeout.Std()
	return cfg
}

// ListenAddress returns host:port of the HTTP listener.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// qosName returns the snake_case name of q.
func qosName(q transport.QoS) string {
	var b strings.Builder
	for i, r := range q.String() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseQoS accepts snake_case names as well as the names of QoS.String.
func parseQoS(name string) (transport.QoS, error) {
	want := strings.ReplaceAll(strings.ToLower(name), "_", "")
	for q := transport.Unreliable; q <= transport.ReliableSequenced; q++ {
		if strings.ToLower(q.String()) == want {
			return q, nil
		}
	}
	return transport.ParseQoS(name)
}
