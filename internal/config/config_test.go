package config

import (
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/transport"
)

const tomlConfig = `log_level = "debug"

[server]
address = "127.0.0.1"
port = 9000
max_connections = 8
tick_rate = "50ms"

[connection]
packet_size = 1200
channels = ["reliable_sequenced", "Unreliable", "reliable_fragmented"]
max_delay = "5ms"

[snapshot]
store = "sqlite"
sqlite_path = "/tmp/replinet.db"
interval = "1m"
keep = 3
`

const yamlConfig = `log_level: warn
server:
  port: 9001
  script_crc_check: false
connection:
  channels: [reliable, unreliable_sequenced]
client:
  strict_crc: true
  resolve_timeout: 2s
`

const jsonConfig = `{
  "server": {"port": 9002, "metrics": false},
  "websocket": {"path": "/replicate", "write_timeout": "3s"},
  "snapshot": {"store": "s3", "s3_bucket": "checkpoints", "s3_region": "eu-west-1"}
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func codeOf(err error) string {
	var re *errors.ReplinetError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if want := []string{"reliable_sequenced", "unreliable"}; !slices.Equal(cfg.Connection.Channels, want) {
		t.Errorf("Connection.Channels = %v, want %v", cfg.Connection.Channels, want)
	}
	if cfg.Snapshot.Store != StoreNone {
		t.Errorf("Snapshot.Store = %q, want disabled", cfg.Snapshot.Store)
	}
	topo := cfg.ToTopology()
	if !slices.Equal(topo.Default.Channels, transport.DefaultConnectionConfig().Channels) {
		t.Errorf("ToTopology() channels = %v, want the transport defaults", topo.Default.Channels)
	}
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "replinet.toml", tomlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
	if cfg.ListenAddress() != "127.0.0.1:9000" {
		t.Errorf("ListenAddress() = %q", cfg.ListenAddress())
	}
	if cfg.Server.TickRate.Std() != 50*time.Millisecond {
		t.Errorf("TickRate = %v, want 50ms", cfg.Server.TickRate.Std())
	}
	if cfg.Server.MaxEventsPerTick != 500 {
		t.Errorf("MaxEventsPerTick = %d, want the default 500", cfg.Server.MaxEventsPerTick)
	}

	srv := cfg.ToServerConfig()
	wantChannels := []transport.QoS{transport.ReliableSequenced, transport.Unreliable, transport.ReliableFragmented}
	if !slices.Equal(srv.Topology.Default.Channels, wantChannels) {
		t.Errorf("server channels = %v, want %v", srv.Topology.Default.Channels, wantChannels)
	}
	if srv.Port != 9000 || srv.Topology.MaxConnections != 8 || srv.Topology.Default.PacketSize != 1200 {
		t.Errorf("ToServerConfig() = port %d, max %d, packet %d", srv.Port, srv.Topology.MaxConnections, srv.Topology.Default.PacketSize)
	}
	if srv.MaxDelay != 5*time.Millisecond || srv.Channel.MaxDelay != 5*time.Millisecond {
		t.Errorf("MaxDelay = %v / %v, want 5ms", srv.MaxDelay, srv.Channel.MaxDelay)
	}
	if cfg.Snapshot.Interval.Std() != time.Minute || cfg.Snapshot.Keep != 3 {
		t.Errorf("Snapshot = %+v", cfg.Snapshot)
	}
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "replinet.yml", yamlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9001 || cfg.Server.ScriptCRCCheck {
		t.Errorf("Server = %+v", cfg.Server)
	}
	cli := cfg.ToClientConfig()
	if !cli.StrictCRC || cli.ResolveTimeout != 2*time.Second {
		t.Errorf("ToClientConfig() strict %v timeout %v", cli.StrictCRC, cli.ResolveTimeout)
	}
	want := []transport.QoS{transport.Reliable, transport.UnreliableSequenced}
	if !slices.Equal(cli.Connection.Channels, want) {
		t.Errorf("client channels = %v, want %v", cli.Connection.Channels, want)
	}
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "replinet.json", jsonConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ws := cfg.ToWebSocketConfig()
	if ws.Path != "/replicate" || ws.WriteTimeout != 3*time.Second {
		t.Errorf("ToWebSocketConfig() = path %q timeout %v", ws.Path, ws.WriteTimeout)
	}
	if ws.SendQueueSize != transport.DefaultWebSocketConfig().SendQueueSize {
		t.Errorf("SendQueueSize = %d, want the default", ws.SendQueueSize)
	}
	if cfg.Server.Metrics {
		t.Error("Server.Metrics = true, want false")
	}
	if cfg.Path() == "" {
		t.Error("Path() is empty")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	cfg, err := Load(writeConfig(t, "replinet.toml", tomlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Level() != slog.LevelError {
		t.Errorf("Level() = %v, want error from %s", cfg.Level(), EnvLogLevel)
	}

	cfg, err = Load("")
	if err != nil || cfg.Level() != slog.LevelError {
		t.Errorf("Load(\"\") = %v, %v, want defaults with the override", cfg, err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
	}{
		{"unsupported extension", "replinet.ini", "port=1", "E102"},
		{"toml syntax", "replinet.toml", "[server\nport = 1\n", "E101"},
		{"toml unknown key", "replinet.toml", "[server]\nbogus = 1\n", "E101"},
		{"yaml unknown key", "replinet.yaml", "server:\n  bogus: 1\n", "E101"},
		{"json syntax", "replinet.json", "{\n  \"server\": {\n}", "E101"},
		{"json bad duration", "replinet.json", `{"server": {"tick_rate": "soon"}}`, "E108"},
		{"bad port", "replinet.toml", "[server]\nport = 70000\n", "E103"},
		{"bad channel", "replinet.toml", "[connection]\nchannels = [\"carrier_pigeon\"]\n", "E104"},
		{"empty channels", "replinet.json", `{"connection": {"channels": []}}`, "E104"},
		{"small packets", "replinet.toml", "[connection]\npacket_size = 64\n", "E105"},
		{"bad level", "replinet.toml", "log_level = \"loud\"\n", "E106"},
		{"bad store", "replinet.toml", "[snapshot]\nstore = \"redis\"\n", "E107"},
		{"s3 without bucket", "replinet.toml", "[snapshot]\nstore = \"s3\"\n", "E107"},
		{"recovery ratio", "replinet.toml", "[connection]\nrecovery_ratio = 1.5\n", "E110"},
		{"pending packets", "replinet.toml", "[connection]\nmax_pending_packets = 1000\n", "E110"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if got := codeOf(err); got != tt.wantCode {
				t.Errorf("Load() code = %q, want %q (err: %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if codeOf(err) != "E100" || !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want E100 wrapping ErrNotExist", err)
	}
}

func TestParseErrorLocation(t *testing.T) {
	path := writeConfig(t, "replinet.json", "{\n  \"server\": {\n    \"port\": ,\n  }\n}")
	_, err := Load(path)
	var re *errors.ReplinetError
	if !stderrors.As(err, &re) {
		t.Fatalf("Load() error = %v, want a ReplinetError", err)
	}
	if re.Location == nil || re.Location.Line != 3 || re.Location.File != path {
		t.Errorf("Location = %+v, want line 3 of %s", re.Location, path)
	}
	if len(re.Context) == 0 {
		t.Error("Context is empty")
	}
}

func TestQoSNames(t *testing.T) {
	for q := transport.Unreliable; q <= transport.ReliableSequenced; q++ {
		name := qosName(q)
		got, err := parseQoS(name)
		if err != nil || got != q {
			t.Errorf("parseQoS(qosName(%v)) = %v, %v", q, got, err)
		}
	}
	if qosName(transport.ReliableFragmented) != "reliable_fragmented" {
		t.Errorf("qosName(ReliableFragmented) = %q", qosName(transport.ReliableFragmented))
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.toml", FormatTOML},
		{"a.YAML", FormatYAML},
		{"a.yml", FormatYAML},
		{"dir/a.json", FormatJSON},
	}
	for _, tt := range tests {
		if got, err := FormatOf(tt.path); err != nil || got != tt.want {
			t.Errorf("FormatOf(%q) = %q, %v, want %q", tt.path, got, err, tt.want)
		}
	}
}
