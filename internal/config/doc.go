// Package config loads the replinet configuration file.
//
// The format follows the file extension: .toml, .yaml/.yml or .json.
// Values not present in the file keep their defaults, which mirror the
// defaults of the server, client, channel and transport packages.
// REPLINET_LOG_LEVEL overrides log_level.
//
// # Configuration File Structure
//
//	log_level = "info"
//
//	[server]
//	address = "0.0.0.0"
//	port = 7777
//	max_connections = 64
//	tick_rate = "33ms"
//	metrics = true
//
//	[connection]
//	packet_size = 1440
//	fragment_size = 500
//	channels = ["reliable_sequenced", "unreliable"]
//	max_delay = "10ms"
//	max_pending_packets = 16
//	recovery_ratio = 0.5
//
//	[websocket]
//	path = "/ws"
//
//	[snapshot]
//	store = "sqlite"      # memory, sqlite, s3 or empty
//	interval = "30s"
//	keep = 10
//	sqlite_path = "replinet.db"
//
// # Usage
//
//	cfg, err := config.Load("replinet.toml")
//	if err != nil {
//	    errors.Fprint(os.Stderr, err)
//	    os.Exit(1)
//	}
//	srv := server.New(ws, rt, cfg.ToServerConfig())
package config
