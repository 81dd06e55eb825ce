package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func main() {
	flags := &globalFlags{}
	if err := newRootCmd(flags).Execute(); err != nil {
		reportError(os.Stderr, err, flags.logJSON)
		os.Exit(1)
	}
}

// reportError prints a failed command's error. JSON logging gets one JSON
// object, a terminal the full format and anything else a single line.
func reportError(w io.Writer, err error, asJSON bool) {
	re := errors.FromError(err, "E206")
	switch {
	case asJSON:
		fmt.Fprintln(w, re.FormatJSON())
	case logging.IsTerminal(w):
		errors.Fprint(w, re)
	default:
		fmt.Fprintln(w, re.FormatCompact())
	}
}

func newRootCmd(flags *globalFlags) *cobra.Command {

	rootCmd := &cobra.Command{
		Use:   "replinet",
		Short: "Entity replication over reliable and unreliable channels",
		Long: `replinet hosts and joins replication sessions.

A host keeps the registry of replicated entities and streams spawns,
state updates and remote invocations to every ready peer over
per-channel delivery guarantees.

Commands:
  serve     host a session over WebSocket with an admin API
  connect   join a session as a client
  inspect   read registry checkpoints
  errors    explain error codes
  version   print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logging.IsTerminal(os.Stderr) && os.Getenv("NO_COLOR") == "" {
				errors.EnableColors()
			} else {
				errors.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (.toml, .yaml or .json)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(
		serveCmd(flags),
		connectCmd(flags),
		inspectCmd(flags),
		errorsCmd(),
		versionCmd(),
	)
	return rootCmd
}

// load reads the config file and builds the logger.
func (f *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, errors.FromError(err, "E101")
	}
	f.logJSON = f.logJSON || cfg.LogJSON
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger := logging.New(logging.Options{
		Level: cfg.Level(),
		JSON:  f.logJSON,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
