package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/server"
	"github.com/replinet/replinet/pkg/snapshot"
	"github.com/replinet/replinet/pkg/telemetry"
	"github.com/replinet/replinet/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		port    int
		address string
		store   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a replication session",
		Long: `Host a replication session over WebSocket.

Every client that joins gets an avatar it can move with the CmdMove
command; positions replicate to every ready client. The same listener
serves the admin API:

  GET /healthz            liveness and counters
  GET /entities           spawned entities
  GET /connections        connected peers
  GET /metrics            Prometheus metrics
  GET /snapshots          stored checkpoints
  GET /snapshots/latest   newest checkpoint`,
		Example: `  replinet serve
  replinet serve --port 9000 --store sqlite
  replinet serve -c replinet.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("address") {
				cfg.Server.Address = address
			}
			if cmd.Flags().Changed("store") {
				cfg.Snapshot.Store = store
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Listen port")
	cmd.Flags().StringVarP(&address, "address", "a", config.DefaultAddress, "Listen address")
	cmd.Flags().StringVar(&store, "store", "", "Checkpoint store: memory, sqlite or s3")

	return cmd
}

// host is a running serve session.
type host struct {
	cfg         *config.Config
	logger      *slog.Logger
	srv         *server.Server
	store       snapshot.Store
	checkpoints *snapshot.Checkpointer
	registry    *prometheus.Registry
	router      http.Handler

	tick  uint64
	saves sync.WaitGroup
}

// newHost builds the server, its checkpoint store and the admin router.
// The server is listening when it returns.
func newHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*host, error) {
	h := &host{cfg: cfg, logger: logger}

	rt := replica.NewRuntime(logger)
	if _, err := registerAvatar(rt); err != nil {
		return nil, err
	}

	tracer := telemetry.NewTracer()
	srvCfg := cfg.ToServerConfig()
	srvCfg.Logger = logger
	srvCfg.Tracer = tracer
	srvCfg.PlayerFactory = avatarFactory(rt)
	if cfg.Server.Metrics {
		h.registry = prometheus.NewRegistry()
		h.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srvCfg.Recorder = telemetry.NewMetrics(
			telemetry.WithSubsystem("server"),
			telemetry.WithRegistry(h.registry),
		)
	}

	ws := transport.NewWebSocket(cfg.ToWebSocketConfig(), logger)
	h.srv = server.New(ws, rt, srvCfg)
	if err := h.srv.Listen(); err != nil {
		return nil, errors.New("E200").Wrap(err)
	}

	store, err := openStore(ctx, cfg.Snapshot)
	if err != nil {
		_ = h.srv.Shutdown()
		return nil, errors.FromError(err, "E202")
	}
	if store != nil {
		h.store = store
		h.checkpoints = snapshot.NewCheckpointer(store,
			snapshot.WithKeep(cfg.Snapshot.Keep),
			snapshot.WithLogger(logger),
			snapshot.WithTracer(tracer),
		)
	}

	admin := adminConfig{
		View:   h.srv,
		Store:  h.store,
		Socket: ws.Handler(h.srv.HostID()),
		Path:   ws.Path(),
		Logger: logger,
	}
	if h.registry != nil {
		admin.Gatherer = h.registry
	}
	h.router = newAdminRouter(admin)
	return h, nil
}

// run drives the tick until ctx is done.
func (h *host) run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Server.TickRate.Std())
	defer ticker.Stop()

	var checkpoint <-chan time.Time
	if h.checkpoints != nil {
		t := time.NewTicker(h.cfg.Snapshot.Interval.Std())
		defer t.Stop()
		checkpoint = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick++
			h.srv.Update(ctx)
		case now := <-checkpoint:
			h.checkpoint(ctx, now)
		}
	}
}

// checkpoint captures the registry on the tick and saves it in the
// background.
func (h *host) checkpoint(ctx context.Context, now time.Time) {
	snap := snapshot.Capture(h.srv, h.tick, now)
	h.saves.Add(1)
	go func() {
		defer h.saves.Done()
		_ = h.checkpoints.Save(context.WithoutCancel(ctx), snap)
	}()
}

// close stops the server, waits for pending saves and closes the store.
func (h *host) close(ctx context.Context) error {
	var errs []error
	if h.checkpoints != nil {
		h.checkpoint(ctx, time.Now())
	}
	if err := h.srv.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	h.saves.Wait()
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	h, err := newHost(ctx, cfg, logger)
	if err != nil {
		return err
	}

	addr := cfg.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = h.close(ctx)
		return errors.New("E200").WithDetail(addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	success("Listening on %s", addr)
	info("websocket  ws://%s%s", addr, cfg.WebSocket.Path)
	if cfg.Server.Metrics {
		info("metrics    http://%s/metrics", addr)
	}
	if cfg.Snapshot.Store != config.StoreNone {
		info("snapshots  %s every %s", cfg.Snapshot.Store, cfg.Snapshot.Interval.Std())
	}

	tickCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.run(tickCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = errors.New("E204").Wrap(err)
		}
	}
	cancel()
	<-done

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown", "error", err)
	}
	if err := h.close(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
