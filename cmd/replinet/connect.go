package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/client"
	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/transport"
)

func connectCmd(flags *globalFlags) *cobra.Command {
	var (
		name     string
		duration time.Duration
		moveRate time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect [host:port]",
		Short: "Join a replication session",
		Long: `Join a session hosted by 'replinet serve'.

The client readies up, adds one player named --name and moves it at
random every --move interval. Replicated entities are logged as they
change.`,
		Example: `  replinet connect
  replinet connect 10.0.0.5:7777 --name alice --duration 30s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			address, port := "localhost", cfg.Server.Port
			if len(args) == 1 {
				if address, port, err = splitAddress(args[0]); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runConnect(ctx, cfg, logger, peerOptions{
				address:  address,
				port:     port,
				name:     name,
				moveRate: moveRate,
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Player name (default: assigned by the host)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Disconnect after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&moveRate, "move", time.Second, "Interval between moves (0 disables moving)")

	return cmd
}

// splitAddress parses host:port.
func splitAddress(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, errors.New("E205").WithDetail(s).WithExample("replinet connect localhost:7777").Wrap(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, errors.New("E103").
			WithDetail(fmt.Sprintf("%q is not a port.", portStr)).
			WithExample("replinet connect localhost:7777")
	}
	if host == "" {
		host = "localhost"
	}
	return host, port, nil
}

type peerOptions struct {
	address  string
	port     int
	name     string
	moveRate time.Duration
}

// peer is a connect session.
type peer struct {
	opts     peerOptions
	logger   *slog.Logger
	rt       *replica.Runtime
	cli      *client.Client
	moveHash int32
	failed   chan error
	seen     map[protocol.NetID]string
}

func newPeer(t transport.Transport, cfg *config.Config, logger *slog.Logger, opts peerOptions) (*peer, error) {
	p := &peer{
		opts:   opts,
		logger: logger,
		rt:     replica.NewRuntime(logger),
		failed: make(chan error, 1),
		seen:   make(map[protocol.NetID]string),
	}
	hash, err := registerAvatar(p.rt)
	if err != nil {
		return nil, err
	}
	p.moveHash = hash

	p.cli = client.New(t, p.rt, cfg.ToClientConfig().WithLogger(logger))
	err = p.cli.Scene().RegisterSpawnHandler(avatarAsset,
		func(protocol.NetID, protocol.AssetID) (*replica.Identity, error) {
			id, _ := newAvatar(p.rt, "")
			return id, nil
		},
		func(id *replica.Identity) {
			delete(p.seen, id.NetID())
			logger.Info("avatar left", "net_id", id.NetID())
		},
	)
	if err != nil {
		return nil, err
	}

	p.cli.OnConnect(p.joined)
	p.cli.OnDisconnect(func(*conn.Connection) {
		p.fail(errors.New("E201").WithDetail("The host closed the connection."))
	})
	p.cli.OnError(func(_ *conn.Connection, code protocol.ErrorCode) {
		logger.Warn("network error", "code", code)
		if crcErr := p.cli.CRCError(); crcErr != nil {
			p.fail(errors.New("E201").Wrap(crcErr))
		}
	})
	return p, nil
}

// joined readies the connection and adds the player.
func (p *peer) joined(c *conn.Connection) {
	success("Connected to %s:%d", p.opts.address, p.opts.port)
	if err := p.cli.Ready(); err != nil {
		p.fail(err)
		return
	}
	if err := p.cli.AddPlayer(0, []byte(p.opts.name)); err != nil {
		p.fail(err)
	}
}

func (p *peer) fail(err error) {
	select {
	case p.failed <- err:
	default:
	}
}

// move sends a random step for the local player, if it exists yet.
func (p *peer) move() error {
	player, ok := p.cli.Scene().LocalPlayer(0)
	if !ok || !player.HasAuthority() {
		return nil
	}
	dx, dy := rand.Int32N(3)-1, rand.Int32N(3)-1
	return p.cli.SendCommand(player, p.moveHash, moveArgs(dx, dy))
}

// report logs every avatar whose state changed since the last call.
func (p *peer) report() {
	for _, id := range p.cli.Scene().Objects() {
		b, ok := id.Behaviour(avatarTag)
		if !ok {
			continue
		}
		state := b.(*avatar).String()
		if p.seen[id.NetID()] == state {
			continue
		}
		p.seen[id.NetID()] = state
		p.logger.Info("avatar", "net_id", id.NetID(), "state", state, "local", id.IsLocalPlayer())
	}
}

// run drives the client until ctx is done or the connection fails.
func (p *peer) run(ctx context.Context, tickRate time.Duration) error {
	if err := p.cli.Connect(ctx, p.opts.address, p.opts.port); err != nil {
		return errors.New("E201").Wrap(err)
	}

	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()
	var moves <-chan time.Time
	if p.opts.moveRate > 0 {
		t := time.NewTicker(p.opts.moveRate)
		defer t.Stop()
		moves = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-p.failed:
			return err
		case <-ticker.C:
			p.cli.Update(ctx)
			p.report()
		case <-moves:
			if err := p.move(); err != nil {
				p.logger.Warn("move failed", "error", err)
			}
		}
	}
}

func runConnect(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts peerOptions) error {
	ws := transport.NewWebSocket(cfg.ToWebSocketConfig(), logger)
	p, err := newPeer(ws, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.cli.Shutdown(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()
	return p.run(ctx, cfg.Server.TickRate.Std())
}
