package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/maps"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/transport"
)

const tracerName = "github.com/replinet/replinet/pkg/server"

// packetReserve matches the headroom the channel buffers keep below the
// transport packet size.
const packetReserve = 100

// State is the lifecycle state of a server.
type State uint8

const (
	StateUninitialized State = iota // Listen has not been called
	StateListening                  // The host is open, no tick has run
	StateActive                     // The tick is running
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateListening:
		return "Listening"
	case StateActive:
		return "Active"
	default:
		return "Unknown"
	}
}

// Server is the host side session registry: it accepts connections from a
// transport, owns the spawned identities and runs the replication tick.
//
// A Server is driven by one tick context. Update, Spawn, Destroy and the
// player functions must all be called from it. Only Metrics, Entities and
// ConnectionInfos may be called from other goroutines.
type Server struct {
	cfg       *Config
	rt        *replica.Runtime
	transport transport.Transport
	hostID    int
	state     State

	conns    map[int]*conn.Connection
	objects  map[protocol.NetID]*replica.Identity
	handlers *conn.Handlers
	connCfg  conn.Config

	sceneName string

	onConnect    func(c *conn.Connection)
	onDisconnect func(c *conn.Connection)
	onError      func(c *conn.Connection, code protocol.ErrorCode)

	metrics *MetricsCollector
	rec     recorders
	tracer  trace.Tracer
	tickCtx context.Context
	logger  *slog.Logger
	base    *slog.Logger // handed to connections and handlers

	mu       sync.RWMutex
	entities []EntityInfo
	connInfo []ConnectionInfo
}

// New creates a server on transport t. A nil config uses DefaultConfig.
func New(t transport.Transport, rt *replica.Runtime, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()
	base := cfg.Logger.With("side", "server")
	logger := base.With("component", "server")

	chCfg := cfg.Channel
	chCfg.MaxDelay = cfg.MaxDelay

	s := &Server{
		cfg:       cfg,
		rt:        rt,
		transport: t,
		hostID:    -1,
		conns:     make(map[int]*conn.Connection),
		objects:   make(map[protocol.NetID]*replica.Identity),
		handlers:  conn.NewHandlers(base),
		connCfg: conn.Config{
			Connection:         cfg.Topology.Default,
			Channel:            chCfg,
			LogNetworkMessages: cfg.LogNetworkMessages,
		},
		metrics: NewMetricsCollector(),
		tracer:  cfg.Tracer,
		tickCtx: context.Background(),
		logger:  logger,
		base:    base,
	}
	s.rec = recorders{s.metrics}
	if cfg.Recorder != nil {
		s.rec = append(s.rec, cfg.Recorder)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.registerSystemHandlers()
	return s
}

// Runtime returns the runtime the server resolves behaviours and invokers in.
func (s *Server) Runtime() *replica.Runtime { return s.rt }

// State returns the lifecycle state.
func (s *Server) State() State { return s.state }

// HostID returns the transport host id, or -1 before Listen.
func (s *Server) HostID() int { return s.hostID }

// Config returns a copy of the effective configuration.
func (s *Server) Config() *Config { return s.cfg.Clone() }

// Metrics returns a snapshot of the built-in collector.
func (s *Server) Metrics() *ServerMetrics { return s.metrics.Snapshot() }

// Handlers returns the handler table shared by every connection.
func (s *Server) Handlers() *conn.Handlers { return s.handlers }

// RegisterHandler registers an application message handler on every
// connection.
func (s *Server) RegisterHandler(t protocol.MsgType, fn conn.HandlerFunc) error {
	return s.handlers.RegisterHandler(t, fn)
}

// OnConnect sets the callback run when a connection is accepted.
func (s *Server) OnConnect(fn func(c *conn.Connection)) { s.onConnect = fn }

// OnDisconnect sets the callback run when a connection goes away.
func (s *Server) OnDisconnect(fn func(c *conn.Connection)) { s.onDisconnect = fn }

// OnError sets the callback run for every error reported on a connection.
func (s *Server) OnError(fn func(c *conn.Connection, code protocol.ErrorCode)) { s.onError = fn }

// Listen opens the transport host.
func (s *Server) Listen() error {
	if s.state != StateUninitialized {
		return ErrAlreadyListening
	}
	hostID, err := s.transport.AddHost(s.cfg.Topology, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("server: listen on port %d: %w", s.cfg.Port, err)
	}
	s.hostID = hostID
	s.state = StateListening
	s.logger.Info("listening", "port", s.cfg.Port, "host", hostID, "channels", len(s.cfg.Topology.Default.Channels))
	return nil
}

// Active implements replica.Host.
func (s *Server) Active() bool { return s.state != StateUninitialized }

// Connections implements replica.Host.
func (s *Server) Connections() []*conn.Connection {
	ids := maps.Keys(s.conns)
	slices.Sort(ids)
	out := make([]*conn.Connection, len(ids))
	for i, id := range ids {
		out[i] = s.conns[id]
	}
	return out
}

// Connection returns the connection with the given id.
func (s *Server) Connection(id int) (*conn.Connection, bool) {
	c, ok := s.conns[id]
	return c, ok
}

// NumChannels implements replica.Host.
func (s *Server) NumChannels() int { return len(s.cfg.Topology.Default.Channels) }

// MaxPacketSize implements replica.Host.
func (s *Server) MaxPacketSize() int { return s.cfg.Topology.Default.PacketSize - packetReserve }

// Update runs one tick: it drains at most MaxEventsPerTick transport
// events, runs the state update pass of every identity and then drives
// the channels of every connection.
func (s *Server) Update(ctx context.Context) {
	if s.state == StateUninitialized {
		return
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "replinet.server.update", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	s.tickCtx = ctx
	defer func() { s.tickCtx = context.Background() }()

	events := s.drain()
	s.state = StateActive

	for _, id := range s.Objects() {
		id.Update()
	}
	for _, c := range s.Connections() {
		c.Tick()
	}

	span.SetAttributes(
		attribute.Int("replinet.events", events),
		attribute.Int("replinet.connections", len(s.conns)),
		attribute.Int("replinet.entities", len(s.objects)),
	)
	s.rec.RecordTick(time.Since(start), events)
	s.rec.SetEntities(len(s.objects))
	s.rec.SetConnections(len(s.conns))
	s.publish()
}

func (s *Server) drain() int {
	n := 0
	for ; n < s.cfg.MaxEventsPerTick; n++ {
		ev, err := s.transport.Receive(s.hostID)
		if err != nil {
			s.logger.Error("receive failed", "host", s.hostID, "error", err)
			return n
		}
		if ev.Kind == transport.EventNothing {
			return n
		}
		s.handleEvent(ev)
	}
	s.logger.Debug("event limit reached", "limit", s.cfg.MaxEventsPerTick)
	return n
}

func (s *Server) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnect:
		s.handleConnect(ev)
	case transport.EventData:
		s.handleData(ev)
	case transport.EventDisconnect:
		s.handleDisconnect(ev)
	default:
		s.logger.Error("unknown event kind", "kind", ev.Kind)
	}
}

func (s *Server) handleConnect(ev transport.Event) {
	if ev.Err != nil {
		s.logger.Error("connect error", "conn", ev.ConnID, "error", ev.Err)
		s.rec.RecordError(protocol.CodeOf(ev.Err))
		return
	}
	if _, exists := s.conns[ev.ConnID]; exists {
		s.logger.Error("connection id already in use", "conn", ev.ConnID)
		s.rec.RecordError(protocol.CodeWrongConnection)
		return
	}
	address := fmt.Sprintf("host%d/conn%d", s.hostID, ev.ConnID)
	c := conn.New(s.transport, s.hostID, ev.ConnID, address, s.connCfg, s.handlers, s.base)
	s.conns[ev.ConnID] = c
	s.rec.RecordConnect()
	s.logger.Debug("connection accepted", "conn", ev.ConnID)
	s.onConnected(c)
}

func (s *Server) onConnected(c *conn.Connection) {
	c.InvokeHandlerNoData(protocol.MsgConnect)
	if s.cfg.ScriptCRCCheck {
		c.Send(protocol.MsgCRC, &protocol.CRCMessage{Entries: s.rt.CRCEntries()})
	}
	if s.sceneName != "" {
		c.Send(protocol.MsgScene, &protocol.SceneMessage{Name: s.sceneName})
	}
}

func (s *Server) handleData(ev transport.Event) {
	c, ok := s.conns[ev.ConnID]
	if !ok {
		s.logger.Error("data for unknown connection", "conn", ev.ConnID)
		return
	}
	if ev.Err != nil {
		s.logger.Error("data error", "conn", ev.ConnID, "error", ev.Err)
		c.ReportError(ev.Err)
		return
	}
	s.rec.RecordPacketIn(len(ev.Data))
	c.TransportReceive(ev.Data, ev.ChannelID)
}

func (s *Server) handleDisconnect(ev transport.Event) {
	c, ok := s.conns[ev.ConnID]
	if !ok {
		s.logger.Debug("disconnect for unknown connection", "conn", ev.ConnID)
		return
	}
	if ev.Err != nil {
		switch code := protocol.CodeOf(ev.Err); code {
		case protocol.CodeOk, protocol.CodeTimeout:
		default:
			s.logger.Warn("disconnect error", "conn", ev.ConnID, "code", code)
			c.ReportError(ev.Err)
		}
	}
	s.removeConnection(c)
}

// removeConnection stops sends on c, releases what it owns and its
// players, leaves every observer set and discards it. Entities that
// survive get host authority back before c leaves their observer sets.
func (s *Server) removeConnection(c *conn.Connection) {
	delete(s.conns, c.ID())
	c.Close()
	c.InvokeHandlerNoData(protocol.MsgDisconnect)

	if s.cfg.DestroyPlayersOnDisconnect {
		s.DestroyPlayersForConnection(c)
	} else {
		for _, pc := range c.PlayerControllers() {
			s.logger.Warn("player not destroyed on disconnect", "conn", c.ID(), "player", pc)
		}
	}
	c.Dispose()
	c.RemoveObservers()
	s.rec.RecordDisconnect()
	s.logger.Debug("connection removed", "conn", c.ID())
}

// DisconnectConnection closes one connection and runs the same cleanup as
// a transport disconnect.
func (s *Server) DisconnectConnection(id int) error {
	c, ok := s.conns[id]
	if !ok {
		return NewConnError(id, "disconnect", ErrConnectionNotFound)
	}
	s.removeConnection(c)
	return nil
}

// DisconnectAll closes every connection.
func (s *Server) DisconnectAll() {
	for _, c := range s.Connections() {
		s.removeConnection(c)
	}
}

// Shutdown disconnects every connection, unspawns every identity and
// closes the transport host.
func (s *Server) Shutdown() error {
	if s.state == StateUninitialized {
		return nil
	}
	s.DisconnectAll()
	for _, id := range s.Objects() {
		id.ClearObservers()
		id.OnNetworkDestroy()
		id.MarkForReset()
	}
	clear(s.objects)

	var errs []error
	if err := s.transport.RemoveHost(s.hostID); err != nil {
		errs = append(errs, fmt.Errorf("server: remove host %d: %w", s.hostID, err))
	}
	s.hostID = -1
	s.state = StateUninitialized
	s.publish()
	s.logger.Info("shutdown")
	return errors.Join(errs...)
}

// reportError feeds a reported error to the recorders and the callback.
func (s *Server) reportError(c *conn.Connection, code protocol.ErrorCode) {
	s.rec.RecordError(code)
	if s.onError != nil {
		s.onError(c, code)
	}
}
