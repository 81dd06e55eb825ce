package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/transport"
)

// State is the connect state of a client.
type State uint8

const (
	StateNone         State = iota // Connect has not been called
	StateResolving                 // Waiting for the host name lookup
	StateResolved                  // The address is known, the next tick connects
	StateConnecting                // Waiting for the transport connect event
	StateConnected                 // The connection is up
	StateDisconnected              // The connection went away or was closed
	StateFailed                    // The lookup failed, the next tick reports it
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateResolving:
		return "Resolving"
	case StateResolved:
		return "Resolved"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

type resolveResult struct {
	address string
	err     error
}

// Stats are the counters of a client.
type Stats struct {
	State                 State `json:"state"`
	MsgsIn                int   `json:"msgs_in"`
	BytesIn               int   `json:"bytes_in"`
	MsgsOut               int   `json:"msgs_out"`
	BufferedMsgsOut       int   `json:"buffered_msgs_out"`
	BytesOut              int   `json:"bytes_out"`
	LastBufferedPerSecond int   `json:"last_buffered_per_second"`
	PacketsPerSecond      int   `json:"packets_per_second"`
	BytesPerSecond        int   `json:"bytes_per_second"`
}

// Client is the peer side of a replication session: it connects to one
// server, keeps the client scene and runs the client tick.
//
// A Client is driven by one tick context. Only the host name lookup runs
// on its own goroutine, and it only posts its result.
type Client struct {
	cfg       *Config
	rt        *replica.Runtime
	transport transport.Transport
	hostID    int
	state     State

	conn     *conn.Connection
	handlers *conn.Handlers
	connCfg  conn.Config
	scene    *Scene

	address       string
	port          int
	resolved      chan resolveResult
	cancelResolve context.CancelFunc

	disconnectPending bool
	crcErr            error

	onConnect    func(c *conn.Connection)
	onDisconnect func(c *conn.Connection)
	onError      func(c *conn.Connection, code protocol.ErrorCode)

	rec    Recorder
	now    func() time.Time
	logger *slog.Logger
	base   *slog.Logger // handed to the connection, handlers and scene

	statsStart        time.Time
	packetsThisSecond int
	bytesThisSecond   int
	packetsPerSecond  int
	bytesPerSecond    int
}

// New creates a client on transport t. A nil config uses DefaultConfig.
func New(t transport.Transport, rt *replica.Runtime, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()
	base := cfg.Logger.With("side", "client")
	logger := base.With("component", "client")

	chCfg := cfg.Channel
	chCfg.MaxDelay = cfg.MaxDelay

	c := &Client{
		cfg:       cfg,
		rt:        rt,
		transport: t,
		hostID:    -1,
		handlers:  conn.NewHandlers(base),
		connCfg: conn.Config{
			Connection:         cfg.Connection,
			Channel:            chCfg,
			LogNetworkMessages: cfg.LogNetworkMessages,
		},
		rec:    cfg.Recorder,
		now:    time.Now,
		logger: logger,
		base:   base,
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	c.scene = NewScene(rt, base)
	c.registerSystemHandlers()
	c.scene.register(c.handlers)
	return c
}

// Runtime returns the runtime the client resolves behaviours and invokers in.
func (c *Client) Runtime() *replica.Runtime { return c.rt }

// State returns the connect state.
func (c *Client) State() State { return c.state }

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool { return c.state == StateConnected }

// Connection returns the connection to the server, or nil.
func (c *Client) Connection() *conn.Connection { return c.conn }

// Scene returns the client scene.
func (c *Client) Scene() *Scene { return c.scene }

// Address returns the resolved server address.
func (c *Client) Address() string { return c.address }

// Handlers returns the handler table of the connection.
func (c *Client) Handlers() *conn.Handlers { return c.handlers }

// RegisterHandler registers an application message handler.
func (c *Client) RegisterHandler(t protocol.MsgType, fn conn.HandlerFunc) error {
	return c.handlers.RegisterHandler(t, fn)
}

// OnConnect sets the callback run when the connection comes up.
func (c *Client) OnConnect(fn func(c *conn.Connection)) { c.onConnect = fn }

// OnDisconnect sets the callback run when the connection goes away.
func (c *Client) OnDisconnect(fn func(c *conn.Connection)) { c.onDisconnect = fn }

// OnError sets the callback run for every reported error. The connection
// is nil for errors raised before it exists.
func (c *Client) OnError(fn func(c *conn.Connection, code protocol.ErrorCode)) { c.onError = fn }

// CRCError returns the last behaviour table mismatch, or nil.
func (c *Client) CRCError() error { return c.crcErr }

// Connect starts connecting to address:port. IP literals and "localhost"
// connect on the next tick; other names are resolved in the background
// first. ctx bounds the lookup.
func (c *Client) Connect(ctx context.Context, address string, port int) error {
	switch c.state {
	case StateNone, StateDisconnected:
	default:
		return fmt.Errorf("%w: %s", ErrAlreadyConnecting, c.state)
	}
	if c.hostID < 0 {
		topology := transport.HostTopology{Default: c.cfg.Connection, MaxConnections: 1}
		hostID, err := c.transport.AddHost(topology, 0)
		if err != nil {
			return fmt.Errorf("client: add host: %w", err)
		}
		c.hostID = hostID
	}
	c.port = port
	c.crcErr = nil
	c.disconnectPending = false
	c.statsStart = c.now()

	if address == "localhost" || net.ParseIP(address) != nil {
		c.address = address
		c.state = StateResolved
		c.logger.Debug("connect", "address", address, "port", port)
		return nil
	}

	c.address = ""
	c.state = StateResolving
	c.resolve(ctx, address)
	c.logger.Debug("resolving", "host", address, "port", port)
	return nil
}

// resolve looks up host on its own goroutine. The goroutine only posts to
// the result channel, which Update polls.
func (c *Client) resolve(ctx context.Context, host string) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	results := make(chan resolveResult, 1)
	c.resolved = results
	c.cancelResolve = cancel

	resolver := c.cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	go func() {
		defer cancel()
		addrs, err := resolver.LookupHost(ctx, host)
		if err == nil && len(addrs) == 0 {
			err = fmt.Errorf("no addresses for %q", host)
		}
		r := resolveResult{err: err}
		if err == nil {
			r.address = addrs[0]
		}
		results <- r
	}()
}

// Update runs one client tick: it advances the connect state, drains at
// most MaxEventsPerTick transport events and drives the channels.
func (c *Client) Update(ctx context.Context) {
	start := c.now()
	switch c.state {
	case StateNone, StateDisconnected:
		return
	case StateResolving:
		c.pollResolve()
		return
	case StateResolved:
		c.continueConnect()
		return
	case StateFailed:
		c.generateError(protocol.CodeDNSFailure)
		c.state = StateDisconnected
		return
	}

	events := c.drain()
	if c.disconnectPending {
		c.disconnectPending = false
		c.Disconnect()
	}
	if c.conn != nil && c.state == StateConnected {
		c.conn.Tick()
	}
	c.rollStats(start)
	c.rec.RecordTick(c.now().Sub(start), events)
}

func (c *Client) pollResolve() {
	select {
	case r := <-c.resolved:
		c.resolved = nil
		c.cancelResolve = nil
		if r.err != nil {
			c.logger.Error("resolve failed", "error", r.err)
			c.state = StateFailed
			return
		}
		c.address = r.address
		c.state = StateResolved
		c.logger.Debug("resolved", "address", r.address)
	default:
	}
}

func (c *Client) continueConnect() {
	connID, err := c.transport.Connect(c.hostID, c.address, c.port)
	if err != nil {
		c.logger.Error("connect failed", "address", c.address, "port", c.port, "error", err)
		c.state = StateDisconnected
		c.generateError(protocol.CodeOf(err))
		return
	}
	c.conn = conn.New(c.transport, c.hostID, connID, c.address, c.connCfg, c.handlers, c.base)
	c.state = StateConnecting
}

func (c *Client) drain() int {
	n := 0
	for ; n < c.cfg.MaxEventsPerTick; n++ {
		ev, err := c.transport.Receive(c.hostID)
		if err != nil {
			c.logger.Error("receive failed", "host", c.hostID, "error", err)
			return n
		}
		if ev.Kind == transport.EventNothing {
			return n
		}
		if c.conn == nil || ev.ConnID != c.conn.ID() {
			c.logger.Error("event for unknown connection", "conn", ev.ConnID, "kind", ev.Kind)
			continue
		}
		if !c.handleEvent(ev) {
			return n + 1
		}
	}
	c.logger.Debug("event limit reached", "limit", c.cfg.MaxEventsPerTick)
	return n
}

// handleEvent applies one event and reports whether draining continues.
func (c *Client) handleEvent(ev transport.Event) bool {
	switch ev.Kind {
	case transport.EventConnect:
		c.state = StateConnected
		c.rec.RecordConnect()
		c.logger.Debug("connected", "address", c.address, "conn", ev.ConnID)
		c.conn.InvokeHandlerNoData(protocol.MsgConnect)
	case transport.EventData:
		if ev.Err != nil {
			c.logger.Error("data error", "error", ev.Err)
			c.conn.ReportError(ev.Err)
			return true
		}
		c.packetsThisSecond++
		c.bytesThisSecond += len(ev.Data)
		c.rec.RecordPacketIn(len(ev.Data))
		c.conn.TransportReceive(ev.Data, ev.ChannelID)
	case transport.EventDisconnect:
		c.handleDisconnect(ev)
		return false
	default:
		c.logger.Error("unknown event kind", "kind", ev.Kind)
	}
	return true
}

func (c *Client) handleDisconnect(ev transport.Event) {
	c.state = StateDisconnected
	if ev.Err != nil {
		switch code := protocol.CodeOf(ev.Err); code {
		case protocol.CodeOk, protocol.CodeTimeout:
		default:
			c.logger.Warn("disconnect error", "code", code)
			c.conn.ReportError(ev.Err)
		}
	}
	cn := c.conn
	c.scene.handleDisconnect(cn)
	cn.Disconnect()
	cn.InvokeHandlerNoData(protocol.MsgDisconnect)
	cn.Dispose()
	c.conn = nil
	c.rec.RecordDisconnect()
	c.logger.Debug("disconnected", "address", c.address)
}

// generateError reports code as if the connection raised it. Without a
// connection the error handler is called with a nil connection.
func (c *Client) generateError(code protocol.ErrorCode) {
	err := transport.Error{Code: code}
	if c.conn != nil {
		c.conn.ReportError(err)
		return
	}
	handler := c.handlers.Handler(protocol.MsgError)
	if handler == nil {
		return
	}
	w := protocol.NewWriterWithCap(2)
	(&protocol.ErrorMessage{Code: code}).EncodeTo(w)
	if herr := handler(&conn.Message{Type: protocol.MsgError, Reader: protocol.NewReader(w.Bytes())}); herr != nil {
		c.logger.Warn("error handler failed", "code", code, "error", herr)
	}
}

func (c *Client) rollStats(now time.Time) {
	if now.Sub(c.statsStart) < time.Second {
		return
	}
	c.packetsPerSecond = c.packetsThisSecond
	c.bytesPerSecond = c.bytesThisSecond
	c.packetsThisSecond = 0
	c.bytesThisSecond = 0
	c.statsStart = now
}

// Stats returns the client counters. The per second rates cover the last
// complete second.
func (c *Client) Stats() Stats {
	st := Stats{
		State:            c.state,
		PacketsPerSecond: c.packetsPerSecond,
		BytesPerSecond:   c.bytesPerSecond,
	}
	if c.conn != nil {
		st.MsgsIn, st.BytesIn = c.conn.StatsIn()
		st.MsgsOut, st.BufferedMsgsOut, st.BytesOut, st.LastBufferedPerSecond = c.conn.StatsOut()
	}
	return st
}

// SetMaxDelay sets the batching delay of the connection.
func (c *Client) SetMaxDelay(d time.Duration) {
	c.cfg.MaxDelay = d
	c.connCfg.Channel.MaxDelay = d
	if c.conn != nil {
		c.conn.SetMaxDelay(d)
	}
}

// Send sends a message on the reliable channel.
func (c *Client) Send(t protocol.MsgType, msg protocol.Message) error {
	return c.SendByChannel(t, msg, transport.ChannelReliable)
}

// SendUnreliable sends a message on the unreliable channel.
func (c *Client) SendUnreliable(t protocol.MsgType, msg protocol.Message) error {
	return c.SendByChannel(t, msg, transport.ChannelUnreliable)
}

// SendByChannel sends a message on channel ch.
func (c *Client) SendByChannel(t protocol.MsgType, msg protocol.Message, ch int) error {
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	if !c.conn.SendByChannel(t, msg, ch) {
		return fmt.Errorf("client: send %s on channel %d failed", t, ch)
	}
	return nil
}

// Disconnect closes the connection and forgets the scene's ready state.
// The host stays open for a later Connect.
func (c *Client) Disconnect() {
	if c.cancelResolve != nil {
		c.cancelResolve()
		c.cancelResolve = nil
		c.resolved = nil
	}
	if c.state != StateNone {
		c.state = StateDisconnected
	}
	if c.conn == nil {
		return
	}
	cn := c.conn
	c.scene.handleDisconnect(cn)
	cn.Disconnect()
	cn.Dispose()
	c.conn = nil
	c.rec.RecordDisconnect()
	c.logger.Debug("disconnect", "address", c.address)
}

// Shutdown disconnects, destroys every client object and closes the
// transport host.
func (c *Client) Shutdown() error {
	c.Disconnect()
	c.scene.DestroyAllObjects()
	if c.hostID < 0 {
		return nil
	}
	var errs []error
	if err := c.transport.RemoveHost(c.hostID); err != nil {
		errs = append(errs, fmt.Errorf("client: remove host %d: %w", c.hostID, err))
	}
	c.hostID = -1
	c.state = StateNone
	return errors.Join(errs...)
}

func (c *Client) registerSystemHandlers() {
	c.handlers.RegisterSystemHandler(protocol.MsgConnect, c.onConnectMessage)
	c.handlers.RegisterSystemHandler(protocol.MsgDisconnect, c.onDisconnectMessage)
	c.handlers.RegisterSystemHandler(protocol.MsgError, c.onErrorMessage)
	c.handlers.RegisterSystemHandler(protocol.MsgCRC, c.onCRCMessage)
}

func (c *Client) onConnectMessage(msg *conn.Message) error {
	if c.onConnect != nil {
		c.onConnect(msg.Conn)
	}
	return nil
}

func (c *Client) onDisconnectMessage(msg *conn.Message) error {
	if c.onDisconnect != nil {
		c.onDisconnect(msg.Conn)
	}
	return nil
}

func (c *Client) onErrorMessage(msg *conn.Message) error {
	var m protocol.ErrorMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	c.logger.Debug("connection error", "code", m.Code)
	c.rec.RecordError(m.Code)
	if c.onError != nil {
		c.onError(msg.Conn, m.Code)
	}
	return nil
}

func (c *Client) onCRCMessage(msg *conn.Message) error {
	var m protocol.CRCMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	numChannels := msg.Conn.NumChannels()
	if err := ValidateCRC(c.rt, m.Entries, numChannels); err != nil {
		c.crcErr = err
		c.logger.Error("behaviour table mismatch", "error", err, "strict", c.cfg.StrictCRC)
		if c.cfg.StrictCRC {
			c.disconnectPending = true
		}
		return err
	}
	c.crcErr = nil
	return nil
}

// ValidateCRC compares the behaviour table sent by a server with the
// local one. Names unknown locally are skipped once the counts match.
func ValidateCRC(rt *replica.Runtime, entries []protocol.CRCEntry, numChannels int) error {
	local := rt.CRCEntries()
	if len(entries) != len(local) {
		return &CRCError{Reason: fmt.Sprintf("%d behaviours, want %d", len(entries), len(local))}
	}
	for _, e := range entries {
		ch, ok := rt.BehaviourChannel(e.Name)
		if !ok {
			continue
		}
		if ch != int(e.Channel) {
			return &CRCError{Name: e.Name, Reason: fmt.Sprintf("channel %d, want %d", e.Channel, ch)}
		}
		if int(e.Channel) >= numChannels {
			return &CRCError{Name: e.Name, Reason: fmt.Sprintf("channel %d out of range, %d channels", e.Channel, numChannels)}
		}
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordTick(time.Duration, int)  {}
func (nopRecorder) RecordConnect()                 {}
func (nopRecorder) RecordDisconnect()              {}
func (nopRecorder) RecordPacketIn(int)             {}
func (nopRecorder) RecordError(protocol.ErrorCode) {}
