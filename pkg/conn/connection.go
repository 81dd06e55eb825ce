// Package conn implements a replication connection: per-channel send
// buffers, frame demultiplexing to registered handlers, and the
// bookkeeping of which entities a peer observes, owns and plays.
package conn

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/exp/maps"

	"github.com/replinet/replinet/pkg/channel"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/transport"
)

// Entity is the view a connection has of a replicated entity.
type Entity interface {
	NetID() protocol.NetID

	// RemoveObserverInternal drops c from the entity's observers without
	// notifying c.
	RemoveObserverInternal(c *Connection)

	// ClearClientOwner forgets the entity's authority owner.
	ClearClientOwner()
}

// PacketStat counts received frames of one message type.
type PacketStat struct {
	MsgType protocol.MsgType
	Count   int
	Bytes   int
}

// Config holds the settings shared by every connection of a host.
type Config struct {
	// Connection describes the channels. Default: transport.DefaultConnectionConfig().
	Connection transport.ConnectionConfig

	// Channel tunes every channel buffer. Default: channel.DefaultConfig().
	Channel channel.Config

	// LogNetworkMessages logs every received frame at debug level.
	LogNetworkMessages bool
}

// Connection is one peer of a host. It is driven by the owning tick and is
// not safe for concurrent use.
type Connection struct {
	id        int
	hostID    int
	address   string
	transport transport.Transport
	handlers  *Handlers
	logger    *slog.Logger

	channels []*channel.Buffer
	visList  map[protocol.NetID]Entity
	owned    map[protocol.NetID]Entity
	players  []PlayerController

	isReady            bool
	lastError          protocol.ErrorCode
	lastMessageTime    time.Time
	packetStats        map[protocol.MsgType]*PacketStat
	logNetworkMessages bool
	closed             bool
	disposed           bool
}

// New creates a connection bound to a transport connection and opens one
// channel buffer per configured QoS. A nil logger uses slog.Default().
func New(t transport.Transport, hostID, connID int, address string, cfg Config, handlers *Handlers, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Connection.Channels) == 0 {
		cfg.Connection = transport.DefaultConnectionConfig()
	}
	if handlers == nil {
		handlers = NewHandlers(logger)
	}
	logger = logger.With("conn", connID)

	c := &Connection{
		id:                 connID,
		hostID:             hostID,
		address:            address,
		transport:          t,
		handlers:           handlers,
		logger:             logger.With("component", "connection"),
		visList:            make(map[protocol.NetID]Entity),
		owned:              make(map[protocol.NetID]Entity),
		packetStats:        make(map[protocol.MsgType]*PacketStat),
		logNetworkMessages: cfg.LogNetworkMessages,
	}
	c.channels = make([]*channel.Buffer, len(cfg.Connection.Channels))
	for i, qos := range cfg.Connection.Channels {
		c.channels[i] = channel.NewBuffer(c, i, qos, cfg.Connection.BufferSize(i), cfg.Channel, logger)
	}
	return c
}

// ID returns the transport connection id.
func (c *Connection) ID() int { return c.id }

// HostID returns the transport host id.
func (c *Connection) HostID() int { return c.hostID }

// Address returns the remote address, empty once disconnected.
func (c *Connection) Address() string { return c.address }

// IsReady reports whether the peer accepts entity state.
func (c *Connection) IsReady() bool { return c.isReady }

// SetReady sets the ready flag.
func (c *Connection) SetReady(ready bool) { c.isReady = ready }

// LastError returns the code of the last reported error.
func (c *Connection) LastError() protocol.ErrorCode { return c.lastError }

// LastMessageTime returns when the last frame was dispatched.
func (c *Connection) LastMessageTime() time.Time { return c.lastMessageTime }

// Handlers returns the handler table of the connection.
func (c *Connection) Handlers() *Handlers { return c.handlers }

// SetHandlers replaces the handler table.
func (c *Connection) SetHandlers(h *Handlers) { c.handlers = h }

// IsClosed reports whether Disconnect was called.
func (c *Connection) IsClosed() bool { return c.closed }

// IsDisposed reports whether Dispose was called.
func (c *Connection) IsDisposed() bool { return c.disposed }

// Channel returns the buffer of channel id, or nil.
func (c *Connection) Channel(id int) *channel.Buffer {
	if id < 0 || id >= len(c.channels) {
		return nil
	}
	return c.channels[id]
}

// NumChannels returns the number of channels.
func (c *Connection) NumChannels() int { return len(c.channels) }

// String describes the connection for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("hostId: %d connectionId: %d isReady: %t channel count: %d",
		c.hostID, c.id, c.isReady, len(c.channels))
}

// SendPacket implements channel.Sender.
func (c *Connection) SendPacket(channelID int, data []byte) error {
	if c.disposed || c.closed {
		return transport.ErrWrongConnection
	}
	return c.transport.Send(c.hostID, c.id, channelID, data)
}

// Send sends msg on the default reliable channel.
func (c *Connection) Send(t protocol.MsgType, msg protocol.Message) bool {
	return c.SendByChannel(t, msg, transport.ChannelReliable)
}

// SendUnreliable sends msg on the default unreliable channel.
func (c *Connection) SendUnreliable(t protocol.MsgType, msg protocol.Message) bool {
	return c.SendByChannel(t, msg, transport.ChannelUnreliable)
}

// SendByChannel sends msg on channel ch. The result is for logging only;
// reliable delivery is retried by the channel.
func (c *Connection) SendByChannel(t protocol.MsgType, msg protocol.Message, ch int) bool {
	b, ok := c.channelFor(ch)
	if !ok {
		return false
	}
	if err := b.Send(t, msg); err != nil {
		c.logSendError(t, ch, err)
		return false
	}
	return true
}

// SendBytes sends pre-framed bytes on channel ch.
func (c *Connection) SendBytes(data []byte, ch int) bool {
	b, ok := c.channelFor(ch)
	if !ok {
		return false
	}
	if err := b.SendBytes(data); err != nil {
		c.logSendError(-1, ch, err)
		return false
	}
	return true
}

// SendWriter sends the frames held by w on channel ch.
func (c *Connection) SendWriter(w *protocol.Writer, ch int) bool {
	return c.SendBytes(w.Bytes(), ch)
}

func (c *Connection) channelFor(ch int) (*channel.Buffer, bool) {
	if c.disposed {
		c.logger.Warn("send on disposed connection", "channel", ch)
		return nil, false
	}
	if c.closed {
		c.logger.Debug("send on closed connection", "channel", ch)
		return nil, false
	}
	b := c.Channel(ch)
	if b == nil {
		c.logger.Error("send: invalid channel", "channel", ch, "channels", len(c.channels))
		return nil, false
	}
	return b, true
}

func (c *Connection) logSendError(t protocol.MsgType, ch int, err error) {
	c.lastError = protocol.CodeOf(err)
	c.logger.Warn("send failed", "msg_type", t, "channel", ch, "error", err)
}

// SetMaxDelay sets the batching delay of every channel.
func (c *Connection) SetMaxDelay(d time.Duration) {
	for _, b := range c.channels {
		b.SetMaxDelay(d)
	}
}

// FlushChannels sends whatever every channel holds.
func (c *Connection) FlushChannels() {
	for _, b := range c.channels {
		if err := b.Flush(); err != nil {
			c.logger.Debug("flush deferred", "channel", b.ID(), "error", err)
		}
	}
}

// Tick drives the retry queues and batching delay of every channel.
func (c *Connection) Tick() {
	for _, b := range c.channels {
		if err := b.Tick(); err != nil {
			c.logger.Debug("channel tick deferred", "channel", b.ID(), "error", err)
		}
	}
}

// TransportReceive parses a packet and dispatches its frames in order.
// Unknown message ids discard only their frame; a malformed frame stops
// parsing of the rest of the packet.
func (c *Connection) TransportReceive(data []byte, channelID int) {
	if err := protocol.ParseFrames(data, func(f protocol.Frame) error {
		c.dispatch(f, channelID)
		return nil
	}); err != nil {
		c.logger.Error("malformed packet", "channel", channelID, "bytes", len(data), "error", err)
		c.ReportError(err)
	}
}

func (c *Connection) dispatch(f protocol.Frame, channelID int) {
	c.recordIn(f, channelID)
	if c.logNetworkMessages {
		c.logger.Debug("recv", "msg_type", f.Type, "bytes", len(f.Payload), "channel", channelID)
	}

	if f.Type == protocol.MsgFragment {
		c.handleFragment(f.Payload, channelID)
		return
	}

	handler := c.handlers.Handler(f.Type)
	if handler == nil {
		c.logger.Error("unknown message id", "msg_type", f.Type)
		c.ReportError(fmt.Errorf("conn %d: type %d: %w", c.id, f.Type, protocol.ErrUnknownMessage))
		return
	}
	c.lastMessageTime = time.Now()
	if err := handler(&Message{
		Type:      f.Type,
		Conn:      c,
		Reader:    protocol.NewReader(f.Payload),
		ChannelID: channelID,
	}); err != nil {
		c.logger.Warn("handler failed", "msg_type", f.Type, "error", err)
		c.ReportError(err)
	}
}

func (c *Connection) handleFragment(payload []byte, channelID int) {
	b := c.Channel(channelID)
	if b == nil {
		c.logger.Error("fragment on invalid channel", "channel", channelID)
		return
	}
	done, err := b.HandleFragment(protocol.NewReader(payload))
	if err != nil {
		c.logger.Error("malformed fragment", "channel", channelID, "error", err)
		c.ReportError(err)
		return
	}
	if !done {
		return
	}
	// The reassembly buffer is reused by the next fragment.
	msg := slices.Clone(b.FragmentMessage())
	if err := protocol.ParseFrames(msg, func(f protocol.Frame) error {
		c.dispatch(f, channelID)
		return nil
	}); err != nil {
		c.logger.Error("malformed reassembled message", "channel", channelID, "error", err)
		c.ReportError(err)
	}
}

func (c *Connection) recordIn(f protocol.Frame, channelID int) {
	st, ok := c.packetStats[f.Type]
	if !ok {
		st = &PacketStat{MsgType: f.Type}
		c.packetStats[f.Type] = st
	}
	st.Count++
	st.Bytes += f.Size()
	if b := c.Channel(channelID); b != nil {
		b.RecordIn(f.Size())
	}
}

// ReportError records err and hands its code to the error handler, if one
// is registered, as an error message.
func (c *Connection) ReportError(err error) {
	code := protocol.CodeOf(err)
	c.lastError = code
	handler := c.handlers.Handler(protocol.MsgError)
	if handler == nil {
		return
	}
	w := protocol.NewWriterWithCap(2)
	(&protocol.ErrorMessage{Code: code}).EncodeTo(w)
	if herr := handler(&Message{
		Type:   protocol.MsgError,
		Conn:   c,
		Reader: protocol.NewReader(w.Bytes()),
	}); herr != nil {
		c.logger.Warn("error handler failed", "code", code, "error", herr)
	}
}

// InvokeHandler calls the handler of t with payload as if it was received.
func (c *Connection) InvokeHandler(t protocol.MsgType, payload []byte, channelID int) bool {
	handler := c.handlers.Handler(t)
	if handler == nil {
		return false
	}
	if err := handler(&Message{
		Type:      t,
		Conn:      c,
		Reader:    protocol.NewReader(payload),
		ChannelID: channelID,
	}); err != nil {
		c.logger.Warn("handler failed", "msg_type", t, "error", err)
		c.ReportError(err)
	}
	return true
}

// InvokeHandlerNoData calls the handler of t with an empty payload.
func (c *Connection) InvokeHandlerNoData(t protocol.MsgType) bool {
	return c.InvokeHandler(t, nil, 0)
}

// AddToVisList records that the peer observes e.
func (c *Connection) AddToVisList(e Entity) {
	c.visList[e.NetID()] = e
}

// RemoveFromVisList records that the peer no longer observes e.
func (c *Connection) RemoveFromVisList(e Entity) {
	delete(c.visList, e.NetID())
}

// IsObserving reports whether the peer observes id.
func (c *Connection) IsObserving(id protocol.NetID) bool {
	_, ok := c.visList[id]
	return ok
}

// RemoveObservers removes the connection from every entity it observes.
func (c *Connection) RemoveObservers() {
	for _, e := range c.visList {
		e.RemoveObserverInternal(c)
	}
	clear(c.visList)
}

// VisibleObjects returns the ids the peer observes in ascending order.
func (c *Connection) VisibleObjects() []protocol.NetID {
	ids := maps.Keys(c.visList)
	slices.Sort(ids)
	return ids
}

// AddOwnedObject records that the peer has authority over e.
func (c *Connection) AddOwnedObject(e Entity) {
	c.owned[e.NetID()] = e
}

// RemoveOwnedObject forgets the peer's authority over e.
func (c *Connection) RemoveOwnedObject(e Entity) {
	delete(c.owned, e.NetID())
}

// OwnedObjects returns the ids the peer has authority over in ascending order.
func (c *Connection) OwnedObjects() []protocol.NetID {
	ids := maps.Keys(c.owned)
	slices.Sort(ids)
	return ids
}

// Close stops sending and closes the transport connection. Observer sets
// and owned entities are left untouched.
func (c *Connection) Close() {
	if c.closed {
		return
	}
	c.address = ""
	c.isReady = false
	c.closed = true
	if err := c.transport.Disconnect(c.hostID, c.id); err != nil {
		c.logger.Debug("transport disconnect", "error", err)
	}
}

// Disconnect closes the connection and leaves every observer set.
func (c *Connection) Disconnect() {
	c.Close()
	c.RemoveObservers()
}

// Dispose releases ownership of every owned entity and drops the channels.
func (c *Connection) Dispose() {
	if c.disposed {
		return
	}
	for _, e := range c.owned {
		e.ClearClientOwner()
	}
	clear(c.owned)
	c.channels = nil
	c.disposed = true
}

// PacketStats returns the received frame counters by message type.
func (c *Connection) PacketStats() []PacketStat {
	out := make([]PacketStat, 0, len(c.packetStats))
	for _, st := range c.packetStats {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b PacketStat) int { return int(a.MsgType) - int(b.MsgType) })
	return out
}

// StatsOut aggregates the send counters of every channel.
func (c *Connection) StatsOut() (msgs, bufferedMsgs, bytes, lastBufferedPerSecond int) {
	for _, b := range c.channels {
		st := b.Stats()
		msgs += st.MsgsOut
		bufferedMsgs += st.BufferedMsgsOut
		bytes += st.BytesOut
		lastBufferedPerSecond += st.LastBufferedPerSecond
	}
	return msgs, bufferedMsgs, bytes, lastBufferedPerSecond
}

// StatsIn aggregates the receive counters of every channel.
func (c *Connection) StatsIn() (msgs, bytes int) {
	for _, b := range c.channels {
		st := b.Stats()
		msgs += st.MsgsIn
		bytes += st.BytesIn
	}
	return msgs, bytes
}
