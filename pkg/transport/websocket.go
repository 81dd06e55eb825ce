package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	// Path is the endpoint clients dial.
	// Default: "/ws".
	Path string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// SendQueueSize bounds the packets waiting for the writer goroutine of
	// a connection. A full queue fails Send with ErrNoResources.
	// Default: 64.
	SendQueueSize int

	// EventQueueSize bounds the events waiting for Receive per host.
	// Default: 1024.
	EventQueueSize int

	// HandshakeTimeout bounds an outgoing dial.
	// Default: 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single packet write.
	// Default: 10s.
	WriteTimeout time.Duration

	// CheckOrigin validates the Origin header of incoming upgrades.
	// Default: nil (gorilla's same-origin check).
	CheckOrigin func(r *http.Request) bool
}

// DefaultWebSocketConfig returns a WebSocketConfig with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Path:             "/ws",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		SendQueueSize:    64,
		EventQueueSize:   1024,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WebSocket is a Transport over gorilla/websocket. Each WebSocket message
// carries one packet prefixed by its channel id byte. Incoming connections
// arrive through the http.Handler returned by Handler.
type WebSocket struct {
	config   WebSocketConfig
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu       sync.Mutex
	nextHost int
	hosts    map[int]*wsHost
}

type wsHost struct {
	id       int
	topology HostTopology
	events   chan Event
	done     chan struct{}
	mu       sync.Mutex
	conns    map[int]*wsConn
	nextConn int
}

type wsConn struct {
	id     int
	host   *wsHost
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewWebSocket creates a WebSocket transport. A nil logger uses slog.Default().
func NewWebSocket(config WebSocketConfig, logger *slog.Logger) *WebSocket {
	defaults := DefaultWebSocketConfig()
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = defaults.WriteBufferSize
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = defaults.SendQueueSize
	}
	if config.EventQueueSize <= 0 {
		config.EventQueueSize = defaults.EventQueueSize
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocket{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		logger: logger.With("component", "ws_transport"),
		hosts:  make(map[int]*wsHost),
	}
}

// Path returns the endpoint path clients dial.
func (t *WebSocket) Path() string {
	return t.config.Path
}

// AddHost implements Transport. The port is not bound here; mount
// Handler(hostID) on an HTTP server listening on it.
func (t *WebSocket) AddHost(topology HostTopology, port int) (int, error) {
	if port < 0 || len(topology.Default.Channels) == 0 || len(topology.Default.Channels) > 255 {
		return -1, ErrWrongOperation
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHost++
	h := &wsHost{
		id:       t.nextHost,
		topology: topology,
		events:   make(chan Event, t.config.EventQueueSize),
		done:     make(chan struct{}),
		conns:    make(map[int]*wsConn),
	}
	t.hosts[h.id] = h
	return h.id, nil
}

func (t *WebSocket) host(id int) (*wsHost, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[id]
	if !ok {
		return nil, ErrWrongHost
	}
	return h, nil
}

// Handler returns the upgrade endpoint that feeds incoming connections to
// the host.
func (t *WebSocket) Handler(hostID int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, err := t.host(hostID)
		if err != nil {
			http.Error(w, "host closed", http.StatusServiceUnavailable)
			return
		}
		h.mu.Lock()
		full := h.topology.MaxConnections > 0 && len(h.conns) >= h.topology.MaxConnections
		h.mu.Unlock()
		if full {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		ws, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		c := t.register(h, ws)
		if !h.push(Event{Kind: EventConnect, ConnID: c.id}) {
			c.close(true)
			return
		}
		t.start(c)
	})
}

// Connect implements Transport. The dial runs on its own goroutine and its
// outcome is reported as an event.
func (t *WebSocket) Connect(hostID int, address string, port int) (int, error) {
	h, err := t.host(hostID)
	if err != nil {
		return -1, err
	}
	if address == "" {
		return -1, ErrWrongHost
	}

	h.mu.Lock()
	h.nextConn++
	connID := h.nextConn
	h.mu.Unlock()

	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(address, strconv.Itoa(port)), Path: t.config.Path}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.config.HandshakeTimeout)
		defer cancel()
		ws, _, err := t.dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			t.logger.Warn("websocket dial failed", "url", u.String(), "error", err)
			h.push(Event{Kind: EventDisconnect, ConnID: connID, Err: ErrTimeout})
			return
		}
		c := t.registerAs(h, ws, connID)
		if !h.push(Event{Kind: EventConnect, ConnID: c.id}) {
			c.close(true)
			return
		}
		t.start(c)
	}()
	return connID, nil
}

func (t *WebSocket) register(h *wsHost, ws *websocket.Conn) *wsConn {
	h.mu.Lock()
	h.nextConn++
	id := h.nextConn
	h.mu.Unlock()
	return t.registerAs(h, ws, id)
}

func (t *WebSocket) registerAs(h *wsHost, ws *websocket.Conn, id int) *wsConn {
	c := &wsConn{
		id:     id,
		host:   h,
		ws:     ws,
		send:   make(chan []byte, t.config.SendQueueSize),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(int64(maxBufferSize(h.topology.Default)) + 1)

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	return c
}

// start runs the connection loops. It is called after the connect event is
// queued so data never precedes it.
func (t *WebSocket) start(c *wsConn) {
	go t.writeLoop(c)
	go t.readLoop(c)
}

func maxBufferSize(cfg ConnectionConfig) int {
	size := cfg.PacketSize
	for i := range cfg.Channels {
		if b := cfg.BufferSize(i); b > size {
			size = b
		}
	}
	return size
}

func (t *WebSocket) readLoop(c *wsConn) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			var reason error
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ErrTimeout
			}
			t.drop(c, reason)
			return
		}
		if len(msg) == 0 {
			continue
		}
		ev := Event{Kind: EventData, ConnID: c.id, ChannelID: int(msg[0]), Data: msg[1:]}
		if !c.host.push(ev) {
			return
		}
	}
}

func (t *WebSocket) writeLoop(c *wsConn) {
	for {
		select {
		case pkt := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, pkt); err != nil {
				t.logger.Debug("websocket write failed", "conn", c.id, "error", err)
				c.ws.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// drop removes a connection after its read side failed. Connections this
// side closed are already unregistered and produce no event.
func (t *WebSocket) drop(c *wsConn, reason error) {
	h := c.host
	h.mu.Lock()
	_, present := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.close(false)
	if present {
		h.push(Event{Kind: EventDisconnect, ConnID: c.id, Err: reason})
	}
}

func (c *wsConn) close(local bool) {
	c.once.Do(func() {
		close(c.closed)
		if local {
			deadline := time.Now().Add(time.Second)
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		c.ws.Close()
	})
}

// push queues an event for Receive. It blocks while the queue is full and
// returns false once the host is removed.
func (h *wsHost) push(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Send implements Transport.
func (t *WebSocket) Send(hostID, connID, channelID int, data []byte) error {
	h, err := t.host(hostID)
	if err != nil {
		return err
	}
	cfg := h.topology.Default
	if channelID < 0 || channelID >= len(cfg.Channels) {
		return ErrWrongChannel
	}
	if len(data) > cfg.BufferSize(channelID) {
		return ErrMessageTooLong
	}
	h.mu.Lock()
	c, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return ErrWrongConnection
	}

	pkt := make([]byte, 1+len(data))
	pkt[0] = byte(channelID)
	copy(pkt[1:], data)
	select {
	case c.send <- pkt:
		return nil
	case <-c.closed:
		return ErrWrongConnection
	default:
		return ErrNoResources
	}
}

// Receive implements Transport.
func (t *WebSocket) Receive(hostID int) (Event, error) {
	h, err := t.host(hostID)
	if err != nil {
		return Event{}, err
	}
	select {
	case ev := <-h.events:
		return ev, nil
	default:
		return Event{Kind: EventNothing}, nil
	}
}

// Disconnect implements Transport.
func (t *WebSocket) Disconnect(hostID, connID int) error {
	h, err := t.host(hostID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	c, ok := h.conns[connID]
	delete(h.conns, connID)
	h.mu.Unlock()
	if !ok {
		return ErrWrongConnection
	}
	c.close(true)
	return nil
}

// RemoveHost implements Transport.
func (t *WebSocket) RemoveHost(hostID int) error {
	t.mu.Lock()
	h, ok := t.hosts[hostID]
	delete(t.hosts, hostID)
	t.mu.Unlock()
	if !ok {
		return ErrWrongHost
	}

	close(h.done)
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[int]*wsConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close(true)
	}
	return nil
}

// String describes the transport for logs.
func (t *WebSocket) String() string {
	return fmt.Sprintf("websocket(%s)", t.config.Path)
}

var _ Transport = (*WebSocket)(nil)
