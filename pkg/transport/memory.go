package transport

import (
	"sync"
)

// DefaultQueueLimit is the default number of undelivered events a memory
// host holds before sends to it fail with ErrNoResources.
const DefaultQueueLimit = 4096

// SendHook inspects an outgoing packet. A non-nil error fails the send
// before it is queued.
type SendHook func(hostID, connID, channelID int, data []byte) error

// Network is an in-process transport. Hosts opened on it connect to each
// other by port; packets are copied into the receiving host's event queue.
// It is safe for concurrent use so a server and a client may tick on
// different goroutines.
type Network struct {
	mu         sync.Mutex
	nextHost   int
	hosts      map[int]*memHost
	ports      map[int]int // listening port -> host id
	queueLimit int
	hook       SendHook
}

type memHost struct {
	id       int
	port     int
	topology HostTopology
	events   []Event
	conns    map[int]memPeer
	nextConn int
}

type memPeer struct {
	host int
	conn int
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithQueueLimit sets the per-host event queue bound.
func WithQueueLimit(n int) NetworkOption {
	return func(n2 *Network) {
		if n > 0 {
			n2.queueLimit = n
		}
	}
}

// NewNetwork creates an empty in-process network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		hosts:      make(map[int]*memHost),
		ports:      make(map[int]int),
		queueLimit: DefaultQueueLimit,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetSendHook installs a hook consulted by every Send. Pass nil to remove it.
func (n *Network) SetSendHook(h SendHook) {
	n.mu.Lock()
	n.hook = h
	n.mu.Unlock()
}

// AddHost implements Transport.
func (n *Network) AddHost(topology HostTopology, port int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port < 0 || len(topology.Default.Channels) == 0 {
		return -1, ErrWrongOperation
	}
	if port > 0 {
		if _, taken := n.ports[port]; taken {
			return -1, ErrWrongHost
		}
	}
	n.nextHost++
	h := &memHost{
		id:       n.nextHost,
		port:     port,
		topology: topology,
		conns:    make(map[int]memPeer),
	}
	n.hosts[h.id] = h
	if port > 0 {
		n.ports[port] = h.id
	}
	return h.id, nil
}

// Connect implements Transport. The address is not used; hosts are found
// by port.
func (n *Network) Connect(hostID int, address string, port int) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	local, ok := n.hosts[hostID]
	if !ok {
		return -1, ErrWrongHost
	}
	targetID, ok := n.ports[port]
	if !ok || address == "" {
		return -1, ErrWrongHost
	}
	target := n.hosts[targetID]

	local.nextConn++
	localConn := local.nextConn

	if max := target.topology.MaxConnections; max > 0 && len(target.conns) >= max {
		local.events = append(local.events, Event{Kind: EventDisconnect, ConnID: localConn, Err: ErrNoResources})
		return localConn, nil
	}

	target.nextConn++
	remoteConn := target.nextConn
	local.conns[localConn] = memPeer{host: target.id, conn: remoteConn}
	target.conns[remoteConn] = memPeer{host: local.id, conn: localConn}
	target.events = append(target.events, Event{Kind: EventConnect, ConnID: remoteConn})
	local.events = append(local.events, Event{Kind: EventConnect, ConnID: localConn})
	return localConn, nil
}

// Send implements Transport.
func (n *Network) Send(hostID, connID, channelID int, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[hostID]
	if !ok {
		return ErrWrongHost
	}
	peer, ok := h.conns[connID]
	if !ok {
		return ErrWrongConnection
	}
	cfg := h.topology.Default
	if channelID < 0 || channelID >= len(cfg.Channels) {
		return ErrWrongChannel
	}
	if len(data) > cfg.BufferSize(channelID) {
		return ErrMessageTooLong
	}
	if n.hook != nil {
		if err := n.hook(hostID, connID, channelID, data); err != nil {
			return err
		}
	}
	target, ok := n.hosts[peer.host]
	if !ok {
		return ErrWrongConnection
	}
	if len(target.events) >= n.queueLimit {
		return ErrNoResources
	}
	target.events = append(target.events, Event{
		Kind:      EventData,
		ConnID:    peer.conn,
		ChannelID: channelID,
		Data:      append([]byte(nil), data...),
	})
	return nil
}

// Receive implements Transport.
func (n *Network) Receive(hostID int) (Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[hostID]
	if !ok {
		return Event{}, ErrWrongHost
	}
	if len(h.events) == 0 {
		return Event{Kind: EventNothing}, nil
	}
	ev := h.events[0]
	h.events[0] = Event{}
	h.events = h.events[1:]
	return ev, nil
}

// Disconnect implements Transport.
func (n *Network) Disconnect(hostID, connID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[hostID]
	if !ok {
		return ErrWrongHost
	}
	if _, ok := h.conns[connID]; !ok {
		return ErrWrongConnection
	}
	n.dropLocked(h, connID)
	return nil
}

// RemoveHost implements Transport.
func (n *Network) RemoveHost(hostID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[hostID]
	if !ok {
		return ErrWrongHost
	}
	for connID := range h.conns {
		n.dropLocked(h, connID)
	}
	if h.port > 0 {
		delete(n.ports, h.port)
	}
	delete(n.hosts, hostID)
	return nil
}

// Pending returns the number of undelivered events of a host.
func (n *Network) Pending(hostID int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.hosts[hostID]; ok {
		return len(h.events)
	}
	return 0
}

func (n *Network) dropLocked(h *memHost, connID int) {
	peer := h.conns[connID]
	delete(h.conns, connID)
	if target, ok := n.hosts[peer.host]; ok {
		if _, ok := target.conns[peer.conn]; ok {
			delete(target.conns, peer.conn)
			target.events = append(target.events, Event{Kind: EventDisconnect, ConnID: peer.conn})
		}
	}
}

var _ Transport = (*Network)(nil)
