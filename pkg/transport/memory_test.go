package transport

import (
	"bytes"
	"errors"
	"testing"
)

func connectPair(t *testing.T, n *Network) (server, client, serverConn, clientConn int) {
	t.Helper()
	server, err := n.AddHost(DefaultHostTopology(), 7777)
	if err != nil {
		t.Fatalf("AddHost(server) error = %v", err)
	}
	client, err = n.AddHost(DefaultHostTopology(), 0)
	if err != nil {
		t.Fatalf("AddHost(client) error = %v", err)
	}
	clientConn, err = n.Connect(client, "localhost", 7777)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev, _ := n.Receive(server)
	if ev.Kind != EventConnect {
		t.Fatalf("server event = %v, want Connect", ev.Kind)
	}
	serverConn = ev.ConnID
	ev, _ = n.Receive(client)
	if ev.Kind != EventConnect || ev.ConnID != clientConn {
		t.Fatalf("client event = %v/%d, want Connect/%d", ev.Kind, ev.ConnID, clientConn)
	}
	return server, client, serverConn, clientConn
}

func TestNetworkSendReceive(t *testing.T) {
	n := NewNetwork()
	server, client, serverConn, clientConn := connectPair(t, n)

	data := []byte{1, 2, 3}
	if err := n.Send(client, clientConn, ChannelUnreliable, data); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	data[0] = 99

	ev, err := n.Receive(server)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if ev.Kind != EventData || ev.ConnID != serverConn || ev.ChannelID != ChannelUnreliable {
		t.Errorf("Receive() = %+v, want Data on conn %d channel 1", ev, serverConn)
	}
	if !bytes.Equal(ev.Data, []byte{1, 2, 3}) {
		t.Errorf("Receive().Data = %v, want a copy [1 2 3]", ev.Data)
	}

	ev, _ = n.Receive(server)
	if ev.Kind != EventNothing {
		t.Errorf("Receive() on empty queue = %v, want Nothing", ev.Kind)
	}
}

func TestNetworkSendErrors(t *testing.T) {
	n := NewNetwork(WithQueueLimit(1))
	_, client, _, clientConn := connectPair(t, n)

	tests := []struct {
		name    string
		host    int
		conn    int
		channel int
		data    []byte
		want    error
	}{
		{"wrong_host", 99, clientConn, 0, []byte{1}, ErrWrongHost},
		{"wrong_conn", client, 99, 0, []byte{1}, ErrWrongConnection},
		{"wrong_channel", client, clientConn, 5, []byte{1}, ErrWrongChannel},
		{"too_long", client, clientConn, 0, make([]byte, 1441), ErrMessageTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := n.Send(tc.host, tc.conn, tc.channel, tc.data); !errors.Is(err, tc.want) {
				t.Errorf("Send() error = %v, want %v", err, tc.want)
			}
		})
	}

	if err := n.Send(client, clientConn, 0, []byte{1}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := n.Send(client, clientConn, 0, []byte{2}); !IsNoResources(err) {
		t.Errorf("Send() over queue limit error = %v, want ErrNoResources", err)
	}
}

func TestNetworkSendHook(t *testing.T) {
	n := NewNetwork()
	server, client, _, clientConn := connectPair(t, n)

	n.SetSendHook(func(_, _, _ int, _ []byte) error { return ErrNoResources })
	if err := n.Send(client, clientConn, 0, []byte{1}); !IsNoResources(err) {
		t.Errorf("Send() with failing hook error = %v, want ErrNoResources", err)
	}
	if got := n.Pending(server); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	n.SetSendHook(nil)
	if err := n.Send(client, clientConn, 0, []byte{1}); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestNetworkDisconnect(t *testing.T) {
	n := NewNetwork()
	server, client, serverConn, clientConn := connectPair(t, n)

	if err := n.Disconnect(client, clientConn); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	ev, _ := n.Receive(server)
	if ev.Kind != EventDisconnect || ev.ConnID != serverConn || ev.Err != nil {
		t.Errorf("server event = %+v, want clean Disconnect on %d", ev, serverConn)
	}
	if ev, _ := n.Receive(client); ev.Kind != EventNothing {
		t.Errorf("client event = %v, want Nothing", ev.Kind)
	}
	if err := n.Send(server, serverConn, 0, []byte{1}); !errors.Is(err, ErrWrongConnection) {
		t.Errorf("Send() after disconnect error = %v, want ErrWrongConnection", err)
	}
}

func TestNetworkConnectErrors(t *testing.T) {
	n := NewNetwork()
	client, _ := n.AddHost(DefaultHostTopology(), 0)
	if _, err := n.Connect(client, "localhost", 1234); !errors.Is(err, ErrWrongHost) {
		t.Errorf("Connect(no listener) error = %v, want ErrWrongHost", err)
	}

	topo := DefaultHostTopology()
	topo.MaxConnections = 1
	if _, err := n.AddHost(topo, 1234); err != nil {
		t.Fatalf("AddHost() error = %v", err)
	}
	if _, err := n.AddHost(topo, 1234); !errors.Is(err, ErrWrongHost) {
		t.Errorf("AddHost(taken port) error = %v, want ErrWrongHost", err)
	}
	n.Connect(client, "localhost", 1234)
	n.Receive(client)
	second, err := n.Connect(client, "localhost", 1234)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev, _ := n.Receive(client)
	if ev.Kind != EventDisconnect || ev.ConnID != second || !IsNoResources(ev.Err) {
		t.Errorf("event = %+v, want Disconnect with ErrNoResources", ev)
	}
}

func TestQoS(t *testing.T) {
	tests := []struct {
		q          QoS
		reliable   bool
		sequenced  bool
		fragmented bool
	}{
		{Unreliable, false, false, false},
		{UnreliableFragmented, false, false, true},
		{UnreliableSequenced, false, true, false},
		{Reliable, true, false, false},
		{ReliableFragmented, true, false, true},
		{ReliableSequenced, true, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.q.String(), func(t *testing.T) {
			if tc.q.IsReliable() != tc.reliable {
				t.Errorf("IsReliable() = %v, want %v", tc.q.IsReliable(), tc.reliable)
			}
			if tc.q.IsSequenced() != tc.sequenced {
				t.Errorf("IsSequenced() = %v, want %v", tc.q.IsSequenced(), tc.sequenced)
			}
			if tc.q.IsFragmented() != tc.fragmented {
				t.Errorf("IsFragmented() = %v, want %v", tc.q.IsFragmented(), tc.fragmented)
			}
			parsed, err := ParseQoS(tc.q.String())
			if err != nil || parsed != tc.q {
				t.Errorf("ParseQoS(%q) = %v, %v", tc.q.String(), parsed, err)
			}
		})
	}

	cfg := ConnectionConfig{PacketSize: 1000, FragmentSize: 100, Channels: []QoS{Reliable, ReliableFragmented}}
	if got := cfg.BufferSize(0); got != 1000 {
		t.Errorf("BufferSize(0) = %d, want 1000", got)
	}
	if got := cfg.BufferSize(1); got != 12800 {
		t.Errorf("BufferSize(1) = %d, want 12800", got)
	}
}
