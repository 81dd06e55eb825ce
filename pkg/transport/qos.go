package transport

import "fmt"

// QoS is the delivery guarantee of a channel.
type QoS uint8

const (
	Unreliable           QoS = 0
	UnreliableFragmented QoS = 1
	UnreliableSequenced  QoS = 2
	Reliable             QoS = 3
	ReliableFragmented   QoS = 4
	ReliableSequenced    QoS = 5
)

// IsReliable reports whether packets on the channel must not be dropped.
func (q QoS) IsReliable() bool {
	return q == Reliable || q == ReliableFragmented || q == ReliableSequenced
}

// IsSequenced reports whether the channel delivers in send order.
func (q QoS) IsSequenced() bool {
	return q == ReliableSequenced || q == UnreliableSequenced
}

// IsFragmented reports whether the channel uses large packet buffers.
func (q QoS) IsFragmented() bool {
	return q == ReliableFragmented || q == UnreliableFragmented
}

// String returns the string representation of the QoS.
func (q QoS) String() string {
	switch q {
	case Unreliable:
		return "Unreliable"
	case UnreliableFragmented:
		return "UnreliableFragmented"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case Reliable:
		return "Reliable"
	case ReliableFragmented:
		return "ReliableFragmented"
	case ReliableSequenced:
		return "ReliableSequenced"
	default:
		return fmt.Sprintf("QoS(%d)", uint8(q))
	}
}

// ParseQoS parses a QoS name as produced by String.
func ParseQoS(s string) (QoS, error) {
	for q := Unreliable; q <= ReliableSequenced; q++ {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("transport: unknown qos %q", s)
}

// Default channel ids of DefaultConnectionConfig.
const (
	ChannelReliable   = 0
	ChannelUnreliable = 1
)

// ConnectionConfig describes the channels and packet sizes of a connection.
type ConnectionConfig struct {
	// PacketSize is the buffer size of non-fragmented channels.
	// Default: 1440.
	PacketSize int

	// FragmentSize sizes the buffers of fragmented channels, which hold
	// 128 fragments.
	// Default: 500.
	FragmentSize int

	// Channels lists the QoS of each channel; the index is the channel id.
	// Default: [ReliableSequenced, Unreliable].
	Channels []QoS
}

// DefaultConnectionConfig returns a ConnectionConfig with sensible defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		PacketSize:   1440,
		FragmentSize: 500,
		Channels:     []QoS{ReliableSequenced, Unreliable},
	}
}

// BufferSize returns the packet buffer size of the given channel.
func (c ConnectionConfig) BufferSize(channelID int) int {
	if channelID >= 0 && channelID < len(c.Channels) && c.Channels[channelID].IsFragmented() {
		return c.FragmentSize * 128
	}
	return c.PacketSize
}

// Clone returns a deep copy of the config.
func (c ConnectionConfig) Clone() ConnectionConfig {
	c.Channels = append([]QoS(nil), c.Channels...)
	return c
}

// HostTopology describes a host: the config every connection gets and the
// connection limit.
type HostTopology struct {
	Default ConnectionConfig

	// MaxConnections limits concurrent connections. Zero means no limit.
	// Default: 64.
	MaxConnections int
}

// DefaultHostTopology returns a HostTopology with sensible defaults.
func DefaultHostTopology() HostTopology {
	return HostTopology{
		Default:        DefaultConnectionConfig(),
		MaxConnections: 64,
	}
}
