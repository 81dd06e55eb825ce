// Package channel implements the per-channel send path of a connection:
// message batching into packets, the reliable retry queue, fragmentation
// of oversized messages and their reassembly on receipt.
package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/transport"
)

const (
	// DefaultMaxPendingPackets is the default retry queue bound.
	DefaultMaxPendingPackets = 16

	// MaxPendingPacketsLimit is the largest retry queue bound accepted.
	MaxPendingPacketsLimit = 512

	// DefaultRecoveryRatio is the queue fill below which a broken channel
	// recovers.
	DefaultRecoveryRatio = 0.5

	// DefaultMaxDelay is the default batching delay.
	DefaultMaxDelay = 10 * time.Millisecond

	// packetReserve is subtracted from the transport buffer size.
	packetReserve = 100

	statsInterval = time.Second
)

// ErrInvalidSize is returned for empty payloads and payloads of 65535
// bytes or more.
var ErrInvalidSize = errors.New("channel: invalid payload size")

// Config holds the tunables of a channel buffer.
type Config struct {
	// MaxPendingPackets bounds the reliable retry queue before the channel
	// reports itself broken. Capped at 512.
	// Default: 16.
	MaxPendingPackets int

	// RecoveryRatio is the fraction of MaxPendingPackets the queue must
	// drop below before a broken channel recovers.
	// Default: 0.5.
	RecoveryRatio float64

	// MaxDelay is how long a partially filled packet may wait before Tick
	// flushes it. Zero flushes on every send.
	// Default: 10ms.
	MaxDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPendingPackets: DefaultMaxPendingPackets,
		RecoveryRatio:     DefaultRecoveryRatio,
		MaxDelay:          DefaultMaxDelay,
	}
}

// Stats are the counters of one channel.
type Stats struct {
	MsgsOut               int
	BufferedMsgsOut       int
	BytesOut              int
	MsgsIn                int
	BytesIn               int
	BufferedPerSecond     int
	LastBufferedPerSecond int
	Pending               int
	Broken                bool
}

// Buffer is the send side of one channel of a connection. It is not safe
// for concurrent use; it is driven by the owning tick.
type Buffer struct {
	id       int
	qos      transport.QoS
	reliable bool
	sender   Sender
	logger   *slog.Logger

	maxPacketSize      int
	maxPending         int
	recoveryRatio      float64
	allowFragmentation bool
	maxDelay           time.Duration

	current *Packet
	pending []*Packet
	free    []*Packet
	broken  bool

	lastFlush      time.Time
	lastStatsReset time.Time
	stats          Stats

	fragments       []byte
	readingFragment bool

	now func() time.Time
}

// NewBuffer creates the buffer of channel id. bufferSize is the transport
// packet size of the channel. A nil logger uses slog.Default().
func NewBuffer(sender Sender, id int, qos transport.QoS, bufferSize int, cfg Config, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPendingPackets <= 0 {
		cfg.MaxPendingPackets = DefaultMaxPendingPackets
	}
	if cfg.MaxPendingPackets > MaxPendingPacketsLimit {
		cfg.MaxPendingPackets = MaxPendingPacketsLimit
	}
	if cfg.RecoveryRatio <= 0 || cfg.RecoveryRatio > 1 {
		cfg.RecoveryRatio = DefaultRecoveryRatio
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}

	b := &Buffer{
		id:                 id,
		qos:                qos,
		reliable:           qos.IsReliable(),
		sender:             sender,
		logger:             logger.With("component", "channel", "channel", id),
		maxPacketSize:      bufferSize - packetReserve,
		maxPending:         cfg.MaxPendingPackets,
		recoveryRatio:      cfg.RecoveryRatio,
		allowFragmentation: qos.IsReliable() && qos.IsSequenced(),
		maxDelay:           cfg.MaxDelay,
		now:                time.Now,
	}
	b.current = b.allocPacket()
	b.lastFlush = b.now()
	b.lastStatsReset = b.lastFlush
	return b
}

// ID returns the channel id.
func (b *Buffer) ID() int { return b.id }

// QoS returns the delivery guarantee of the channel.
func (b *Buffer) QoS() transport.QoS { return b.qos }

// MaxPacketSize returns the largest message the channel sends unfragmented.
func (b *Buffer) MaxPacketSize() int { return b.maxPacketSize }

// IsBroken reports whether the retry queue exceeded its bound.
func (b *Buffer) IsBroken() bool { return b.broken }

// Pending returns the number of packets waiting for retry.
func (b *Buffer) Pending() int { return len(b.pending) }

// MaxDelay returns the batching delay.
func (b *Buffer) MaxDelay() time.Duration { return b.maxDelay }

// SetMaxDelay sets the batching delay. Zero flushes on every send.
func (b *Buffer) SetMaxDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.maxDelay = d
}

// SetMaxPendingPackets sets the retry queue bound.
func (b *Buffer) SetMaxPendingPackets(n int) error {
	if n <= 0 || n > MaxPendingPacketsLimit {
		return fmt.Errorf("channel: max pending packets %d out of range 1..%d", n, MaxPendingPacketsLimit)
	}
	b.maxPending = n
	return nil
}

// SetAllowFragmentation overrides whether oversized messages are split.
func (b *Buffer) SetAllowFragmentation(allow bool) {
	b.allowFragmentation = allow
}

// SetClock replaces the time source. Used by tests.
func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
	b.lastFlush = now()
	b.lastStatsReset = b.lastFlush
}

// Send frames msg with type t and sends it.
func (b *Buffer) Send(t protocol.MsgType, msg protocol.Message) error {
	w := protocol.NewWriter()
	if err := protocol.WriteMessage(w, t, msg); err != nil {
		return err
	}
	return b.SendWriter(w)
}

// SendWriter sends the framed messages held by w.
func (b *Buffer) SendWriter(w *protocol.Writer) error {
	return b.SendBytes(w.Bytes())
}

// SendBytes sends one or more framed messages. The bytes are copied.
func (b *Buffer) SendBytes(data []byte) error {
	if len(data) == 0 || len(data) >= protocol.MaxPayloadSize {
		return ErrInvalidSize
	}
	if len(data) > b.maxPacketSize {
		if !b.allowFragmentation {
			return fmt.Errorf("channel %d: %d bytes exceeds packet size %d: %w",
				b.id, len(data), b.maxPacketSize, protocol.ErrPayloadTooLarge)
		}
		return b.sendFragments(data)
	}
	return b.sendBytes(data)
}

func (b *Buffer) sendBytes(data []byte) error {
	if b.current.HasSpace(len(data)) {
		b.current.write(data)
		b.countOut(len(data))
		if b.maxDelay == 0 {
			return b.flush()
		}
		return nil
	}

	if !b.reliable {
		if err := b.current.sendTo(b.sender, b.id); err != nil {
			b.logger.Debug("unreliable packet dropped", "error", err)
			return err
		}
		b.current.write(data)
		b.countOut(len(data))
		return nil
	}

	var result error
	if len(b.pending) == 0 {
		if err := b.current.sendTo(b.sender, b.id); err != nil {
			if b.current.IsEmpty() {
				b.logger.Error("reliable packet send failed", "error", err)
			} else {
				b.queueCurrent()
			}
		}
	} else {
		// Earlier packets are still waiting; sending now would reorder.
		if len(b.pending) >= b.maxPending && !b.broken {
			b.broken = true
			b.logger.Error("channel buffer limit reached", "pending", len(b.pending), "limit", b.maxPending)
			result = fmt.Errorf("channel %d: %d packets pending: %w", b.id, len(b.pending), protocol.ErrChannelBroken)
		}
		b.queueCurrent()
	}
	b.current.write(data)
	b.countOut(len(data))
	return result
}

func (b *Buffer) countOut(n int) {
	b.stats.MsgsOut++
	b.stats.BytesOut += n
}

func (b *Buffer) queueCurrent() {
	b.pending = append(b.pending, b.current)
	b.current = b.allocPacket()
	b.stats.BufferedMsgsOut++
	b.stats.BufferedPerSecond++
}

func (b *Buffer) allocPacket() *Packet {
	if n := len(b.free); n > 0 {
		p := b.free[n-1]
		b.free = b.free[:n-1]
		return p
	}
	return newPacket(b.maxPacketSize, b.reliable)
}

func (b *Buffer) freePacket(p *Packet) {
	p.reset()
	if len(b.free) < b.maxPending {
		b.free = append(b.free, p)
	}
}

// Flush sends the pending queue, oldest first, and then the current packet.
func (b *Buffer) Flush() error {
	return b.flush()
}

func (b *Buffer) flush() error {
	for len(b.pending) > 0 {
		p := b.pending[0]
		if err := p.sendTo(b.sender, b.id); err != nil && !p.IsEmpty() {
			return err
		}
		b.pending[0] = nil
		b.pending = b.pending[1:]
		b.freePacket(p)
		if b.broken && float64(len(b.pending)) < b.recoveryRatio*float64(b.maxPending) {
			b.broken = false
			b.logger.Warn("channel buffer recovered", "pending", len(b.pending))
		}
	}
	b.lastFlush = b.now()
	return b.current.sendTo(b.sender, b.id)
}

// Tick drains the retry queue, flushes the current packet once MaxDelay
// has elapsed, and rolls the per-second counters.
func (b *Buffer) Tick() error {
	now := b.now()
	var err error
	if len(b.pending) > 0 || (now.Sub(b.lastFlush) >= b.maxDelay && !b.current.IsEmpty()) {
		err = b.flush()
	}
	if now.Sub(b.lastStatsReset) >= statsInterval {
		b.stats.LastBufferedPerSecond = b.stats.BufferedPerSecond
		b.stats.BufferedPerSecond = 0
		b.lastStatsReset = now
	}
	return err
}

// RecordIn counts a received message.
func (b *Buffer) RecordIn(bytes int) {
	b.stats.MsgsIn++
	b.stats.BytesIn += bytes
}

// Stats returns a copy of the channel counters.
func (b *Buffer) Stats() Stats {
	s := b.stats
	s.Pending = len(b.pending)
	s.Broken = b.broken
	return s
}
