package channel

import "github.com/replinet/replinet/pkg/transport"

// Sender hands a finished packet to the transport.
type Sender interface {
	SendPacket(channelID int, data []byte) error
}

// Packet accumulates framed messages until it is flushed.
type Packet struct {
	buf      []byte
	reliable bool
}

func newPacket(size int, reliable bool) *Packet {
	return &Packet{buf: make([]byte, 0, size), reliable: reliable}
}

// HasSpace reports whether n more bytes fit.
func (p *Packet) HasSpace(n int) bool {
	return len(p.buf)+n <= cap(p.buf)
}

// IsEmpty reports whether the packet holds no bytes.
func (p *Packet) IsEmpty() bool {
	return len(p.buf) == 0
}

// Len returns the number of buffered bytes.
func (p *Packet) Len() int {
	return len(p.buf)
}

// Bytes returns the buffered bytes.
func (p *Packet) Bytes() []byte {
	return p.buf
}

func (p *Packet) write(b []byte) {
	p.buf = append(p.buf, b...)
}

func (p *Packet) reset() {
	p.buf = p.buf[:0]
}

// sendTo flushes the packet. A reliable packet that fails with
// ErrNoResources keeps its contents so it can be retried; any other
// outcome empties it.
func (p *Packet) sendTo(s Sender, channelID int) error {
	if p.IsEmpty() {
		return nil
	}
	err := s.SendPacket(channelID, p.buf)
	if err != nil && p.reliable && transport.IsNoResources(err) {
		return err
	}
	p.reset()
	return err
}
