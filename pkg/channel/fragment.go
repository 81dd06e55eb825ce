package channel

import (
	"errors"

	"github.com/replinet/replinet/pkg/protocol"
)

// fragmentOverhead is reserved in each fragment packet for the frame
// header, flag and chunk length.
const fragmentOverhead = 32

// maxReassembled bounds a reassembled message: one frame with a maximal
// payload.
const maxReassembled = protocol.FrameHeaderSize + protocol.MaxPayloadSize

var errFragmentOverflow = errors.New("reassembled message too large")

// sendFragments splits data into fragment messages followed by a
// terminator and sends each through the batching path. Every chunk and
// the terminator are sent even when one of them fails: a reliable channel
// keeps a failed packet for retry, and a missing terminator would leave
// the peer's reassembly open. The first error is returned.
func (b *Buffer) sendFragments(data []byte) error {
	chunkSize := b.maxPacketSize - fragmentOverhead
	w := protocol.NewWriterWithCap(b.maxPacketSize)
	var first error
	send := func(m *protocol.FragmentMessage) error {
		w.Reset()
		if err := protocol.WriteMessage(w, protocol.MsgFragment, m); err != nil {
			return err
		}
		if err := b.sendBytes(w.Bytes()); err != nil {
			b.logger.Debug("fragment send failed", "flag", m.Flag, "bytes", len(m.Chunk), "error", err)
			if first == nil {
				first = err
			}
		}
		return nil
	}

	for off := 0; off < len(data); {
		n := min(len(data)-off, chunkSize)
		if err := send(&protocol.FragmentMessage{Flag: protocol.FragmentData, Chunk: data[off : off+n]}); err != nil {
			return err
		}
		off += n
	}
	if err := send(&protocol.FragmentMessage{Flag: protocol.FragmentLast}); err != nil {
		return err
	}
	return first
}

// HandleFragment consumes one fragment message. It returns true when the
// terminator completes a message, which FragmentMessage then returns.
func (b *Buffer) HandleFragment(r *protocol.Reader) (bool, error) {
	var m protocol.FragmentMessage
	if err := m.DecodeFrom(r); err != nil {
		b.resetFragments()
		return false, err
	}
	if m.Flag == protocol.FragmentLast {
		if !b.readingFragment {
			// A terminator without data completes an empty message.
			b.fragments = b.fragments[:0]
		}
		b.readingFragment = false
		return true, nil
	}

	if !b.readingFragment {
		b.fragments = b.fragments[:0]
		b.readingFragment = true
	}
	if len(b.fragments)+len(m.Chunk) > maxReassembled {
		b.resetFragments()
		return false, &protocol.MalformedError{Op: "fragment", Offset: r.Position(), Err: errFragmentOverflow}
	}
	b.fragments = append(b.fragments, m.Chunk...)
	return false, nil
}

// FragmentMessage returns the message completed by the last terminator.
// The slice is reused by the next fragment.
func (b *Buffer) FragmentMessage() []byte {
	return b.fragments
}

func (b *Buffer) resetFragments() {
	b.fragments = b.fragments[:0]
	b.readingFragment = false
}
