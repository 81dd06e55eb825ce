package replica

import (
	"github.com/replinet/replinet/pkg/protocol"
)

const maxUpdateChannels = 32

// Update runs the state update pass of a host-side identity: one
// update-vars message per channel with dirty behaviours, sent to every
// ready observer. The channel of each behaviour is decided once before any
// message is written.
func (id *Identity) Update() {
	if id.host == nil || len(id.behaviours) == 0 {
		return
	}
	now := id.rt.now()

	channels := make([]int, len(id.behaviours))
	var mask uint32
	for i, b := range id.behaviours {
		ch := dirtyChannel(b, now)
		if ch >= maxUpdateChannels {
			id.logger.Warn("behaviour channel out of range", "net_id", id.netID, "behaviour", b.Tag(), "channel", ch)
			ch = -1
		}
		channels[i] = ch
		if ch >= 0 {
			mask |= 1 << ch
		}
	}
	if mask == 0 {
		return
	}

	w := id.rt.updateWriter
	numChannels := id.host.NumChannels()
	for ch := 0; ch < numChannels && ch < maxUpdateChannels; ch++ {
		if mask&(1<<ch) == 0 {
			continue
		}
		w.Reset()
		w.StartMessage(protocol.MsgUpdateVars)
		w.WriteNetID(id.netID)

		var included []Behaviour
		for i, b := range id.behaviours {
			start := w.Len()
			if channels[i] != ch {
				b.Serialize(w, false)
				continue
			}
			if b.Serialize(w, false) {
				included = append(included, b)
			}
			if size := w.Len() - start; size > id.host.MaxPacketSize() {
				id.logger.Warn("large state update", "net_id", id.netID, "behaviour", b.Tag(), "bytes", size)
			}
		}
		if len(included) == 0 {
			continue
		}
		if err := w.FinishMessage(); err != nil {
			id.logger.Error("state update too large", "net_id", id.netID, "channel", ch, "error", err)
			continue
		}
		id.host.SendToReady(id, w.Bytes(), ch)
		for _, b := range included {
			b.Base().clearDirty(now)
		}
	}
}
