package replica

import (
	"time"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
)

// DefaultSendInterval is the minimum time between two state updates of a
// behaviour unless it overrides SendInterval.
const DefaultSendInterval = 100 * time.Millisecond

// Behaviour is one replicated component attached to an Identity.
//
// Implementations embed *SyncBase, or SyncBase by value in a struct used
// through a pointer, which supplies the dirty bit bookkeeping and the
// default Channel, SendInterval, Serialize and Deserialize.
type Behaviour interface {
	// Tag names the behaviour type. Invokers and the CRC table refer to
	// behaviours by tag.
	Tag() string

	// Channel is the channel state updates are sent on.
	Channel() int

	// SendInterval is the minimum time between two state updates.
	SendInterval() time.Duration

	// Serialize writes the full state when initial is set, otherwise the
	// delta selected by the dirty bits. It reports whether anything was
	// written that the peer must apply.
	Serialize(w *protocol.Writer, initial bool) bool

	// Deserialize reads what Serialize wrote.
	Deserialize(r *protocol.Reader, initial bool) error

	// Base returns the embedded SyncBase.
	Base() *SyncBase
}

// SyncBase tracks the dirty bits and attachment of a behaviour.
type SyncBase struct {
	identity  *Identity
	dirtyBits uint32
	lastSend  time.Time
	hookGuard bool
}

// Base implements Behaviour.
func (b *SyncBase) Base() *SyncBase { return b }

// Identity returns the identity the behaviour is attached to.
func (b *SyncBase) Identity() *Identity { return b.identity }

// NetID returns the id of the owning identity.
func (b *SyncBase) NetID() protocol.NetID {
	if b.identity == nil {
		return 0
	}
	return b.identity.NetID()
}

// Channel implements Behaviour. Default: the reliable channel.
func (b *SyncBase) Channel() int { return 0 }

// SendInterval implements Behaviour. Default: DefaultSendInterval.
func (b *SyncBase) SendInterval() time.Duration { return DefaultSendInterval }

// Serialize implements Behaviour. A behaviour without state writes an
// empty dirty mask in deltas.
func (b *SyncBase) Serialize(w *protocol.Writer, initial bool) bool {
	if !initial {
		w.WritePackedUint32(0)
	}
	return false
}

// Deserialize implements Behaviour.
func (b *SyncBase) Deserialize(r *protocol.Reader, initial bool) error {
	if !initial {
		_, err := r.ReadPackedUint32()
		return err
	}
	return nil
}

// SetDirtyBit marks the state selected by bit as changed.
func (b *SyncBase) SetDirtyBit(bit uint32) {
	b.dirtyBits |= bit
}

// DirtyBits returns the pending dirty mask.
func (b *SyncBase) DirtyBits() uint32 { return b.dirtyBits }

// ClearAllDirtyBits clears the mask and restarts the send interval.
func (b *SyncBase) ClearAllDirtyBits() {
	b.clearDirty(b.now())
}

// HookGuard reports whether a change hook is running. Setters called from
// inside a hook do not mark state dirty.
func (b *SyncBase) HookGuard() bool { return b.hookGuard }

// SetHookGuard sets the hook guard.
func (b *SyncBase) SetHookGuard(v bool) { b.hookGuard = v }

func (b *SyncBase) clearDirty(now time.Time) {
	b.lastSend = now
	b.dirtyBits = 0
}

func (b *SyncBase) now() time.Time {
	if b.identity != nil && b.identity.rt != nil {
		return b.identity.rt.now()
	}
	return time.Now()
}

// dirtyChannel returns the channel the behaviour wants to send on at now,
// or -1.
func dirtyChannel(bh Behaviour, now time.Time) int {
	b := bh.Base()
	if now.Sub(b.lastSend) > bh.SendInterval() && b.dirtyBits != 0 {
		return bh.Channel()
	}
	return -1
}

// SetSyncVar stores value in *field and marks bit dirty when they differ.
func SetSyncVar[T comparable](b *SyncBase, value T, field *T, bit uint32) {
	if *field == value {
		return
	}
	if !b.hookGuard {
		b.SetDirtyBit(bit)
	}
	*field = value
}

// ObserverSet collects connections during an observer rebuild.
type ObserverSet map[*conn.Connection]struct{}

// Add inserts c.
func (s ObserverSet) Add(c *conn.Connection) { s[c] = struct{}{} }

// Has reports whether c is present.
func (s ObserverSet) Has(c *conn.Connection) bool {
	_, ok := s[c]
	return ok
}

// ObserverChecker is implemented by behaviours that restrict which
// connections may observe the identity when it first becomes visible.
type ObserverChecker interface {
	CheckObserver(c *conn.Connection) bool
}

// ObserverRebuilder is implemented by behaviours with custom visibility.
// RebuildObservers fills observers and returns true when it took over the
// decision.
type ObserverRebuilder interface {
	RebuildObservers(observers ObserverSet, initialize bool) bool
}

// StartServerHook is called when the identity is spawned on a host.
type StartServerHook interface {
	OnStartServer()
}

// StartClientHook is called when the identity is spawned on a client.
type StartClientHook interface {
	OnStartClient()
}

// AuthorityHook is called when the local side gains or loses authority.
type AuthorityHook interface {
	OnStartAuthority()
	OnStopAuthority()
}

// LocalPlayerHook is called when the identity becomes the local player.
type LocalPlayerHook interface {
	OnStartLocalPlayer()
}

// DestroyHook is called when the identity is destroyed by the network.
type DestroyHook interface {
	OnNetworkDestroy()
}

// VisibilityHook is called when the local visibility of the identity
// changes.
type VisibilityHook interface {
	OnSetLocalVisibility(visible bool)
}
