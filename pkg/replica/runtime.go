package replica

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
)

// Registration errors.
var (
	ErrEmptyTag         = errors.New("replica: empty behaviour tag")
	ErrChannelMismatch  = errors.New("replica: behaviour registered with another channel")
	ErrInvokerExists    = errors.New("replica: invoker hash already registered")
	ErrUnknownBehaviour = errors.New("replica: behaviour tag not registered")
)

// InvokeKind is the kind of a remote invocation.
type InvokeKind uint8

const (
	KindCommand InvokeKind = iota
	KindRPC
	KindSyncEvent
	KindSyncList
)

// String returns the string representation of the kind.
func (k InvokeKind) String() string {
	switch k {
	case KindCommand:
		return "Command"
	case KindRPC:
		return "ClientRpc"
	case KindSyncEvent:
		return "SyncEvent"
	case KindSyncList:
		return "SyncList"
	default:
		return fmt.Sprintf("InvokeKind(%d)", k)
	}
}

// MsgType returns the message id carrying invocations of kind k.
func (k InvokeKind) MsgType() protocol.MsgType {
	switch k {
	case KindCommand:
		return protocol.MsgCommand
	case KindRPC:
		return protocol.MsgRPC
	case KindSyncEvent:
		return protocol.MsgSyncEvent
	default:
		return protocol.MsgSyncList
	}
}

// KindOf maps an invocation message id to its kind.
func KindOf(t protocol.MsgType) (InvokeKind, bool) {
	switch t {
	case protocol.MsgCommand:
		return KindCommand, true
	case protocol.MsgRPC:
		return KindRPC, true
	case protocol.MsgSyncEvent:
		return KindSyncEvent, true
	case protocol.MsgSyncList:
		return KindSyncList, true
	}
	return 0, false
}

// InvokeFunc runs one remote invocation on the target behaviour. args is
// positioned after the invocation header.
type InvokeFunc func(b Behaviour, args *protocol.Reader) error

// Invoker is one entry of the invoker table.
type Invoker struct {
	Hash int32
	Kind InvokeKind
	Tag  string
	Name string
	Fn   InvokeFunc
}

// String describes the invoker for logs.
func (inv Invoker) String() string {
	if inv.Name == "" {
		return fmt.Sprintf("%s:%s:%d", inv.Kind, inv.Tag, inv.Hash)
	}
	return fmt.Sprintf("%s:%s:%s", inv.Kind, inv.Tag, inv.Name)
}

// AuthorityCallback is told about every client authority change made by
// a host.
type AuthorityCallback func(c *conn.Connection, id *Identity, authority bool)

// HashName returns the stable 32-bit hash of a qualified method name.
// Both peers must register invokers under the same names.
func HashName(name string) int32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int32(h.Sum32())
}

// Runtime holds the invoker and behaviour tables, the NetID counter and the
// authority callback. Register everything before the first tick; the
// tables are not safe for concurrent mutation.
type Runtime struct {
	invokers   map[int32]Invoker
	behaviours map[string]int
	nextNetID  uint32

	authorityCallback AuthorityCallback
	updateWriter      *protocol.Writer
	now               func() time.Time
	logger            *slog.Logger
}

// NewRuntime creates an empty runtime. A nil logger uses slog.Default().
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		invokers:     make(map[int32]Invoker),
		behaviours:   make(map[string]int),
		nextNetID:    1,
		updateWriter: protocol.NewWriterWithCap(256),
		now:          time.Now,
		logger:       logger.With("component", "replica"),
	}
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// SetClock replaces the time source used for send intervals.
func (rt *Runtime) SetClock(now func() time.Time) {
	if now != nil {
		rt.now = now
	}
}

// Now returns the current time of the runtime clock.
func (rt *Runtime) Now() time.Time { return rt.now() }

// RegisterBehaviour records a behaviour type and the channel it sends
// state on.
func (rt *Runtime) RegisterBehaviour(tag string, channel int) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if ch, ok := rt.behaviours[tag]; ok && ch != channel {
		return fmt.Errorf("%w: %q uses channel %d, not %d", ErrChannelMismatch, tag, ch, channel)
	}
	rt.behaviours[tag] = channel
	return nil
}

// BehaviourChannel returns the channel registered for tag.
func (rt *Runtime) BehaviourChannel(tag string) (int, bool) {
	ch, ok := rt.behaviours[tag]
	return ch, ok
}

// CRCEntries returns the behaviour table sorted by tag, as sent in the
// CRC message.
func (rt *Runtime) CRCEntries() []protocol.CRCEntry {
	entries := make([]protocol.CRCEntry, 0, len(rt.behaviours))
	for tag, ch := range rt.behaviours {
		entries = append(entries, protocol.CRCEntry{Name: tag, Channel: uint8(ch)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// RegisterInvoker adds an invoker for hash. The first registration of a
// hash wins; later ones return ErrInvokerExists.
func (rt *Runtime) RegisterInvoker(hash int32, kind InvokeKind, tag string, fn InvokeFunc) error {
	return rt.register(Invoker{Hash: hash, Kind: kind, Tag: tag, Fn: fn})
}

// RegisterMethod adds an invoker under HashName(tag + "." + name) and
// returns the hash. Senders use the same hash to address the method.
func (rt *Runtime) RegisterMethod(kind InvokeKind, tag, name string, fn InvokeFunc) (int32, error) {
	hash := HashName(tag + "." + name)
	return hash, rt.register(Invoker{Hash: hash, Kind: kind, Tag: tag, Name: name, Fn: fn})
}

func (rt *Runtime) register(inv Invoker) error {
	if inv.Tag == "" {
		return ErrEmptyTag
	}
	if inv.Fn == nil {
		return fmt.Errorf("replica: nil invoke function for %s", inv)
	}
	if prev, ok := rt.invokers[inv.Hash]; ok {
		return fmt.Errorf("%w: %d is %s", ErrInvokerExists, inv.Hash, prev)
	}
	rt.invokers[inv.Hash] = inv
	rt.logger.Debug("register invoker", "hash", inv.Hash, "invoker", inv.String())
	return nil
}

// Invoker resolves hash for an invocation of kind. A missing hash or a
// kind mismatch returns protocol.ErrDispatchMiss.
func (rt *Runtime) Invoker(hash int32, kind InvokeKind) (Invoker, error) {
	inv, ok := rt.invokers[hash]
	if !ok {
		return Invoker{}, fmt.Errorf("%w: no receiver for %s %d", protocol.ErrDispatchMiss, kind, hash)
	}
	if inv.Kind != kind {
		return Invoker{}, fmt.Errorf("%w: %s is not a %s", protocol.ErrDispatchMiss, inv, kind)
	}
	return inv, nil
}

// InvokerName describes hash for logs.
func (rt *Runtime) InvokerName(hash int32) string {
	if inv, ok := rt.invokers[hash]; ok {
		return inv.String()
	}
	return fmt.Sprintf("%d", hash)
}

// Invokers returns the invoker table sorted by hash.
func (rt *Runtime) Invokers() []Invoker {
	out := make([]Invoker, 0, len(rt.invokers))
	for _, inv := range rt.invokers {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// NextNetID returns a fresh NetID.
func (rt *Runtime) NextNetID() protocol.NetID {
	id := rt.nextNetID
	rt.nextNetID++
	return protocol.NetID(id)
}

// ReserveNetID moves the counter past id.
func (rt *Runtime) ReserveNetID(id protocol.NetID) {
	if uint32(id) >= rt.nextNetID {
		rt.nextNetID = uint32(id) + 1
	}
}

// ResetNetIDs restarts the counter at 1.
func (rt *Runtime) ResetNetIDs() { rt.nextNetID = 1 }

// SetAuthorityCallback installs fn as the authority callback.
func (rt *Runtime) SetAuthorityCallback(fn AuthorityCallback) {
	rt.authorityCallback = fn
}

func (rt *Runtime) notifyAuthority(c *conn.Connection, id *Identity, authority bool) {
	if rt.authorityCallback != nil {
		rt.authorityCallback(c, id, authority)
	}
}
