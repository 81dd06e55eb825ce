package replica

import (
	"errors"
	"testing"

	"github.com/replinet/replinet/pkg/protocol"
)

func TestHashName(t *testing.T) {
	tests := []struct {
		name string
		want uint32
	}{
		{"", 0x811c9dc5},
		{"a", 0xe40c292c},
		{"foobar", 0xbf9cf968},
	}
	for _, tc := range tests {
		if got := HashName(tc.name); got != int32(tc.want) {
			t.Errorf("HashName(%q) = %d, want %d", tc.name, got, int32(tc.want))
		}
	}
	if HashName("Chat.CmdSay") == HashName("Chat.RpcSay") {
		t.Error("HashName() collides for distinct names")
	}
}

func TestRegisterBehaviour(t *testing.T) {
	rt := NewRuntime(nil)
	if err := rt.RegisterBehaviour("", 0); !errors.Is(err, ErrEmptyTag) {
		t.Errorf("RegisterBehaviour(\"\") error = %v, want ErrEmptyTag", err)
	}
	rt.RegisterBehaviour("Zone", 0)
	rt.RegisterBehaviour("Counter", 1)
	if err := rt.RegisterBehaviour("Counter", 1); err != nil {
		t.Errorf("RegisterBehaviour() again error = %v", err)
	}
	if err := rt.RegisterBehaviour("Counter", 0); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("RegisterBehaviour() other channel error = %v, want ErrChannelMismatch", err)
	}

	entries := rt.CRCEntries()
	want := []protocol.CRCEntry{{Name: "Counter", Channel: 1}, {Name: "Zone", Channel: 0}}
	if len(entries) != len(want) {
		t.Fatalf("CRCEntries() = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("CRCEntries()[%d] = %v, want %v", i, entries[i], want[i])
		}
	}
}

func TestInvokerDispatch(t *testing.T) {
	rt := NewRuntime(nil)
	var got []int32
	add := func(b Behaviour, args *protocol.Reader) error {
		v, err := args.ReadInt32()
		if err != nil {
			return err
		}
		b.(*counter).value += v
		got = append(got, v)
		return nil
	}
	hash, err := rt.RegisterMethod(KindCommand, "Counter", "CmdAdd", add)
	if err != nil {
		t.Fatalf("RegisterMethod() error = %v", err)
	}
	if hash != HashName("Counter.CmdAdd") {
		t.Errorf("RegisterMethod() hash = %d, want HashName(Counter.CmdAdd)", hash)
	}
	if err := rt.RegisterInvoker(hash, KindRPC, "Counter", add); !errors.Is(err, ErrInvokerExists) {
		t.Errorf("RegisterInvoker() duplicate error = %v, want ErrInvokerExists", err)
	}
	rt.RegisterInvoker(77, KindSyncEvent, "Missing", add)

	c := &counter{}
	id := NewIdentity(rt, &zone{}, c)

	w := protocol.NewWriter()
	w.WriteInt32(4)
	args := w.Bytes()

	tests := []struct {
		name    string
		kind    InvokeKind
		hash    int32
		wantErr error
	}{
		{"command", KindCommand, hash, nil},
		{"wrong_kind", KindRPC, hash, protocol.ErrDispatchMiss},
		{"unknown_hash", KindCommand, 12345, protocol.ErrDispatchMiss},
		{"no_behaviour", KindSyncEvent, 77, protocol.ErrDispatchMiss},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := id.HandleInvoke(tc.kind, tc.hash, protocol.NewReader(args))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("HandleInvoke() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
	if c.value != 4 || len(got) != 1 {
		t.Errorf("invoked %v, value = %d, want one call adding 4", got, c.value)
	}
	if protocol.CodeOf(id.HandleInvoke(KindRPC, hash, protocol.NewReader(args))) != protocol.CodeDispatchMiss {
		t.Error("dispatch miss does not map to CodeDispatchMiss")
	}
}

func TestKindMsgType(t *testing.T) {
	for _, k := range []InvokeKind{KindCommand, KindRPC, KindSyncEvent, KindSyncList} {
		back, ok := KindOf(k.MsgType())
		if !ok || back != k {
			t.Errorf("KindOf(%v.MsgType()) = %v, %v", k, back, ok)
		}
	}
	if _, ok := KindOf(protocol.MsgUpdateVars); ok {
		t.Error("KindOf(UpdateVars) ok = true")
	}
}

func TestSyncBaseDefaults(t *testing.T) {
	var b SyncBase
	w := protocol.NewWriter()
	if b.Serialize(w, false) {
		t.Error("Serialize() = true for a stateless behaviour")
	}
	if got := w.Bytes(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Serialize(delta) wrote %v, want [0]", got)
	}
	if err := b.Deserialize(protocol.NewReader(w.Bytes()), false); err != nil {
		t.Errorf("Deserialize() error = %v", err)
	}

	var v int32
	b.SetHookGuard(true)
	SetSyncVar(&b, int32(3), &v, 2)
	if v != 3 || b.DirtyBits() != 0 {
		t.Errorf("SetSyncVar() under hook guard: v = %d, bits = %d", v, b.DirtyBits())
	}
	b.SetHookGuard(false)
	SetSyncVar(&b, int32(4), &v, 2)
	if b.DirtyBits() != 2 {
		t.Errorf("DirtyBits() = %d, want 2", b.DirtyBits())
	}
	b.ClearAllDirtyBits()
	if b.DirtyBits() != 0 {
		t.Error("ClearAllDirtyBits() left bits")
	}
}
