package main

import (
	"fmt"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/server"
)

// avatarAsset is the asset id of the player avatar spawned by serve.
var avatarAsset = protocol.AssetID{0x72, 0x65, 0x70, 0x6c, 0x69, 0x6e, 0x65, 0x74, 0x01}

const (
	avatarTag = "Avatar"

	maxNameLen = 32

	dirtyName     = 1 << 0
	dirtyPosition = 1 << 1
)

// avatar is the player behaviour of the bundled demo: a name and a
// position moved by the owning client.
type avatar struct {
	replica.SyncBase
	name string
	x, y int32
}

func (a *avatar) Tag() string { return avatarTag }

func (a *avatar) setPosition(x, y int32) {
	if a.x == x && a.y == y {
		return
	}
	a.x, a.y = x, y
	a.SetDirtyBit(dirtyPosition)
}

func (a *avatar) Serialize(w *protocol.Writer, initial bool) bool {
	bits := uint32(dirtyName | dirtyPosition)
	if !initial {
		bits = a.DirtyBits()
		w.WritePackedUint32(bits)
	}
	if bits&dirtyName != 0 {
		// Names are capped by the factory, so the write cannot fail.
		_ = w.WriteString(a.name)
	}
	if bits&dirtyPosition != 0 {
		w.WriteInt32(a.x)
		w.WriteInt32(a.y)
	}
	return bits != 0
}

func (a *avatar) Deserialize(r *protocol.Reader, initial bool) error {
	bits := uint32(dirtyName | dirtyPosition)
	if !initial {
		var err error
		if bits, err = r.ReadPackedUint32(); err != nil {
			return err
		}
	}
	if bits&dirtyName != 0 {
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		a.name = name
	}
	if bits&dirtyPosition != 0 {
		x, err := r.ReadInt32()
		if err != nil {
			return err
		}
		y, err := r.ReadInt32()
		if err != nil {
			return err
		}
		a.x, a.y = x, y
	}
	return nil
}

func (a *avatar) String() string {
	return fmt.Sprintf("%s@(%d,%d)", a.name, a.x, a.y)
}

// cmdMove moves the avatar by the delta in args.
func cmdMove(b replica.Behaviour, args *protocol.Reader) error {
	a, ok := b.(*avatar)
	if !ok {
		return fmt.Errorf("move: behaviour %s is not an avatar", b.Tag())
	}
	dx, err := args.ReadInt32()
	if err != nil {
		return err
	}
	dy, err := args.ReadInt32()
	if err != nil {
		return err
	}
	a.setPosition(a.x+dx, a.y+dy)
	return nil
}

// moveArgs encodes the arguments of the move command.
func moveArgs(dx, dy int32) []byte {
	w := protocol.NewWriter()
	w.WriteInt32(dx)
	w.WriteInt32(dy)
	return w.Bytes()
}

// registerAvatar registers the avatar behaviour and its move command.
// Server and client must register identically so the CRC table and the
// command hashes agree.
func registerAvatar(rt *replica.Runtime) (moveHash int32, err error) {
	if err := rt.RegisterBehaviour(avatarTag, 0); err != nil {
		return 0, err
	}
	return rt.RegisterMethod(replica.KindCommand, avatarTag, "CmdMove", cmdMove)
}

// newAvatar returns an identity carrying a fresh avatar.
func newAvatar(rt *replica.Runtime, name string) (*replica.Identity, *avatar) {
	a := &avatar{name: name}
	id := replica.NewIdentity(rt, a)
	id.SetAssetID(avatarAsset)
	id.SetLocalPlayerAuthority(true)
	return id, a
}

// avatarFactory spawns one avatar per add-player request. The request
// payload is the player name.
func avatarFactory(rt *replica.Runtime) server.PlayerFactory {
	return func(c *conn.Connection, pcid int16, payload []byte) (*replica.Identity, error) {
		name := string(payload)
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
		if name == "" {
			name = fmt.Sprintf("player-%d-%d", c.ID(), pcid)
		}
		id, _ := newAvatar(rt, name)
		return id, nil
	}
}
