package replica

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
)

// Identity errors.
var (
	ErrNotSpawned      = errors.New("replica: identity is not spawned on an active host")
	ErrNonZeroNetID    = errors.New("replica: identity already has a netId")
	ErrNilConnection   = errors.New("replica: nil connection")
	ErrPlayerObject    = errors.New("replica: authority of a player object cannot be removed")
	ErrNoClientOwner   = errors.New("replica: identity has no client authority owner")
	ErrAssetIDConflict = errors.New("replica: identity already has another asset id")
)

// Host is the side of a server an Identity needs: its connections, channel
// count and the messages sent when visibility changes.
type Host interface {
	// Active reports whether the host is listening.
	Active() bool

	// Connections returns the live connections in id order.
	Connections() []*conn.Connection

	// NumChannels is the number of channels of every connection.
	NumChannels() int

	// MaxPacketSize is the payload limit of one unfragmented packet.
	MaxPacketSize() int

	// ShowForConnection sends the spawn message of id to c if c is ready.
	ShowForConnection(id *Identity, c *conn.Connection)

	// HideForConnection sends the hide message of id to c.
	HideForConnection(id *Identity, c *conn.Connection)

	// SendToReady sends framed data to every ready observer of id.
	SendToReady(id *Identity, data []byte, channel int)
}

// Identity is one replicated entity.
type Identity struct {
	rt     *Runtime
	host   Host
	logger *slog.Logger

	netID   protocol.NetID
	sceneID protocol.SceneID
	assetID protocol.AssetID

	serverOnly           bool
	localPlayerAuthority bool

	isServer      bool
	isClient      bool
	hasAuthority  bool
	isLocalPlayer bool
	playerID      int16

	connToServer   *conn.Connection
	connToClient   *conn.Connection
	authorityOwner *conn.Connection

	observers   []*conn.Connection
	observerIDs map[int]struct{}

	behaviours []Behaviour
	reset      bool
}

// NewIdentity creates an identity with the given behaviours in attachment
// order.
func NewIdentity(rt *Runtime, behaviours ...Behaviour) *Identity {
	id := &Identity{
		rt:       rt,
		logger:   rt.logger,
		playerID: -1,
	}
	for _, b := range behaviours {
		id.AddBehaviour(b)
	}
	return id
}

// AddBehaviour attaches b after the existing behaviours.
func (id *Identity) AddBehaviour(b Behaviour) {
	b.Base().identity = id
	id.behaviours = append(id.behaviours, b)
}

// Behaviours returns the attached behaviours in order.
func (id *Identity) Behaviours() []Behaviour { return id.behaviours }

// Behaviour returns the first behaviour with the given tag.
func (id *Identity) Behaviour(tag string) (Behaviour, bool) {
	for _, b := range id.behaviours {
		if b.Tag() == tag {
			return b, true
		}
	}
	return nil, false
}

// Runtime returns the runtime the identity belongs to.
func (id *Identity) Runtime() *Runtime { return id.rt }

// NetID implements conn.Entity.
func (id *Identity) NetID() protocol.NetID { return id.netID }

// SetNetID assigns the id. A zero id also clears the server flag.
func (id *Identity) SetNetID(n protocol.NetID) {
	id.netID = n
	if n.IsEmpty() {
		id.isServer = false
	}
}

// SceneID returns the scene id of a pre-placed identity, or 0.
func (id *Identity) SceneID() protocol.SceneID { return id.sceneID }

// ForceSceneID sets the scene id.
func (id *Identity) ForceSceneID(s protocol.SceneID) { id.sceneID = s }

// AssetID returns the asset id clients spawn the identity from.
func (id *Identity) AssetID() protocol.AssetID { return id.assetID }

// SetAssetID sets the asset id. An identity keeps its first valid asset id.
func (id *Identity) SetAssetID(a protocol.AssetID) error {
	if id.assetID.IsValid() && id.assetID != a {
		id.logger.Warn("asset id already set", "net_id", id.netID, "asset_id", id.assetID)
		return ErrAssetIDConflict
	}
	id.assetID = a
	return nil
}

// ServerOnly reports whether the identity is never sent to clients.
func (id *Identity) ServerOnly() bool { return id.serverOnly }

// SetServerOnly sets the server-only flag.
func (id *Identity) SetServerOnly(v bool) { id.serverOnly = v }

// LocalPlayerAuthority reports whether a client may hold authority.
func (id *Identity) LocalPlayerAuthority() bool { return id.localPlayerAuthority }

// SetLocalPlayerAuthority sets the local player authority flag.
func (id *Identity) SetLocalPlayerAuthority(v bool) { id.localPlayerAuthority = v }

// IsServer reports whether the identity is spawned on an active host.
func (id *Identity) IsServer() bool {
	return id.isServer && id.host != nil && id.host.Active()
}

// IsClient reports whether the identity is spawned on a client.
func (id *Identity) IsClient() bool { return id.isClient }

// HasAuthority reports whether the local side has authority.
func (id *Identity) HasAuthority() bool { return id.hasAuthority }

// IsLocalPlayer reports whether the identity is a player of this client.
func (id *Identity) IsLocalPlayer() bool { return id.isLocalPlayer }

// PlayerControllerID returns the controller id of a player identity, or -1.
func (id *Identity) PlayerControllerID() int16 { return id.playerID }

// ConnectionToServer returns the client connection of a client-side identity.
func (id *Identity) ConnectionToServer() *conn.Connection { return id.connToServer }

// ConnectionToClient returns the connection owning a host-side player.
func (id *Identity) ConnectionToClient() *conn.Connection { return id.connToClient }

// ClientAuthorityOwner returns the connection holding authority, or nil.
func (id *Identity) ClientAuthorityOwner() *conn.Connection { return id.authorityOwner }

// SetConnectionToServer records the client connection.
func (id *Identity) SetConnectionToServer(c *conn.Connection) { id.connToServer = c }

// SetConnectionToClient records the owning connection of a player.
func (id *Identity) SetConnectionToClient(c *conn.Connection, playerControllerID int16) {
	id.playerID = playerControllerID
	id.connToClient = c
}

// SetClientOwner records c as the authority owner.
func (id *Identity) SetClientOwner(c *conn.Connection) {
	if id.authorityOwner != nil {
		id.logger.Error("client authority owner already set", "net_id", id.netID)
	}
	id.authorityOwner = c
	c.AddOwnedObject(id)
}

// ClearClientOwner implements conn.Entity. It runs when the owning
// connection is disposed; a spawned identity returns to host authority.
func (id *Identity) ClearClientOwner() {
	owner := id.authorityOwner
	id.authorityOwner = nil
	if owner == nil || !id.isServer {
		return
	}
	id.ForceAuthority(true)
	id.rt.notifyAuthority(owner, id, false)
}

// UpdateClientServer sets the client and server flags; flags are only
// ever turned on.
func (id *Identity) UpdateClientServer(isClient, isServer bool) {
	id.isClient = id.isClient || isClient
	id.isServer = id.isServer || isServer
}

// ForceAuthority sets the authority flag and runs the authority hooks
// when it changes.
func (id *Identity) ForceAuthority(authority bool) {
	if id.hasAuthority == authority {
		return
	}
	id.hasAuthority = authority
	if authority {
		id.OnStartAuthority()
	} else {
		id.OnStopAuthority()
	}
}

// OnStartServer spawns the identity on host. A zero NetID is assigned from
// the runtime counter; a non-zero one is refused unless allowNonZeroNetID.
func (id *Identity) OnStartServer(host Host, allowNonZeroNetID bool) error {
	if id.isServer {
		return nil
	}
	if id.netID.IsEmpty() {
		id.netID = id.rt.NextNetID()
	} else if !allowNonZeroNetID {
		id.logger.Error("object has non-zero netId", "net_id", id.netID)
		return fmt.Errorf("%w: %s", ErrNonZeroNetID, id.netID)
	} else {
		id.rt.ReserveNetID(id.netID)
	}
	id.host = host
	id.isServer = true
	id.hasAuthority = !id.localPlayerAuthority
	id.observers = nil
	id.observerIDs = make(map[int]struct{})

	id.logger.Debug("start server", "net_id", id.netID)
	for _, b := range id.behaviours {
		if h, ok := b.(StartServerHook); ok {
			h.OnStartServer()
		}
	}
	if id.hasAuthority {
		id.OnStartAuthority()
	}
	return nil
}

// OnStartClient marks the identity as spawned on a client.
func (id *Identity) OnStartClient() {
	id.isClient = true
	id.logger.Debug("start client", "net_id", id.netID, "local_player_authority", id.localPlayerAuthority)
	for _, b := range id.behaviours {
		if h, ok := b.(StartClientHook); ok {
			h.OnStartClient()
		}
	}
}

// OnStartAuthority runs the start authority hooks.
func (id *Identity) OnStartAuthority() {
	for _, b := range id.behaviours {
		if h, ok := b.(AuthorityHook); ok {
			h.OnStartAuthority()
		}
	}
}

// OnStopAuthority runs the stop authority hooks.
func (id *Identity) OnStopAuthority() {
	for _, b := range id.behaviours {
		if h, ok := b.(AuthorityHook); ok {
			h.OnStopAuthority()
		}
	}
}

// OnSetLocalVisibility runs the visibility hooks.
func (id *Identity) OnSetLocalVisibility(visible bool) {
	for _, b := range id.behaviours {
		if h, ok := b.(VisibilityHook); ok {
			h.OnSetLocalVisibility(visible)
		}
	}
}

// OnCheckObserver reports whether every behaviour accepts c as observer.
func (id *Identity) OnCheckObserver(c *conn.Connection) bool {
	for _, b := range id.behaviours {
		if h, ok := b.(ObserverChecker); ok && !h.CheckObserver(c) {
			return false
		}
	}
	return true
}

// OnNetworkDestroy runs the destroy hooks and leaves the host.
func (id *Identity) OnNetworkDestroy() {
	for _, b := range id.behaviours {
		if h, ok := b.(DestroyHook); ok {
			h.OnNetworkDestroy()
		}
	}
	id.isServer = false
}

// SetLocalPlayer marks the identity as the local player of controller pc.
func (id *Identity) SetLocalPlayer(pc int16) {
	id.isLocalPlayer = true
	id.playerID = pc
	hadAuthority := id.hasAuthority
	if id.localPlayerAuthority {
		id.hasAuthority = true
	}
	for _, b := range id.behaviours {
		if h, ok := b.(LocalPlayerHook); ok {
			h.OnStartLocalPlayer()
		}
		if h, ok := b.(AuthorityHook); ok && id.localPlayerAuthority && !hadAuthority {
			h.OnStartAuthority()
		}
	}
}

// SetNotLocalPlayer clears the local player flag and client authority.
func (id *Identity) SetNotLocalPlayer() {
	id.isLocalPlayer = false
	id.hasAuthority = false
}

// HandleClientAuthority applies an authority change received from the host.
func (id *Identity) HandleClientAuthority(authority bool) error {
	if !id.localPlayerAuthority {
		id.logger.Error("client authority for identity without local player authority", "net_id", id.netID)
		return fmt.Errorf("replica: %s: %w", id.netID, protocol.ErrNotAuthority)
	}
	id.ForceAuthority(authority)
	return nil
}

// SerializeAll writes the initial state of every behaviour.
func (id *Identity) SerializeAll(w *protocol.Writer) {
	for _, b := range id.behaviours {
		b.Serialize(w, true)
	}
}

// OnUpdateVars applies state written by SerializeAll or by an update pass.
func (id *Identity) OnUpdateVars(r *protocol.Reader, initial bool) error {
	for _, b := range id.behaviours {
		if err := b.Deserialize(r, initial); err != nil {
			return fmt.Errorf("replica: %s: deserialize %s: %w", id.netID, b.Tag(), err)
		}
	}
	return nil
}

// HandleInvoke resolves hash to an invoker of kind, finds the behaviour
// with the invoker's tag and runs it on args. Misses return
// protocol.ErrDispatchMiss.
func (id *Identity) HandleInvoke(kind InvokeKind, hash int32, args *protocol.Reader) error {
	inv, err := id.rt.Invoker(hash, kind)
	if err != nil {
		return fmt.Errorf("replica: %s: %w", id.netID, err)
	}
	b, ok := id.Behaviour(inv.Tag)
	if !ok {
		return fmt.Errorf("replica: %s: %w: no behaviour %q for %s", id.netID, protocol.ErrDispatchMiss, inv.Tag, inv)
	}
	return inv.Fn(b, args)
}

// MarkForReset schedules Reset.
func (id *Identity) MarkForReset() { id.reset = true }

// Reset returns a marked identity to its unspawned state.
func (id *Identity) Reset() {
	if !id.reset {
		return
	}
	id.reset = false
	id.isServer = false
	id.isClient = false
	id.hasAuthority = false
	id.netID = 0
	id.isLocalPlayer = false
	id.connToServer = nil
	id.connToClient = nil
	id.playerID = -1
	id.ClearObservers()
	id.authorityOwner = nil
	id.host = nil
}

// String describes the identity for logs.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity(netId=%s sceneId=%s assetId=%s)", id.netID, id.sceneID, id.assetID)
}
