package client

import (
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
)

// SpawnFunc creates the client identity for a spawned asset. The scene
// assigns the net id and applies the initial state.
type SpawnFunc func(netID protocol.NetID, assetID protocol.AssetID) (*replica.Identity, error)

// UnspawnFunc disposes of an identity created by a SpawnFunc.
type UnspawnFunc func(id *replica.Identity)

type spawnHandler struct {
	spawn   SpawnFunc
	unspawn UnspawnFunc
}

type pendingOwner struct {
	netID protocol.NetID
	pcid  int16
}

// Scene is the client side object registry. It creates identities for
// spawn messages, applies state and invocations to them and tracks the
// local players.
type Scene struct {
	rt     *replica.Runtime
	logger *slog.Logger

	spawnHandlers map[protocol.AssetID]spawnHandler
	sceneObjects  map[protocol.SceneID]*replica.Identity
	objects       map[protocol.NetID]*replica.Identity
	localPlayers  map[int16]*replica.Identity
	pendingOwners []pendingOwner

	ready         bool
	readyConn     *conn.Connection
	spawnFinished bool
	sceneName     string

	onSceneChange func(name string)
}

// NewScene creates an empty scene. A nil logger uses slog.Default().
func NewScene(rt *replica.Runtime, logger *slog.Logger) *Scene {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scene{
		rt:            rt,
		logger:        logger.With("component", "scene"),
		spawnHandlers: make(map[protocol.AssetID]spawnHandler),
		sceneObjects:  make(map[protocol.SceneID]*replica.Identity),
		objects:       make(map[protocol.NetID]*replica.Identity),
		localPlayers:  make(map[int16]*replica.Identity),
		spawnFinished: true,
	}
}

// RegisterSpawnHandler registers the functions that create and dispose of
// identities of an asset. unspawn may be nil.
func (s *Scene) RegisterSpawnHandler(assetID protocol.AssetID, spawn SpawnFunc, unspawn UnspawnFunc) error {
	if !assetID.IsValid() {
		return ErrInvalidAsset
	}
	if spawn == nil {
		return fmt.Errorf("client: nil spawn handler for asset %s", assetID)
	}
	s.spawnHandlers[assetID] = spawnHandler{spawn: spawn, unspawn: unspawn}
	return nil
}

// UnregisterSpawnHandler removes the handlers of an asset.
func (s *Scene) UnregisterSpawnHandler(assetID protocol.AssetID) {
	delete(s.spawnHandlers, assetID)
}

// RegisterSceneObject registers a pre-placed identity that scene spawn
// messages with sceneID activate.
func (s *Scene) RegisterSceneObject(sceneID protocol.SceneID, id *replica.Identity) error {
	if sceneID.IsEmpty() {
		return fmt.Errorf("client: register scene object: empty scene id")
	}
	id.ForceSceneID(sceneID)
	s.sceneObjects[sceneID] = id
	return nil
}

// SceneObjects returns the scene ids of the pre-placed identities that are
// not spawned, in ascending order.
func (s *Scene) SceneObjects() []protocol.SceneID {
	ids := maps.Keys(s.sceneObjects)
	slices.Sort(ids)
	return ids
}

// Objects returns the spawned identities in ascending net id order.
func (s *Scene) Objects() []*replica.Identity {
	ids := maps.Keys(s.objects)
	slices.Sort(ids)
	out := make([]*replica.Identity, len(ids))
	for i, id := range ids {
		out[i] = s.objects[id]
	}
	return out
}

// FindObject returns the spawned identity with the given net id.
func (s *Scene) FindObject(netID protocol.NetID) (*replica.Identity, bool) {
	id, ok := s.objects[netID]
	return id, ok
}

// LocalPlayer returns the local player of controller pcid.
func (s *Scene) LocalPlayer(pcid int16) (*replica.Identity, bool) {
	id, ok := s.localPlayers[pcid]
	return id, ok
}

// LocalPlayers returns the local players in controller id order.
func (s *Scene) LocalPlayers() []*replica.Identity {
	ids := maps.Keys(s.localPlayers)
	slices.Sort(ids)
	out := make([]*replica.Identity, len(ids))
	for i, id := range ids {
		out[i] = s.localPlayers[id]
	}
	return out
}

// IsReady reports whether the scene told the server it is ready.
func (s *Scene) IsReady() bool { return s.ready }

// IsSpawnFinished reports whether no initial spawn replay is in progress.
func (s *Scene) IsSpawnFinished() bool { return s.spawnFinished }

// SceneName returns the name of the last scene-change message.
func (s *Scene) SceneName() string { return s.sceneName }

// OnSceneChange sets the callback run for scene-change messages.
func (s *Scene) OnSceneChange(fn func(name string)) { s.onSceneChange = fn }

// DestroyAllObjects destroys every spawned identity. Scene objects return
// to the pool.
func (s *Scene) DestroyAllObjects() {
	for _, id := range s.Objects() {
		s.destroy(id)
	}
	clear(s.localPlayers)
	s.pendingOwners = nil
}

func (s *Scene) handleDisconnect(c *conn.Connection) {
	if s.readyConn == c {
		s.ready = false
		s.readyConn = nil
	}
}

func (s *Scene) register(h *conn.Handlers) {
	h.RegisterSystemHandler(protocol.MsgObjectSpawn, s.onSpawnMessage)
	h.RegisterSystemHandler(protocol.MsgObjectSpawnScene, s.onSpawnSceneMessage)
	h.RegisterSystemHandler(protocol.MsgSpawnFinished, s.onSpawnFinishedMessage)
	h.RegisterSystemHandler(protocol.MsgObjectDestroy, s.onDestroyMessage)
	h.RegisterSystemHandler(protocol.MsgObjectHide, s.onDestroyMessage)
	h.RegisterSystemHandler(protocol.MsgOwner, s.onOwnerMessage)
	h.RegisterSystemHandler(protocol.MsgLocalClientAuthority, s.onClientAuthorityMessage)
	h.RegisterSystemHandler(protocol.MsgUpdateVars, s.onUpdateVarsMessage)
	h.RegisterSystemHandler(protocol.MsgRPC, s.onInvokeMessage)
	h.RegisterSystemHandler(protocol.MsgSyncEvent, s.onInvokeMessage)
	h.RegisterSystemHandler(protocol.MsgSyncList, s.onInvokeMessage)
	h.RegisterSystemHandler(protocol.MsgNotReady, s.onNotReadyMessage)
	h.RegisterSystemHandler(protocol.MsgScene, s.onSceneMessage)
}

func (s *Scene) onSpawnMessage(msg *conn.Message) error {
	var m protocol.SpawnMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	if !m.AssetID.IsValid() {
		return fmt.Errorf("client: spawn %s: %w", m.NetID, ErrInvalidAsset)
	}
	if id, ok := s.objects[m.NetID]; ok {
		s.logger.Debug("spawn of existing object", "net_id", m.NetID)
		return s.applySpawnPayload(id, m.NetID, m.Payload, msg.Conn)
	}
	h, ok := s.spawnHandlers[m.AssetID]
	if !ok {
		s.logger.Error("no spawn handler", "net_id", m.NetID, "asset_id", m.AssetID)
		return fmt.Errorf("client: spawn %s: %w: %s", m.NetID, ErrUnknownAsset, m.AssetID)
	}
	id, err := h.spawn(m.NetID, m.AssetID)
	if err != nil {
		return fmt.Errorf("client: spawn %s: %w", m.NetID, err)
	}
	if err := id.SetAssetID(m.AssetID); err != nil {
		return fmt.Errorf("client: spawn %s: %w", m.NetID, err)
	}
	return s.applySpawnPayload(id, m.NetID, m.Payload, msg.Conn)
}

func (s *Scene) onSpawnSceneMessage(msg *conn.Message) error {
	var m protocol.SpawnSceneMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	if id, ok := s.objects[m.NetID]; ok {
		return s.applySpawnPayload(id, m.NetID, m.Payload, msg.Conn)
	}
	id, ok := s.sceneObjects[m.SceneID]
	if !ok {
		s.logger.Error("unknown scene object", "net_id", m.NetID, "scene_id", m.SceneID)
		return fmt.Errorf("client: spawn scene %s: %w: %s", m.NetID, ErrUnknownSceneObject, m.SceneID)
	}
	delete(s.sceneObjects, m.SceneID)
	return s.applySpawnPayload(id, m.NetID, m.Payload, msg.Conn)
}

func (s *Scene) applySpawnPayload(id *replica.Identity, netID protocol.NetID, payload []byte, c *conn.Connection) error {
	id.SetNetID(netID)
	id.SetConnectionToServer(c)
	s.objects[netID] = id
	if len(payload) > 0 {
		if err := id.OnUpdateVars(protocol.NewReader(payload), true); err != nil {
			return err
		}
	}
	if s.spawnFinished && !id.IsClient() {
		id.OnStartClient()
		s.checkForOwner(id)
	}
	return nil
}

func (s *Scene) onSpawnFinishedMessage(msg *conn.Message) error {
	var m protocol.SpawnFinishedMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	if m.State == protocol.SpawnStarted {
		s.spawnFinished = false
		return nil
	}
	for _, id := range s.Objects() {
		if !id.IsClient() {
			id.OnStartClient()
			s.checkForOwner(id)
		}
	}
	s.spawnFinished = true
	return nil
}

func (s *Scene) onDestroyMessage(msg *conn.Message) error {
	var m protocol.ObjectMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	id, ok := s.objects[m.NetID]
	if !ok {
		s.logger.Debug("destroy of unknown object", "net_id", m.NetID, "msg_type", msg.Type)
		return nil
	}
	s.destroy(id)
	return nil
}

func (s *Scene) destroy(id *replica.Identity) {
	netID := id.NetID()
	id.OnNetworkDestroy()
	delete(s.objects, netID)
	for pcid, p := range s.localPlayers {
		if p == id {
			delete(s.localPlayers, pcid)
		}
	}

	h, hasHandler := s.spawnHandlers[id.AssetID()]
	switch {
	case hasHandler && h.unspawn != nil:
		h.unspawn(id)
	case !id.SceneID().IsEmpty():
		s.sceneObjects[id.SceneID()] = id
	}
	id.MarkForReset()
	id.Reset()
	s.logger.Debug("destroyed", "net_id", netID)
}

func (s *Scene) onOwnerMessage(msg *conn.Message) error {
	var m protocol.OwnerMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	pcid := int16(m.PlayerControllerID)
	if !conn.ValidPlayerControllerID(int(pcid)) {
		return fmt.Errorf("client: owner %s: %w: %d", m.NetID, ErrPlayerControllerID, pcid)
	}
	if old, ok := s.localPlayers[pcid]; ok && old.NetID() != m.NetID {
		old.SetNotLocalPlayer()
		delete(s.localPlayers, pcid)
	}
	if id, ok := s.objects[m.NetID]; ok && id.IsClient() {
		s.setLocalPlayer(id, msg.Conn, pcid)
		return nil
	}
	s.pendingOwners = append(s.pendingOwners, pendingOwner{netID: m.NetID, pcid: pcid})
	return nil
}

func (s *Scene) checkForOwner(id *replica.Identity) {
	for i, p := range s.pendingOwners {
		if p.netID != id.NetID() {
			continue
		}
		s.setLocalPlayer(id, id.ConnectionToServer(), p.pcid)
		s.pendingOwners = slices.Delete(s.pendingOwners, i, i+1)
		return
	}
}

func (s *Scene) setLocalPlayer(id *replica.Identity, c *conn.Connection, pcid int16) {
	id.SetConnectionToServer(c)
	id.SetLocalPlayer(pcid)
	s.localPlayers[pcid] = id
	s.logger.Debug("local player", "net_id", id.NetID(), "player_controller", pcid)
}

func (s *Scene) onClientAuthorityMessage(msg *conn.Message) error {
	var m protocol.ClientAuthorityMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	id, ok := s.objects[m.NetID]
	if !ok {
		s.logger.Debug("authority for unknown object", "net_id", m.NetID)
		return nil
	}
	return id.HandleClientAuthority(m.Authority)
}

func (s *Scene) onUpdateVarsMessage(msg *conn.Message) error {
	var m protocol.EntityStateMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	id, ok := s.objects[m.NetID]
	if !ok {
		s.logger.Debug("state for unknown object", "net_id", m.NetID)
		return nil
	}
	return id.OnUpdateVars(protocol.NewReader(m.Payload), false)
}

func (s *Scene) onInvokeMessage(msg *conn.Message) error {
	kind, ok := replica.KindOf(msg.Type)
	if !ok {
		return fmt.Errorf("client: %w: %s", protocol.ErrUnknownMessage, msg.Type)
	}
	var m protocol.InvokeMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	id, ok := s.objects[m.NetID]
	if !ok {
		s.logger.Warn("invoke on unknown object", "net_id", m.NetID, "kind", kind, "hash", m.Hash)
		return nil
	}
	return id.HandleInvoke(kind, m.Hash, protocol.NewReader(m.Args))
}

func (s *Scene) onNotReadyMessage(msg *conn.Message) error {
	s.ready = false
	s.readyConn = nil
	msg.Conn.SetReady(false)
	s.logger.Debug("not ready")
	return nil
}

func (s *Scene) onSceneMessage(msg *conn.Message) error {
	var m protocol.SceneMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	s.sceneName = m.Name
	s.logger.Debug("scene change", "scene", m.Name)
	if s.onSceneChange != nil {
		s.onSceneChange(m.Name)
	}
	return nil
}
