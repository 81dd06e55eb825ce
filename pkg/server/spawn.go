package server

import (
	"fmt"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
)

// Objects returns the spawned identities in netId order.
func (s *Server) Objects() []*replica.Identity {
	ids := maps.Keys(s.objects)
	slices.Sort(ids)
	out := make([]*replica.Identity, len(ids))
	for i, id := range ids {
		out[i] = s.objects[id]
	}
	return out
}

// FindObject returns the spawned identity with the given netId.
func (s *Server) FindObject(netID protocol.NetID) (*replica.Identity, bool) {
	id, ok := s.objects[netID]
	return id, ok
}

// Spawn assigns id a netId, registers it and sends its spawn message to
// every connection its observer rebuild accepts.
func (s *Server) Spawn(id *replica.Identity) error {
	if !s.Active() {
		s.logger.Error("spawn: server not active")
		return ErrNotActive
	}
	if id == nil {
		return ErrNilIdentity
	}
	// An unspawned identity may be spawned again.
	id.Reset()
	if err := id.OnStartServer(s, false); err != nil {
		return fmt.Errorf("server: spawn: %w", err)
	}
	s.objects[id.NetID()] = id
	s.rec.RecordSpawn()
	s.logger.Debug("spawn", "net_id", id.NetID(), "asset_id", id.AssetID(), "scene_id", id.SceneID())
	id.RebuildObservers(true)
	return nil
}

// SpawnWithClientAuthority spawns id and gives c authority over it.
func (s *Server) SpawnWithClientAuthority(id *replica.Identity, c *conn.Connection) error {
	if err := s.Spawn(id); err != nil {
		return err
	}
	if err := id.AssignClientAuthority(c); err != nil {
		s.Destroy(id)
		return fmt.Errorf("server: spawn with client authority: %w", err)
	}
	return nil
}

// Destroy removes id from every observer and resets it.
func (s *Server) Destroy(id *replica.Identity) {
	s.destroyObject(id, true)
}

// UnSpawn removes id from every observer. The identity keeps its state
// and may be spawned again.
func (s *Server) UnSpawn(id *replica.Identity) {
	s.destroyObject(id, false)
}

func (s *Server) destroyObject(id *replica.Identity, reset bool) {
	if id == nil {
		return
	}
	netID := id.NetID()
	if cur, ok := s.objects[netID]; !ok || cur != id {
		s.logger.Debug("destroy: object not spawned", "net_id", netID)
		return
	}
	s.logger.Debug("destroy", "net_id", netID)
	delete(s.objects, netID)
	if owner := id.ClientAuthorityOwner(); owner != nil {
		owner.RemoveOwnedObject(id)
	}

	msg := &protocol.ObjectMessage{NetID: netID}
	for _, c := range id.Observers() {
		c.Send(protocol.MsgObjectDestroy, msg)
	}
	id.ClearObservers()
	id.OnNetworkDestroy()
	id.MarkForReset()
	if reset {
		id.Reset()
	}
	s.rec.RecordDestroy()
}

// ShowForConnection implements replica.Host.
func (s *Server) ShowForConnection(id *replica.Identity, c *conn.Connection) {
	if c.IsReady() {
		s.sendSpawnMessage(id, c)
	}
}

// HideForConnection implements replica.Host.
func (s *Server) HideForConnection(id *replica.Identity, c *conn.Connection) {
	c.Send(protocol.MsgObjectHide, &protocol.ObjectMessage{NetID: id.NetID()})
}

// sendSpawnMessage sends the spawn message of id to c, or to every ready
// observer when c is nil.
func (s *Server) sendSpawnMessage(id *replica.Identity, c *conn.Connection) {
	if id.ServerOnly() {
		return
	}
	w := protocol.NewWriter()
	id.SerializeAll(w)
	payload := w.Bytes()

	var (
		t   protocol.MsgType
		msg protocol.Message
	)
	if id.SceneID().IsEmpty() {
		t = protocol.MsgObjectSpawn
		msg = &protocol.SpawnMessage{NetID: id.NetID(), AssetID: id.AssetID(), Payload: payload}
	} else {
		t = protocol.MsgObjectSpawnScene
		msg = &protocol.SpawnSceneMessage{NetID: id.NetID(), SceneID: id.SceneID(), Payload: payload}
	}

	if c != nil {
		c.Send(t, msg)
		return
	}
	for _, o := range id.Observers() {
		if o.IsReady() {
			o.Send(t, msg)
		}
	}
}

// SendToReady implements replica.Host. A nil id sends to every ready
// connection.
func (s *Server) SendToReady(id *replica.Identity, data []byte, channel int) {
	targets := s.Connections()
	if id != nil {
		targets = id.Observers()
	}
	for _, c := range targets {
		if c.IsReady() {
			c.SendBytes(data, channel)
		}
	}
}

// SendMessageToReady sends msg on the reliable channel to the ready
// observers of id, or to every ready connection when id is nil.
func (s *Server) SendMessageToReady(id *replica.Identity, t protocol.MsgType, msg protocol.Message) bool {
	return s.SendByChannelToReady(id, t, msg, 0)
}

// SendByChannelToReady sends msg on channel ch to the ready observers of
// id, or to every ready connection when id is nil.
func (s *Server) SendByChannelToReady(id *replica.Identity, t protocol.MsgType, msg protocol.Message, ch int) bool {
	data, err := protocol.EncodeMessage(t, msg)
	if err != nil {
		s.logger.Error("encode message", "msg_type", t, "error", err)
		return false
	}
	s.SendToReady(id, data, ch)
	return true
}

// SendToAll sends msg on the reliable channel to every connection.
func (s *Server) SendToAll(t protocol.MsgType, msg protocol.Message) bool {
	ok := true
	for _, c := range s.Connections() {
		ok = c.Send(t, msg) && ok
	}
	return ok
}

// SendUnreliableToAll sends msg on the unreliable channel to every connection.
func (s *Server) SendUnreliableToAll(t protocol.MsgType, msg protocol.Message) bool {
	ok := true
	for _, c := range s.Connections() {
		ok = c.SendUnreliable(t, msg) && ok
	}
	return ok
}

// SendToClient sends msg to one connection.
func (s *Server) SendToClient(connID int, t protocol.MsgType, msg protocol.Message) error {
	c, ok := s.conns[connID]
	if !ok {
		return NewConnError(connID, "send", ErrConnectionNotFound)
	}
	c.Send(t, msg)
	return nil
}

// SendToClientOfPlayer sends msg to the connection whose player is id.
func (s *Server) SendToClientOfPlayer(id *replica.Identity, t protocol.MsgType, msg protocol.Message) error {
	for _, c := range s.Connections() {
		if c.OwnsPlayer(id.NetID()) {
			c.Send(t, msg)
			return nil
		}
	}
	return NewConnError(-1, "send to player "+id.NetID().String(), ErrPlayerNotFound)
}

// SetClientReady marks c ready and replays the spawn of every identity
// that accepts c as an observer, bracketed by spawn-finished messages.
func (s *Server) SetClientReady(c *conn.Connection) {
	if c.IsReady() {
		s.logger.Debug("client already ready", "conn", c.ID())
		return
	}
	if len(c.PlayerControllers()) == 0 {
		s.logger.Debug("ready with no player object", "conn", c.ID())
	}
	c.SetReady(true)

	c.Send(protocol.MsgSpawnFinished, &protocol.SpawnFinishedMessage{State: protocol.SpawnStarted})
	for _, id := range s.Objects() {
		if !id.ServerOnly() && id.OnCheckObserver(c) {
			id.AddObserver(c)
		}
	}
	c.Send(protocol.MsgSpawnFinished, &protocol.SpawnFinishedMessage{State: protocol.SpawnFinished})
}

// SetClientNotReady stops replication to c until it is ready again.
func (s *Server) SetClientNotReady(c *conn.Connection) {
	if !c.IsReady() {
		return
	}
	s.logger.Debug("set client not ready", "conn", c.ID())
	c.SetReady(false)
	c.RemoveObservers()
	c.Send(protocol.MsgNotReady, protocol.EmptyMessage{})
}

// SetAllClientsNotReady marks every connection not ready.
func (s *Server) SetAllClientsNotReady() {
	for _, c := range s.Connections() {
		s.SetClientNotReady(c)
	}
}

// ChangeScene marks every connection not ready and announces the scene.
// Connections accepted later are told the scene on connect.
func (s *Server) ChangeScene(name string) {
	s.SetAllClientsNotReady()
	s.sceneName = name
	s.SendToAll(protocol.MsgScene, &protocol.SceneMessage{Name: name})
}

// SceneName returns the name given to the last ChangeScene.
func (s *Server) SceneName() string { return s.sceneName }
