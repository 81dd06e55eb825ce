package server

import (
	"fmt"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
)

// AddPlayerForConnection makes id the player of controller pcid on c. The
// connection is set ready, the player is spawned if needed and c alone is
// sent the owner message.
func (s *Server) AddPlayerForConnection(c *conn.Connection, id *replica.Identity, pcid int16) error {
	if id == nil {
		return ErrNilIdentity
	}
	if !conn.ValidPlayerControllerID(int(pcid)) {
		return NewConnError(c.ID(), "add player", fmt.Errorf("%w: %d", ErrPlayerControllerID, pcid))
	}
	if pc, ok := c.PlayerController(pcid); ok && pc.IsValid() {
		s.logger.Error("add player: controller already in use", "conn", c.ID(), "player_controller", pcid)
		return NewConnError(c.ID(), "add player", fmt.Errorf("%w: %d", ErrPlayerExists, pcid))
	}

	if err := c.SetPlayerController(conn.PlayerController{ID: pcid, Entity: id}); err != nil {
		return NewConnError(c.ID(), "add player", err)
	}
	id.SetConnectionToClient(c, pcid)
	s.SetClientReady(c)
	s.logger.Debug("add player", "conn", c.ID(), "player_controller", pcid, "net_id", id.NetID())
	return s.finishPlayerForConnection(c, id, pcid)
}

// ReplacePlayerForConnection makes id the player of controller pcid on c
// in place of the current one, which keeps existing.
func (s *Server) ReplacePlayerForConnection(c *conn.Connection, id *replica.Identity, pcid int16) error {
	if id == nil {
		return ErrNilIdentity
	}
	if !conn.ValidPlayerControllerID(int(pcid)) {
		return NewConnError(c.ID(), "replace player", fmt.Errorf("%w: %d", ErrPlayerControllerID, pcid))
	}
	if pc, ok := c.PlayerController(pcid); ok && pc.IsValid() {
		if old, ok := pc.Entity.(*replica.Identity); ok {
			old.SetNotLocalPlayer()
			if old.ClientAuthorityOwner() == c {
				c.RemoveOwnedObject(old)
				old.ClearClientOwner()
			}
		}
	}

	if err := c.SetPlayerController(conn.PlayerController{ID: pcid, Entity: id}); err != nil {
		return NewConnError(c.ID(), "replace player", err)
	}
	id.SetConnectionToClient(c, pcid)
	s.logger.Debug("replace player", "conn", c.ID(), "player_controller", pcid, "net_id", id.NetID())
	return s.finishPlayerForConnection(c, id, pcid)
}

func (s *Server) finishPlayerForConnection(c *conn.Connection, id *replica.Identity, pcid int16) error {
	if !id.IsServer() {
		if err := s.Spawn(id); err != nil {
			return NewConnError(c.ID(), "spawn player", err)
		}
	}
	c.Send(protocol.MsgOwner, &protocol.OwnerMessage{NetID: id.NetID(), PlayerControllerID: uint16(pcid)})
	if id.LocalPlayerAuthority() && id.ClientAuthorityOwner() != c {
		id.SetClientOwner(c)
	}
	return nil
}

// RemovePlayerForConnection removes the player of controller pcid from c
// and destroys it.
func (s *Server) RemovePlayerForConnection(c *conn.Connection, pcid int16) error {
	pc, ok := c.PlayerController(pcid)
	if !ok || !pc.IsValid() {
		s.logger.Error("remove player: not found", "conn", c.ID(), "player_controller", pcid)
		return NewConnError(c.ID(), "remove player", fmt.Errorf("%w: %d", ErrPlayerNotFound, pcid))
	}
	c.RemovePlayerController(pcid)
	if id, ok := pc.Entity.(*replica.Identity); ok {
		s.Destroy(id)
	}
	return nil
}

// DestroyPlayersForConnection destroys every object c has authority over
// and every player of c.
func (s *Server) DestroyPlayersForConnection(c *conn.Connection) {
	for _, netID := range c.OwnedObjects() {
		if id, ok := s.objects[netID]; ok {
			s.Destroy(id)
		}
	}
	players := c.PlayerControllers()
	if len(players) == 0 {
		return
	}
	for _, pc := range players {
		if id, ok := pc.Entity.(*replica.Identity); ok && id.IsServer() {
			s.Destroy(id)
		}
	}
	c.ClearPlayers()
}
