package replica

import (
	"fmt"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
)

// AssignClientAuthority gives c authority over the identity. The identity
// must be spawned on an active host and allow local player authority. An
// identity owned by another connection keeps its owner and the call fails
// with protocol.ErrAuthorityConflict.
func (id *Identity) AssignClientAuthority(c *conn.Connection) error {
	switch {
	case !id.IsServer():
		id.logger.Error("assign client authority: not spawned on a server", "net_id", id.netID)
		return fmt.Errorf("assign authority %s: %w", id.netID, ErrNotSpawned)
	case !id.localPlayerAuthority:
		id.logger.Error("assign client authority: local player authority not set", "net_id", id.netID)
		return fmt.Errorf("assign authority %s: local player authority not set: %w", id.netID, protocol.ErrNotAuthority)
	case id.authorityOwner != nil && id.authorityOwner != c:
		id.logger.Error("assign client authority: already owned", "net_id", id.netID, "owner", id.authorityOwner.ID())
		return fmt.Errorf("assign authority %s: owned by conn %d: %w", id.netID, id.authorityOwner.ID(), protocol.ErrAuthorityConflict)
	case c == nil:
		return fmt.Errorf("assign authority %s: %w", id.netID, ErrNilConnection)
	}

	id.authorityOwner = c
	c.AddOwnedObject(id)
	id.ForceAuthority(false)
	c.Send(protocol.MsgLocalClientAuthority, &protocol.ClientAuthorityMessage{NetID: id.netID, Authority: true})
	id.rt.notifyAuthority(c, id, true)
	return nil
}

// RemoveClientAuthority takes authority back from c. Player identities
// keep their owner.
func (id *Identity) RemoveClientAuthority(c *conn.Connection) error {
	switch {
	case !id.IsServer():
		id.logger.Error("remove client authority: not spawned on a server", "net_id", id.netID)
		return fmt.Errorf("remove authority %s: %w", id.netID, ErrNotSpawned)
	case id.connToClient != nil:
		id.logger.Error("remove client authority: player object", "net_id", id.netID)
		return fmt.Errorf("remove authority %s: %w", id.netID, ErrPlayerObject)
	case id.authorityOwner == nil:
		id.logger.Error("remove client authority: no owner", "net_id", id.netID)
		return fmt.Errorf("remove authority %s: %w", id.netID, ErrNoClientOwner)
	case id.authorityOwner != c:
		id.logger.Error("remove client authority: different owner", "net_id", id.netID)
		return fmt.Errorf("remove authority %s: %w", id.netID, protocol.ErrAuthorityConflict)
	}

	id.authorityOwner.RemoveOwnedObject(id)
	id.authorityOwner = nil
	id.ForceAuthority(true)
	c.Send(protocol.MsgLocalClientAuthority, &protocol.ClientAuthorityMessage{NetID: id.netID, Authority: false})
	id.rt.notifyAuthority(c, id, false)
	return nil
}
