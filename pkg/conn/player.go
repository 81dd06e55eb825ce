package conn

import (
	"fmt"

	"github.com/replinet/replinet/pkg/protocol"
)

// MaxPlayerControllerID is the highest player controller id a connection
// may use.
const MaxPlayerControllerID = 32

// PlayerController binds a local controller id to the entity representing
// the player.
type PlayerController struct {
	ID     int16
	Entity Entity
}

// IsValid reports whether the controller has an entity.
func (pc PlayerController) IsValid() bool {
	return pc.Entity != nil
}

// String describes the controller for logs.
func (pc PlayerController) String() string {
	if !pc.IsValid() {
		return fmt.Sprintf("ID=%d (empty)", pc.ID)
	}
	return fmt.Sprintf("ID=%d NetID=%s", pc.ID, pc.Entity.NetID())
}

// ValidPlayerControllerID reports whether id is in the accepted range.
func ValidPlayerControllerID(id int) bool {
	return id >= 0 && id <= MaxPlayerControllerID
}

// SetPlayerController stores pc in the slot of its id.
func (c *Connection) SetPlayerController(pc PlayerController) error {
	if !ValidPlayerControllerID(int(pc.ID)) {
		return fmt.Errorf("conn: player controller id %d out of range 0..%d", pc.ID, MaxPlayerControllerID)
	}
	for int(pc.ID) >= len(c.players) {
		c.players = append(c.players, PlayerController{ID: int16(len(c.players))})
	}
	c.players[pc.ID] = pc
	return nil
}

// RemovePlayerController clears the slot of id.
func (c *Connection) RemovePlayerController(id int16) bool {
	if id < 0 || int(id) >= len(c.players) || !c.players[id].IsValid() {
		c.logger.Error("remove player controller: not found", "player_controller", id)
		return false
	}
	c.players[id] = PlayerController{ID: id}
	return true
}

// PlayerController returns the valid controller with the given id.
func (c *Connection) PlayerController(id int16) (PlayerController, bool) {
	if id < 0 || int(id) >= len(c.players) || !c.players[id].IsValid() {
		return PlayerController{}, false
	}
	return c.players[id], true
}

// PlayerControllers returns the valid controllers in id order.
func (c *Connection) PlayerControllers() []PlayerController {
	out := make([]PlayerController, 0, len(c.players))
	for _, pc := range c.players {
		if pc.IsValid() {
			out = append(out, pc)
		}
	}
	return out
}

// OwnsPlayer reports whether one of the connection's players is id.
func (c *Connection) OwnsPlayer(id protocol.NetID) bool {
	for _, pc := range c.players {
		if pc.IsValid() && pc.Entity.NetID() == id {
			return true
		}
	}
	return false
}

// ClearPlayers empties every controller slot.
func (c *Connection) ClearPlayers() {
	c.players = c.players[:0]
}
