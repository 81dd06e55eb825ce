package client

import (
	"fmt"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/transport"
)

// Ready tells the server the client can receive spawns.
func (c *Client) Ready() error {
	if c.scene.ready {
		return ErrAlreadyReady
	}
	if err := c.Send(protocol.MsgReady, protocol.EmptyMessage{}); err != nil {
		return err
	}
	c.scene.ready = true
	c.scene.readyConn = c.conn
	c.conn.SetReady(true)
	c.logger.Debug("ready")
	return nil
}

// AddPlayer asks the server for a player on controller pcid. The client
// becomes ready first if it is not. payload is passed to the server's
// player factory.
func (c *Client) AddPlayer(pcid int16, payload []byte) error {
	if !conn.ValidPlayerControllerID(int(pcid)) {
		return fmt.Errorf("%w: %d", ErrPlayerControllerID, pcid)
	}
	if _, ok := c.scene.localPlayers[pcid]; ok {
		return fmt.Errorf("%w: %d", ErrPlayerExists, pcid)
	}
	if !c.scene.ready {
		if err := c.Ready(); err != nil {
			return err
		}
	}
	return c.Send(protocol.MsgAddPlayer, &protocol.AddPlayerMessage{
		PlayerControllerID: uint16(pcid),
		Payload:            payload,
	})
}

// RemovePlayer asks the server to remove the player of controller pcid.
func (c *Client) RemovePlayer(pcid int16) error {
	id, ok := c.scene.localPlayers[pcid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlayerNotFound, pcid)
	}
	if err := c.Send(protocol.MsgRemovePlayer, &protocol.RemovePlayerMessage{PlayerControllerID: uint16(pcid)}); err != nil {
		return err
	}
	id.SetNotLocalPlayer()
	delete(c.scene.localPlayers, pcid)
	return nil
}

// SendCommand invokes command hash of id on the server. The client must
// have authority over id.
func (c *Client) SendCommand(id *replica.Identity, hash int32, args []byte) error {
	return c.SendCommandByChannel(id, hash, args, transport.ChannelReliable)
}

// SendCommandByChannel is SendCommand on channel ch.
func (c *Client) SendCommandByChannel(id *replica.Identity, hash int32, args []byte, ch int) error {
	if !id.HasAuthority() {
		c.logger.Warn("command without authority", "net_id", id.NetID(), "command", c.rt.InvokerName(hash))
		return fmt.Errorf("client: command on %s: %w", id.NetID(), protocol.ErrNotAuthority)
	}
	return c.SendByChannel(protocol.MsgCommand, &protocol.InvokeMessage{
		Hash:  hash,
		NetID: id.NetID(),
		Args:  args,
	}, ch)
}
