package server

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
)

func (s *Server) registerSystemHandlers() {
	s.handlers.RegisterSystemHandler(protocol.MsgConnect, s.onConnectMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgDisconnect, s.onDisconnectMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgError, s.onErrorMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgReady, s.onReadyMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgAddPlayer, s.onAddPlayerMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgRemovePlayer, s.onRemovePlayerMessage)
	s.handlers.RegisterSystemHandler(protocol.MsgCommand, s.onCommandMessage)
}

func (s *Server) onConnectMessage(msg *conn.Message) error {
	if s.onConnect != nil {
		s.onConnect(msg.Conn)
	}
	return nil
}

func (s *Server) onDisconnectMessage(msg *conn.Message) error {
	if s.onDisconnect != nil {
		s.onDisconnect(msg.Conn)
	}
	return nil
}

func (s *Server) onErrorMessage(msg *conn.Message) error {
	var m protocol.ErrorMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	s.logger.Debug("connection error", "conn", msg.Conn.ID(), "code", m.Code)
	s.reportError(msg.Conn, m.Code)
	return nil
}

func (s *Server) onReadyMessage(msg *conn.Message) error {
	s.logger.Debug("client ready", "conn", msg.Conn.ID())
	s.SetClientReady(msg.Conn)
	return nil
}

func (s *Server) onAddPlayerMessage(msg *conn.Message) error {
	var m protocol.AddPlayerMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	if s.cfg.PlayerFactory == nil {
		s.logger.Warn("add player: no player factory", "conn", msg.Conn.ID(), "player_controller", m.PlayerControllerID)
		return nil
	}
	if !conn.ValidPlayerControllerID(int(m.PlayerControllerID)) {
		return NewConnError(msg.Conn.ID(), "add player", fmt.Errorf("%w: %d", ErrPlayerControllerID, m.PlayerControllerID))
	}
	pcid := int16(m.PlayerControllerID)
	id, err := s.cfg.PlayerFactory(msg.Conn, pcid, m.Payload)
	if err != nil {
		return NewConnError(msg.Conn.ID(), "add player", err)
	}
	return s.AddPlayerForConnection(msg.Conn, id, pcid)
}

func (s *Server) onRemovePlayerMessage(msg *conn.Message) error {
	var m protocol.RemovePlayerMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	return s.RemovePlayerForConnection(msg.Conn, int16(m.PlayerControllerID))
}

// onCommandMessage runs a command sent by a client. Only the connection
// that owns the player or holds client authority over the target may
// invoke commands on it; other senders are logged and ignored.
func (s *Server) onCommandMessage(msg *conn.Message) error {
	var m protocol.InvokeMessage
	if err := msg.ReadMessage(&m); err != nil {
		return err
	}
	name := s.rt.InvokerName(m.Hash)

	_, span := s.tracer.Start(s.tickCtx, "replinet.server.command",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int("replinet.conn", msg.Conn.ID()),
			attribute.Int64("replinet.net_id", int64(m.NetID)),
			attribute.String("replinet.command", name),
		),
	)
	defer span.End()

	id, ok := s.objects[m.NetID]
	if !ok {
		s.logger.Warn("command for unknown object", "conn", msg.Conn.ID(), "net_id", m.NetID, "command", name)
		span.SetStatus(codes.Error, "unknown object")
		return nil
	}
	if !msg.Conn.OwnsPlayer(m.NetID) && id.ClientAuthorityOwner() != msg.Conn {
		s.logger.Warn("command rejected: sender has no authority",
			"conn", msg.Conn.ID(), "net_id", m.NetID, "command", name)
		s.rec.RecordCommandRejected()
		err := fmt.Errorf("command %s on %s from conn %d: %w", name, m.NetID, msg.Conn.ID(), protocol.ErrNotAuthority)
		span.RecordError(err)
		span.SetStatus(codes.Error, "not authority")
		return err
	}

	if err := id.HandleInvoke(replica.KindCommand, m.Hash, protocol.NewReader(m.Args)); err != nil {
		s.logger.Warn("command failed", "conn", msg.Conn.ID(), "net_id", m.NetID, "command", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
