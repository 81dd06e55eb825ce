package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/replinet/replinet/pkg/protocol"
)

// Handler registration errors.
var (
	// ErrReservedMessage is returned when an application handler targets a
	// reserved message id.
	ErrReservedMessage = errors.New("conn: message type is reserved")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("conn: nil handler")
)

// Message is one received frame handed to a handler. Reader and its bytes
// are only valid for the duration of the call.
type Message struct {
	Type      protocol.MsgType
	Conn      *Connection
	Reader    *protocol.Reader
	ChannelID int
}

// ReadMessage decodes the frame payload into m.
func (msg *Message) ReadMessage(m protocol.Message) error {
	return m.DecodeFrom(msg.Reader)
}

// HandlerFunc handles one message. A returned error is reported through
// the error handler; it never stops the connection.
type HandlerFunc func(msg *Message) error

// Handlers maps message ids to handlers. One table is shared by every
// connection of a server or client.
type Handlers struct {
	handlers map[protocol.MsgType]HandlerFunc
	logger   *slog.Logger
}

// NewHandlers creates an empty table. A nil logger uses slog.Default().
func NewHandlers(logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		handlers: make(map[protocol.MsgType]HandlerFunc),
		logger:   logger.With("component", "handlers"),
	}
}

// RegisterHandler registers an application handler. Ids up to
// protocol.MsgHighest are refused. Registering an id twice replaces
// the earlier handler.
func (h *Handlers) RegisterHandler(t protocol.MsgType, fn HandlerFunc) error {
	if t.IsReserved() {
		return fmt.Errorf("%w: %d", ErrReservedMessage, t)
	}
	return h.RegisterSystemHandler(t, fn)
}

// RegisterSystemHandler registers a handler for any id, including the
// reserved ones used by the replication layer.
func (h *Handlers) RegisterSystemHandler(t protocol.MsgType, fn HandlerFunc) error {
	if fn == nil {
		return ErrNilHandler
	}
	if _, ok := h.handlers[t]; ok {
		h.logger.Warn("replacing message handler", "msg_type", t)
	}
	h.handlers[t] = fn
	return nil
}

// UnregisterHandler removes the handler of t.
func (h *Handlers) UnregisterHandler(t protocol.MsgType) {
	delete(h.handlers, t)
}

// Handler returns the handler of t or nil.
func (h *Handlers) Handler(t protocol.MsgType) HandlerFunc {
	return h.handlers[t]
}

// Has reports whether t has a handler.
func (h *Handlers) Has(t protocol.MsgType) bool {
	_, ok := h.handlers[t]
	return ok
}

// Types returns the registered ids in ascending order.
func (h *Handlers) Types() []protocol.MsgType {
	types := make([]protocol.MsgType, 0, len(h.handlers))
	for t := range h.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clear removes every handler.
func (h *Handlers) Clear() {
	clear(h.handlers)
}
