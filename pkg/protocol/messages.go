package protocol

// Message is a typed payload carried by a frame. The frame type is chosen
// by the sender; several message types share one payload layout.
type Message interface {
	EncodeTo(w *Writer) error
	DecodeFrom(r *Reader) error
}

// WriteMessage frames m with type t and appends it to w.
func WriteMessage(w *Writer, t MsgType, m Message) error {
	w.StartMessage(t)
	if err := m.EncodeTo(w); err != nil {
		return err
	}
	return w.FinishMessage()
}

// EncodeMessage returns the framed encoding of m.
func EncodeMessage(t MsgType, m Message) ([]byte, error) {
	w := NewWriter()
	if err := WriteMessage(w, t, m); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeMessage decodes payload into m.
func DecodeMessage(payload []byte, m Message) error {
	return m.DecodeFrom(NewReader(payload))
}

// EmptyMessage has no payload. Used for ready, not-ready, connect and
// disconnect.
type EmptyMessage struct{}

func (EmptyMessage) EncodeTo(*Writer) error   { return nil }
func (EmptyMessage) DecodeFrom(*Reader) error { return nil }

// ErrorMessage reports an error code to the local error handler or the peer.
type ErrorMessage struct {
	Code ErrorCode
}

func (m *ErrorMessage) EncodeTo(w *Writer) error {
	w.WriteUint16(uint16(m.Code))
	return nil
}

func (m *ErrorMessage) DecodeFrom(r *Reader) error {
	v, err := r.ReadUint16()
	m.Code = ErrorCode(v)
	return err
}

// Error implements the error interface so the message can be returned.
func (m *ErrorMessage) Error() string {
	return "protocol: " + m.Code.String()
}

// ErrorCode returns the carried code.
func (m *ErrorMessage) ErrorCode() ErrorCode {
	return m.Code
}

// CRCEntry pairs a behaviour tag with the channel it replicates on.
type CRCEntry struct {
	Name    string
	Channel uint8
}

// CRCMessage carries the host's behaviour table so peers can detect
// mismatched builds.
type CRCMessage struct {
	Entries []CRCEntry
}

func (m *CRCMessage) EncodeTo(w *Writer) error {
	if len(m.Entries) > MaxBytesLen {
		return ErrPayloadTooLarge
	}
	w.WriteUint16(uint16(len(m.Entries)))
	for _, e := range m.Entries {
		if err := w.WriteString(e.Name); err != nil {
			return err
		}
		w.WriteUint8(e.Channel)
	}
	return nil
}

func (m *CRCMessage) DecodeFrom(r *Reader) error {
	count, err := r.ReadUint16()
	if err != nil {
		return err
	}
	// Each entry takes at least 3 bytes.
	if int(count)*3 > r.Remaining() {
		return &MalformedError{Op: "crc entries", Offset: r.Position()}
	}
	m.Entries = make([]CRCEntry, count)
	for i := range m.Entries {
		if m.Entries[i].Name, err = r.ReadString(); err != nil {
			return err
		}
		if m.Entries[i].Channel, err = r.ReadUint8(); err != nil {
			return err
		}
	}
	return nil
}

// AddPlayerMessage asks the host to create a player for a local controller.
type AddPlayerMessage struct {
	PlayerControllerID uint16
	Payload            []byte
}

func (m *AddPlayerMessage) EncodeTo(w *Writer) error {
	w.WriteUint16(m.PlayerControllerID)
	return w.WriteBytesFull(m.Payload)
}

func (m *AddPlayerMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.PlayerControllerID, err = r.ReadUint16(); err != nil {
		return err
	}
	m.Payload, err = r.ReadBytesAndSize()
	return err
}

// RemovePlayerMessage asks the host to remove a player.
type RemovePlayerMessage struct {
	PlayerControllerID uint16
}

func (m *RemovePlayerMessage) EncodeTo(w *Writer) error {
	w.WriteUint16(m.PlayerControllerID)
	return nil
}

func (m *RemovePlayerMessage) DecodeFrom(r *Reader) error {
	var err error
	m.PlayerControllerID, err = r.ReadUint16()
	return err
}

// SceneMessage announces a scene change.
type SceneMessage struct {
	Name string
}

func (m *SceneMessage) EncodeTo(w *Writer) error {
	return w.WriteString(m.Name)
}

func (m *SceneMessage) DecodeFrom(r *Reader) error {
	var err error
	m.Name, err = r.ReadString()
	return err
}

// SpawnMessage creates a runtime entity on a peer.
type SpawnMessage struct {
	NetID   NetID
	AssetID AssetID
	Payload []byte // initial state of every behaviour
}

func (m *SpawnMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	w.WriteAssetID(m.AssetID)
	return w.WriteBytesFull(m.Payload)
}

func (m *SpawnMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	if m.AssetID, err = r.ReadAssetID(); err != nil {
		return err
	}
	m.Payload, err = r.ReadBytesAndSize()
	return err
}

// SpawnSceneMessage activates a scene-placed entity on a peer.
type SpawnSceneMessage struct {
	NetID   NetID
	SceneID SceneID
	Payload []byte
}

func (m *SpawnSceneMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	w.WriteSceneID(m.SceneID)
	return w.WriteBytesFull(m.Payload)
}

func (m *SpawnSceneMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	if m.SceneID, err = r.ReadSceneID(); err != nil {
		return err
	}
	m.Payload, err = r.ReadBytesAndSize()
	return err
}

// ObjectMessage names a single entity. Used for destroy and hide.
type ObjectMessage struct {
	NetID NetID
}

func (m *ObjectMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	return nil
}

func (m *ObjectMessage) DecodeFrom(r *Reader) error {
	var err error
	m.NetID, err = r.ReadNetID()
	return err
}

// Spawn-finished states.
const (
	SpawnStarted  uint32 = 0
	SpawnFinished uint32 = 1
)

// SpawnFinishedMessage brackets the initial spawn replay.
type SpawnFinishedMessage struct {
	State uint32
}

func (m *SpawnFinishedMessage) EncodeTo(w *Writer) error {
	w.WritePackedUint32(m.State)
	return nil
}

func (m *SpawnFinishedMessage) DecodeFrom(r *Reader) error {
	var err error
	m.State, err = r.ReadPackedUint32()
	return err
}

// OwnerMessage tells a connection which entity is its player.
type OwnerMessage struct {
	NetID              NetID
	PlayerControllerID uint16
}

func (m *OwnerMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	w.WritePackedUint32(uint32(m.PlayerControllerID))
	return nil
}

func (m *OwnerMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	v, err := r.ReadPackedUint32()
	if err != nil {
		return err
	}
	if v > MaxBytesLen {
		return &MalformedError{Op: "player controller id", Offset: r.Position()}
	}
	m.PlayerControllerID = uint16(v)
	return nil
}

// ClientAuthorityMessage grants or revokes a connection's authority.
type ClientAuthorityMessage struct {
	NetID     NetID
	Authority bool
}

func (m *ClientAuthorityMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	w.WriteBool(m.Authority)
	return nil
}

func (m *ClientAuthorityMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	m.Authority, err = r.ReadBool()
	return err
}

// InvokeMessage carries a command, rpc, sync-event or sync-list call.
// Args is the rest of the payload and is decoded by the invoker.
type InvokeMessage struct {
	Hash  int32
	NetID NetID
	Args  []byte
}

func (m *InvokeMessage) EncodeTo(w *Writer) error {
	w.WritePackedUint32(uint32(m.Hash))
	w.WriteNetID(m.NetID)
	w.WriteBytes(m.Args)
	return nil
}

func (m *InvokeMessage) DecodeFrom(r *Reader) error {
	h, err := r.ReadPackedUint32()
	if err != nil {
		return err
	}
	m.Hash = int32(h)
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	m.Args = r.Rest()
	return nil
}

// EntityStateMessage carries an entity id followed by an opaque state blob.
// Used for update-vars, transforms and animator state.
type EntityStateMessage struct {
	NetID   NetID
	Payload []byte
}

func (m *EntityStateMessage) EncodeTo(w *Writer) error {
	w.WriteNetID(m.NetID)
	w.WriteBytes(m.Payload)
	return nil
}

func (m *EntityStateMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.NetID, err = r.ReadNetID(); err != nil {
		return err
	}
	m.Payload = r.Rest()
	return nil
}

// Fragment flags.
const (
	FragmentData uint8 = 0
	FragmentLast uint8 = 1
)

// FragmentMessage carries one chunk of an oversized payload, or the
// terminator that completes it.
type FragmentMessage struct {
	Flag  uint8
	Chunk []byte
}

func (m *FragmentMessage) EncodeTo(w *Writer) error {
	w.WriteUint8(m.Flag)
	if m.Flag == FragmentLast {
		return nil
	}
	return w.WriteBytesFull(m.Chunk)
}

func (m *FragmentMessage) DecodeFrom(r *Reader) error {
	var err error
	if m.Flag, err = r.ReadUint8(); err != nil {
		return err
	}
	switch m.Flag {
	case FragmentData:
		m.Chunk, err = r.ReadBytesAndSize()
		return err
	case FragmentLast:
		m.Chunk = nil
		return nil
	default:
		return &MalformedError{Op: "fragment flag", Offset: r.Position() - 1}
	}
}
