package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	asset := AssetID{1, 2, 3}
	tests := []struct {
		name string
		typ  MsgType
		in   Message
		out  Message
	}{
		{"error", MsgError, &ErrorMessage{Code: CodeCRCMismatch}, &ErrorMessage{}},
		{"crc", MsgCRC, &CRCMessage{Entries: []CRCEntry{{"player", 0}, {"door", 1}}}, &CRCMessage{}},
		{"add_player", MsgAddPlayer, &AddPlayerMessage{PlayerControllerID: 3, Payload: []byte("hi")}, &AddPlayerMessage{}},
		{"remove_player", MsgRemovePlayer, &RemovePlayerMessage{PlayerControllerID: 2}, &RemovePlayerMessage{}},
		{"scene", MsgScene, &SceneMessage{Name: "arena"}, &SceneMessage{}},
		{"spawn", MsgObjectSpawn, &SpawnMessage{NetID: 300, AssetID: asset, Payload: []byte{9}}, &SpawnMessage{}},
		{"spawn_scene", MsgObjectSpawnScene, &SpawnSceneMessage{NetID: 4, SceneID: 77, Payload: []byte{1, 2}}, &SpawnSceneMessage{}},
		{"destroy", MsgObjectDestroy, &ObjectMessage{NetID: 99999}, &ObjectMessage{}},
		{"spawn_finished", MsgSpawnFinished, &SpawnFinishedMessage{State: SpawnFinished}, &SpawnFinishedMessage{}},
		{"owner", MsgOwner, &OwnerMessage{NetID: 5, PlayerControllerID: 1}, &OwnerMessage{}},
		{"authority", MsgLocalClientAuthority, &ClientAuthorityMessage{NetID: 5, Authority: true}, &ClientAuthorityMessage{}},
		{"command", MsgCommand, &InvokeMessage{Hash: -559038737, NetID: 12, Args: []byte{7, 7}}, &InvokeMessage{}},
		{"update_vars", MsgUpdateVars, &EntityStateMessage{NetID: 8, Payload: []byte{0, 1}}, &EntityStateMessage{}},
		{"fragment", MsgFragment, &FragmentMessage{Flag: FragmentData, Chunk: []byte{4, 5, 6}}, &FragmentMessage{}},
		{"fragment_last", MsgFragment, &FragmentMessage{Flag: FragmentLast}, &FragmentMessage{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeMessage(tc.typ, tc.in)
			if err != nil {
				t.Fatalf("EncodeMessage() error = %v", err)
			}
			f, n, err := DecodeFrame(data)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if n != len(data) || f.Type != tc.typ {
				t.Fatalf("DecodeFrame() = %v/%d, want %v/%d", f.Type, n, tc.typ, len(data))
			}
			if err := DecodeMessage(f.Payload, tc.out); err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if !reflect.DeepEqual(tc.in, tc.out) {
				t.Errorf("round trip = %+v, want %+v", tc.out, tc.in)
			}
		})
	}
}

func TestCRCMessageRejectsHugeCount(t *testing.T) {
	payload := []byte{0xFF, 0xFF, 0, 0}
	var m CRCMessage
	if err := DecodeMessage(payload, &m); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("DecodeMessage() error = %v, want ErrMalformedMessage", err)
	}
}

func TestFragmentMessageBadFlag(t *testing.T) {
	var m FragmentMessage
	if err := DecodeMessage([]byte{2}, &m); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("DecodeMessage() error = %v, want ErrMalformedMessage", err)
	}
}

func TestInvokeMessageLayout(t *testing.T) {
	w := NewWriter()
	m := &InvokeMessage{Hash: 1000, NetID: 3, Args: []byte{0xCC}}
	if err := m.EncodeTo(w); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}
	// 1000 packs to two bytes, 3 to one.
	want := []byte{243, 248, 3, 0xCC}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("EncodeTo() = %v, want %v", w.Bytes(), want)
	}
}
