package protocol

import "fmt"

// MsgType is the int16 message id carried in every frame header.
type MsgType int16

// Replication message ids.
const (
	MsgObjectDestroy        MsgType = 1
	MsgRPC                  MsgType = 2
	MsgObjectSpawn          MsgType = 3
	MsgOwner                MsgType = 4
	MsgCommand              MsgType = 5
	MsgLocalPlayerTransform MsgType = 6
	MsgSyncEvent            MsgType = 7
	MsgUpdateVars           MsgType = 8
	MsgSyncList             MsgType = 9
	MsgObjectSpawnScene     MsgType = 10
	MsgSpawnFinished        MsgType = 12
	MsgObjectHide           MsgType = 13
	MsgCRC                  MsgType = 14
	MsgLocalClientAuthority MsgType = 15
	MsgLocalChildTransform  MsgType = 16
	MsgFragment             MsgType = 17

	// MsgHighestInternal is the last id reserved for replication messages.
	MsgHighestInternal MsgType = 31
)

// System message ids.
const (
	MsgConnect        MsgType = 32
	MsgDisconnect     MsgType = 33
	MsgError          MsgType = 34
	MsgReady          MsgType = 35
	MsgNotReady       MsgType = 36
	MsgAddPlayer      MsgType = 37
	MsgRemovePlayer   MsgType = 38
	MsgScene          MsgType = 39
	MsgAnimation      MsgType = 40
	MsgAnimationParam MsgType = 41
	MsgAnimationTrig  MsgType = 42

	// MsgHighest is the last id used by the library. Application messages
	// start above it.
	MsgHighest MsgType = 47
)

// IsReserved reports whether t is a library id. Application messages must
// use ids above MsgHighest.
func (t MsgType) IsReserved() bool {
	return t <= MsgHighest
}

// String returns the string representation of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgObjectDestroy:
		return "ObjectDestroy"
	case MsgRPC:
		return "Rpc"
	case MsgObjectSpawn:
		return "ObjectSpawn"
	case MsgOwner:
		return "Owner"
	case MsgCommand:
		return "Command"
	case MsgLocalPlayerTransform:
		return "LocalPlayerTransform"
	case MsgSyncEvent:
		return "SyncEvent"
	case MsgUpdateVars:
		return "UpdateVars"
	case MsgSyncList:
		return "SyncList"
	case MsgObjectSpawnScene:
		return "ObjectSpawnScene"
	case MsgSpawnFinished:
		return "SpawnFinished"
	case MsgObjectHide:
		return "ObjectHide"
	case MsgCRC:
		return "CRC"
	case MsgLocalClientAuthority:
		return "LocalClientAuthority"
	case MsgLocalChildTransform:
		return "LocalChildTransform"
	case MsgFragment:
		return "Fragment"
	case MsgConnect:
		return "Connect"
	case MsgDisconnect:
		return "Disconnect"
	case MsgError:
		return "Error"
	case MsgReady:
		return "Ready"
	case MsgNotReady:
		return "NotReady"
	case MsgAddPlayer:
		return "AddPlayer"
	case MsgRemovePlayer:
		return "RemovePlayer"
	case MsgScene:
		return "Scene"
	case MsgAnimation:
		return "Animation"
	case MsgAnimationParam:
		return "AnimationParameters"
	case MsgAnimationTrig:
		return "AnimationTrigger"
	default:
		return fmt.Sprintf("MsgType(%d)", int16(t))
	}
}
