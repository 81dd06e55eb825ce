package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// NetID identifies a replicated entity. The host assigns ids from a
// monotonic counter starting at 1; zero means unassigned.
type NetID uint32

// IsEmpty reports whether the id is unassigned.
func (id NetID) IsEmpty() bool {
	return id == 0
}

// String returns the decimal form of the id.
func (id NetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// SceneID identifies an entity that was placed in a scene before the session
// started. Zero means the entity was spawned at runtime.
type SceneID uint32

// IsEmpty reports whether the id is unassigned.
func (id SceneID) IsEmpty() bool {
	return id == 0
}

// String returns the decimal form of the id.
func (id SceneID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// AssetID is the 128-bit key clients use to find the spawn handler for a
// runtime-spawned entity.
type AssetID [16]byte

// IsValid reports whether any byte of the id is set.
func (a AssetID) IsValid() bool {
	return a != AssetID{}
}

// String returns the 32 character lowercase hex form.
func (a AssetID) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAssetID parses a hex asset id. Shorter inputs fill the leading bytes.
func ParseAssetID(s string) (AssetID, error) {
	var a AssetID
	if len(s) > 2*len(a) || len(s)%2 != 0 {
		return a, fmt.Errorf("protocol: invalid asset id %q", s)
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return AssetID{}, fmt.Errorf("protocol: invalid asset id %q: %w", s, err)
	}
	return a, nil
}
