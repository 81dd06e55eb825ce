// Package snapshot persists checkpoints of a host registry: the spawned
// identities with their owners, observers and full initial state.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/replinet/replinet/pkg/server"
)

// CurrentVersion is the version of the snapshot encoding. Increment it for
// breaking changes.
const CurrentVersion = 1

// idLayout sorts lexicographically in time order.
const idLayout = "20060102T150405.000000000Z"

// ErrNotFound is returned when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot: not found")

// ErrStoreClosed is returned when a closed store is used.
var ErrStoreClosed = errors.New("snapshot: store is closed")

// Snapshot is one checkpoint of a server registry.
type Snapshot struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Tick      uint64               `json:"tick"`
	Scene     string               `json:"scene,omitempty"`
	Entities  []server.EntityState `json:"entities"`
	Version   int                  `json:"version"`
}

// Info describes a stored snapshot without its entities.
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Entities  int       `json:"entities"`
	Size      int       `json:"size"`
}

// NewID returns the id of a snapshot taken at t. Ids of later snapshots
// sort after earlier ones; seq breaks ties.
func NewID(t time.Time, seq uint64) string {
	return fmt.Sprintf("%s-%06d", t.UTC().Format(idLayout), seq)
}

// Capture takes a snapshot of srv. It must be called from the server's
// tick context.
func Capture(srv *server.Server, tick uint64, now time.Time) *Snapshot {
	return &Snapshot{
		ID:        NewID(now, tick),
		CreatedAt: now.UTC(),
		Tick:      tick,
		Scene:     srv.SceneName(),
		Entities:  srv.CaptureState(),
		Version:   CurrentVersion,
	}
}

// Info returns the summary of s for an encoded size.
func (s *Snapshot) Info(size int) Info {
	return Info{ID: s.ID, CreatedAt: s.CreatedAt, Entities: len(s.Entities), Size: size}
}

// Encode converts a snapshot to bytes.
func Encode(s *Snapshot) ([]byte, error) {
	s.Version = CurrentVersion
	return json.Marshal(s)
}

// Decode converts bytes back to a snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if s.Version > CurrentVersion {
		return nil, fmt.Errorf("snapshot: decode %s: unsupported version %d", s.ID, s.Version)
	}
	return &s, nil
}
