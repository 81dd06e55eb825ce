package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// Store persists snapshots. Implementations must be safe for concurrent
// use.
type Store interface {
	// Save persists a snapshot. An existing snapshot with the same id is
	// overwritten.
	Save(ctx context.Context, s *Snapshot) error

	// Load returns the snapshot with the given id or ErrNotFound.
	Load(ctx context.Context, id string) (*Snapshot, error)

	// List returns the stored snapshots, oldest first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a snapshot. A missing snapshot is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// Latest returns the newest snapshot in store or ErrNotFound.
func Latest(ctx context.Context, store Store) (*Snapshot, error) {
	infos, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotFound
	}
	return store.Load(ctx, infos[len(infos)-1].ID)
}

// Prune deletes all but the newest keep snapshots and returns how many
// were deleted. A keep of zero or less deletes nothing.
func Prune(ctx context.Context, store Store, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	infos, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) <= keep {
		return 0, nil
	}
	var errs []error
	deleted := 0
	for _, info := range infos[:len(infos)-keep] {
		if err := store.Delete(ctx, info.ID); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: delete %s: %w", info.ID, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
