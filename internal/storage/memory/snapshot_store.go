package memory

import (
	"context"
	"sync"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data []*domain.StatsSnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertSnapshots appends snapshots.
func (s *SnapshotStore) InsertSnapshots(_ context.Context, snapshots []*domain.StatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		cp := *snap
		s.data = append(s.data, &cp)
	}
	return nil
}

// All returns every snapshot in insertion order.
func (s *SnapshotStore) All() []*domain.StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.StatsSnapshot, len(s.data))
	for i, snap := range s.data {
		cp := *snap
		result[i] = &cp
	}
	return result
}

// New returns a fresh set of in-memory stores.
func New() storage.Stores {
	tokens := NewTokenStore()
	return storage.Stores{
		Tokens:     tokens,
		Pairs:      NewPairStore(tokens),
		Operations: NewOperationStore(),
		Snapshots:  NewSnapshotStore(),
	}
}
