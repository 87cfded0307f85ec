package memory

import (
	"context"
	"sort"
	"sync"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

type legKey struct {
	opID string
	leg  int
}

// OperationStore is an in-memory implementation of storage.OperationStore.
type OperationStore struct {
	mu       sync.RWMutex
	swaps    map[legKey]*domain.SwapRow
	ops      map[string]*domain.OperationRow
	burns    map[string]*domain.TokenAmountRow
	buyBacks map[string]*domain.TokenAmountRow
}

// NewOperationStore creates a new in-memory operation store.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		swaps:    make(map[legKey]*domain.SwapRow),
		ops:      make(map[string]*domain.OperationRow),
		burns:    make(map[string]*domain.TokenAmountRow),
		buyBacks: make(map[string]*domain.TokenAmountRow),
	}
}

// Compile-time interface check.
var _ storage.OperationStore = (*OperationStore)(nil)

// InsertBlock adds all rows atomically. Fails the entire block on any duplicate.
func (s *OperationStore) InsertBlock(_ context.Context, rows *domain.BlockRows) error {
	if rows == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkBatch(rows); err != nil {
		return err
	}
	for _, r := range rows.Swaps {
		if _, exists := s.swaps[legKey{r.OpID, r.LegIndex}]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, r := range rows.Operations {
		if _, exists := s.ops[r.OpID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, r := range rows.Burns {
		if _, exists := s.burns[r.OpID]; exists {
			return storage.ErrDuplicateKey
		}
	}
	for _, r := range rows.BuyBacks {
		if _, exists := s.buyBacks[r.OpID]; exists {
			return storage.ErrDuplicateKey
		}
	}

	s.insert(rows)
	return nil
}

// ReplaceBlock deletes rows carrying the block's operation ids and inserts
// the block's rows.
func (s *OperationStore) ReplaceBlock(_ context.Context, rows *domain.BlockRows) error {
	if rows == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkBatch(rows); err != nil {
		return err
	}
	s.delete(rows.OpIDs())
	s.insert(rows)
	return nil
}

// DeleteByIDs removes every row with one of the operation ids.
func (s *OperationStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete(ids)
	return nil
}

// MaxBlock returns the highest persisted block.
func (s *OperationStore) MaxBlock(_ context.Context) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		highest int64
		found   bool
	)
	see := func(b int64) {
		if !found || b > highest {
			highest, found = b, true
		}
	}
	for _, r := range s.swaps {
		see(r.Block)
	}
	for _, r := range s.ops {
		see(r.Block)
	}
	for _, r := range s.burns {
		see(r.Block)
	}
	for _, r := range s.buyBacks {
		see(r.Block)
	}
	return highest, found, nil
}

// SwapsSince retrieves swap legs with timestamp > sinceMs, ordered by
// (timestamp, op id, leg).
func (s *OperationStore) SwapsSince(_ context.Context, sinceMs int64) ([]*domain.SwapRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapRow
	for _, r := range s.swaps {
		if r.Timestamp > sinceMs {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.OpID != b.OpID {
			return a.OpID < b.OpID
		}
		return a.LegIndex < b.LegIndex
	})
	return result, nil
}

// BurnsSince retrieves burns with timestamp > sinceMs.
func (s *OperationStore) BurnsSince(_ context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return amountsSince(s.burns, sinceMs), nil
}

// BuyBacksSince retrieves buybacks with timestamp > sinceMs.
func (s *OperationStore) BuyBacksSince(_ context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return amountsSince(s.buyBacks, sinceMs), nil
}

// Operations returns every non-swap operation row, ordered by (block, id).
func (s *OperationStore) Operations() []*domain.OperationRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.OperationRow, 0, len(s.ops))
	for _, r := range s.ops {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Block != result[j].Block {
			return result[i].Block < result[j].Block
		}
		return result[i].OpID < result[j].OpID
	})
	return result
}

// Count returns the total number of stored rows across all tables.
func (s *OperationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.swaps) + len(s.ops) + len(s.burns) + len(s.buyBacks)
}

// checkBatch rejects primary keys repeated within one block.
func checkBatch(rows *domain.BlockRows) error {
	legs := make(map[legKey]struct{}, len(rows.Swaps))
	for _, r := range rows.Swaps {
		if r == nil || r.OpID == "" {
			return storage.ErrInvalidInput
		}
		k := legKey{r.OpID, r.LegIndex}
		if _, dup := legs[k]; dup {
			return storage.ErrDuplicateKey
		}
		legs[k] = struct{}{}
	}
	ids := make(map[string]struct{})
	for _, r := range rows.Operations {
		if r == nil || r.OpID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := ids[r.OpID]; dup {
			return storage.ErrDuplicateKey
		}
		ids[r.OpID] = struct{}{}
	}
	for _, list := range [][]*domain.TokenAmountRow{rows.Burns, rows.BuyBacks} {
		seen := make(map[string]struct{}, len(list))
		for _, r := range list {
			if r == nil || r.OpID == "" {
				return storage.ErrInvalidInput
			}
			if _, dup := seen[r.OpID]; dup {
				return storage.ErrDuplicateKey
			}
			seen[r.OpID] = struct{}{}
		}
	}
	return nil
}

func (s *OperationStore) insert(rows *domain.BlockRows) {
	for _, r := range rows.Swaps {
		cp := *r
		s.swaps[legKey{r.OpID, r.LegIndex}] = &cp
	}
	for _, r := range rows.Operations {
		cp := *r
		s.ops[r.OpID] = &cp
	}
	for _, r := range rows.Burns {
		cp := *r
		s.burns[r.OpID] = &cp
	}
	for _, r := range rows.BuyBacks {
		cp := *r
		s.buyBacks[r.OpID] = &cp
	}
}

func (s *OperationStore) delete(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	for k := range s.swaps {
		if _, ok := drop[k.opID]; ok {
			delete(s.swaps, k)
		}
	}
	for id := range drop {
		delete(s.ops, id)
		delete(s.burns, id)
		delete(s.buyBacks, id)
	}
}

func amountsSince(rows map[string]*domain.TokenAmountRow, sinceMs int64) []*domain.TokenAmountRow {
	var result []*domain.TokenAmountRow
	for _, r := range rows {
		if r.Timestamp > sinceMs {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].OpID < result[j].OpID
	})
	return result
}
