package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// PairStore is an in-memory implementation of storage.PairStore.
// Pairs reference tokens of the TokenStore it was created with.
type PairStore struct {
	mu     sync.RWMutex
	tokens *TokenStore
	nextID int64
	byID   map[int64]*domain.Pair
	byKey  map[domain.PairKey]int64
}

// NewPairStore creates a new in-memory pair store. tokens may be nil to
// skip the token existence check.
func NewPairStore(tokens *TokenStore) *PairStore {
	return &PairStore{
		tokens: tokens,
		nextID: 1,
		byID:   make(map[int64]*domain.Pair),
		byKey:  make(map[domain.PairKey]int64),
	}
}

// Compile-time interface check.
var _ storage.PairStore = (*PairStore)(nil)

// Upsert inserts a pair or updates its quote price, returning the id.
func (s *PairStore) Upsert(_ context.Context, p *domain.Pair) (int64, error) {
	if p == nil || p.From == "" || p.To == "" {
		return 0, storage.ErrInvalidInput
	}
	if s.tokens != nil && (!s.tokens.has(p.From) || !s.tokens.has(p.To)) {
		return 0, fmt.Errorf("pair %s/%s: %w: unknown token", p.From, p.To, storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[p.Key()]; ok {
		if p.QuotePrice != nil {
			q := *p.QuotePrice
			s.byID[id].QuotePrice = &q
		}
		return id, nil
	}

	cp := *p
	cp.ID = s.nextID
	s.nextID++
	s.byID[cp.ID] = &cp
	s.byKey[cp.Key()] = cp.ID
	return cp.ID, nil
}

// GetAll retrieves every pair, ordered by id.
func (s *PairStore) GetAll(_ context.Context) ([]*domain.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pair, 0, len(s.byID))
	for _, p := range s.byID {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateStats writes volume and liquidity columns. Unknown ids are ignored.
func (s *PairStore) UpdateStats(_ context.Context, stats []domain.PairStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range stats {
		p, ok := s.byID[st.PairID]
		if !ok {
			continue
		}
		p.FromVolume = st.FromVolume
		p.ToVolume = st.ToVolume
		p.FromLiquidity = st.FromLiquidity
		p.ToLiquidity = st.ToLiquidity
	}
	return nil
}

func (s *TokenStore) has(asset domain.AssetID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[asset]
	return ok
}
