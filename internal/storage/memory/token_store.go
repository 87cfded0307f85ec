package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[domain.AssetID]*domain.Token
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{data: make(map[domain.AssetID]*domain.Token)}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Upsert inserts a token or updates its metadata.
func (s *TokenStore) Upsert(_ context.Context, t *domain.Token) error {
	if t == nil || t.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[t.AssetID]; ok {
		existing.Symbol = t.Symbol
		existing.Name = t.Name
		existing.Decimals = t.Decimals
		return nil
	}
	cp := *t
	s.data[t.AssetID] = &cp
	return nil
}

// GetAll retrieves every token, ordered by asset id.
func (s *TokenStore) GetAll(_ context.Context) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Token, 0, len(s.data))
	for _, t := range s.data {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AssetID < result[j].AssetID })
	return result, nil
}

// UpdateVolumes sets the trade volume of each listed token. Unknown assets
// are ignored.
func (s *TokenStore) UpdateVolumes(_ context.Context, volumes map[domain.AssetID]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for asset, v := range volumes {
		if t, ok := s.data[asset]; ok {
			t.TradeVolume = v
		}
	}
	return nil
}
