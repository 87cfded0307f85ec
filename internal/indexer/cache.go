// Package indexer walks the chain block by block and persists what it finds.
package indexer

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// AssetLister returns the chain's asset metadata.
type AssetLister interface {
	ListAssets(ctx context.Context) ([]domain.AssetInfo, error)
}

// Cache holds the tokens and pairs of the index in memory. It is loaded once
// per pass and owned by the sync worker.
type Cache struct {
	tokenStore storage.TokenStore
	pairStore  storage.PairStore
	logger     *log.Logger

	tokens   map[domain.AssetID]*domain.Token
	pairs    map[domain.PairKey]*domain.Pair
	metadata map[domain.AssetID]domain.AssetInfo // nil until listed this session
}

// NewCache creates an empty cache over the given stores.
func NewCache(tokens storage.TokenStore, pairs storage.PairStore, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{
		tokenStore: tokens,
		pairStore:  pairs,
		logger:     logger,
		tokens:     make(map[domain.AssetID]*domain.Token),
		pairs:      make(map[domain.PairKey]*domain.Pair),
	}
}

// Load replaces the cached tokens and pairs with the stored ones.
func (c *Cache) Load(ctx context.Context) error {
	tokens, err := c.tokenStore.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	pairs, err := c.pairStore.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load pairs: %w", err)
	}

	c.tokens = make(map[domain.AssetID]*domain.Token, len(tokens))
	for _, t := range tokens {
		c.tokens[t.AssetID] = t
	}
	c.pairs = make(map[domain.PairKey]*domain.Pair, len(pairs))
	for _, p := range pairs {
		c.pairs[p.Key()] = p
	}
	return nil
}

// ResetSession forgets the chain's asset list so the next new token lists
// it again.
func (c *Cache) ResetSession() {
	c.metadata = nil
}

// Len returns the number of cached tokens and pairs.
func (c *Cache) Len() (tokens, pairs int) {
	return len(c.tokens), len(c.pairs)
}

// Token returns the token for asset, creating it from chain metadata when it
// is not known yet. Assets missing from the chain's list are created with
// empty names and default precision.
func (c *Cache) Token(ctx context.Context, lister AssetLister, asset domain.AssetID) (*domain.Token, error) {
	if t, ok := c.tokens[asset]; ok {
		return t, nil
	}

	if c.metadata == nil {
		infos, err := lister.ListAssets(ctx)
		if err != nil {
			return nil, fmt.Errorf("list assets: %w", err)
		}
		c.metadata = make(map[domain.AssetID]domain.AssetInfo, len(infos))
		for _, info := range infos {
			c.metadata[info.AssetID] = info
		}
	}

	info, ok := c.metadata[asset]
	if !ok {
		c.logger.Printf("asset %s has no chain metadata, using defaults", asset)
		info = domain.AssetInfo{AssetID: asset, Precision: 18}
	}
	t := info.ToToken()
	if err := c.tokenStore.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("create token %s: %w", asset, err)
	}
	c.tokens[asset] = t
	return t, nil
}

// Pair returns the id of the (from, to) pair, creating it and both tokens
// when needed. A non-nil price is stored as the pair's latest quote price.
func (c *Cache) Pair(ctx context.Context, lister AssetLister, from, to domain.AssetID, price *decimal.Decimal) (int64, error) {
	key := domain.PairKey{From: from, To: to}
	if p, ok := c.pairs[key]; ok && price == nil {
		return p.ID, nil
	}

	for _, asset := range []domain.AssetID{from, to} {
		if _, err := c.Token(ctx, lister, asset); err != nil {
			return 0, err
		}
	}

	p := &domain.Pair{From: from, To: to, QuotePrice: price}
	id, err := c.pairStore.Upsert(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("upsert pair %s/%s: %w", from, to, err)
	}

	if cached, ok := c.pairs[key]; ok {
		cached.QuotePrice = price
		return id, nil
	}
	p.ID = id
	c.pairs[key] = p
	return id, nil
}
