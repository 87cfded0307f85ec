// Package pricing provides base-asset prices for fee conversion.
package pricing

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/extract"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/substrate"
)

// notional is the quoted input amount: one whole unit at 18 decimals.
var notional = decimal.New(1, 18)

// Quoter asks the chain for swap quotes.
type Quoter interface {
	Quote(ctx context.Context, dexID int, input, output domain.AssetID, amount decimal.Decimal, mode substrate.QuoteMode) (*decimal.Decimal, error)
}

// Options configures an Oracle.
type Options struct {
	Cache  Cache
	Logger *log.Logger
}

// Oracle prices assets in the base asset of a DEX.
type Oracle struct {
	quoter Quoter
	cache  Cache
	logger *log.Logger
}

var _ extract.FeeConverter = (*Oracle)(nil)

// NewOracle creates an oracle. The cache defaults to a MemoryCache.
func NewOracle(quoter Quoter, opts Options) *Oracle {
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Oracle{quoter: quoter, cache: opts.Cache, logger: opts.Logger}
}

// SetQuoter replaces the quote source, used after a reconnect.
func (o *Oracle) SetQuoter(q Quoter) {
	o.quoter = q
}

// Price returns the price of one unit of asset in the DEX base asset.
// An asset without a route prices at zero, and that zero is cached too.
func (o *Oracle) Price(ctx context.Context, dexID int, asset domain.AssetID) (decimal.Decimal, error) {
	base, ok := domain.DexBaseAsset(dexID)
	if !ok {
		return decimal.Zero, fmt.Errorf("price %s: unknown dex %d", asset, dexID)
	}
	if asset == base {
		return decimal.NewFromInt(1), nil
	}

	key := Key{DexID: dexID, Asset: asset}
	if p, ok, err := o.cache.Get(ctx, key); err != nil {
		return decimal.Zero, err
	} else if ok {
		observability.RecordQuoteCache(true)
		return p, nil
	}
	observability.RecordQuoteCache(false)

	out, err := o.quoter.Quote(ctx, dexID, asset, base, notional, substrate.WithDesiredInput)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s on dex %d: %w", asset, dexID, err)
	}
	price := decimal.Zero
	if out != nil {
		price = out.Div(notional)
	} else {
		o.logger.Printf("no route for %s on dex %d, pricing at zero", asset, dexID)
	}
	if err := o.cache.Set(ctx, key, price); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

// Observe records a price implied by an executed swap.
func (o *Oracle) Observe(ctx context.Context, dexID int, asset domain.AssetID, price decimal.Decimal) error {
	if base, ok := domain.DexBaseAsset(dexID); !ok || asset == base {
		return nil
	}
	return o.cache.Set(ctx, Key{DexID: dexID, Asset: asset}, price)
}

// ConvertFee sums amount*price over parts.
func (o *Oracle) ConvertFee(ctx context.Context, dexID int, parts []domain.AssetAmount) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, part := range parts {
		price, err := o.Price(ctx, dexID, part.Asset)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(part.Amount.Mul(price))
	}
	return total, nil
}

// Reset starts a new session with an empty cache.
func (o *Oracle) Reset(ctx context.Context, sessionID string) error {
	if err := o.cache.Reset(ctx, sessionID); err != nil {
		return fmt.Errorf("reset price cache: %w", err)
	}
	return nil
}
