package substrate

import (
	"context"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// Client is the chain access the indexer needs.
type Client interface {
	// FinalizedHead returns the number of the latest finalized block.
	FinalizedHead(ctx context.Context) (int64, error)

	// GetBlock retrieves the decoded block with the given number.
	GetBlock(ctx context.Context, number int64) (*Block, error)

	// GetEvents retrieves the decoded events of a block, in emission order.
	GetEvents(ctx context.Context, blockHash string) ([]Event, error)

	// Quote prices amount of input in output on a DEX.
	// Returns nil when no route exists.
	Quote(ctx context.Context, dexID int, input, output domain.AssetID, amount decimal.Decimal, mode QuoteMode) (*decimal.Decimal, error)

	// ListAssets returns metadata for every registered asset.
	ListAssets(ctx context.Context) ([]domain.AssetInfo, error)

	// PoolReserves returns the XYK pool reserves for (base, target), or nil
	// when the pool does not exist.
	PoolReserves(ctx context.Context, base, target domain.AssetID) (*Reserves, error)

	// RuntimeVersion returns the runtime spec version.
	RuntimeVersion(ctx context.Context) (uint32, error)

	// Close releases the underlying connection.
	Close() error
}
