package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// TokenStore provides access to token storage.
type TokenStore interface {
	// Upsert inserts a token or updates its metadata. Trade volume is left
	// untouched on update.
	Upsert(ctx context.Context, t *domain.Token) error

	// GetAll retrieves every token, ordered by asset id.
	GetAll(ctx context.Context) ([]*domain.Token, error)

	// UpdateVolumes sets the trade volume of each listed token.
	UpdateVolumes(ctx context.Context, volumes map[domain.AssetID]decimal.Decimal) error
}

// PairStore provides access to pair storage.
type PairStore interface {
	// Upsert inserts a pair or updates its quote price when set, returning
	// the pair id. Both tokens must exist.
	Upsert(ctx context.Context, p *domain.Pair) (int64, error)

	// GetAll retrieves every pair, ordered by id.
	GetAll(ctx context.Context) ([]*domain.Pair, error)

	// UpdateStats writes the aggregator's volume and liquidity columns.
	UpdateStats(ctx context.Context, stats []domain.PairStats) error
}

// OperationStore provides access to swaps, non-swap operations, burns and
// buybacks.
type OperationStore interface {
	// InsertBlock adds all rows of a block atomically. Returns ErrDuplicateKey
	// if any primary key already exists or repeats within the block.
	InsertBlock(ctx context.Context, rows *domain.BlockRows) error

	// ReplaceBlock deletes every row carrying one of the block's operation ids
	// and inserts the block's rows, atomically. Returns ErrDuplicateKey if a
	// primary key repeats within the block.
	ReplaceBlock(ctx context.Context, rows *domain.BlockRows) error

	// DeleteByIDs removes every row with one of the operation ids.
	DeleteByIDs(ctx context.Context, ids []string) error

	// MaxBlock returns the highest persisted block. ok is false when nothing
	// is persisted.
	MaxBlock(ctx context.Context) (block int64, ok bool, err error)

	// SwapsSince retrieves swap legs with timestamp > sinceMs.
	SwapsSince(ctx context.Context, sinceMs int64) ([]*domain.SwapRow, error)

	// BurnsSince retrieves burns with timestamp > sinceMs.
	BurnsSince(ctx context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error)

	// BuyBacksSince retrieves buybacks with timestamp > sinceMs.
	BuyBacksSince(ctx context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error)
}

// SnapshotStore receives timestamped copies of token and pair statistics.
type SnapshotStore interface {
	// InsertSnapshots appends snapshots.
	InsertSnapshots(ctx context.Context, snapshots []*domain.StatsSnapshot) error
}

// Stores bundles the stores one indexer instance writes to.
type Stores struct {
	Tokens     TokenStore
	Pairs      PairStore
	Operations OperationStore
	Snapshots  SnapshotStore // optional
}
