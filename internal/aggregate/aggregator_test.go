package aggregate

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
	"sora-dex-indexer/internal/storage/memory"
	"sora-dex-indexer/internal/substrate"
	"sora-dex-indexer/internal/substrate/stub"
)

// now is the fixed aggregation time used by every test.
var now = time.UnixMilli(100_000_000)

func newAggregator(stores storage.Stores) *Aggregator {
	return New(Options{
		Tokens:     stores.Tokens,
		Pairs:      stores.Pairs,
		Operations: stores.Operations,
		Snapshots:  stores.Snapshots,
		Now:        func() time.Time { return now },
		Logger:     log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
}

func seed(t *testing.T, ctx context.Context, stores storage.Stores) (xorVal, valXor int64) {
	t.Helper()
	require.NoError(t, stores.Tokens.Upsert(ctx, &domain.Token{AssetID: domain.XOR, Symbol: "XOR", Decimals: 18}))
	require.NoError(t, stores.Tokens.Upsert(ctx, &domain.Token{AssetID: domain.VAL, Symbol: "VAL", Decimals: 18}))
	require.NoError(t, stores.Tokens.Upsert(ctx, &domain.Token{AssetID: domain.PSWAP, Symbol: "PSWAP", Decimals: 18}))

	var err error
	xorVal, err = stores.Pairs.Upsert(ctx, &domain.Pair{From: domain.XOR, To: domain.VAL})
	require.NoError(t, err)
	valXor, err = stores.Pairs.Upsert(ctx, &domain.Pair{From: domain.VAL, To: domain.XOR})
	require.NoError(t, err)
	return xorVal, valXor
}

func pairByID(t *testing.T, ctx context.Context, pairs storage.PairStore, id int64) *domain.Pair {
	t.Helper()
	all, err := pairs.GetAll(ctx)
	require.NoError(t, err)
	for _, p := range all {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("pair %d not found", id)
	return nil
}

func tokenVolumes(t *testing.T, ctx context.Context, tokens storage.TokenStore) map[domain.AssetID]decimal.Decimal {
	t.Helper()
	all, err := tokens.GetAll(ctx)
	require.NoError(t, err)
	out := make(map[domain.AssetID]decimal.Decimal, len(all))
	for _, tok := range all {
		out[tok.AssetID] = tok.TradeVolume
	}
	return out
}

func TestAggregator_ScaledVolumes(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	xorVal, valXor := seed(t, ctx, stores)

	ts := now.UnixMilli() - 1000
	stale := now.Add(-25 * time.Hour).UnixMilli()
	require.NoError(t, stores.Operations.InsertBlock(ctx, &domain.BlockRows{
		Block: 1,
		Swaps: []*domain.SwapRow{
			{OpID: "0x1", Block: 1, Timestamp: ts, PairID: xorVal,
				FromAmount: decimal.RequireFromString("200000000000000000"), ToAmount: decimal.RequireFromString("500000000000000000")},
			{OpID: "0x2", Block: 1, Timestamp: stale, PairID: valXor,
				FromAmount: decimal.RequireFromString("9000000000000000000"), ToAmount: decimal.RequireFromString("9000000000000000000")},
		},
		Burns:    []*domain.TokenAmountRow{{OpID: "0x3", Block: 1, Timestamp: ts, Asset: domain.PSWAP, Amount: decimal.RequireFromString("1500000000000000000")}},
		BuyBacks: []*domain.TokenAmountRow{{OpID: "0x4", Block: 1, Timestamp: ts, Asset: domain.VAL, Amount: decimal.RequireFromString("1000000000000000000")}},
	}))

	res, err := newAggregator(stores).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Legs, "legs outside the window are excluded")
	assert.Equal(t, 3, res.Tokens)

	p := pairByID(t, ctx, stores.Pairs, xorVal)
	assert.Equal(t, "0.2", p.FromVolume.String())
	assert.Equal(t, "0.5", p.ToVolume.String())

	reverse := pairByID(t, ctx, stores.Pairs, valXor)
	assert.True(t, reverse.FromVolume.IsZero())

	vols := tokenVolumes(t, ctx, stores.Tokens)
	assert.Equal(t, "0.2", vols[domain.XOR].String())
	assert.Equal(t, "1.5", vols[domain.VAL].String(), "to-side 0.5 plus buyback 1")
	assert.Equal(t, "1.5", vols[domain.PSWAP].String())
}

func TestAggregator_EmptyWindowWritesZeros(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	xorVal, _ := seed(t, ctx, stores)

	require.NoError(t, stores.Tokens.UpdateVolumes(ctx, map[domain.AssetID]decimal.Decimal{domain.XOR: decimal.NewFromInt(42)}))
	require.NoError(t, stores.Pairs.UpdateStats(ctx, []domain.PairStats{{PairID: xorVal, FromVolume: decimal.NewFromInt(7)}}))

	_, err := newAggregator(stores).Run(ctx, nil)
	require.NoError(t, err)

	for asset, v := range tokenVolumes(t, ctx, stores.Tokens) {
		assert.True(t, v.IsZero(), "token %s", asset)
	}
	pairs, err := stores.Pairs.GetAll(ctx)
	require.NoError(t, err)
	for _, p := range pairs {
		assert.True(t, p.FromVolume.IsZero(), "pair %d", p.ID)
		assert.True(t, p.ToVolume.IsZero(), "pair %d", p.ID)
	}
}

func TestAggregator_LiquidityBothOrientations(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	xorVal, valXor := seed(t, ctx, stores)

	chain := stub.NewClient()
	chain.SetReserves(domain.XOR, domain.VAL, &substrate.Reserves{
		Base:   decimal.RequireFromString("3000000000000000000"),
		Target: decimal.RequireFromString("7000000000000000000"),
	})

	_, err := newAggregator(stores).Run(ctx, chain)
	require.NoError(t, err)

	p := pairByID(t, ctx, stores.Pairs, xorVal)
	assert.Equal(t, "3", p.FromLiquidity.String())
	assert.Equal(t, "7", p.ToLiquidity.String())

	r := pairByID(t, ctx, stores.Pairs, valXor)
	assert.Equal(t, "7", r.FromLiquidity.String())
	assert.Equal(t, "3", r.ToLiquidity.String())
}

func TestAggregator_Snapshots(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	seed(t, ctx, stores)

	res, err := newAggregator(stores).Run(ctx, nil)
	require.NoError(t, err)

	snaps := stores.Snapshots.(*memory.SnapshotStore).All()
	require.Len(t, snaps, 5)
	for _, s := range snaps {
		assert.Equal(t, res.TakenAt, s.TakenAt)
	}
	assert.Equal(t, "token", snaps[0].Entity)
	assert.Equal(t, "pair", snaps[4].Entity)
}

type failingPools struct{}

func (failingPools) PoolReserves(context.Context, domain.AssetID, domain.AssetID) (*substrate.Reserves, error) {
	return nil, errors.New("node gone")
}

func TestAggregator_ReserveError(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	seed(t, ctx, stores)

	_, err := newAggregator(stores).Run(ctx, failingPools{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node gone")
}

func TestComputeVolumes_UnknownPairIgnored(t *testing.T) {
	v := ComputeVolumes(nil, nil, []*domain.SwapRow{{PairID: 99, FromAmount: decimal.NewFromInt(1), ToAmount: decimal.NewFromInt(1)}}, nil, nil)
	assert.Empty(t, v.Pairs)
	assert.Empty(t, v.Tokens)
}
