package indexer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage/memory"
	"sora-dex-indexer/internal/substrate/stub"
)

type observed struct {
	dexID int
	asset domain.AssetID
	price decimal.Decimal
}

type recorder struct {
	seen []observed
}

func (r *recorder) Observe(_ context.Context, dexID int, asset domain.AssetID, price decimal.Decimal) error {
	r.seen = append(r.seen, observed{dexID, asset, price})
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMapper_MultiHopSwap(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	chain := stub.NewClient()
	chain.Assets = []domain.AssetInfo{{AssetID: domain.PSWAP, Symbol: "PSWAP", Precision: 18}}

	cache := NewCache(stores.Tokens, stores.Pairs, quiet)
	require.NoError(t, cache.Load(ctx))
	rec := &recorder{}
	m := NewMapper(cache, rec)

	fee := d("3")
	swap := &domain.Swap{
		OpHeader:      domain.OpHeader{ID: "0xab", Block: 4, Timestamp: 99, FeePaid: d("70")},
		DexID:         0,
		InputAsset:    domain.VAL,
		OutputAsset:   domain.PSWAP,
		InputAmount:   d("100"),
		OutputAmount:  d("50"),
		FilterMode:    domain.FilterModeSmart,
		SwapFee:       &fee,
		Intermediates: []domain.AssetAmount{{Asset: domain.XOR, Amount: d("400")}},
	}

	rows, err := m.Map(ctx, chain, 4, []domain.Operation{swap})
	require.NoError(t, err)
	require.Len(t, rows.Swaps, 2)

	first, second := rows.Swaps[0], rows.Swaps[1]
	assert.Equal(t, 0, first.LegIndex)
	assert.Equal(t, "70", first.FeePaid.String())
	require.NotNil(t, first.SwapFee)
	assert.Equal(t, 1, second.LegIndex)
	assert.True(t, second.FeePaid.IsZero())
	assert.Nil(t, second.SwapFee)
	assert.NotEqual(t, first.PairID, second.PairID)

	require.Len(t, rec.seen, 1, "only the leg into the base asset is observed")
	assert.Equal(t, domain.VAL, rec.seen[0].asset)
	assert.Equal(t, "4", rec.seen[0].price.String())

	tokens, pairs := cache.Len()
	assert.Equal(t, 3, tokens)
	assert.Equal(t, 2, pairs)

	all, err := stores.Tokens.GetAll(ctx)
	require.NoError(t, err)
	for _, tok := range all {
		if tok.AssetID == domain.PSWAP {
			assert.Equal(t, "PSWAP", tok.Symbol)
		} else {
			assert.Equal(t, int32(18), tok.Decimals, "unlisted assets get default precision")
			assert.Empty(t, tok.Symbol)
		}
	}
}

func TestMapper_NonSwapKinds(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	chain := stub.NewClient()
	cache := NewCache(stores.Tokens, stores.Pairs, quiet)
	m := NewMapper(cache, nil)

	h := func(id string) domain.OpHeader {
		return domain.OpHeader{ID: id, Block: 8, Timestamp: 5, FeePaid: d("1")}
	}
	ops := []domain.Operation{
		&domain.Withdraw{OpHeader: h("0x1"), AssetA: domain.XOR, AssetB: domain.VAL, AmountA: d("1"), AmountB: d("2")},
		&domain.Deposit{OpHeader: h("0x2"), AssetA: domain.XOR, AssetB: domain.PSWAP, AmountA: d("3"), AmountB: d("4")},
		&domain.InBridgeTx{OpHeader: h("0x3"), Asset: domain.ETH, Amount: d("5"), ExternalHash: "0xeth"},
		&domain.OutBridgeTx{OpHeader: h("0x4"), Asset: domain.VAL, Amount: d("6"), Address: "0xdead", AddressType: "EthAddress"},
		&domain.ClaimTx{OpHeader: h("0x5"), Asset: domain.VAL, Amount: d("7")},
		&domain.TransferTx{OpHeader: h("0x6"), Asset: domain.XOR, Amount: d("8")},
		&domain.BondStakeTx{OpHeader: h("0x7"), BatchType: domain.BatchTypeBondStake, Amount: d("9")},
		&domain.Burn{OpHeader: h("0x8"), Asset: domain.PSWAP, Amount: d("10")},
		&domain.BuyBack{OpHeader: h("0x9"), Asset: domain.VAL, Amount: d("11")},
	}

	rows, err := m.Map(ctx, chain, 8, ops)
	require.NoError(t, err)
	require.Len(t, rows.Operations, 7)
	require.Len(t, rows.Burns, 1)
	require.Len(t, rows.BuyBacks, 1)
	assert.Empty(t, rows.Swaps)

	in := rows.Operations[2]
	assert.Equal(t, domain.KindInBridge, in.Kind)
	assert.Equal(t, "0xeth", in.Reference)

	out := rows.Operations[3]
	assert.Equal(t, "0xdead", out.Reference)
	assert.Equal(t, "EthAddress", out.ReferenceType)

	bond := rows.Operations[6]
	assert.Equal(t, domain.BatchTypeBondStake, bond.Reference)
	assert.Empty(t, bond.AssetA)
	assert.Equal(t, "9", bond.AmountA.String())

	assert.Equal(t, "10", rows.Burns[0].Amount.String())
	assert.Equal(t, domain.VAL, rows.BuyBacks[0].Asset)

	tokens, _ := cache.Len()
	assert.Equal(t, 4, tokens, "XOR, VAL, PSWAP and ETH")
	assert.Equal(t, 1, chain.ListAssetsCalls)
}

func TestCache_ReloadAndSession(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	chain := stub.NewClient()
	cache := NewCache(stores.Tokens, stores.Pairs, quiet)

	price := d("2")
	id, err := cache.Pair(ctx, chain, domain.XOR, domain.VAL, &price)
	require.NoError(t, err)
	again, err := cache.Pair(ctx, chain, domain.XOR, domain.VAL, nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	fresh := NewCache(stores.Tokens, stores.Pairs, quiet)
	require.NoError(t, fresh.Load(ctx))
	tokens, pairs := fresh.Len()
	assert.Equal(t, 2, tokens)
	assert.Equal(t, 1, pairs)

	cache.ResetSession()
	_, err = cache.Token(ctx, chain, domain.PSWAP)
	require.NoError(t, err)
	assert.Equal(t, 2, chain.ListAssetsCalls)
}
