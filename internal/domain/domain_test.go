package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapLegs_SingleHop(t *testing.T) {
	s := &Swap{
		InputAsset:   VAL,
		OutputAsset:  XOR,
		InputAmount:  decimal.NewFromInt(100),
		OutputAmount: decimal.NewFromInt(40),
	}

	legs := s.Legs()
	require.Len(t, legs, 1)
	assert.Equal(t, VAL, legs[0].FromAsset)
	assert.Equal(t, XOR, legs[0].ToAsset)
	assert.True(t, legs[0].FromAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, legs[0].ToAmount.Equal(decimal.NewFromInt(40)))
}

func TestSwapLegs_Chained(t *testing.T) {
	s := &Swap{
		InputAsset:    VAL,
		OutputAsset:   PSWAP,
		InputAmount:   decimal.NewFromInt(100),
		OutputAmount:  decimal.NewFromInt(7),
		Intermediates: []AssetAmount{{Asset: XOR, Amount: decimal.NewFromInt(30)}},
	}

	legs := s.Legs()
	require.Len(t, legs, 2)
	assert.Equal(t, []AssetID{VAL, XOR}, []AssetID{legs[0].FromAsset, legs[0].ToAsset})
	assert.Equal(t, []AssetID{XOR, PSWAP}, []AssetID{legs[1].FromAsset, legs[1].ToAsset})
	assert.True(t, legs[0].ToAmount.Equal(legs[1].FromAmount))
	assert.True(t, legs[1].ToAmount.Equal(decimal.NewFromInt(7)))
}

func TestParseAssetID(t *testing.T) {
	id, err := ParseAssetID("0x0200040000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, VAL, id)

	id, err = ParseAssetID("0X02")
	require.NoError(t, err)
	assert.Equal(t, AssetID("0x0000000000000000000000000000000000000000000000000000000000000002"), id)

	_, err = ParseAssetID("0xzz")
	assert.Error(t, err)
	_, err = ParseAssetID("")
	assert.Error(t, err)
}

func TestIsDirectExchangePair(t *testing.T) {
	assert.True(t, IsDirectExchangePair(ETH, KXOR))
	assert.True(t, IsDirectExchangePair(KXOR, ETH))
	assert.True(t, IsDirectExchangePair(XST, VAL))
	assert.False(t, IsDirectExchangePair(VAL, PSWAP))
}

func TestBlockRowsDedupe_KeepsLast(t *testing.T) {
	rows := &BlockRows{
		Swaps: []*SwapRow{
			{OpID: "a", LegIndex: 0, FilterMode: "first"},
			{OpID: "b", LegIndex: 0},
			{OpID: "a", LegIndex: 0, FilterMode: "second"},
			{OpID: "a", LegIndex: 1},
		},
		Operations: []*OperationRow{{OpID: "c", Reference: "x"}, {OpID: "c", Reference: "y"}},
	}

	rows.Dedupe()

	require.Len(t, rows.Swaps, 3)
	assert.Equal(t, "b", rows.Swaps[0].OpID)
	assert.Equal(t, "second", rows.Swaps[1].FilterMode)
	require.Len(t, rows.Operations, 1)
	assert.Equal(t, "y", rows.Operations[0].Reference)
	assert.Equal(t, []string{"b", "a", "c"}, rows.OpIDs())
}

func TestBlockRowsDedupe_KeepsWholeLastSwap(t *testing.T) {
	rows := &BlockRows{
		Swaps: []*SwapRow{
			{OpID: "0xaa", LegIndex: 0, FilterMode: "first"},
			{OpID: "0xaa", LegIndex: 1, FilterMode: "first"},
			{OpID: "0xaa", LegIndex: 0, FilterMode: "second"},
		},
	}

	rows.Dedupe()

	require.Len(t, rows.Swaps, 1)
	assert.Equal(t, 0, rows.Swaps[0].LegIndex)
	assert.Equal(t, "second", rows.Swaps[0].FilterMode)

	rows = &BlockRows{
		Swaps: []*SwapRow{
			{OpID: "0xaa", LegIndex: 0, FilterMode: "first"},
			{OpID: "0xbb", LegIndex: 0},
			{OpID: "0xaa", LegIndex: 0, FilterMode: "second"},
			{OpID: "0xaa", LegIndex: 1, FilterMode: "second"},
			{OpID: "0xaa", LegIndex: 2, FilterMode: "second"},
		},
	}

	rows.Dedupe()

	require.Len(t, rows.Swaps, 4)
	assert.Equal(t, "0xbb", rows.Swaps[0].OpID)
	for i, r := range rows.Swaps[1:] {
		assert.Equal(t, i, r.LegIndex)
		assert.Equal(t, "second", r.FilterMode)
	}
}

func TestScale(t *testing.T) {
	raw := decimal.RequireFromString("200000000000000000")
	assert.Equal(t, "0.2", Scale(raw, 18).String())
}
