package domain

import "github.com/shopspring/decimal"

// Token is a chain asset known to the index.
// Corresponds to the token table.
type Token struct {
	AssetID     AssetID
	Symbol      string
	Name        string
	Decimals    int32
	TradeVolume decimal.Decimal // rolling 24h, written only by the aggregator
}

// Pair is an ordered (from, to) asset pair. (A,B) and (B,A) are distinct rows.
// Corresponds to the pair table.
type Pair struct {
	ID            int64
	From          AssetID
	To            AssetID
	FromVolume    decimal.Decimal
	ToVolume      decimal.Decimal
	FromLiquidity decimal.Decimal
	ToLiquidity   decimal.Decimal
	QuotePrice    *decimal.Decimal // latest implied to/from price, nil until observed
}

// PairKey identifies a pair by its ordered assets.
type PairKey struct {
	From AssetID
	To   AssetID
}

// Key returns the ordered asset key of the pair.
func (p *Pair) Key() PairKey {
	return PairKey{From: p.From, To: p.To}
}

// AssetInfo is chain-provided asset metadata.
type AssetInfo struct {
	AssetID   AssetID
	Symbol    string
	Name      string
	Precision int32
}

// ToToken converts metadata into a fresh Token with zero volume.
func (a AssetInfo) ToToken() *Token {
	return &Token{
		AssetID:     a.AssetID,
		Symbol:      a.Symbol,
		Name:        a.Name,
		Decimals:    a.Precision,
		TradeVolume: decimal.Zero,
	}
}

// Scale converts a raw on-chain amount into token units.
func Scale(raw decimal.Decimal, decimals int32) decimal.Decimal {
	return raw.Shift(-decimals)
}
