package domain

import "github.com/shopspring/decimal"

// SwapRow is one persisted swap leg. Primary key: (OpID, LegIndex).
type SwapRow struct {
	OpID       string
	LegIndex   int
	Block      int64
	Timestamp  int64
	FeePaid    decimal.Decimal
	PairID     int64
	DexID      int
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
	FilterMode string
	SwapFee    *decimal.Decimal // set on the first leg only
}

// OperationRow is a persisted non-swap operation. Primary key: OpID.
// Columns that a kind does not use are left empty.
type OperationRow struct {
	OpID          string
	Kind          OpKind
	Block         int64
	Timestamp     int64
	FeePaid       decimal.Decimal
	AssetA        AssetID
	AssetB        AssetID
	AmountA       decimal.Decimal
	AmountB       decimal.Decimal
	Reference     string // external hash, destination address or batch type
	ReferenceType string // destination address type
}

// TokenAmountRow is a persisted burn or buyback. Primary key: OpID.
type TokenAmountRow struct {
	OpID      string
	Block     int64
	Timestamp int64
	Asset     AssetID
	Amount    decimal.Decimal
}

// BlockRows is everything persisted for one block, written as a unit.
type BlockRows struct {
	Block      int64
	Swaps      []*SwapRow
	Operations []*OperationRow
	Burns      []*TokenAmountRow
	BuyBacks   []*TokenAmountRow
}

// Empty reports whether the block produced nothing to persist.
func (b *BlockRows) Empty() bool {
	return len(b.Swaps) == 0 && len(b.Operations) == 0 && len(b.Burns) == 0 && len(b.BuyBacks) == 0
}

// OpIDs returns the distinct operation ids in the block, in first-seen order.
func (b *BlockRows) OpIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range b.Swaps {
		add(r.OpID)
	}
	for _, r := range b.Operations {
		add(r.OpID)
	}
	for _, r := range b.Burns {
		add(r.OpID)
	}
	for _, r := range b.BuyBacks {
		add(r.OpID)
	}
	return ids
}

// Dedupe keeps only the last occurrence of each operation, preserving the
// order of the kept rows. A swap occurrence is the whole run of its legs, so
// legs of two swaps sharing an id are never mixed.
func (b *BlockRows) Dedupe() {
	b.Swaps = lastSwaps(b.Swaps)
	b.Operations = lastWins(b.Operations, func(r *OperationRow) string { return r.OpID })
	b.Burns = lastWins(b.Burns, func(r *TokenAmountRow) string { return r.OpID })
	b.BuyBacks = lastWins(b.BuyBacks, func(r *TokenAmountRow) string { return r.OpID })
}

// lastSwaps keeps the legs of the last swap occurrence per operation id.
// Legs of one occurrence are contiguous and start at index 0.
func lastSwaps(rows []*SwapRow) []*SwapRow {
	occurrence := make([]int, len(rows))
	last := make(map[string]int, len(rows))
	n := -1
	for i, r := range rows {
		if i == 0 || r.LegIndex == 0 || rows[i-1].OpID != r.OpID {
			n++
		}
		occurrence[i] = n
		last[r.OpID] = n
	}
	out := rows[:0:0]
	for i, r := range rows {
		if last[r.OpID] == occurrence[i] {
			out = append(out, r)
		}
	}
	return out
}

func lastWins[T any, K comparable](rows []T, key func(T) K) []T {
	last := make(map[K]int, len(rows))
	for i, r := range rows {
		last[key(r)] = i
	}
	out := rows[:0:0]
	for i, r := range rows {
		if last[key(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

// PairStats are the derived columns of a pair written by the aggregator.
type PairStats struct {
	PairID        int64
	FromVolume    decimal.Decimal
	ToVolume      decimal.Decimal
	FromLiquidity decimal.Decimal
	ToLiquidity   decimal.Decimal
}

// StatsSnapshot is a timestamped copy of one token's or pair's statistics.
type StatsSnapshot struct {
	TakenAt       int64  // Unix milliseconds
	Entity        string // "token" or "pair"
	Key           string // asset id or pair id
	Volume        decimal.Decimal
	ToVolume      decimal.Decimal
	FromLiquidity decimal.Decimal
	ToLiquidity   decimal.Decimal
}
