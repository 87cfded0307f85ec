package aggregate

import (
	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// defaultDecimals applies to assets without a token row.
const defaultDecimals int32 = 18

// Volumes are the scaled window volumes of every token and pair.
type Volumes struct {
	Tokens map[domain.AssetID]decimal.Decimal
	Pairs  map[int64]domain.PairStats
}

// ComputeVolumes sums swap legs, burns and buybacks into scaled volumes.
// Every token and pair gets an entry, zero when nothing contributed.
// Legs of pairs that are not listed are ignored.
func ComputeVolumes(
	tokens []*domain.Token,
	pairs []*domain.Pair,
	swaps []*domain.SwapRow,
	burns, buyBacks []*domain.TokenAmountRow,
) *Volumes {
	decimals := make(map[domain.AssetID]int32, len(tokens))
	v := &Volumes{
		Tokens: make(map[domain.AssetID]decimal.Decimal, len(tokens)),
		Pairs:  make(map[int64]domain.PairStats, len(pairs)),
	}
	for _, t := range tokens {
		decimals[t.AssetID] = t.Decimals
		v.Tokens[t.AssetID] = decimal.Zero
	}
	scale := func(asset domain.AssetID, raw decimal.Decimal) decimal.Decimal {
		d, ok := decimals[asset]
		if !ok {
			d = defaultDecimals
		}
		return domain.Scale(raw, d)
	}
	addToken := func(asset domain.AssetID, amount decimal.Decimal) {
		if cur, ok := v.Tokens[asset]; ok {
			v.Tokens[asset] = cur.Add(amount)
		}
	}

	byID := make(map[int64]*domain.Pair, len(pairs))
	for _, p := range pairs {
		byID[p.ID] = p
		v.Pairs[p.ID] = domain.PairStats{
			PairID:        p.ID,
			FromVolume:    decimal.Zero,
			ToVolume:      decimal.Zero,
			FromLiquidity: decimal.Zero,
			ToLiquidity:   decimal.Zero,
		}
	}

	for _, leg := range swaps {
		p, ok := byID[leg.PairID]
		if !ok {
			continue
		}
		from := scale(p.From, leg.FromAmount)
		to := scale(p.To, leg.ToAmount)

		stats := v.Pairs[p.ID]
		stats.FromVolume = stats.FromVolume.Add(from)
		stats.ToVolume = stats.ToVolume.Add(to)
		v.Pairs[p.ID] = stats

		addToken(p.From, from)
		addToken(p.To, to)
	}

	for _, list := range [][]*domain.TokenAmountRow{burns, buyBacks} {
		for _, r := range list {
			addToken(r.Asset, scale(r.Asset, r.Amount))
		}
	}
	return v
}
