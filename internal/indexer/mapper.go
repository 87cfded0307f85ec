package indexer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// PriceObserver learns prices from executed swaps.
type PriceObserver interface {
	Observe(ctx context.Context, dexID int, asset domain.AssetID, price decimal.Decimal) error
}

// Mapper turns extracted operations into persistable rows, resolving tokens
// and pairs through the cache.
type Mapper struct {
	cache    *Cache
	observer PriceObserver
}

// NewMapper creates a mapper. observer may be nil.
func NewMapper(cache *Cache, observer PriceObserver) *Mapper {
	return &Mapper{cache: cache, observer: observer}
}

// Map converts the operations of one block.
func (m *Mapper) Map(ctx context.Context, lister AssetLister, block int64, ops []domain.Operation) (*domain.BlockRows, error) {
	rows := &domain.BlockRows{Block: block}
	for _, op := range ops {
		if err := m.mapOne(ctx, lister, rows, op); err != nil {
			return nil, fmt.Errorf("map %s %s: %w", op.Kind(), op.Header().ID, err)
		}
	}
	return rows, nil
}

func (m *Mapper) mapOne(ctx context.Context, lister AssetLister, rows *domain.BlockRows, op domain.Operation) error {
	h := op.Header()
	row := func(kind domain.OpKind) *domain.OperationRow {
		return &domain.OperationRow{
			OpID:      h.ID,
			Kind:      kind,
			Block:     h.Block,
			Timestamp: h.Timestamp,
			FeePaid:   h.FeePaid,
			AmountA:   decimal.Zero,
			AmountB:   decimal.Zero,
		}
	}

	switch o := op.(type) {
	case *domain.Swap:
		return m.mapSwap(ctx, lister, rows, o)

	case *domain.Withdraw:
		if err := m.ensureTokens(ctx, lister, o.AssetA, o.AssetB); err != nil {
			return err
		}
		r := row(domain.KindWithdraw)
		r.AssetA, r.AssetB, r.AmountA, r.AmountB = o.AssetA, o.AssetB, o.AmountA, o.AmountB
		rows.Operations = append(rows.Operations, r)

	case *domain.Deposit:
		if err := m.ensureTokens(ctx, lister, o.AssetA, o.AssetB); err != nil {
			return err
		}
		r := row(domain.KindDeposit)
		r.AssetA, r.AssetB, r.AmountA, r.AmountB = o.AssetA, o.AssetB, o.AmountA, o.AmountB
		rows.Operations = append(rows.Operations, r)

	case *domain.InBridgeTx:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		r := row(domain.KindInBridge)
		r.AssetA, r.AmountA, r.Reference = o.Asset, o.Amount, o.ExternalHash
		rows.Operations = append(rows.Operations, r)

	case *domain.OutBridgeTx:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		r := row(domain.KindOutBridge)
		r.AssetA, r.AmountA, r.Reference, r.ReferenceType = o.Asset, o.Amount, o.Address, o.AddressType
		rows.Operations = append(rows.Operations, r)

	case *domain.ClaimTx:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		r := row(domain.KindClaim)
		r.AssetA, r.AmountA = o.Asset, o.Amount
		rows.Operations = append(rows.Operations, r)

	case *domain.TransferTx:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		r := row(domain.KindTransfer)
		r.AssetA, r.AmountA = o.Asset, o.Amount
		rows.Operations = append(rows.Operations, r)

	case *domain.BondStakeTx:
		r := row(domain.KindBondStake)
		r.AmountA, r.Reference = o.Amount, o.BatchType
		rows.Operations = append(rows.Operations, r)

	case *domain.Burn:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		rows.Burns = append(rows.Burns, &domain.TokenAmountRow{
			OpID: h.ID, Block: h.Block, Timestamp: h.Timestamp, Asset: o.Asset, Amount: o.Amount,
		})

	case *domain.BuyBack:
		if err := m.ensureTokens(ctx, lister, o.Asset); err != nil {
			return err
		}
		rows.BuyBacks = append(rows.BuyBacks, &domain.TokenAmountRow{
			OpID: h.ID, Block: h.Block, Timestamp: h.Timestamp, Asset: o.Asset, Amount: o.Amount,
		})

	default:
		return fmt.Errorf("unsupported operation type %T", op)
	}
	return nil
}

// mapSwap writes one row per leg. The fee and swap fee are carried by leg 0.
func (m *Mapper) mapSwap(ctx context.Context, lister AssetLister, rows *domain.BlockRows, s *domain.Swap) error {
	base, _ := domain.DexBaseAsset(s.DexID)

	for i, leg := range s.Legs() {
		var price *decimal.Decimal
		if !leg.FromAmount.IsZero() {
			p := leg.ToAmount.Div(leg.FromAmount)
			price = &p
		}

		pairID, err := m.cache.Pair(ctx, lister, leg.FromAsset, leg.ToAsset, price)
		if err != nil {
			return err
		}

		if price != nil && m.observer != nil && leg.ToAsset == base {
			if err := m.observer.Observe(ctx, s.DexID, leg.FromAsset, *price); err != nil {
				return fmt.Errorf("observe price: %w", err)
			}
		}

		r := &domain.SwapRow{
			OpID:       s.ID,
			LegIndex:   i,
			Block:      s.Block,
			Timestamp:  s.Timestamp,
			FeePaid:    decimal.Zero,
			PairID:     pairID,
			DexID:      s.DexID,
			FromAmount: leg.FromAmount,
			ToAmount:   leg.ToAmount,
			FilterMode: s.FilterMode,
		}
		if i == 0 {
			r.FeePaid = s.FeePaid
			r.SwapFee = s.SwapFee
		}
		rows.Swaps = append(rows.Swaps, r)
	}
	return nil
}

func (m *Mapper) ensureTokens(ctx context.Context, lister AssetLister, assets ...domain.AssetID) error {
	for _, a := range assets {
		if a == "" {
			continue
		}
		if _, err := m.cache.Token(ctx, lister, a); err != nil {
			return err
		}
	}
	return nil
}
