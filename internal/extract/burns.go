package extract

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/idhash"
	"sora-dex-indexer/internal/substrate"
)

// hasBurnEvents reports whether ExtractBurns could find anything.
func hasBurnEvents(events []substrate.Event, buyBacks bool) bool {
	for i := range events {
		if events[i].Is("Assets", "Burn") || (buyBacks && events[i].Is("LiquidityProxy", EventExchange)) {
			return true
		}
	}
	return false
}

// ExtractBurns scans every event of a block for Assets.Burn(who, asset,
// amount), recorded as Burn, and LiquidityProxy.Exchange executed by the
// buyback account, recorded as BuyBack of the output asset. An empty
// buyBack disables buybacks. Malformed events are skipped and reported in
// the returned error, joined.
func ExtractBurns(d codec.Decoder, block, timestamp int64, events []substrate.Event, buyBack string) ([]domain.Operation, error) {
	var (
		ops  []domain.Operation
		errs []error
	)
	for i := range events {
		ev := &events[i]
		switch {
		case ev.Is("Assets", "Burn"):
			asset, amount, err := burnAmount(d, ev)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			ops = append(ops, &domain.Burn{
				OpHeader: blockHeader(block, timestamp, ev, domain.KindBurn),
				Asset:    asset,
				Amount:   amount,
			})
		case buyBack != "" && ev.Is("LiquidityProxy", EventExchange):
			who, err := d.Field(ev.Attributes, "who", 0)
			if err != nil {
				errs = append(errs, fmt.Errorf("Exchange: %w", err))
				continue
			}
			if !isAccount(who, buyBack) {
				continue
			}
			asset, err := d.AssetID(ev.Attributes, "output_asset_id", 3)
			if err != nil {
				errs = append(errs, fmt.Errorf("Exchange: %w", err))
				continue
			}
			amount, err := d.Decimal(ev.Attributes, "output_amount", 5)
			if err != nil {
				errs = append(errs, fmt.Errorf("Exchange: %w", err))
				continue
			}
			ops = append(ops, &domain.BuyBack{
				OpHeader: blockHeader(block, timestamp, ev, domain.KindBuyBack),
				Asset:    asset,
				Amount:   amount,
			})
		}
	}
	return ops, errors.Join(errs...)
}

func burnAmount(d codec.Decoder, ev *substrate.Event) (domain.AssetID, decimal.Decimal, error) {
	asset, err := d.AssetID(ev.Attributes, "asset_id", 1)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("Burn: %w", err)
	}
	amount, err := d.Decimal(ev.Attributes, "amount", 2)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("Burn: %w", err)
	}
	return asset, amount, nil
}

// blockHeader identifies event-derived operations by block and event index.
func blockHeader(block, timestamp int64, ev *substrate.Event, kind domain.OpKind) domain.OpHeader {
	extrinsic := -1
	if ev.ExtrinsicIdx != nil {
		extrinsic = *ev.ExtrinsicIdx
	}
	return domain.OpHeader{
		ID:             "0x" + idhash.ComputeEventID(block, ev.Index, string(kind)),
		Block:          block,
		ExtrinsicIndex: extrinsic,
		Timestamp:      timestamp,
		FeePaid:        decimal.Zero,
	}
}
