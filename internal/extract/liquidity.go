package extract

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// Offsets of the pool transfers within a deposit_liquidity event group.
const (
	depositFirstTransfer  = 2
	depositSecondTransfer = 3
)

func extractWithdraw(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}

	assetA, err := assetArg(in, "output_asset_a")
	if err != nil {
		return nil, err
	}
	assetB, err := assetArg(in, "output_asset_b")
	if err != nil {
		return nil, err
	}
	amountA, err := decimalArg(in, "output_a_min")
	if err != nil {
		return nil, err
	}
	amountB, err := decimalArg(in, "output_b_min")
	if err != nil {
		return nil, err
	}

	return &domain.Withdraw{
		OpHeader: in.header(domain.KindWithdraw, fee),
		AssetA:   assetA,
		AssetB:   assetB,
		AmountA:  amountA,
		AmountB:  amountB,
	}, nil
}

// extractDeposit reads the two pool transfers at fixed offsets of the group.
// Runtimes that do not emit them fall back to the desired amounts of the call.
func extractDeposit(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}

	op := &domain.Deposit{OpHeader: in.header(domain.KindDeposit, fee)}

	first, ok1 := eventAt(in.Events, depositFirstTransfer, EventTransferred)
	second, ok2 := eventAt(in.Events, depositSecondTransfer, EventTransferred)
	if ok1 && ok2 {
		if op.AssetA, op.AmountA, err = transferredAmount(in, first); err != nil {
			return nil, err
		}
		if op.AssetB, op.AmountB, err = transferredAmount(in, second); err != nil {
			return nil, err
		}
		return op, nil
	}

	if op.AssetA, err = assetArg(in, "input_asset_a"); err != nil {
		return nil, err
	}
	if op.AssetB, err = assetArg(in, "input_asset_b"); err != nil {
		return nil, err
	}
	if op.AmountA, err = decimalArg(in, "input_a_desired"); err != nil {
		return nil, err
	}
	if op.AmountB, err = decimalArg(in, "input_b_desired"); err != nil {
		return nil, err
	}
	return op, nil
}

func decimalArg(in *Input, name string) (decimal.Decimal, error) {
	a, err := in.arg(name)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := a.Value.Decimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
