package extract

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/substrate"
)

// Offsets of the Transferred event within claim and transfer groups.
const (
	claimTransferOffset    = 1
	transferTransferOffset = 2
)

func extractInBridge(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}

	deposited, ok := firstEvent(in.Events, EventDeposited)
	if !ok {
		return nil, fmt.Errorf("%w: as_multi without Deposited event", ErrShape)
	}
	asset, err := in.Decoder.AssetID(deposited.Attributes, "currency_id", 0)
	if err != nil {
		return nil, fmt.Errorf("Deposited: %w", err)
	}
	amount, err := in.Decoder.Decimal(deposited.Attributes, "amount", 2)
	if err != nil {
		return nil, fmt.Errorf("Deposited: %w", err)
	}

	op := &domain.InBridgeTx{
		OpHeader: in.header(domain.KindInBridge, fee),
		Asset:    asset,
		Amount:   amount,
	}
	if registered, ok := firstEvent(in.Events, "RequestRegistered"); ok {
		hash, err := in.Decoder.Field(registered.Attributes, "request_hash", 0)
		if err != nil {
			return nil, fmt.Errorf("RequestRegistered: %w", err)
		}
		if op.ExternalHash, err = hash.Str(); err != nil {
			return nil, fmt.Errorf("RequestRegistered: %w", err)
		}
	}
	return op, nil
}

// extractOutBridge reads the outbound transfer from the call. Only the
// extrinsic fee is attributed; bridge-side fees are not collected yet.
func extractOutBridge(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}

	asset, err := assetArg(in, "asset_id")
	if err != nil {
		return nil, err
	}
	amount, err := decimalArg(in, "amount")
	if err != nil {
		return nil, err
	}
	to, err := in.arg("to")
	if err != nil {
		return nil, err
	}
	address, err := to.Value.Str()
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}

	return &domain.OutBridgeTx{
		OpHeader:    in.header(domain.KindOutBridge, fee),
		Asset:       asset,
		Amount:      amount,
		Address:     address,
		AddressType: to.Type,
	}, nil
}

func extractClaim(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}
	ev, ok := eventAt(in.Events, claimTransferOffset, EventTransferred)
	if !ok {
		return nil, fmt.Errorf("%w: claim without Transferred at offset %d", ErrShape, claimTransferOffset)
	}
	asset, amount, err := transferredAmount(in, ev)
	if err != nil {
		return nil, err
	}
	return &domain.ClaimTx{
		OpHeader: in.header(domain.KindClaim, fee),
		Asset:    asset,
		Amount:   amount,
	}, nil
}

func extractTransfer(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}
	ev, ok := eventAt(in.Events, transferTransferOffset, EventTransferred)
	if !ok {
		return nil, fmt.Errorf("%w: transfer without Transferred at offset %d", ErrShape, transferTransferOffset)
	}
	asset, amount, err := transferredAmount(in, ev)
	if err != nil {
		return nil, err
	}
	return &domain.TransferTx{
		OpHeader: in.header(domain.KindTransfer, fee),
		Asset:    asset,
		Amount:   amount,
	}, nil
}

// extractBondStake serves batch and batch_all. Only batches that bonded
// stake produce an operation.
func extractBondStake(_ context.Context, in *Input) (domain.Operation, error) {
	if Outcome(in.Events) != StatusSucceeded {
		return nil, nil
	}
	bonded, ok := firstEvent(in.Events, EventBonded)
	if !ok {
		return nil, nil
	}
	fee, err := MaxFee(in.Decoder, in.Events)
	if err != nil {
		return nil, err
	}
	amount, err := in.Decoder.Decimal(bonded.Attributes, "amount", 1)
	if err != nil {
		return nil, fmt.Errorf("Bonded: %w", err)
	}
	return &domain.BondStakeTx{
		OpHeader:  in.header(domain.KindBondStake, fee),
		BatchType: domain.BatchTypeBondStake,
		Amount:    amount,
	}, nil
}

// transferredAmount reads Currencies.Transferred(currency_id, from, to, amount).
func transferredAmount(in *Input, ev *substrate.Event) (domain.AssetID, decimal.Decimal, error) {
	asset, err := in.Decoder.AssetID(ev.Attributes, "currency_id", 0)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("Transferred: %w", err)
	}
	amount, err := in.Decoder.Decimal(ev.Attributes, "amount", 3)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("Transferred: %w", err)
	}
	return asset, amount, nil
}
