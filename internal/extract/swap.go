package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/substrate"
)

// filterModeDefault is the filter mode that applies no source restriction.
const filterModeDefault = "Disabled"

func extractSwap(ctx context.Context, in *Input) (domain.Operation, error) {
	d := in.Decoder

	dexArg, err := in.arg("dex_id")
	if err != nil {
		return nil, err
	}
	dexID, err := dexArg.Value.Int()
	if err != nil {
		return nil, fmt.Errorf("dex_id: %w", err)
	}
	base, known := domain.DexBaseAsset(int(dexID))
	if !known {
		return nil, nil
	}

	input, err := assetArg(in, "input_asset_id")
	if err != nil {
		return nil, err
	}
	output, err := assetArg(in, "output_asset_id")
	if err != nil {
		return nil, err
	}

	inAmount, outAmount, err := swapAmounts(in)
	if err != nil {
		return nil, err
	}

	filterMode, err := swapFilterMode(in)
	if err != nil {
		return nil, err
	}

	fee, err := MaxFee(d, in.Events)
	if err != nil {
		return nil, err
	}

	status := StatusPending
	hops := newHopTracker(input, output)
	var feeField *codec.Value

	for i := range in.Events {
		ev := &in.Events[i]
		switch {
		case ev.Name == EventSwapSuccess || ev.Name == EventExtrinsicSuccess:
			if status != StatusFailed {
				status = StatusSucceeded
			}
		case ev.Name == EventExtrinsicFailed:
			status = StatusFailed
		case ev.Is("Assets", "Transfer"):
			if err := hops.assetsTransfer(d, ev, in.TechAccount); err != nil {
				return nil, err
			}
		case ev.Is("Tokens", EventDeposited):
			if err := hops.tokensDeposited(d, ev, in.TechAccount); err != nil {
				return nil, err
			}
		case ev.Name == EventExchange:
			if inAmount, err = d.Decimal(ev.Attributes, "input_amount", 4); err != nil {
				return nil, fmt.Errorf("Exchange: %w", err)
			}
			if outAmount, err = d.Decimal(ev.Attributes, "output_amount", 5); err != nil {
				return nil, fmt.Errorf("Exchange: %w", err)
			}
			field, err := d.Field(ev.Attributes, "fee_amount", 6)
			if err != nil {
				return nil, fmt.Errorf("Exchange: %w", err)
			}
			feeField = &field
		}
	}

	if status != StatusSucceeded {
		return nil, nil
	}

	var swapFee *decimal.Decimal
	if feeField != nil {
		converted, err := convertSwapFee(ctx, in, int(dexID), base, *feeField)
		if err != nil {
			return nil, err
		}
		swapFee = &converted
	}

	if input != base && output != base && !domain.IsDirectExchangePair(input, output) && len(hops.legs) == 0 {
		return nil, newIntegrityError(in, fmt.Sprintf(
			"swap %s -> %s on dex %d crosses two non-base assets without an intermediate leg",
			input, output, dexID))
	}

	return &domain.Swap{
		OpHeader:      in.header(domain.KindSwap, fee),
		DexID:         int(dexID),
		InputAsset:    input,
		OutputAsset:   output,
		InputAmount:   inAmount,
		OutputAmount:  outAmount,
		FilterMode:    filterMode,
		SwapFee:       swapFee,
		Intermediates: hops.legs,
	}, nil
}

func assetArg(in *Input, name string) (domain.AssetID, error) {
	a, err := in.arg(name)
	if err != nil {
		return "", err
	}
	id, err := a.Value.AssetID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

// swapAmounts reads the requested amounts. WithDesiredInput fixes the input
// and bounds the output from below; WithDesiredOutput fixes the output and
// bounds the input from above.
func swapAmounts(in *Input) (decimal.Decimal, decimal.Decimal, error) {
	a, err := in.arg("swap_amount")
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	d := in.Decoder

	if v, ok := a.Value.Key("WithDesiredInput"); ok {
		inAmount, err := d.Decimal(v, "desired_amount_in", 0)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("WithDesiredInput: %w", err)
		}
		outAmount, err := d.Decimal(v, "min_amount_out", 1)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("WithDesiredInput: %w", err)
		}
		return inAmount, outAmount, nil
	}
	if v, ok := a.Value.Key("WithDesiredOutput"); ok {
		outAmount, err := d.Decimal(v, "desired_amount_out", 0)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("WithDesiredOutput: %w", err)
		}
		inAmount, err := d.Decimal(v, "max_amount_in", 1)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("WithDesiredOutput: %w", err)
		}
		return inAmount, outAmount, nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%w: swap_amount %s", ErrShape, a.Value)
}

// swapFilterMode normalizes the liquidity source selection to one tag:
// the comma-joined sources, SMART when none are selected, prefixed with the
// filter mode when it is not the default.
func swapFilterMode(in *Input) (string, error) {
	var sources []string
	if a, ok := in.Call.Arg("selected_source_types"); ok && !a.Value.IsNil() {
		list, ok := a.Value.List()
		if !ok {
			return "", fmt.Errorf("%w: selected_source_types %s", ErrShape, a.Value)
		}
		for _, item := range list {
			s, err := enumName(item)
			if err != nil {
				return "", fmt.Errorf("selected_source_types: %w", err)
			}
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return domain.FilterModeSmart, nil
	}

	joined := strings.Join(sources, ",")
	if a, ok := in.Call.Arg("filter_mode"); ok && !a.Value.IsNil() {
		mode, err := enumName(a.Value)
		if err != nil {
			return "", fmt.Errorf("filter_mode: %w", err)
		}
		if mode != "" && mode != filterModeDefault {
			return mode + ":" + joined, nil
		}
	}
	return joined, nil
}

// enumName reads a unit enum variant given as a string or as a single-key
// object.
func enumName(v codec.Value) (string, error) {
	if s, err := v.Str(); err == nil {
		return s, nil
	}
	if m, ok := v.Map(); ok && len(m) == 1 {
		for k := range m {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: enum %s", ErrShape, v)
}

// convertSwapFee reads the Exchange fee: a base-asset scalar, or a list of
// (asset, amount) components converted through the fee converter and summed.
func convertSwapFee(ctx context.Context, in *Input, dexID int, base domain.AssetID, v codec.Value) (decimal.Decimal, error) {
	list, isList := v.List()
	if !isList {
		amount, err := v.Decimal()
		if err != nil {
			return decimal.Zero, fmt.Errorf("Exchange fee: %w", err)
		}
		return amount, nil
	}

	parts := make([]domain.AssetAmount, 0, len(list))
	needsPrice := false
	// Components are (asset, amount) tuples, positional in every schema.
	for _, item := range list {
		assetV, ok1 := item.Index(0)
		amountV, ok2 := item.Index(1)
		if !ok1 || !ok2 {
			return decimal.Zero, fmt.Errorf("%w: Exchange fee component %s", ErrShape, item)
		}
		asset, err := assetV.AssetID()
		if err != nil {
			return decimal.Zero, fmt.Errorf("Exchange fee component: %w", err)
		}
		amount, err := amountV.Decimal()
		if err != nil {
			return decimal.Zero, fmt.Errorf("Exchange fee component: %w", err)
		}
		parts = append(parts, domain.AssetAmount{Asset: asset, Amount: amount})
		if asset != base {
			needsPrice = true
		}
	}

	if !needsPrice {
		sum := decimal.Zero
		for _, p := range parts {
			sum = sum.Add(p.Amount)
		}
		return sum, nil
	}
	if in.Fees == nil {
		return decimal.Zero, errors.New("swap fee in non-base asset but no fee converter configured")
	}
	total, err := in.Fees.ConvertFee(ctx, dexID, parts)
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert swap fee: %w", err)
	}
	return total.Truncate(0), nil
}

// hopTracker collects intermediate legs of a routed swap: the first movement
// of each asset through the technical account, in encounter order. The swap's
// own input and output assets are never intermediates.
type hopTracker struct {
	input, output domain.AssetID
	seen          map[domain.AssetID]bool
	legs          []domain.AssetAmount
}

func newHopTracker(input, output domain.AssetID) *hopTracker {
	return &hopTracker{input: input, output: output, seen: make(map[domain.AssetID]bool)}
}

func (h *hopTracker) add(asset domain.AssetID, amount decimal.Decimal) {
	if asset == h.input || asset == h.output || h.seen[asset] {
		return
	}
	h.seen[asset] = true
	h.legs = append(h.legs, domain.AssetAmount{Asset: asset, Amount: amount})
}

// assetsTransfer handles Assets.Transfer(from, to, asset, amount).
func (h *hopTracker) assetsTransfer(d codec.Decoder, ev *substrate.Event, tech string) error {
	from, err := d.Field(ev.Attributes, "from", 0)
	if err != nil {
		return fmt.Errorf("Assets.Transfer: %w", err)
	}
	to, err := d.Field(ev.Attributes, "to", 1)
	if err != nil {
		return fmt.Errorf("Assets.Transfer: %w", err)
	}
	if !isAccount(from, tech) && !isAccount(to, tech) {
		return nil
	}
	asset, err := d.AssetID(ev.Attributes, "asset_id", 2)
	if err != nil {
		return fmt.Errorf("Assets.Transfer: %w", err)
	}
	amount, err := d.Decimal(ev.Attributes, "amount", 3)
	if err != nil {
		return fmt.Errorf("Assets.Transfer: %w", err)
	}
	h.add(asset, amount)
	return nil
}

// tokensDeposited handles Tokens.Deposited(currency_id, who, amount).
func (h *hopTracker) tokensDeposited(d codec.Decoder, ev *substrate.Event, tech string) error {
	who, err := d.Field(ev.Attributes, "who", 1)
	if err != nil {
		return fmt.Errorf("Tokens.Deposited: %w", err)
	}
	if !isAccount(who, tech) {
		return nil
	}
	asset, err := d.AssetID(ev.Attributes, "currency_id", 0)
	if err != nil {
		return fmt.Errorf("Tokens.Deposited: %w", err)
	}
	amount, err := d.Decimal(ev.Attributes, "amount", 2)
	if err != nil {
		return fmt.Errorf("Tokens.Deposited: %w", err)
	}
	h.add(asset, amount)
	return nil
}

// isAccount reports whether v names the account with hex public key want.
func isAccount(v codec.Value, want string) bool {
	if want == "" {
		return false
	}
	s, err := v.Str()
	if err != nil {
		return false
	}
	got, err := substrate.AccountHex(s)
	if err != nil {
		return false
	}
	return got == want
}
