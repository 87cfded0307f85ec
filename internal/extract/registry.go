// Package extract turns decoded blocks into typed domain operations.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/idhash"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/substrate"
)

// FeeConverter converts fee components paid in arbitrary assets into
// base-asset units of a DEX.
type FeeConverter interface {
	ConvertFee(ctx context.Context, dexID int, parts []domain.AssetAmount) (decimal.Decimal, error)
}

// Input is everything an extractor sees of one extrinsic.
type Input struct {
	Block          int64
	ExtrinsicIndex int
	Timestamp      int64
	Call           *substrate.Extrinsic
	Events         []substrate.Event
	Decoder        codec.Decoder
	Fees           FeeConverter
	TechAccount    string // 0x hex public key
}

// header builds the common operation fields.
func (in *Input) header(kind domain.OpKind, fee decimal.Decimal) domain.OpHeader {
	return domain.OpHeader{
		ID:             idhash.OperationID(in.Call.Hash, in.Block, in.ExtrinsicIndex, string(kind)),
		Block:          in.Block,
		ExtrinsicIndex: in.ExtrinsicIndex,
		Timestamp:      in.Timestamp,
		FeePaid:        fee,
	}
}

// arg returns the call argument called name or an ErrShape error.
func (in *Input) arg(name string) (substrate.Arg, error) {
	a, ok := in.Call.Arg(name)
	if !ok {
		return substrate.Arg{}, fmt.Errorf("%w: %s.%s has no argument %q", ErrShape, in.Call.Module, in.Call.Function, name)
	}
	return a, nil
}

// Extractor turns one recognized extrinsic into an operation. A nil operation
// with a nil error means the extrinsic produced nothing, typically because it
// failed on chain.
type Extractor func(ctx context.Context, in *Input) (domain.Operation, error)

// defaultExtractors maps call names to extractors.
func defaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		"swap":                  extractSwap,
		"withdraw_liquidity":    extractWithdraw,
		"deposit_liquidity":     extractDeposit,
		"as_multi":              extractInBridge,
		"transfer_to_sidechain": extractOutBridge,
		"claim":                 extractClaim,
		"transfer":              extractTransfer,
		"batch":                 extractBondStake,
		"batch_all":             extractBondStake,
	}
}

// Options configures a Registry.
type Options struct {
	Decoder codec.Decoder
	Fees    FeeConverter
	// TechAccount relays multi-hop swaps. SS58 or hex.
	TechAccount string
	// BuyBackAccount marks exchanges recorded as buybacks. SS58 or hex;
	// empty disables buyback extraction.
	BuyBackAccount string
	Logger         *log.Logger
}

// Registry classifies extrinsics by call name and runs their extractors.
type Registry struct {
	extractors map[string]Extractor
	decoder    codec.Decoder
	fees       FeeConverter
	tech       string
	buyBack    string
	logger     *log.Logger
}

// NewRegistry creates a registry with every known extractor active.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	tech, err := substrate.AccountHex(opts.TechAccount)
	if err != nil {
		return nil, fmt.Errorf("tech account: %w", err)
	}
	var buyBack string
	if opts.BuyBackAccount != "" {
		if buyBack, err = substrate.AccountHex(opts.BuyBackAccount); err != nil {
			return nil, fmt.Errorf("buyback account: %w", err)
		}
	}
	return &Registry{
		extractors: defaultExtractors(),
		decoder:    opts.Decoder,
		fees:       opts.Fees,
		tech:       tech,
		buyBack:    buyBack,
		logger:     opts.Logger,
	}, nil
}

// Only returns a copy of the registry restricted to the named calls.
// Unknown names are ignored.
func (r *Registry) Only(names ...string) *Registry {
	cp := *r
	cp.extractors = make(map[string]Extractor, len(names))
	for _, name := range names {
		if fn, ok := r.extractors[name]; ok {
			cp.extractors[name] = fn
		}
	}
	return &cp
}

// Names returns the active call names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDecoder switches the wire schema, done once per sync session.
func (r *Registry) SetDecoder(d codec.Decoder) {
	r.decoder = d
}

// Decoder returns the active decoder.
func (r *Registry) Decoder() codec.Decoder {
	return r.decoder
}

// ExtractBlock extracts every operation of a block in extrinsic order,
// followed by the block's burns and buybacks. Unrecognized calls are skipped.
// Shape anomalies are logged and skipped. An IntegrityError or a failure of
// the fee converter is returned as is.
func (r *Registry) ExtractBlock(ctx context.Context, block *substrate.Block, events []substrate.Event) ([]domain.Operation, error) {
	groups := GroupEvents(events, len(block.Extrinsics))

	var (
		timestamp int64
		tsDone    bool
	)
	blockTime := func() (int64, error) {
		if tsDone {
			return timestamp, nil
		}
		ts, err := DecodeTimestamp(block)
		if err != nil {
			return 0, fmt.Errorf("block %d: %w", block.Number, err)
		}
		timestamp, tsDone = ts, true
		return ts, nil
	}

	var ops []domain.Operation
	for i := range block.Extrinsics {
		ex := &block.Extrinsics[i]
		fn, ok := r.extractors[ex.Function]
		if !ok {
			continue
		}

		ts, err := blockTime()
		if err != nil {
			return nil, err
		}

		in := &Input{
			Block:          block.Number,
			ExtrinsicIndex: i,
			Timestamp:      ts,
			Call:           ex,
			Events:         groups.For(i),
			Decoder:        r.decoder,
			Fees:           r.fees,
			TechAccount:    r.tech,
		}

		op, err := fn(ctx, in)
		if err != nil {
			var integrity *IntegrityError
			if errors.As(err, &integrity) {
				return nil, err
			}
			if errors.Is(err, ErrShape) {
				observability.RecordDecodeAnomaly(ex.Function)
				r.logger.Printf("block %d extrinsic %d (%s): skipped: %v", block.Number, i, ex.Function, err)
				continue
			}
			return nil, fmt.Errorf("block %d extrinsic %d (%s): %w", block.Number, i, ex.Function, err)
		}
		if op == nil {
			continue
		}
		observability.RecordOperation(string(op.Kind()))
		ops = append(ops, op)
	}

	if hasBurnEvents(events, r.buyBack != "") {
		ts, err := blockTime()
		if err != nil {
			return nil, err
		}
		burns, err := ExtractBurns(r.decoder, block.Number, ts, events, r.buyBack)
		if err != nil {
			observability.RecordDecodeAnomaly("burns")
			r.logger.Printf("block %d: burn events skipped: %v", block.Number, err)
		}
		for _, op := range burns {
			observability.RecordOperation(string(op.Kind()))
		}
		ops = append(ops, burns...)
	}

	return ops, nil
}
