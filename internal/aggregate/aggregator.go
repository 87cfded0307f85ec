// Package aggregate recomputes rolling volume and liquidity statistics.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/storage"
	"sora-dex-indexer/internal/substrate"
)

// DefaultWindow is the rolling volume window.
const DefaultWindow = 24 * time.Hour

// PoolSource reads XYK pool reserves.
type PoolSource interface {
	PoolReserves(ctx context.Context, base, target domain.AssetID) (*substrate.Reserves, error)
}

// Options configures an Aggregator.
type Options struct {
	Tokens     storage.TokenStore
	Pairs      storage.PairStore
	Operations storage.OperationStore
	Snapshots  storage.SnapshotStore // optional
	Window     time.Duration
	Now        func() time.Time
	Logger     *log.Logger
}

// Aggregator writes token volumes and pair volume and liquidity.
type Aggregator struct {
	tokens     storage.TokenStore
	pairs      storage.PairStore
	operations storage.OperationStore
	snapshots  storage.SnapshotStore
	window     time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// Result summarizes one aggregation run.
type Result struct {
	TakenAt int64
	Tokens  int
	Pairs   int
	Legs    int
}

// New creates an aggregator.
func New(opts Options) *Aggregator {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Aggregator{
		tokens:     opts.Tokens,
		pairs:      opts.Pairs,
		operations: opts.Operations,
		snapshots:  opts.Snapshots,
		window:     opts.Window,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Run recomputes statistics over (now-window, now]. Liquidity is read from
// pools; a nil pools leaves every liquidity column at zero.
func (a *Aggregator) Run(ctx context.Context, pools PoolSource) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.RecordAggregation(status, time.Since(start).Seconds())
	}()

	now := a.now().UnixMilli()
	since := now - a.window.Milliseconds()

	tokens, err := a.tokens.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	pairs, err := a.pairs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	swaps, err := a.operations.SwapsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load swaps: %w", err)
	}
	burns, err := a.operations.BurnsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load burns: %w", err)
	}
	buyBacks, err := a.operations.BuyBacksSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load buybacks: %w", err)
	}

	// The store filters on timestamp > since only.
	swaps = swapsUntil(swaps, now)
	burns = amountsUntil(burns, now)
	buyBacks = amountsUntil(buyBacks, now)

	volumes := ComputeVolumes(tokens, pairs, swaps, burns, buyBacks)

	if pools != nil {
		if err := a.fillLiquidity(ctx, pools, tokens, pairs, volumes); err != nil {
			return nil, err
		}
	}

	if err := a.tokens.UpdateVolumes(ctx, volumes.Tokens); err != nil {
		return nil, fmt.Errorf("update token volumes: %w", err)
	}
	stats := make([]domain.PairStats, 0, len(pairs))
	for _, p := range pairs {
		stats = append(stats, volumes.Pairs[p.ID])
	}
	if err := a.pairs.UpdateStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("update pair stats: %w", err)
	}

	if a.snapshots != nil {
		if err := a.snapshots.InsertSnapshots(ctx, snapshots(now, tokens, stats, volumes)); err != nil {
			return nil, fmt.Errorf("insert snapshots: %w", err)
		}
	}

	a.logger.Printf("aggregated %d legs into %d tokens and %d pairs", len(swaps), len(tokens), len(pairs))
	return &Result{TakenAt: now, Tokens: len(tokens), Pairs: len(pairs), Legs: len(swaps)}, nil
}

// fillLiquidity reads reserves for every pair, trying the reversed
// orientation when the pool is not keyed by the pair's from asset.
func (a *Aggregator) fillLiquidity(ctx context.Context, pools PoolSource, tokens []*domain.Token, pairs []*domain.Pair, v *Volumes) error {
	decimals := make(map[domain.AssetID]int32, len(tokens))
	for _, t := range tokens {
		decimals[t.AssetID] = t.Decimals
	}
	scale := func(asset domain.AssetID, raw decimal.Decimal) decimal.Decimal {
		d, ok := decimals[asset]
		if !ok {
			d = defaultDecimals
		}
		return domain.Scale(raw, d)
	}

	for _, p := range pairs {
		fromRaw, toRaw := decimal.Zero, decimal.Zero
		r, err := pools.PoolReserves(ctx, p.From, p.To)
		if err != nil {
			return fmt.Errorf("reserves %s/%s: %w", p.From, p.To, err)
		}
		if r != nil {
			fromRaw, toRaw = r.Base, r.Target
		} else {
			r, err = pools.PoolReserves(ctx, p.To, p.From)
			if err != nil {
				return fmt.Errorf("reserves %s/%s: %w", p.To, p.From, err)
			}
			if r != nil {
				fromRaw, toRaw = r.Target, r.Base
			}
		}

		stats := v.Pairs[p.ID]
		stats.FromLiquidity = scale(p.From, fromRaw)
		stats.ToLiquidity = scale(p.To, toRaw)
		v.Pairs[p.ID] = stats
	}
	return nil
}

func snapshots(takenAt int64, tokens []*domain.Token, stats []domain.PairStats, v *Volumes) []*domain.StatsSnapshot {
	out := make([]*domain.StatsSnapshot, 0, len(tokens)+len(stats))
	for _, t := range tokens {
		out = append(out, &domain.StatsSnapshot{
			TakenAt:       takenAt,
			Entity:        "token",
			Key:           string(t.AssetID),
			Volume:        v.Tokens[t.AssetID],
			ToVolume:      decimal.Zero,
			FromLiquidity: decimal.Zero,
			ToLiquidity:   decimal.Zero,
		})
	}
	for _, s := range stats {
		out = append(out, &domain.StatsSnapshot{
			TakenAt:       takenAt,
			Entity:        "pair",
			Key:           strconv.FormatInt(s.PairID, 10),
			Volume:        s.FromVolume,
			ToVolume:      s.ToVolume,
			FromLiquidity: s.FromLiquidity,
			ToLiquidity:   s.ToLiquidity,
		})
	}
	return out
}

func swapsUntil(rows []*domain.SwapRow, until int64) []*domain.SwapRow {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Timestamp <= until {
			out = append(out, r)
		}
	}
	return out
}

func amountsUntil(rows []*domain.TokenAmountRow, until int64) []*domain.TokenAmountRow {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Timestamp <= until {
			out = append(out, r)
		}
	}
	return out
}
