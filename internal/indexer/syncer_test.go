package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sora-dex-indexer/internal/aggregate"
	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/config"
	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/extract"
	"sora-dex-indexer/internal/pricing"
	"sora-dex-indexer/internal/storage"
	"sora-dex-indexer/internal/storage/memory"
	"sora-dex-indexer/internal/substrate"
	"sora-dex-indexer/internal/substrate/stub"
)

const user = "0x1111111111111111111111111111111111111111111111111111111111111111"

var quiet = log.New(io.Discard, "", 0)

func val(t *testing.T, js string) codec.Value {
	t.Helper()
	v, err := codec.Parse([]byte(js))
	require.NoError(t, err)
	return v
}

func event(t *testing.T, idx int, module, name, attrs string) substrate.Event {
	return substrate.Event{ExtrinsicIdx: &idx, Module: module, Name: name, Attributes: val(t, attrs)}
}

func code(asset domain.AssetID) string {
	return `{"code": "` + string(asset) + `"}`
}

// tradingBlock builds block n holding a VAL->XOR swap of 1000 for 1900 and a
// claim of 42 VAL.
func tradingBlock(t *testing.T, n int64) (*substrate.Block, []substrate.Event) {
	t.Helper()
	block := &substrate.Block{
		Number: n,
		Extrinsics: []substrate.Extrinsic{
			{Function: "set", Args: []substrate.Arg{{Name: "now", Value: val(t, fmt.Sprintf("%d", 1700000000000+n*6000))}}},
			{
				Hash:     fmt.Sprintf("0x%04x01", n),
				Module:   "LiquidityProxy",
				Function: "swap",
				Args: []substrate.Arg{
					{Name: "dex_id", Value: val(t, `0`)},
					{Name: "input_asset_id", Value: val(t, code(domain.VAL))},
					{Name: "output_asset_id", Value: val(t, code(domain.XOR))},
					{Name: "swap_amount", Value: val(t, `{"WithDesiredInput": {"desired_amount_in": "1000", "min_amount_out": "1900"}}`)},
					{Name: "selected_source_types", Value: val(t, `[]`)},
					{Name: "filter_mode", Value: val(t, `"Disabled"`)},
				},
			},
			{Hash: fmt.Sprintf("0x%04x02", n), Module: "EthBridge", Function: "claim"},
		},
	}
	events := []substrate.Event{
		event(t, 0, "System", extract.EventExtrinsicSuccess, `[]`),
		event(t, 1, "XorFee", extract.EventFeeWithdrawn, `["`+user+`", "9"]`),
		event(t, 1, "System", extract.EventExtrinsicSuccess, `[]`),
		event(t, 2, "XorFee", extract.EventFeeWithdrawn, `["`+user+`", "1"]`),
		event(t, 2, "Currencies", extract.EventTransferred, `[`+code(domain.VAL)+`, "`+user+`", "`+user+`", "42"]`),
		event(t, 2, "System", extract.EventExtrinsicSuccess, `[]`),
	}
	for i := range events {
		events[i].Index = i
	}
	return block, events
}

// emptyBlock builds block n with only the timestamp inherent.
func emptyBlock(t *testing.T, n int64) *substrate.Block {
	return &substrate.Block{
		Number:     n,
		Extrinsics: []substrate.Extrinsic{{Function: "set", Args: []substrate.Arg{{Name: "now", Value: val(t, `1`)}}}},
	}
}

func tradingChain(t *testing.T, blocks int64) *stub.Client {
	t.Helper()
	chain := stub.NewClient()
	chain.Assets = []domain.AssetInfo{
		{AssetID: domain.XOR, Symbol: "XOR", Name: "SORA", Precision: 18},
		{AssetID: domain.VAL, Symbol: "VAL", Name: "SORA Validator Token", Precision: 18},
	}
	for n := int64(1); n <= blocks; n++ {
		chain.AddBlock(tradingBlock(t, n))
	}
	return chain
}

type fixture struct {
	stores storage.Stores
	oracle *pricing.Oracle
	cache  *pricing.MemoryCache
}

func newSyncer(t *testing.T, client substrate.Client, stores storage.Stores, mutate func(*Options)) (*Syncer, *fixture) {
	t.Helper()
	cache := pricing.NewMemoryCache()
	oracle := pricing.NewOracle(client, pricing.Options{Cache: cache, Logger: quiet})
	reg, err := extract.NewRegistry(extract.Options{
		Decoder:     codec.NewDecoder(codec.SchemaLegacy),
		Fees:        oracle,
		TechAccount: config.DefaultTechAccount,
		Logger:      quiet,
	})
	require.NoError(t, err)

	opts := Options{
		Client:   client,
		Stores:   stores,
		Registry: reg,
		Oracle:   oracle,
		Schema:   "legacy",
		Logger:   quiet,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSyncer(opts)
	require.NoError(t, err)
	return s, &fixture{stores: stores, oracle: oracle, cache: cache}
}

func TestSyncer_ResumesAfterPersistedBlocks(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	for b := int64(5); b <= 9; b++ {
		require.NoError(t, stores.Operations.InsertBlock(ctx, &domain.BlockRows{
			Block: b,
			Operations: []*domain.OperationRow{{
				OpID: fmt.Sprintf("0x%02x", b), Kind: domain.KindTransfer, Block: b,
				FeePaid: decimal.Zero, AmountA: decimal.NewFromInt(1), AmountB: decimal.Zero,
			}},
		}))
	}

	chain := stub.NewClient()
	chain.AddBlock(emptyBlock(t, 10), nil)
	chain.AddBlock(emptyBlock(t, 11), nil)
	require.Equal(t, int64(12), chain.Head)

	s, _ := newSyncer(t, chain, stores, nil)
	res, err := s.RunPass(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(10), res.From)
	assert.Equal(t, int64(12), res.Head)
	assert.Equal(t, int64(2), res.Blocks)
	assert.Equal(t, []int64{10, 11}, chain.BlockCalls)
}

func TestSyncer_PersistsOperations(t *testing.T) {
	ctx := context.Background()
	chain := tradingChain(t, 3)
	stores := memory.New()

	s, fx := newSyncer(t, chain, stores, nil)
	res, err := s.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.From)
	assert.Equal(t, 6, res.Operations)
	assert.Zero(t, res.Conflicts)

	swaps, err := stores.Operations.SwapsSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, swaps, 3)
	assert.Equal(t, "9", swaps[0].FeePaid.String())
	assert.Equal(t, "1000", swaps[0].FromAmount.String())

	ops := stores.Operations.(*memory.OperationStore).Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, domain.KindClaim, ops[0].Kind)
	assert.Equal(t, domain.VAL, ops[0].AssetA)

	max, ok, err := stores.Operations.MaxBlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), max)

	tokens, err := stores.Tokens.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "SORA", tokens[0].Name)
	assert.Equal(t, 1, chain.ListAssetsCalls, "asset list is fetched once per session")

	pairs, err := stores.Pairs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, domain.VAL, pairs[0].From)
	require.NotNil(t, pairs[0].QuotePrice)
	assert.Equal(t, "1.9", pairs[0].QuotePrice.String())

	price, err := fx.oracle.Price(ctx, 0, domain.VAL)
	require.NoError(t, err)
	assert.Equal(t, "1.9", price.String(), "executed swap price feeds the oracle")
	assert.Zero(t, chain.QuoteCalls)
}

func TestSyncer_IdempotentRerun(t *testing.T) {
	ctx := context.Background()
	chain := tradingChain(t, 3)
	stores := memory.New()
	ops := stores.Operations.(*memory.OperationStore)

	first, _ := newSyncer(t, chain, stores, nil)
	_, err := first.RunPass(ctx)
	require.NoError(t, err)
	before := ops.Count()
	require.Equal(t, 6, before)

	again, _ := newSyncer(t, chain, stores, func(o *Options) {
		o.Begin = 1
		o.ForceBegin = true
	})
	res, err := again.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Conflicts)
	assert.Equal(t, before, ops.Count())

	pairs, err := stores.Pairs.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)

	// Without ForceBegin the next pass has nothing to do.
	resume, _ := newSyncer(t, chain, stores, nil)
	res, err = resume.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.From)
	assert.Zero(t, res.Blocks)
}

func TestSyncer_RunsAggregator(t *testing.T) {
	ctx := context.Background()
	chain := tradingChain(t, 2)
	stores := memory.New()
	chain.SetReserves(domain.XOR, domain.VAL, &substrate.Reserves{
		Base:   decimal.RequireFromString("2000000000000000000"),
		Target: decimal.RequireFromString("4000000000000000000"),
	})

	s, _ := newSyncer(t, chain, stores, func(o *Options) {
		o.Aggregator = aggregate.New(aggregate.Options{
			Tokens:     stores.Tokens,
			Pairs:      stores.Pairs,
			Operations: stores.Operations,
			Now:        func() time.Time { return time.UnixMilli(1700000000000 + 60_000) },
			Logger:     quiet,
		})
	})
	_, err := s.RunPass(ctx)
	require.NoError(t, err)

	pairs, err := stores.Pairs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "0.000000000000002", pairs[0].FromVolume.String())
	assert.Equal(t, "4", pairs[0].FromLiquidity.String(), "VAL side of the XOR/VAL pool")
	assert.Equal(t, "2", pairs[0].ToLiquidity.String())
}

func TestSyncer_TransportFailureWithoutReconnectorIsFatal(t *testing.T) {
	chain := tradingChain(t, 3)
	chain.FailAfter = 2

	s, _ := newSyncer(t, chain, memory.New(), nil)
	_, err := s.RunPass(context.Background())
	require.Error(t, err)
	assert.True(t, substrate.IsTransport(err))
}

func TestSyncer_ReconnectExhaustedIsFatal(t *testing.T) {
	ctx := context.Background()
	chain := tradingChain(t, 3)
	chain.FailAfter = 2
	stores := memory.New()

	dials := 0
	s, _ := newSyncer(t, chain, stores, func(o *Options) {
		o.Reconnector = NewReconnector(ReconnectOptions{
			Endpoints: []string{"ws://node-a:9944"},
			Dial: func(context.Context, string) (substrate.Client, error) {
				dials++
				return chain, nil
			},
			MaxAttempts: 2,
			Logger:      quiet,
		})
	})

	_, err := s.RunPass(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReconnectsExhausted))
	assert.Equal(t, 2, dials)

	max, ok, err := stores.Operations.MaxBlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), max, "blocks before the failure are persisted")
}

func TestSyncer_FailsOverToFallbackEndpoint(t *testing.T) {
	ctx := context.Background()
	primary := tradingChain(t, 3)
	primary.FailAfter = 2
	fallback := tradingChain(t, 3)

	var dialed []string
	s, _ := newSyncer(t, primary, memory.New(), func(o *Options) {
		o.Reconnector = NewReconnector(ReconnectOptions{
			Endpoints: []string{"ws://node-a:9944", "ws://node-b:9944"},
			Dial: func(_ context.Context, endpoint string) (substrate.Client, error) {
				dialed = append(dialed, endpoint)
				if endpoint == "ws://node-b:9944" {
					return fallback, nil
				}
				return nil, fmt.Errorf("%w: refused", substrate.ErrTransport)
			},
			MaxAttempts: 3,
			Logger:      quiet,
		})
	})

	res, err := s.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Blocks)
	assert.Equal(t, []string{"http://node-a:9944", "ws://node-b:9944"}, dialed)
	assert.Same(t, fallback, s.Client())
	assert.True(t, primary.Closed)
	assert.Equal(t, []int64{2, 3}, fallback.BlockCalls)
}

func TestSyncer_IntegrityErrorIsFatal(t *testing.T) {
	chain := stub.NewClient()
	block, events := tradingBlock(t, 1)
	// VAL -> PSWAP needs an XOR hop that the events do not show.
	block.Extrinsics[1].Args[2].Value = val(t, code(domain.PSWAP))
	chain.AddBlock(block, events)

	s, _ := newSyncer(t, chain, memory.New(), nil)
	_, err := s.RunPass(context.Background())
	var integrity *extract.IntegrityError
	require.True(t, errors.As(err, &integrity))
}

func TestSyncer_CancelledBeforeFirstBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := tradingChain(t, 2)
	s, _ := newSyncer(t, chain, memory.New(), nil)
	_, err := s.RunPass(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, chain.BlockCalls)
}

func TestSyncer_FollowRepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	chain := tradingChain(t, 1)
	sessions := 0
	s, _ := newSyncer(t, chain, memory.New(), func(o *Options) {
		o.Follow = true
		o.FollowInterval = 10 * time.Millisecond
		o.NewSessionID = func() string {
			sessions++
			return fmt.Sprintf("session-%d", sessions)
		}
	})

	err := s.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Greater(t, sessions, 1)
	assert.Equal(t, []int64{1}, chain.BlockCalls, "later passes resume after the persisted block")
}

func TestNewSyncer_Validation(t *testing.T) {
	_, err := NewSyncer(Options{})
	assert.Error(t, err)

	chain := stub.NewClient()
	_, err = NewSyncer(Options{
		Client:   chain,
		Stores:   memory.New(),
		Registry: &extract.Registry{},
		Oracle:   pricing.NewOracle(chain, pricing.Options{}),
		Schema:   "yaml",
	})
	assert.Error(t, err)
}

// fetchSignals closes a channel the first time each block is fetched.
type fetchSignals struct {
	*stub.Client

	mu      sync.Mutex
	fetched map[int64]chan struct{}
	seen    map[int64]bool
}

func newFetchSignals(c *stub.Client) *fetchSignals {
	return &fetchSignals{Client: c, fetched: make(map[int64]chan struct{}), seen: make(map[int64]bool)}
}

func (c *fetchSignals) signal(n int64) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.fetched[n]
	if !ok {
		ch = make(chan struct{})
		c.fetched[n] = ch
	}
	return ch
}

func (c *fetchSignals) GetBlock(ctx context.Context, n int64) (*substrate.Block, error) {
	ch := c.signal(n)
	c.mu.Lock()
	if !c.seen[n] {
		c.seen[n] = true
		close(ch)
	}
	c.mu.Unlock()
	return c.Client.GetBlock(ctx, n)
}

// heldStore holds each block write until the next block has been fetched
// and tracks how many writes run at once.
type heldStore struct {
	storage.OperationStore
	chain *fetchSignals
	last  int64

	active atomic.Int32

	mu         sync.Mutex
	maxActive  int32
	order      []int64
	overlapped []int64
}

func (s *heldStore) InsertBlock(ctx context.Context, rows *domain.BlockRows) error {
	n := s.active.Add(1)
	defer s.active.Add(-1)

	s.mu.Lock()
	if n > s.maxActive {
		s.maxActive = n
	}
	s.order = append(s.order, rows.Block)
	s.mu.Unlock()

	if rows.Block < s.last {
		select {
		case <-s.chain.signal(rows.Block + 1):
			s.mu.Lock()
			s.overlapped = append(s.overlapped, rows.Block)
			s.mu.Unlock()
		case <-time.After(2 * time.Second):
		}
	}
	return s.OperationStore.InsertBlock(ctx, rows)
}

func TestSyncer_WriteOverlapsNextFetch(t *testing.T) {
	chain := newFetchSignals(tradingChain(t, 4))
	stores := memory.New()
	held := &heldStore{OperationStore: stores.Operations, chain: chain, last: 4}
	stores.Operations = held

	s, _ := newSyncer(t, chain, stores, nil)
	res, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Blocks)

	held.mu.Lock()
	defer held.mu.Unlock()
	assert.Equal(t, int32(1), held.maxActive, "block writes never run concurrently")
	assert.Equal(t, []int64{1, 2, 3, 4}, held.order)
	assert.Equal(t, []int64{1, 2, 3}, held.overlapped, "each write is still in flight when the next block is fetched")

	last, ok, err := stores.Operations.MaxBlock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), last)
}

// failingStore rejects every block write.
type failingStore struct {
	storage.OperationStore
	err error
}

func (s *failingStore) InsertBlock(context.Context, *domain.BlockRows) error {
	return s.err
}

func TestSyncer_FailedWriteAndFailedFetchAreBothReported(t *testing.T) {
	chain := tradingChain(t, 1)
	chain.Head = 3

	diskFull := errors.New("disk full")
	stores := memory.New()
	stores.Operations = &failingStore{OperationStore: stores.Operations, err: diskFull}

	s, _ := newSyncer(t, chain, stores, nil)
	_, err := s.RunPass(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, stub.ErrNotFound)
	assert.ErrorIs(t, err, diskFull)
}
