package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/substrate"
)

// ErrNotFound is returned when a block or its events are not in the stub.
var ErrNotFound = errors.New("not found")

type quoteKey struct {
	dexID  int
	input  domain.AssetID
	output domain.AssetID
}

type reservesKey struct {
	base   domain.AssetID
	target domain.AssetID
}

// Client implements substrate.Client for testing.
type Client struct {
	mu sync.Mutex

	Head     int64
	Blocks   map[int64]*substrate.Block
	Events   map[string][]substrate.Event
	Quotes   map[quoteKey]*decimal.Decimal
	Assets   []domain.AssetInfo
	Reserves map[reservesKey]*substrate.Reserves
	Spec     uint32

	// FailAfter makes every GetBlock call at or above this height fail with
	// substrate.ErrTransport. Zero disables.
	FailAfter int64

	QuoteCalls      int
	ListAssetsCalls int
	BlockCalls      []int64
	Closed          bool
}

// Compile-time interface check.
var _ substrate.Client = (*Client)(nil)

// NewClient creates a new stub client.
func NewClient() *Client {
	return &Client{
		Blocks:   make(map[int64]*substrate.Block),
		Events:   make(map[string][]substrate.Event),
		Quotes:   make(map[quoteKey]*decimal.Decimal),
		Reserves: make(map[reservesKey]*substrate.Reserves),
	}
}

// AddBlock stores a block and its events. The block hash defaults to its number.
func (c *Client) AddBlock(block *substrate.Block, events []substrate.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block.Hash == "" {
		block.Hash = fmt.Sprintf("0x%x", block.Number)
	}
	c.Blocks[block.Number] = block
	c.Events[block.Hash] = events
	if block.Number >= c.Head {
		c.Head = block.Number + 1
	}
}

// SetQuote registers the quote for one unit amount of input in output.
// A nil amount registers a missing route.
func (c *Client) SetQuote(dexID int, input, output domain.AssetID, amount *decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Quotes[quoteKey{dexID, input, output}] = amount
}

// SetReserves registers pool reserves for (base, target).
func (c *Client) SetReserves(base, target domain.AssetID, r *substrate.Reserves) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reserves[reservesKey{base, target}] = r
}

// FinalizedHead returns Head.
func (c *Client) FinalizedHead(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

// GetBlock retrieves a block from the stub store.
func (c *Client) GetBlock(_ context.Context, number int64) (*substrate.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BlockCalls = append(c.BlockCalls, number)
	if c.FailAfter > 0 && number >= c.FailAfter {
		return nil, fmt.Errorf("%w: stub connection dropped", substrate.ErrTransport)
	}
	b, ok := c.Blocks[number]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// GetEvents retrieves events from the stub store.
func (c *Client) GetEvents(_ context.Context, blockHash string) ([]substrate.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.Events[blockHash]
	if !ok {
		return nil, ErrNotFound
	}
	return ev, nil
}

// Quote returns the registered quote scaled linearly to amount.
func (c *Client) Quote(_ context.Context, dexID int, input, output domain.AssetID, amount decimal.Decimal, _ substrate.QuoteMode) (*decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QuoteCalls++
	price, ok := c.Quotes[quoteKey{dexID, input, output}]
	if !ok || price == nil {
		return nil, nil
	}
	out := price.Mul(amount)
	return &out, nil
}

// ListAssets returns Assets.
func (c *Client) ListAssets(_ context.Context) ([]domain.AssetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListAssetsCalls++
	return append([]domain.AssetInfo(nil), c.Assets...), nil
}

// PoolReserves returns registered reserves or nil.
func (c *Client) PoolReserves(_ context.Context, base, target domain.AssetID) (*substrate.Reserves, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Reserves[reservesKey{base, target}], nil
}

// RuntimeVersion returns Spec.
func (c *Client) RuntimeVersion(_ context.Context) (uint32, error) {
	return c.Spec, nil
}

// Close marks the client closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}
