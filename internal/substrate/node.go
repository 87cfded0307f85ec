package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/codec"
	"sora-dex-indexer/internal/domain"
)

// RPC methods. Block, event and storage decoding needs runtime metadata and is
// served by a metadata-aware decoding proxy in front of the node.
const (
	MethodBlockHash      = "chain_getBlockHash"
	MethodFinalizedHead  = "chain_getFinalizedHead"
	MethodHeader         = "chain_getHeader"
	MethodRuntimeVersion = "state_getRuntimeVersion"
	MethodQuote          = "liquidityProxy_quote"
	MethodListAssets     = "assets_listAssetInfos"
	MethodDecodedBlock   = "decoded_getBlock"
	MethodDecodedEvents  = "decoded_getEvents"
	MethodDecodedStorage = "decoded_getStorage"
)

// ErrBlockNotFound is returned when the node has no block at a height.
var ErrBlockNotFound = errors.New("block not found")

// Transport carries JSON-RPC calls to a node.
type Transport interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
	Close() error
}

// NodeClient implements Client over any Transport.
type NodeClient struct {
	t        Transport
	endpoint string
}

// Compile-time interface check.
var _ Client = (*NodeClient)(nil)

// NewNodeClient wraps an existing transport.
func NewNodeClient(t Transport, endpoint string) *NodeClient {
	return &NodeClient{t: t, endpoint: endpoint}
}

// DialOptions configures Dial.
type DialOptions struct {
	// RateLimit caps HTTP requests per second. Zero is unlimited.
	RateLimit float64
	// WS overrides WebSocket settings.
	WS *WSClientConfig
}

// Dial connects to endpoint, choosing the transport from the URL scheme:
// ws/wss use a persistent WebSocket, http/https use request/response HTTP.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*NodeClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse node url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		ws, err := NewWSClient(ctx, endpoint, opts.WS)
		if err != nil {
			return nil, err
		}
		return NewNodeClient(ws, endpoint), nil
	case "http", "https":
		return NewNodeClient(NewHTTPClient(endpoint, WithRateLimit(opts.RateLimit)), endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported node url scheme %q", u.Scheme)
	}
}

// Endpoint returns the URL the client talks to.
func (c *NodeClient) Endpoint() string {
	return c.endpoint
}

// FinalizedHead returns the number of the latest finalized block.
func (c *NodeClient) FinalizedHead(ctx context.Context) (int64, error) {
	var hash string
	if err := c.t.Call(ctx, MethodFinalizedHead, nil, &hash); err != nil {
		return 0, err
	}
	var header wireHeader
	if err := c.t.Call(ctx, MethodHeader, []interface{}{hash}, &header); err != nil {
		return 0, err
	}
	return headerNumber(header.Number)
}

// GetBlock retrieves the decoded block with the given number.
func (c *NodeClient) GetBlock(ctx context.Context, number int64) (*Block, error) {
	var hash *string
	if err := c.t.Call(ctx, MethodBlockHash, []interface{}{number}, &hash); err != nil {
		return nil, err
	}
	if hash == nil || *hash == "" {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}

	var raw json.RawMessage
	if err := c.t.Call(ctx, MethodDecodedBlock, []interface{}{*hash}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}

	block, err := decodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, err)
	}
	if block.Hash == "" {
		block.Hash = *hash
	}
	if block.Number == 0 {
		block.Number = number
	}
	return block, nil
}

// GetEvents retrieves the decoded events of a block.
func (c *NodeClient) GetEvents(ctx context.Context, blockHash string) ([]Event, error) {
	var raw json.RawMessage
	if err := c.t.Call(ctx, MethodDecodedEvents, []interface{}{blockHash}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeEvents(raw)
}

type quoteResult struct {
	Amount codec.Value `json:"amount"`
	Fee    codec.Value `json:"fee"`
}

// Quote prices amount of input in output on a DEX using smart routing.
func (c *NodeClient) Quote(ctx context.Context, dexID int, input, output domain.AssetID, amount decimal.Decimal, mode QuoteMode) (*decimal.Decimal, error) {
	params := []interface{}{
		dexID,
		string(input),
		string(output),
		amount.String(),
		string(mode),
		[]string{},
		"Disabled",
	}

	var result *quoteResult
	if err := c.t.Call(ctx, MethodQuote, params, &result); err != nil {
		return nil, err
	}
	if result == nil || result.Amount.IsNil() {
		return nil, nil
	}
	out, err := result.Amount.Decimal()
	if err != nil {
		return nil, fmt.Errorf("quote amount: %w", err)
	}
	return &out, nil
}

type assetInfoResult struct {
	AssetID   string `json:"asset_id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Precision int32  `json:"precision"`
}

// ListAssets returns metadata for every registered asset.
func (c *NodeClient) ListAssets(ctx context.Context) ([]domain.AssetInfo, error) {
	var result []assetInfoResult
	if err := c.t.Call(ctx, MethodListAssets, nil, &result); err != nil {
		return nil, err
	}

	infos := make([]domain.AssetInfo, 0, len(result))
	for _, r := range result {
		id, err := domain.ParseAssetID(r.AssetID)
		if err != nil {
			continue
		}
		infos = append(infos, domain.AssetInfo{
			AssetID:   id,
			Symbol:    r.Symbol,
			Name:      r.Name,
			Precision: r.Precision,
		})
	}
	return infos, nil
}

// PoolReserves reads PoolXYK.Reserves(base, target). An all-zero entry is
// storage's default and reported as a missing pool.
func (c *NodeClient) PoolReserves(ctx context.Context, base, target domain.AssetID) (*Reserves, error) {
	params := []interface{}{"PoolXYK", "Reserves", []string{string(base), string(target)}}

	var v codec.Value
	if err := c.t.Call(ctx, MethodDecodedStorage, params, &v); err != nil {
		return nil, err
	}
	if v.IsNil() {
		return nil, nil
	}

	first, ok1 := v.Index(0)
	second, ok2 := v.Index(1)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: reserves %s", codec.ErrShape, v)
	}
	b, err := first.Decimal()
	if err != nil {
		return nil, err
	}
	t, err := second.Decimal()
	if err != nil {
		return nil, err
	}
	if b.IsZero() && t.IsZero() {
		return nil, nil
	}
	return &Reserves{Base: b, Target: t}, nil
}

type runtimeVersionResult struct {
	SpecVersion uint32 `json:"specVersion"`
}

// RuntimeVersion returns the runtime spec version.
func (c *NodeClient) RuntimeVersion(ctx context.Context) (uint32, error) {
	var result runtimeVersionResult
	if err := c.t.Call(ctx, MethodRuntimeVersion, nil, &result); err != nil {
		return 0, err
	}
	return result.SpecVersion, nil
}

// Close releases the transport.
func (c *NodeClient) Close() error {
	return c.t.Close()
}
