package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// rpcHandler answers one JSON-RPC method.
type rpcHandler func(params []json.RawMessage) interface{}

// newRPCServer serves JSON-RPC requests by method name.
func newRPCServer(t *testing.T, handlers map[string]rpcHandler) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if h, ok := handlers[req.Method]; ok {
			resp["result"] = h(req.Params)
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "Method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"specVersion": 71},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewNodeClient(NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	), server.URL)

	spec, err := client.RuntimeVersion(context.Background())
	if err != nil {
		t.Fatalf("RuntimeVersion: %v", err)
	}
	if spec != 71 {
		t.Errorf("expected spec 71, got %d", spec)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RetriesExhaustedIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(1), WithRetryDelay(time.Millisecond))

	err := client.Call(context.Background(), MethodFinalizedHead, nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
	if !IsTransport(err) {
		t.Error("IsTransport should report exhausted retries")
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := newRPCServer(t, nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)

	err := client.Call(context.Background(), "unknown_method", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("expected code -32601, got %d", rpcErr.Code)
	}
	if IsTransport(err) {
		t.Error("method-not-found must not be a transport failure")
	}
}

func TestHTTPClient_ClosedRejectsCalls(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1")
	client.Close()

	err := client.Call(context.Background(), MethodFinalizedHead, nil, nil)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, MethodFinalizedHead, nil, nil)
	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}
}

func TestNodeClient_FinalizedHead(t *testing.T) {
	server := newRPCServer(t, map[string]rpcHandler{
		MethodFinalizedHead: func([]json.RawMessage) interface{} { return "0xabc" },
		MethodHeader: func(params []json.RawMessage) interface{} {
			if string(params[0]) != `"0xabc"` {
				t.Errorf("unexpected header param %s", params[0])
			}
			return map[string]interface{}{"number": "0x1a"}
		},
	})
	defer server.Close()

	client := NewNodeClient(NewHTTPClient(server.URL), server.URL)

	head, err := client.FinalizedHead(context.Background())
	if err != nil {
		t.Fatalf("FinalizedHead: %v", err)
	}
	if head != 26 {
		t.Errorf("expected head 26, got %d", head)
	}
}

func TestNodeClient_GetBlockAndEvents(t *testing.T) {
	server := newRPCServer(t, map[string]rpcHandler{
		MethodBlockHash: func([]json.RawMessage) interface{} { return "0xb10c" },
		MethodDecodedBlock: func([]json.RawMessage) interface{} {
			return map[string]interface{}{
				"block": map[string]interface{}{
					"header": map[string]interface{}{"number": 7},
					"extrinsics": []interface{}{
						map[string]interface{}{
							"call": map[string]interface{}{
								"call_module":   "Timestamp",
								"call_function": "set",
								"call_args": []interface{}{
									map[string]interface{}{"name": "now", "type": "Moment", "value": 1700000000000},
								},
							},
						},
						map[string]interface{}{
							"extrinsic_hash": "0xdead",
							"call_module":    "Assets",
							"call_function":  "transfer",
							"params": []interface{}{
								map[string]interface{}{"name": "amount", "type": "Balance", "value": "5"},
							},
						},
					},
				},
			}
		},
		MethodDecodedEvents: func([]json.RawMessage) interface{} {
			return []interface{}{
				map[string]interface{}{"extrinsic_idx": 0, "module_id": "System", "event_id": "ExtrinsicSuccess", "attributes": []interface{}{}},
				map[string]interface{}{"extrinsic_idx": 1, "module_id": "Balances", "event_id": "Transferred",
					"params": []interface{}{map[string]interface{}{"type": "AssetId", "value": "0x02"}}},
				map[string]interface{}{"extrinsic_idx": nil, "module_id": "System", "event_id": "Finalized",
					"event": map[string]interface{}{"attributes": map[string]interface{}{"who": "x"}}},
			}
		},
	})
	defer server.Close()

	client := NewNodeClient(NewHTTPClient(server.URL), server.URL)
	ctx := context.Background()

	block, err := client.GetBlock(ctx, 7)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if block.Number != 7 || block.Hash != "0xb10c" {
		t.Errorf("unexpected block header %d %s", block.Number, block.Hash)
	}
	if len(block.Extrinsics) != 2 {
		t.Fatalf("expected 2 extrinsics, got %d", len(block.Extrinsics))
	}
	if block.Extrinsics[1].Function != "transfer" || block.Extrinsics[1].Hash != "0xdead" {
		t.Errorf("params layout not decoded: %+v", block.Extrinsics[1])
	}
	if _, ok := block.Extrinsics[0].Arg("now"); !ok {
		t.Error("call_args layout not decoded")
	}

	events, err := client.GetEvents(ctx, block.Hash)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[2].ExtrinsicIdx != nil {
		t.Error("finalization event must have no extrinsic index")
	}
	if events[1].Attributes.IsNil() || events[2].Attributes.IsNil() {
		t.Error("params and nested attributes must be decoded")
	}
	if events[2].Index != 2 {
		t.Errorf("expected event index 2, got %d", events[2].Index)
	}
}

func TestNodeClient_GetBlockMissing(t *testing.T) {
	server := newRPCServer(t, map[string]rpcHandler{
		MethodBlockHash: func([]json.RawMessage) interface{} { return nil },
	})
	defer server.Close()

	client := NewNodeClient(NewHTTPClient(server.URL), server.URL)

	_, err := client.GetBlock(context.Background(), 99)
	if !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestNodeClient_QuoteAndAssets(t *testing.T) {
	server := newRPCServer(t, map[string]rpcHandler{
		MethodQuote: func(params []json.RawMessage) interface{} {
			if string(params[1]) == `"`+string(domain.PSWAP)+`"` {
				return nil
			}
			return map[string]interface{}{"amount": "2000000000000000000", "fee": "0"}
		},
		MethodListAssets: func([]json.RawMessage) interface{} {
			return []interface{}{
				map[string]interface{}{"asset_id": string(domain.VAL), "symbol": "VAL", "name": "SORA Validator Token", "precision": 18},
				map[string]interface{}{"asset_id": "garbage", "symbol": "BAD"},
			}
		},
		MethodDecodedStorage: func([]json.RawMessage) interface{} {
			return []interface{}{"1000", "2000"}
		},
	})
	defer server.Close()

	client := NewNodeClient(NewHTTPClient(server.URL), server.URL)
	ctx := context.Background()
	one := decimal.New(1, 18)

	q, err := client.Quote(ctx, 0, domain.VAL, domain.XOR, one, WithDesiredInput)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q == nil || q.String() != "2000000000000000000" {
		t.Errorf("unexpected quote %v", q)
	}

	q, err = client.Quote(ctx, 0, domain.PSWAP, domain.XOR, one, WithDesiredInput)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q != nil {
		t.Errorf("expected nil quote for missing route, got %v", q)
	}

	assets, err := client.ListAssets(ctx)
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(assets) != 1 || assets[0].Precision != 18 {
		t.Errorf("unexpected assets %+v", assets)
	}

	r, err := client.PoolReserves(ctx, domain.XOR, domain.VAL)
	if err != nil {
		t.Fatalf("PoolReserves: %v", err)
	}
	if r == nil || r.Base.String() != "1000" || r.Target.String() != "2000" {
		t.Errorf("unexpected reserves %+v", r)
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://node", DialOptions{})
	if err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
