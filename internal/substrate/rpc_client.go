package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sora-dex-indexer/internal/observability"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultRetries     = 3
	defaultBackoff     = time.Second
	maxBackoff         = 10 * time.Second
)

// HTTPClient is a JSON-RPC 2.0 transport over HTTP. Failed requests are
// retried with doubling backoff; node-reported RPC errors are not.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	retries  int
	backoff  time.Duration
	limiter  *rate.Limiter

	ids    atomic.Uint64
	closed atomic.Bool
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithMaxRetries sets how many times a failed request is repeated.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.retries = n }
}

// WithRetryDelay sets the first backoff; later ones double up to 10s.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.backoff = d }
}

// WithRateLimit caps outgoing requests per second. Zero disables the cap.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewHTTPClient creates a transport for an http(s) node endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultHTTPTimeout},
		retries:  defaultRetries,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Call sends method with params and decodes the result into result.
// When every attempt fails the error wraps ErrTransport.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any, result any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.ids.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	wait := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait = min(2*wait, maxBackoff)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		retry, err := c.post(ctx, method, body, result)
		if !retry {
			return err
		}
		lastErr = err
	}
	return transport(fmt.Errorf("%s failed after %d attempts: %w", method, c.retries+1, lastErr))
}

// post performs one request. retry is true when the failure happened before
// the node produced a usable answer.
func (c *HTTPClient) post(ctx context.Context, method string, body []byte, result any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return true, fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return true, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return false, out.Error
	}
	if result != nil && out.Result != nil {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return false, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return false, nil
}

// Close marks the transport closed and drops idle connections.
func (c *HTTPClient) Close() error {
	if !c.closed.Swap(true) {
		c.http.CloseIdleConnections()
	}
	return nil
}
