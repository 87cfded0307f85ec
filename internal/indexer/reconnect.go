package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/substrate"
)

// ErrReconnectsExhausted is returned when no endpoint could be reached within
// the attempt budget.
var ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

// DialFunc opens a chain client for an endpoint.
type DialFunc func(ctx context.Context, endpoint string) (substrate.Client, error)

// ReconnectOptions configures a Reconnector.
type ReconnectOptions struct {
	// Endpoints are tried in order, primary first.
	Endpoints []string
	Dial      DialFunc
	// MaxAttempts bounds the dials per failure. Zero makes every transport
	// failure fatal.
	MaxAttempts int
	// Delay is waited before each dial.
	Delay  time.Duration
	Logger *log.Logger
}

// Reconnector rotates through node endpoints after transport failures.
// Each endpoint is followed by its http/ws twin.
type Reconnector struct {
	candidates []string
	dial       DialFunc
	max        int
	delay      time.Duration
	logger     *log.Logger
	next       int
}

// NewReconnector creates a reconnector. The first candidate after the primary
// endpoint is its scheme twin.
func NewReconnector(opts ReconnectOptions) *Reconnector {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Reconnector{
		candidates: Candidates(opts.Endpoints),
		dial:       opts.Dial,
		max:        opts.MaxAttempts,
		delay:      opts.Delay,
		logger:     opts.Logger,
		next:       1,
	}
}

// Candidates expands endpoints with their alternate-scheme twins, without
// duplicates.
func Candidates(endpoints []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(e string) {
		if _, ok := seen[e]; ok || e == "" {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	for _, e := range endpoints {
		add(e)
		add(AlternateScheme(e))
	}
	return out
}

// AlternateScheme swaps ws<->http and wss<->https. Other URLs yield "".
func AlternateScheme(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return ""
	}
	return u.String()
}

// Reconnect dials candidates round-robin until one answers or the attempt
// budget runs out. cause is the failure being recovered from.
func (r *Reconnector) Reconnect(ctx context.Context, cause error) (substrate.Client, string, error) {
	if r.max == 0 || len(r.candidates) == 0 {
		observability.RecordReconnect("exhausted")
		return nil, "", fmt.Errorf("%w: %v", ErrReconnectsExhausted, cause)
	}

	lastErr := cause
	for attempt := 1; attempt <= r.max; attempt++ {
		endpoint := r.candidates[r.next%len(r.candidates)]
		r.next++

		if r.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(r.delay):
			}
		}

		r.logger.Printf("reconnect attempt %d/%d to %s after: %v", attempt, r.max, endpoint, lastErr)
		client, err := r.dial(ctx, endpoint)
		if err == nil {
			if _, err = client.FinalizedHead(ctx); err == nil {
				observability.RecordReconnect("ok")
				return client, endpoint, nil
			}
			_ = client.Close()
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		observability.RecordReconnect("failed")
		lastErr = err
	}

	observability.RecordReconnect("exhausted")
	return nil, "", fmt.Errorf("%w after %d attempts: %v", ErrReconnectsExhausted, r.max, lastErr)
}
