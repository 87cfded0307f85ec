package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
)

// Key identifies a cached price: one asset on one DEX.
type Key struct {
	DexID int
	Asset domain.AssetID
}

// Cache stores prices for the duration of a sync session.
type Cache interface {
	// Get returns the cached price and whether it was present.
	Get(ctx context.Context, key Key) (decimal.Decimal, bool, error)
	// Set stores a price.
	Set(ctx context.Context, key Key, price decimal.Decimal) error
	// Reset starts a new session. Prices of earlier sessions become invisible.
	Reset(ctx context.Context, session string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[Key]decimal.Decimal
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[Key]decimal.Decimal)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key Key) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[key]
	return p, ok, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key Key, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = price
	return nil
}

// Reset implements Cache by dropping every entry.
func (c *MemoryCache) Reset(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[Key]decimal.Decimal)
	return nil
}

// Len returns the number of cached prices.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// DefaultRedisTTL bounds the lifetime of a session's keys.
const DefaultRedisTTL = 24 * time.Hour

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys. Defaults to "sora-dex-indexer:price".
	Prefix string
	// TTL of every key. Defaults to DefaultRedisTTL.
	TTL time.Duration
}

// RedisCache shares prices through Redis. Keys are namespaced by session id,
// so a reset never deletes anything and stale sessions simply expire.
type RedisCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	mu      sync.RWMutex
	session string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to Redis.
func NewRedisCache(opts RedisOptions) *RedisCache {
	if opts.Prefix == "" {
		opts.Prefix = "sora-dex-indexer:price"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisCache{client: client, prefix: opts.Prefix, ttl: opts.TTL}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(k Key) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%s:%d:%s", c.prefix, c.session, k.DexID, k.Asset)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key Key) (decimal.Decimal, bool, error) {
	s, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get: %w", err)
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get: malformed price %q: %w", s, err)
	}
	return p, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key Key, price decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key(key), price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Reset implements Cache by switching the key namespace.
func (c *RedisCache) Reset(_ context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	return nil
}
