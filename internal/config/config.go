// Package config loads indexer configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sora-dex-indexer/internal/codec"
)

// DefaultTechAccount is the DEX technical account that relays multi-hop swaps.
const DefaultTechAccount = "cnTQ1kbv7PBNNQrEb1tZpmK7ftiv4yCCpUQy1J2y7Y54Taiaw"

// Config holds all indexer configuration.
type Config struct {
	Node       NodeConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Sync       SyncConfig
	Accounts   AccountsConfig
	Server     ServerConfig
}

type NodeConfig struct {
	URL          string
	FallbackURLs []string
	// Schema is auto, keyed, positional or legacy.
	Schema string
	// KeyedSinceSpec is the runtime spec version from which event attributes
	// are keyed. Zero means unknown, which resolves auto to legacy.
	KeyedSinceSpec uint32
	RateLimit      float64
}

type PostgresConfig struct {
	DSN string
}

type ClickHouseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SyncConfig struct {
	FollowInterval time.Duration
	MaxReconnects  int
	ProgressEvery  int
}

type AccountsConfig struct {
	Tech    string
	BuyBack string
}

type ServerConfig struct {
	MetricsAddr string
}

// Load reads configuration from the environment. When envFile is set it is
// loaded first and must exist; otherwise a .env in the working directory is
// loaded if present. Variables already set in the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Node: NodeConfig{
			URL:            getEnv("NODE_URL", "ws://127.0.0.1:9944"),
			FallbackURLs:   getEnvAsSlice("NODE_FALLBACK_URLS", ","),
			Schema:         strings.ToLower(getEnv("NODE_SCHEMA", "auto")),
			KeyedSinceSpec: uint32(getEnvAsInt("NODE_KEYED_SINCE_SPEC", 0)),
			RateLimit:      getEnvAsFloat("NODE_RATE_LIMIT", 0),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("POSTGRES_DSN", ""),
		},
		ClickHouse: ClickHouseConfig{
			DSN: getEnv("CLICKHOUSE_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", ","),
			Topic:   getEnv("KAFKA_TOPIC", "sora-dex-operations"),
		},
		Sync: SyncConfig{
			FollowInterval: getEnvAsDuration("FOLLOW_INTERVAL", 60*time.Second),
			MaxReconnects:  getEnvAsInt("MAX_RECONNECTS", 3),
			ProgressEvery:  getEnvAsInt("PROGRESS_EVERY", 1000),
		},
		Accounts: AccountsConfig{
			Tech:    getEnv("TECH_ACCOUNT", DefaultTechAccount),
			BuyBack: getEnv("BUYBACK_ACCOUNT", ""),
		},
		Server: ServerConfig{
			MetricsAddr: getEnv("METRICS_ADDR", ""),
		},
	}
	return cfg, nil
}

// Validate checks the configuration. Postgres is required unless memory is set.
func (c *Config) Validate(memory bool) error {
	if c.Node.URL == "" {
		return fmt.Errorf("NODE_URL is required")
	}
	if !memory && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (or use --use-memory)")
	}
	if c.Node.Schema != "auto" {
		if _, err := codec.ParseSchema(c.Node.Schema); err != nil {
			return fmt.Errorf("NODE_SCHEMA: %w", err)
		}
	}
	if c.Node.RateLimit < 0 {
		return fmt.Errorf("NODE_RATE_LIMIT must be >= 0")
	}
	if c.Sync.FollowInterval <= 0 {
		return fmt.Errorf("FOLLOW_INTERVAL must be positive")
	}
	if c.Sync.MaxReconnects < 0 {
		return fmt.Errorf("MAX_RECONNECTS must be >= 0")
	}
	if c.Accounts.Tech == "" {
		return fmt.Errorf("TECH_ACCOUNT is required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// Endpoints returns the primary node URL followed by the fallbacks.
func (c *Config) Endpoints() []string {
	return append([]string{c.Node.URL}, c.Node.FallbackURLs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.Atoi(v); err == nil {
		return time.Duration(s) * time.Second
	}
	return fallback
}

func getEnvAsSlice(key, sep string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
