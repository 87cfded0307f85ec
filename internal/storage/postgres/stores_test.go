package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
	"sora-dex-indexer/internal/storage/migrations"
	"sora-dex-indexer/internal/storage/postgres"
)

// setupTestDB starts a PostgreSQL container and applies the embedded schema.
func setupTestDB(t *testing.T) (*postgres.Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool))

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func seedPair(t *testing.T, ctx context.Context, pool *postgres.Pool) int64 {
	t.Helper()
	tokens := postgres.NewTokenStore(pool)
	require.NoError(t, tokens.Upsert(ctx, domain.AssetInfo{AssetID: domain.XOR, Symbol: "XOR", Name: "SORA", Precision: 18}.ToToken()))
	require.NoError(t, tokens.Upsert(ctx, domain.AssetInfo{AssetID: domain.VAL, Symbol: "VAL", Name: "Validator", Precision: 18}.ToToken()))

	id, err := postgres.NewPairStore(pool).Upsert(ctx, &domain.Pair{From: domain.XOR, To: domain.VAL})
	require.NoError(t, err)
	return id
}

func TestPostgresStores(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pairID := seedPair(t, ctx, pool)
	ops := postgres.NewOperationStore(pool)

	_, ok, err := ops.MaxBlock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	fee := decimal.NewFromInt(3)
	rows := &domain.BlockRows{
		Block: 9,
		Swaps: []*domain.SwapRow{{
			OpID: "0xa", LegIndex: 0, Block: 9, Timestamp: 2000, FeePaid: decimal.NewFromInt(70),
			PairID: pairID, DexID: 0, FromAmount: decimal.RequireFromString("1000000000000000000000"),
			ToAmount: decimal.NewFromInt(5), FilterMode: domain.FilterModeSmart, SwapFee: &fee,
		}},
		Operations: []*domain.OperationRow{{
			OpID: "0xb", Kind: domain.KindOutBridge, Block: 9, Timestamp: 2000, FeePaid: decimal.Zero,
			AssetA: domain.VAL, AmountA: decimal.NewFromInt(55), Reference: "0xabc", ReferenceType: "EthAddress",
		}},
		Burns: []*domain.TokenAmountRow{{OpID: "0xc", Block: 9, Timestamp: 2000, Asset: domain.PSWAP, Amount: decimal.NewFromInt(77)}},
	}

	require.NoError(t, ops.InsertBlock(ctx, rows))
	assert.True(t, errors.Is(ops.InsertBlock(ctx, rows), storage.ErrDuplicateKey))
	require.NoError(t, ops.ReplaceBlock(ctx, rows))

	max, ok, err := ops.MaxBlock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), max)

	swaps, err := ops.SwapsSince(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, swaps, 1, "replace keeps one row per key")
	assert.Equal(t, "1000000000000000000000", swaps[0].FromAmount.String())
	require.NotNil(t, swaps[0].SwapFee)
	assert.Equal(t, "3", swaps[0].SwapFee.String())

	burns, err := ops.BurnsSince(ctx, 1999)
	require.NoError(t, err)
	require.Len(t, burns, 1)
	assert.Equal(t, domain.PSWAP, burns[0].Asset)

	buyBacks, err := ops.BuyBacksSince(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, buyBacks)

	require.NoError(t, ops.DeleteByIDs(ctx, []string{"0xa", "0xb", "0xc"}))
	swaps, err = ops.SwapsSince(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, swaps)
}

func TestPostgresPairAndTokenStats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pairID := seedPair(t, ctx, pool)
	pairs := postgres.NewPairStore(pool)
	tokens := postgres.NewTokenStore(pool)

	price := decimal.RequireFromString("0.25")
	again, err := pairs.Upsert(ctx, &domain.Pair{From: domain.XOR, To: domain.VAL, QuotePrice: &price})
	require.NoError(t, err)
	assert.Equal(t, pairID, again)

	_, err = pairs.Upsert(ctx, &domain.Pair{From: domain.XOR, To: domain.VAL})
	require.NoError(t, err)

	require.NoError(t, pairs.UpdateStats(ctx, []domain.PairStats{{
		PairID:        pairID,
		FromVolume:    decimal.RequireFromString("1.5"),
		ToVolume:      decimal.RequireFromString("2.5"),
		FromLiquidity: decimal.NewFromInt(10),
		ToLiquidity:   decimal.NewFromInt(20),
	}}))

	all, err := pairs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].QuotePrice, "upsert without a price keeps the stored one")
	assert.Equal(t, "0.25", all[0].QuotePrice.String())
	assert.Equal(t, "1.5", all[0].FromVolume.String())
	assert.Equal(t, "20", all[0].ToLiquidity.String())

	require.NoError(t, tokens.UpdateVolumes(ctx, map[domain.AssetID]decimal.Decimal{domain.XOR: decimal.RequireFromString("4.2")}))
	list, err := tokens.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "4.2", list[0].TradeVolume.String())
	assert.True(t, list[1].TradeVolume.IsZero())
}

func TestResetPostgres(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	seedPair(t, ctx, pool)
	require.NoError(t, migrations.ResetPostgres(ctx, pool))

	tokens, err := postgres.NewTokenStore(pool).GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
