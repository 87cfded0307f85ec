package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Upsert inserts a token or updates its metadata.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.Token) error {
	if t == nil || t.AssetID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token (asset_id, symbol, name, decimals, trade_volume)
		VALUES ($1, $2, $3, $4, $5::text::numeric)
		ON CONFLICT (asset_id) DO UPDATE
		SET symbol = EXCLUDED.symbol, name = EXCLUDED.name, decimals = EXCLUDED.decimals
	`

	_, err := s.pool.Exec(ctx, query,
		string(t.AssetID),
		t.Symbol,
		t.Name,
		t.Decimals,
		numeric(t.TradeVolume),
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// GetAll retrieves every token, ordered by asset id.
func (s *TokenStore) GetAll(ctx context.Context) ([]*domain.Token, error) {
	query := `
		SELECT asset_id, symbol, name, decimals, trade_volume::text
		FROM token
		ORDER BY asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		var (
			t      domain.Token
			asset  string
			volume string
		)
		if err := rows.Scan(&asset, &t.Symbol, &t.Name, &t.Decimals, &volume); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		t.AssetID = domain.AssetID(asset)
		if t.TradeVolume, err = parseNumeric(volume); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// UpdateVolumes sets the trade volume of each listed token in one transaction.
func (s *TokenStore) UpdateVolumes(ctx context.Context, volumes map[domain.AssetID]decimal.Decimal) error {
	if len(volumes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `UPDATE token SET trade_volume = $2::text::numeric WHERE asset_id = $1`
	for asset, v := range volumes {
		if _, err := tx.Exec(ctx, query, string(asset), numeric(v)); err != nil {
			return fmt.Errorf("update token volume: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
