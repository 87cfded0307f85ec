package postgres

import (
	"context"
	"fmt"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// PairStore implements storage.PairStore using PostgreSQL.
type PairStore struct {
	pool *Pool
}

// NewPairStore creates a new PairStore.
func NewPairStore(pool *Pool) *PairStore {
	return &PairStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PairStore = (*PairStore)(nil)

// Upsert inserts a pair or updates its quote price, returning the id.
func (s *PairStore) Upsert(ctx context.Context, p *domain.Pair) (int64, error) {
	if p == nil || p.From == "" || p.To == "" {
		return 0, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pair (from_token, to_token, quote_price)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (from_token, to_token) DO UPDATE
		SET quote_price = COALESCE(EXCLUDED.quote_price, pair.quote_price)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query, string(p.From), string(p.To), nullableNumeric(p.QuotePrice)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert pair %s/%s: %w", p.From, p.To, err)
	}
	return id, nil
}

// GetAll retrieves every pair, ordered by id.
func (s *PairStore) GetAll(ctx context.Context) ([]*domain.Pair, error) {
	query := `
		SELECT id, from_token, to_token,
			from_token_volume::text, to_token_volume::text,
			from_token_liquidity::text, to_token_liquidity::text,
			quote_price::text
		FROM pair
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.Pair
	for rows.Next() {
		var (
			p                          domain.Pair
			from, to                   string
			fromVol, toVol, fromL, toL string
			quote                      *string
		)
		if err := rows.Scan(&p.ID, &from, &to, &fromVol, &toVol, &fromL, &toL, &quote); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.From, p.To = domain.AssetID(from), domain.AssetID(to)
		if p.FromVolume, err = parseNumeric(fromVol); err != nil {
			return nil, err
		}
		if p.ToVolume, err = parseNumeric(toVol); err != nil {
			return nil, err
		}
		if p.FromLiquidity, err = parseNumeric(fromL); err != nil {
			return nil, err
		}
		if p.ToLiquidity, err = parseNumeric(toL); err != nil {
			return nil, err
		}
		if p.QuotePrice, err = parseNullableNumeric(quote); err != nil {
			return nil, err
		}
		pairs = append(pairs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairs: %w", err)
	}
	return pairs, nil
}

// UpdateStats writes volume and liquidity columns in one transaction.
func (s *PairStore) UpdateStats(ctx context.Context, stats []domain.PairStats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE pair SET
			from_token_volume = $2::text::numeric,
			to_token_volume = $3::text::numeric,
			from_token_liquidity = $4::text::numeric,
			to_token_liquidity = $5::text::numeric
		WHERE id = $1
	`
	for _, st := range stats {
		_, err := tx.Exec(ctx, query,
			st.PairID,
			numeric(st.FromVolume),
			numeric(st.ToVolume),
			numeric(st.FromLiquidity),
			numeric(st.ToLiquidity),
		)
		if err != nil {
			return fmt.Errorf("update pair stats: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
