package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/storage"
)

// OperationStore implements storage.OperationStore using PostgreSQL.
type OperationStore struct {
	pool *Pool
}

// NewOperationStore creates a new OperationStore.
func NewOperationStore(pool *Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OperationStore = (*OperationStore)(nil)

const (
	insertSwapQuery = `
		INSERT INTO swap (
			op_id, leg_index, block, timestamp, fee_paid, pair_id, dex_id,
			from_amount, to_amount, filter_mode, swap_fee
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8::text::numeric, $9::text::numeric, $10, $11::text::numeric)
	`
	insertOperationQuery = `
		INSERT INTO operation (
			op_id, kind, block, timestamp, fee_paid, asset_a, asset_b,
			amount_a, amount_b, reference, reference_type
		) VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8::text::numeric, $9::text::numeric, $10, $11)
	`
	// %s is burn or buyback.
	insertTokenAmountQuery = `
		INSERT INTO %s (op_id, block, timestamp, asset_id, amount)
		VALUES ($1, $2, $3, $4, $5::text::numeric)
	`
)

// InsertBlock adds all rows of a block atomically.
func (s *OperationStore) InsertBlock(ctx context.Context, rows *domain.BlockRows) (err error) {
	if rows == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("insert_block", start, err) }(time.Now())

	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertRows(ctx, tx, rows)
	})
}

// ReplaceBlock deletes rows carrying the block's operation ids and inserts
// the block's rows in one transaction.
func (s *OperationStore) ReplaceBlock(ctx context.Context, rows *domain.BlockRows) (err error) {
	if rows == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("replace_block", start, err) }(time.Now())

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := deleteIDs(ctx, tx, rows.OpIDs()); err != nil {
			return err
		}
		return insertRows(ctx, tx, rows)
	})
}

// DeleteByIDs removes every row with one of the operation ids.
func (s *OperationStore) DeleteByIDs(ctx context.Context, ids []string) (err error) {
	if len(ids) == 0 {
		return nil
	}
	defer func(start time.Time) { observe("delete_by_ids", start, err) }(time.Now())

	return s.inTx(ctx, func(tx pgx.Tx) error {
		return deleteIDs(ctx, tx, ids)
	})
}

// MaxBlock returns the highest persisted block across all operation tables.
func (s *OperationStore) MaxBlock(ctx context.Context) (int64, bool, error) {
	query := `
		SELECT MAX(block) FROM (
			SELECT MAX(block) AS block FROM swap
			UNION ALL SELECT MAX(block) FROM operation
			UNION ALL SELECT MAX(block) FROM burn
			UNION ALL SELECT MAX(block) FROM buyback
		) AS blocks
	`

	var block *int64
	if err := s.pool.QueryRow(ctx, query).Scan(&block); err != nil {
		return 0, false, fmt.Errorf("get max block: %w", err)
	}
	if block == nil {
		return 0, false, nil
	}
	return *block, true, nil
}

// SwapsSince retrieves swap legs with timestamp > sinceMs.
func (s *OperationStore) SwapsSince(ctx context.Context, sinceMs int64) ([]*domain.SwapRow, error) {
	query := `
		SELECT op_id, leg_index, block, timestamp, fee_paid::text, pair_id, dex_id,
			from_amount::text, to_amount::text, filter_mode, swap_fee::text
		FROM swap
		WHERE timestamp > $1
		ORDER BY timestamp ASC, op_id ASC, leg_index ASC
	`

	rows, err := s.pool.Query(ctx, query, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("get swaps since: %w", err)
	}
	defer rows.Close()

	return scanSwapRows(rows)
}

// BurnsSince retrieves burns with timestamp > sinceMs.
func (s *OperationStore) BurnsSince(ctx context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error) {
	return s.tokenAmountsSince(ctx, "burn", sinceMs)
}

// BuyBacksSince retrieves buybacks with timestamp > sinceMs.
func (s *OperationStore) BuyBacksSince(ctx context.Context, sinceMs int64) ([]*domain.TokenAmountRow, error) {
	return s.tokenAmountsSince(ctx, "buyback", sinceMs)
}

func (s *OperationStore) tokenAmountsSince(ctx context.Context, table string, sinceMs int64) ([]*domain.TokenAmountRow, error) {
	query := fmt.Sprintf(`
		SELECT op_id, block, timestamp, asset_id, amount::text
		FROM %s
		WHERE timestamp > $1
		ORDER BY timestamp ASC, op_id ASC
	`, table)

	rows, err := s.pool.Query(ctx, query, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("get %s since: %w", table, err)
	}
	defer rows.Close()

	var result []*domain.TokenAmountRow
	for rows.Next() {
		var (
			r      domain.TokenAmountRow
			asset  string
			amount string
		)
		if err := rows.Scan(&r.OpID, &r.Block, &r.Timestamp, &asset, &amount); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.Asset = domain.AssetID(asset)
		if r.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return result, nil
}

// inTx runs fn in a transaction and maps unique violations to ErrDuplicateKey.
func (s *OperationStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx pgx.Tx, rows *domain.BlockRows) error {
	for _, r := range rows.Swaps {
		_, err := tx.Exec(ctx, insertSwapQuery,
			r.OpID, r.LegIndex, r.Block, r.Timestamp, numeric(r.FeePaid), r.PairID, r.DexID,
			numeric(r.FromAmount), numeric(r.ToAmount), r.FilterMode, nullableNumeric(r.SwapFee),
		)
		if err != nil {
			return fmt.Errorf("insert swap %s/%d: %w", r.OpID, r.LegIndex, err)
		}
	}
	for _, r := range rows.Operations {
		_, err := tx.Exec(ctx, insertOperationQuery,
			r.OpID, string(r.Kind), r.Block, r.Timestamp, numeric(r.FeePaid),
			string(r.AssetA), string(r.AssetB), numeric(r.AmountA), numeric(r.AmountB),
			r.Reference, r.ReferenceType,
		)
		if err != nil {
			return fmt.Errorf("insert operation %s: %w", r.OpID, err)
		}
	}
	for table, list := range map[string][]*domain.TokenAmountRow{"burn": rows.Burns, "buyback": rows.BuyBacks} {
		query := fmt.Sprintf(insertTokenAmountQuery, table)
		for _, r := range list {
			if _, err := tx.Exec(ctx, query, r.OpID, r.Block, r.Timestamp, string(r.Asset), numeric(r.Amount)); err != nil {
				return fmt.Errorf("insert %s %s: %w", table, r.OpID, err)
			}
		}
	}
	return nil
}

func deleteIDs(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, table := range []string{"swap", "operation", "burn", "buyback"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE op_id = ANY($1)`, table), ids); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// scanSwapRows scans multiple rows into a slice of SwapRow.
func scanSwapRows(rows pgx.Rows) ([]*domain.SwapRow, error) {
	var result []*domain.SwapRow

	for rows.Next() {
		var (
			r             domain.SwapRow
			fee, from, to string
			swapFee       *string
		)
		err := rows.Scan(
			&r.OpID,
			&r.LegIndex,
			&r.Block,
			&r.Timestamp,
			&fee,
			&r.PairID,
			&r.DexID,
			&from,
			&to,
			&r.FilterMode,
			&swapFee,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		if r.FeePaid, err = parseNumeric(fee); err != nil {
			return nil, err
		}
		if r.FromAmount, err = parseNumeric(from); err != nil {
			return nil, err
		}
		if r.ToAmount, err = parseNumeric(to); err != nil {
			return nil, err
		}
		if r.SwapFee, err = parseNullableNumeric(swapFee); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return result, nil
}
