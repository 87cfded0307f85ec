package clickhouse

import (
	"context"
	"fmt"
	"time"

	"sora-dex-indexer/internal/domain"
	"sora-dex-indexer/internal/observability"
	"sora-dex-indexer/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertSnapshots appends snapshots in one batch.
func (s *SnapshotStore) InsertSnapshots(ctx context.Context, snapshots []*domain.StatsSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "insert_snapshots", time.Since(start).Seconds(), err)
	}(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO stats_snapshot (
			taken_at, entity, key, volume, to_volume, from_liquidity, to_liquidity
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			uint64(snap.TakenAt), snap.Entity, snap.Key,
			snap.Volume, snap.ToVolume, snap.FromLiquidity, snap.ToLiquidity,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot of each (entity, key).
func (s *SnapshotStore) Latest(ctx context.Context) ([]*domain.StatsSnapshot, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			max(taken_at),
			entity,
			key,
			argMax(volume, taken_at),
			argMax(to_volume, taken_at),
			argMax(from_liquidity, taken_at),
			argMax(to_liquidity, taken_at)
		FROM stats_snapshot
		GROUP BY entity, key
		ORDER BY entity, key
	`)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.StatsSnapshot
	for rows.Next() {
		var (
			takenAt uint64
			snap    domain.StatsSnapshot
		)
		err := rows.Scan(&takenAt, &snap.Entity, &snap.Key,
			&snap.Volume, &snap.ToVolume, &snap.FromLiquidity, &snap.ToLiquidity)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.TakenAt = int64(takenAt)
		result = append(result, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}
