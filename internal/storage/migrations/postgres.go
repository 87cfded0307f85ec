package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"sora-dex-indexer/internal/storage/postgres"
)

// postgresTables lists every table created by the migrations, dependents first.
var postgresTables = []string{"buyback", "burn", "operation", "swap", "pair", "token"}

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

// ResetPostgres drops every indexer table and applies the migrations again.
func ResetPostgres(ctx context.Context, pool *postgres.Pool) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", strings.Join(postgresTables, ", "))
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return RunPostgresMigrations(ctx, pool)
}

// sqlFiles lists the .sql files of dir, sorted by name.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
