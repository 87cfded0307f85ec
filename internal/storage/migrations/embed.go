// Package migrations embeds and applies the database schemas.
package migrations

import "embed"

// PostgresFS embeds the PostgreSQL schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse snapshot schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
