// Package migrations applies the schema for the trade ledger (Postgres) and
// the candle series (ClickHouse) at startup.
package migrations

import "embed"

// PostgresFS holds the trade ledger schema files, applied in lexical order.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the candle table schema files, applied in lexical order.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
