// Package migrations embeds and applies the schema for both backends:
// PostgreSQL for accounts and sessions, ClickHouse for the tick and
// large-order archives.
package migrations

import "embed"

// PostgresFS holds the account and session schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the tick and large-order archive schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
