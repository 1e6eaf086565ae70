// Package migrations embeds the schema and seed files shipped with the binaries.
package migrations

import "embed"

// FS holds sql/*.up.sql, sql/*.down.sql and seeds/*.sql.
//
//go:embed sql/*.sql seeds/*.sql
var FS embed.FS

const (
	SchemaDir = "sql"
	SeedsDir  = "seeds"
)
