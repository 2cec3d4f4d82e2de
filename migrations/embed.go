// Package migrations embeds the goose SQL migrations for every supported dialect.
package migrations

import "embed"

// FS holds one directory of migrations per database dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dir returns the FS directory holding migrations for the named dialect.
func Dir(dialect string) string {
	if dialect == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
