// Package migrations embeds the token table schema for each supported SQL dialect.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var migrationsFS embed.FS

// FS returns the migration tree for dialect ("postgres" or "sqlite").
func FS(dialect string) (fs.FS, error) {
	return fs.Sub(migrationsFS, dialect)
}
