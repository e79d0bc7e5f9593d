// Package migrations embeds SQL migration files into the binary.
//
// The presence tracker runs migrations at startup without needing the SQL
// files on the filesystem.
package migrations

import (
	"embed"

	"github.com/nerrad567/fm-presence/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Files are at the root of the embedded FS.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
