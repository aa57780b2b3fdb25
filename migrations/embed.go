// Package migrations embeds the SQL schema for the configuration-entry store.
package migrations

import (
	"embed"

	"github.com/nerrad567/fing-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
