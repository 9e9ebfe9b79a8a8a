// Package migrations embeds the SQL migration files into the binary, so
// the peer directory schema is created without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/herald-mqtt/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
