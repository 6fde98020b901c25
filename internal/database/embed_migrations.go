package database

import "embed"

// MigrationFS holds the SQL schema applied by internal/database/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
