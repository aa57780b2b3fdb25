// Package database opens the SQLite store that holds configuration entries.
//
// The store is small: one table of entries plus the schema_migrations
// bookkeeping table. Connections are opened with foreign keys on and,
// optionally, WAL journaling so API reads do not block a setup in progress.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package, which sets MigrationsFS
// from its init function. Files are named YYYYMMDD_HHMMSS_description.up.sql
// with an optional matching .down.sql, and are applied oldest first, each in
// its own transaction.
package database
