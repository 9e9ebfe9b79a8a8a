// Package database provides the SQLite connection behind the persistent
// peer directory.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Schema migrations embedded in the binary (see the migrations package)
//   - A single-connection pool, which also keeps ":memory:" databases alive
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// are applied in version order, each in its own transaction.
package database
