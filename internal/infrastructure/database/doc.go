// Package database provides SQLite connectivity for the gateway's
// persistence store.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Forward-only schema migrations from an fs.FS
//   - Lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
