// Package database provides SQLite connectivity for the Free Sleep core.
//
// The core keeps two tables: a command log (every command the gateway
// executed, with its outcome) and a state history of merged snapshots.
// Both live in one SQLite file opened in WAL mode.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or carry a
// DEFAULT value.
package database
