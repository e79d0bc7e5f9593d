// Package database opens the SQLite file behind the device store and keeps
// its schema current.
//
// The store is small: one row per provisioned device, written by fmstatus
// when a device is provisioned and by the tracker when a device's connected
// flag flips. WAL mode lets fmstatus read while the tracker writes.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	// import _ ".../migrations" to embed the schema
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Schema changes are forward-only *.up.sql files. A binary refuses to run
// against a store migrated by a newer build (ErrSchemaTooNew).
package database
