// Copyright (c) 2026 Michael D Henderson. All rights reserved.

// Package sqlitestore is a thin access layer over an embedded SQLite store:
// connection lifecycle with optional at-rest encryption, query helpers that
// return ordered rows, and an up/down migration engine.
//
// The package implements a store lifecycle model where:
//   - Open creates the store file (and parent directory) if absent
//   - An encryption key, once used to create a store, is required to open it
//   - Migrations run synchronously inside Open, so the schema is current
//     when Open returns
//   - Each migration is applied in its own transaction and recorded in a
//     bookkeeping table inside the store
//
// # Basic Usage
//
//	db, err := sqlitestore.Open(ctx, sqlitestore.Config{
//	    Path:    "data/app.db",
//	    Migrate: &sqlitestore.MigrateConfig{MigrationsPath: "migrations"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	value, ok, err := db.QueryFirstCell(ctx, `SELECT value FROM Setting WHERE key = ?`, "theme")
//
// # Drivers
//
// Plain stores use modernc.org/sqlite (pure Go). Stores opened with an
// EncryptionKey use github.com/mutecomm/go-sqlcipher (SQLCipher, CGO), which
// applies PRAGMA key before any other statement. The two register different
// driver names and are both linked in.
//
// # Migration Sources
//
// A migration is a single text with an "-- Up" line followed by SQL and an
// optional "-- Down" line followed by the SQL that reverses it:
//
//	-- Up
//	CREATE TABLE Setting (key TEXT PRIMARY KEY, value BLOB);
//
//	-- Down
//	DROP TABLE Setting;
//
// Migrations come from a directory or fs.FS of files named NNN-name.sql,
// where NNN is the sequence, or from an ordered list of texts where the
// first text is sequence 1. Sequences must be unique.
//
// # Bookkeeping
//
// Applied migrations are recorded in the "migrations" table (configurable)
// with their sequence, name, down script and time of application. The
// applied sequences always form a prefix of the known sequences: Migrate
// refuses to run against a store where they do not. MigrateDown reverses
// only the highest applied sequence, using the recorded down script.
//
// # Results
//
// Query helpers return Row values, which keep select order. Zero rows is
// never an error: QueryFirstRow and QueryFirstCell report absence with a
// boolean, and QueryFirstRowOrEmpty returns an empty Row.
package sqlitestore
