// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// AppliedMigration is a row of the bookkeeping table.
type AppliedMigration struct {
	Sequence  int
	Name      string
	Down      string
	AppliedAt time.Time
}

// MigrationStatus describes the current schema state.
type MigrationStatus struct {
	Initialized bool
	Applied     []AppliedMigration
	Pending     []Migration
}

// reIdentifier matches table names that are safe to interpolate.
var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isIdentifier(s string) bool {
	return reIdentifier.MatchString(s)
}

// Migrate applies every migration in reg that has not been applied yet, in
// sequence order, each in its own transaction. It stops at the first
// failure; migrations committed before it stay committed.
//
// The applied sequences must be a prefix of reg's sequences. Anything else
// (a gap, or an applied migration that reg does not know) is a
// *ConflictError and nothing is applied.
func (db *DB) Migrate(ctx context.Context, reg *Registry) error {
	h, err := db.handle()
	if err != nil {
		return err
	}

	db.logger.Debug("starting migration", "table", db.table, "known", reg.Len())

	if err := createMigrationsTable(ctx, h, db.table); err != nil {
		return fmt.Errorf("create %s: %w", db.table, err)
	}

	applied, err := fetchAppliedMigrations(ctx, h, db.table)
	if err != nil {
		return fmt.Errorf("fetch applied: %w", err)
	}

	pending, err := reconcile(reg, applied)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		db.logger.Debug("schema is current", "applied", len(applied))
		return nil
	}

	for _, m := range pending {
		db.logger.Info("applying migration", "sequence", m.Sequence, "name", m.Name)
		if err := applyMigration(ctx, h, db.table, m, time.Now().UTC()); err != nil {
			return &MigrationApplyError{Sequence: m.Sequence, Name: m.Name, Direction: "up", Err: err}
		}
	}

	return nil
}

// MigrateDown reverses the most recently applied migration using the down
// script recorded when it was applied. It returns the reversed migration,
// or nil if nothing has been applied.
func (db *DB) MigrateDown(ctx context.Context) (*AppliedMigration, error) {
	h, err := db.handle()
	if err != nil {
		return nil, err
	}

	exists, err := tableExists(ctx, h, db.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var latest AppliedMigration
	var appliedAt int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT sequence, name, down, applied_at FROM %s ORDER BY sequence DESC LIMIT 1`, quoteIdent(db.table)),
	).Scan(&latest.Sequence, &latest.Name, &latest.Down, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetch latest migration: %w", err)
	}
	latest.AppliedAt = time.Unix(appliedAt, 0).UTC()

	if latest.Down == "" {
		return nil, &UnsupportedRollbackError{Sequence: latest.Sequence, Name: latest.Name}
	}

	db.logger.Info("rolling back migration", "sequence", latest.Sequence, "name", latest.Name)

	if _, err := tx.ExecContext(ctx, latest.Down); err != nil {
		return nil, &MigrationApplyError{Sequence: latest.Sequence, Name: latest.Name, Direction: "down", Err: err}
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE sequence = ?`, quoteIdent(db.table)),
		latest.Sequence,
	)
	if err != nil {
		return nil, fmt.Errorf("remove record %d: %w", latest.Sequence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return nil, fmt.Errorf("remove record %d affected %d rows, expected 1", latest.Sequence, n)
	}

	if err := tx.Commit(); err != nil {
		return nil, &MigrationApplyError{Sequence: latest.Sequence, Name: latest.Name, Direction: "down", Err: err}
	}
	return &latest, nil
}

// MigrationStatus compares reg against the bookkeeping table without
// modifying the store.
func (db *DB) MigrationStatus(ctx context.Context, reg *Registry) (*MigrationStatus, error) {
	h, err := db.handle()
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{}

	exists, err := tableExists(ctx, h, db.table)
	if err != nil {
		return nil, err
	}
	if !exists {
		status.Pending = reg.Migrations()
		return status, nil
	}
	status.Initialized = true

	status.Applied, err = fetchAppliedMigrations(ctx, h, db.table)
	if err != nil {
		return nil, err
	}

	status.Pending, err = reconcile(reg, status.Applied)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Status opens the store named by cfg without migrating it and reports its
// migration status against cfg.Migrate's source. A store file that does
// not exist is reported as uninitialized and is not created.
func Status(ctx context.Context, cfg Config) (*MigrationStatus, error) {
	cfg = cfg.defaults()
	if isMemoryPath(cfg.Path) {
		return nil, fmt.Errorf("cannot check status of in-memory database")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc := cfg.Migrate
	if mc == nil {
		mc = &MigrateConfig{}
	}
	reg, err := mc.registry(cfg.Logger)
	if err != nil {
		return nil, err
	}

	if !fileExists(cfg.Path) {
		return &MigrationStatus{Pending: reg.Migrations()}, nil
	}

	cfg.Migrate = nil
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.table = mc.table()

	return db.MigrationStatus(ctx, reg)
}

// reapplyLast rolls back the most recent migration so Migrate applies it
// again. The applied set is reconciled first so the migration is known to
// be re-appliable.
func (db *DB) reapplyLast(ctx context.Context, reg *Registry) error {
	h, err := db.handle()
	if err != nil {
		return err
	}

	exists, err := tableExists(ctx, h, db.table)
	if err != nil || !exists {
		return err
	}

	applied, err := fetchAppliedMigrations(ctx, h, db.table)
	if err != nil {
		return fmt.Errorf("fetch applied: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	if _, err := reconcile(reg, applied); err != nil {
		return err
	}

	_, err = db.MigrateDown(ctx)
	return err
}

// reconcile returns the migrations in reg that follow the applied prefix.
func reconcile(reg *Registry, applied []AppliedMigration) ([]Migration, error) {
	known := reg.Migrations()
	for i, a := range applied {
		if _, ok := reg.Lookup(a.Sequence); !ok {
			return nil, &ConflictError{Sequence: a.Sequence, Msg: "applied but missing from the migration source"}
		}
		if known[i].Sequence != a.Sequence {
			return nil, &ConflictError{
				Sequence: known[i].Sequence,
				Msg:      fmt.Sprintf("not applied but later migration %d is", a.Sequence),
			}
		}
	}
	return known[len(applied):], nil
}

// createMigrationsTable creates the bookkeeping table if it doesn't exist.
func createMigrationsTable(ctx context.Context, db *sql.DB, table string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			sequence   INTEGER PRIMARY KEY,
			name       TEXT    NOT NULL,
			down       TEXT    NOT NULL DEFAULT '',
			applied_at INTEGER NOT NULL
		)
	`, quoteIdent(table)))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// tableExists reports whether table is present in the store's schema.
func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	_, ok, err := queryFirstCell(ctx, q,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return ok, nil
}

// fetchAppliedMigrations returns all applied migrations in sequence order.
func fetchAppliedMigrations(ctx context.Context, db *sql.DB, table string) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT sequence, name, down, applied_at FROM %s ORDER BY sequence`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var appliedAt int64
		if err := rows.Scan(&m.Sequence, &m.Name, &m.Down, &appliedAt); err != nil {
			return nil, err
		}
		m.AppliedAt = time.Unix(appliedAt, 0).UTC()
		result = append(result, m)
	}
	return result, rows.Err()
}

// applyMigration runs one up script and records it in a single transaction.
func applyMigration(ctx context.Context, db *sql.DB, table string, m Migration, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (sequence, name, down, applied_at) VALUES (?, ?, ?, ?)`, quoteIdent(table)),
		m.Sequence, m.Name, m.Down, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	return tx.Commit()
}

// quoteIdent quotes a name already checked by isIdentifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// MigrateDown opens the store named by cfg without applying migrations and
// reverses its most recent migration. cfg.Migrate is only consulted for the
// bookkeeping table name. A store file that does not exist has nothing to
// reverse and is not created.
func MigrateDown(ctx context.Context, cfg Config) (*AppliedMigration, error) {
	cfg = cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table := cfg.Migrate.table()

	if !isMemoryPath(cfg.Path) && !fileExists(cfg.Path) {
		cfg.Logger.Debug("nothing to reverse: store does not exist", "path", cfg.Path)
		return nil, nil
	}

	cfg.Migrate = nil
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	db.table = table

	return db.MigrateDown(ctx)
}
