// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	_ "modernc.org/sqlite"
)

const (
	// DefaultPath is used when Config.Path is empty.
	DefaultPath = "data/sqlite3.db"

	// DefaultMigrationsPath is used when Config.Migrate names no source.
	DefaultMigrationsPath = "migrations"

	// DefaultMigrationsTable is the bookkeeping table name.
	DefaultMigrationsTable = "migrations"

	// dirPermissions is the permission mode for created parent directories.
	dirPermissions = 0750

	// filePermissions is the permission mode for the store file.
	filePermissions = 0600

	// driverPlain and driverCipher are the database/sql driver names
	// registered by modernc.org/sqlite and go-sqlcipher.
	driverPlain  = "sqlite"
	driverCipher = "sqlite3"
)

// Config holds store configuration options.
type Config struct {
	// Path to the store file. Parent directories are created if missing.
	// Use ":memory:" for an in-memory store. Default: DefaultPath.
	Path string

	// EncryptionKey, if set, opens the store through SQLCipher. The key
	// applied when the store is created must be supplied on every later
	// open; a wrong or missing key fails with *OpenError.
	EncryptionKey string

	// Migrate, if non-nil, runs migrations before Open returns.
	// A nil value is the equivalent of "migrate: false".
	Migrate *MigrateConfig

	// Logger for operational logging. Uses slog.Default() if nil.
	Logger *slog.Logger

	// BusyTimeout bounds how long a statement waits on a locked store.
	// Default: 5s.
	BusyTimeout time.Duration
}

// MigrateConfig selects the migration source and runner options.
// At most one of MigrationsPath, FS and Migrations may be set; if none is,
// MigrationsPath defaults to DefaultMigrationsPath.
type MigrateConfig struct {
	// MigrationsPath is a directory of NNN-name.sql files.
	MigrationsPath string

	// FS is a filesystem (usually embedded) of NNN-name.sql files at its root.
	FS fs.FS

	// Migrations is an ordered list of raw migration texts. The first entry
	// is sequence 1.
	Migrations []string

	// Table is the bookkeeping table name. Default: DefaultMigrationsTable.
	Table string

	// ReapplyLast rolls back the most recently applied migration and applies
	// it again. Intended for development while iterating on a migration.
	ReapplyLast bool
}

// defaults returns a copy of cfg with default values applied.
func (cfg Config) defaults() Config {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return cfg
}

// table returns the configured bookkeeping table name.
func (mc *MigrateConfig) table() string {
	if mc == nil || mc.Table == "" {
		return DefaultMigrationsTable
	}
	return mc.Table
}

// registry loads the configured migration source. Validate has already
// checked that at most one source is set.
func (mc *MigrateConfig) registry(logger *slog.Logger) (*Registry, error) {
	switch {
	case mc.FS != nil:
		return LoadFS(mc.FS, logger)
	case mc.Migrations != nil:
		return FromTexts(mc.Migrations)
	case mc.MigrationsPath != "":
		return LoadDir(mc.MigrationsPath, logger)
	default:
		return LoadDir(DefaultMigrationsPath, logger)
	}
}

// DB is an open store. It owns a single connection to the underlying
// SQLite file; query helpers and the migration runner borrow it.
//
// A DB is safe for concurrent use, but statements are serialized on the
// one connection.
type DB struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	encrypted bool
	table     string
	logger    *slog.Logger
}

// Open opens the store, creating it if absent, and runs migrations when
// cfg.Migrate is set. When Open returns without error the schema is current.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	cfg = cfg.defaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: err}
	}

	if isMemoryPath(cfg.Path) {
		cfg.Logger.Info("DB mode: in-memory", "encrypted", cfg.EncryptionKey != "")
	} else {
		cfg.Logger.Info("DB mode: persistent", "path", cfg.Path, "encrypted", cfg.EncryptionKey != "")
	}
	cfg.Logger.Debug("opening database", "driver", driver, "dsn", redactDSN(dsn), "sqlitestore", Version())

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("sql.Open: %w", err)}
	}

	// Ensure cleanup on error
	success := false
	defer func() {
		if !success {
			sqlDB.Close()
		}
	}()

	// One live connection per store. This also keeps :memory: stores alive
	// for the lifetime of the DB.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("ping: %w", err)}
	}

	// SQLCipher accepts any key at open time; the first read of the schema
	// is where a wrong key shows up.
	var objects int
	if err := sqlDB.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&objects); err != nil {
		if cfg.EncryptionKey != "" {
			err = fmt.Errorf("read schema (wrong encryption key?): %w", err)
		} else {
			err = fmt.Errorf("read schema: %w", err)
		}
		return nil, &OpenError{Path: cfg.Path, Err: err}
	}

	if !isMemoryPath(cfg.Path) {
		// Best effort; the store may live on a filesystem without modes.
		_ = os.Chmod(cfg.Path, filePermissions)
	}

	db := &DB{
		db:        sqlDB,
		path:      cfg.Path,
		encrypted: cfg.EncryptionKey != "",
		table:     cfg.Migrate.table(),
		logger:    cfg.Logger,
	}

	if cfg.Migrate != nil {
		reg, err := cfg.Migrate.registry(cfg.Logger)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate.ReapplyLast {
			if err := db.reapplyLast(ctx, reg); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		if err := db.Migrate(ctx, reg); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	success = true
	return db, nil
}

// dataSource picks the driver for cfg and builds its DSN. For a persistent
// path it also creates the parent directory and refuses to open an
// encrypted file without a key.
func dataSource(cfg Config) (driver, dsn string, err error) {
	memory := isMemoryPath(cfg.Path)

	if !memory {
		if isDirectory(cfg.Path) {
			return "", "", fmt.Errorf("path is a directory")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return "", "", fmt.Errorf("creating database directory: %w", err)
		}
		if cfg.EncryptionKey == "" && fileSize(cfg.Path) > 0 {
			encrypted, err := sqlcipher.IsEncrypted(cfg.Path)
			if err != nil {
				return "", "", fmt.Errorf("read header: %w", err)
			}
			if encrypted {
				return "", "", fmt.Errorf("store is encrypted: encryption key required")
			}
		}
	}

	if cfg.EncryptionKey != "" {
		pragmas := cipherPersistentPragmas
		if memory {
			pragmas = cipherMemoryPragmas
		}
		return driverCipher, buildCipherDSN(cfg.Path, cfg.EncryptionKey, pragmas, cfg.BusyTimeout), nil
	}

	pragmas := persistentPragmas
	if memory {
		pragmas = memoryPragmas
	}
	return driverPlain, buildDSN(cfg.Path, pragmas, cfg.BusyTimeout), nil
}

// Close releases the connection. Closing a nil or already closed DB is a
// no-op.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	db.logger.Debug("closed database", "path", db.path)
	return nil
}

// Path returns the filesystem path of the store.
func (db *DB) Path() string {
	return db.path
}

// Encrypted reports whether the store was opened with an encryption key.
func (db *DB) Encrypted() bool {
	return db.encrypted
}

// SQL returns the underlying handle, or nil after Close.
// The handle is borrowed: do not close it.
func (db *DB) SQL() *sql.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.db
}

// handle returns the live handle or ErrClosed.
func (db *DB) handle() (*sql.DB, error) {
	if db == nil {
		return nil, ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.db == nil {
		return nil, ErrClosed
	}
	return db.db, nil
}

// Delete removes a store file and its WAL sidecar files.
// Returns nil if the file does not exist.
func Delete(path string) error {
	if isMemoryPath(path) {
		return fmt.Errorf("cannot delete in-memory database")
	}
	if isDirectory(path) {
		return fmt.Errorf("%s: path is a directory", path)
	}

	if !fileExists(path) {
		return nil
	}

	// WAL mode creates sidecar files
	var errs []error
	for _, suffix := range []string{"", "-shm", "-wal"} {
		name := path + suffix
		if !fileExists(name) {
			continue
		}
		if !isRegularFile(name) {
			errs = append(errs, fmt.Errorf("%s: not a regular file", name))
			continue
		}
		if err := os.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}

	if fileExists(path) {
		return fmt.Errorf("%s: still exists after delete", path)
	}

	return nil
}

// isMemoryPath returns true if path indicates an in-memory database.
func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// File system helpers

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() || info.IsDir()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	return info.Size()
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
