// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by query helpers and migration methods called on a
// closed store.
var ErrClosed = errors.New("store is closed")

// OpenError reports a store that could not be created or opened, including
// an encrypted store accessed with a wrong or missing key.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ParseError reports a malformed migration source.
// Line is 1-based; zero means the error is not tied to a line.
type ParseError struct {
	Source string
	Line   int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Source, e.Line, e.Msg)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Msg)
}

// ConflictError reports migration identities that cannot be reconciled:
// duplicate sequences in a source, or an applied set that is not a prefix of
// the known migrations.
type ConflictError struct {
	Sequence int
	Msg      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("migration %d: %s", e.Sequence, e.Msg)
}

// MigrationApplyError reports a migration script that failed inside its
// transaction. The transaction was rolled back and no bookkeeping change
// was made for Sequence.
type MigrationApplyError struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Err       error
}

func (e *MigrationApplyError) Error() string {
	return fmt.Sprintf("migration %d (%s) %s: %v", e.Sequence, e.Name, e.Direction, e.Err)
}

func (e *MigrationApplyError) Unwrap() error { return e.Err }

// UnsupportedRollbackError is returned when the most recently applied
// migration has no down script.
type UnsupportedRollbackError struct {
	Sequence int
	Name     string
}

func (e *UnsupportedRollbackError) Error() string {
	return fmt.Sprintf("migration %d (%s) has no down script", e.Sequence, e.Name)
}

// QueryError wraps an engine error raised by a query helper or Exec.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.SQL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
