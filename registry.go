// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change. Down is empty when the
// migration cannot be reversed.
type Migration struct {
	Sequence int
	Name     string
	Up       string
	Down     string
}

// Registry is an ordered, immutable list of migrations.
type Registry struct {
	migrations []Migration
}

// reMigrationFile matches NNN-name.sql, NNN_name.sql and NNN.name.sql.
var reMigrationFile = regexp.MustCompile(`^(\d+)[-_.]?(.*)\.sql$`)

// reMarker matches "-- Up" and "-- Down" marker lines.
var reMarker = regexp.MustCompile(`(?i)^--\s*(up|down)\b`)

// NewRegistry builds a registry from already parsed migrations. They are
// sorted by sequence; a repeated sequence is a *ConflictError.
func NewRegistry(migrations ...Migration) (*Registry, error) {
	ms := make([]Migration, len(migrations))
	copy(ms, migrations)
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Sequence < ms[j].Sequence
	})
	for i := 1; i < len(ms); i++ {
		if ms[i].Sequence == ms[i-1].Sequence {
			return nil, &ConflictError{
				Sequence: ms[i].Sequence,
				Msg:      fmt.Sprintf("duplicate sequence in %q and %q", ms[i-1].Name, ms[i].Name),
			}
		}
	}
	for _, m := range ms {
		if m.Sequence < 1 {
			return nil, &ConflictError{Sequence: m.Sequence, Msg: "sequence must be positive"}
		}
	}
	return &Registry{migrations: ms}, nil
}

// FromTexts parses an ordered list of raw migration texts. The text at
// index i gets sequence i+1.
func FromTexts(texts []string) (*Registry, error) {
	ms := make([]Migration, 0, len(texts))
	for i, text := range texts {
		seq := i + 1
		m, err := ParseMigration(seq, fmt.Sprintf("migration-%d", seq), text)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return NewRegistry(ms...)
}

// LoadDir reads migration files from a directory.
func LoadDir(dir string, logger *slog.Logger) (*Registry, error) {
	if !isDirectory(dir) {
		return nil, fmt.Errorf("%s: migrations directory not found", dir)
	}
	return LoadFS(os.DirFS(dir), logger)
}

// LoadFS reads migration files from the root of fsys. Files must be named
// NNN-name.sql where NNN is the sequence; anything else is skipped.
func LoadFS(fsys fs.FS, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var ms []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		matches := reMigrationFile.FindStringSubmatch(name)
		if matches == nil {
			logger.Debug("skipping non-migration file", "name", name)
			continue
		}

		seq, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, &ParseError{Source: name, Msg: fmt.Sprintf("invalid sequence: %v", err)}
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		label := matches[2]
		if label == "" {
			label = strings.TrimSuffix(name, ".sql")
		}
		m, err := ParseMigration(seq, label, string(data))
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Source = name
			}
			return nil, err
		}
		ms = append(ms, m)
	}

	return NewRegistry(ms...)
}

// ParseMigration splits text into its up and down scripts.
//
// The text must contain exactly one "-- Up" line and at most one "-- Down"
// line after it. Only blank lines and comments may precede "-- Up".
// No SQL is executed.
func ParseMigration(seq int, name, text string) (Migration, error) {
	const (
		header = iota
		up
		down
	)

	source := name
	if source == "" {
		source = fmt.Sprintf("migration-%d", seq)
	}
	fail := func(line int, format string, args ...any) (Migration, error) {
		return Migration{}, &ParseError{Source: source, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	var upLines, downLines []string
	section := header
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if m := reMarker.FindStringSubmatch(trimmed); m != nil {
			switch strings.ToLower(m[1]) {
			case "up":
				if section != header {
					return fail(lineNo, "duplicate Up marker")
				}
				section = up
			case "down":
				switch section {
				case header:
					return fail(lineNo, "Down marker before Up marker")
				case down:
					return fail(lineNo, "duplicate Down marker")
				}
				section = down
			}
			continue
		}

		switch section {
		case header:
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				return fail(lineNo, "SQL before Up marker")
			}
		case up:
			upLines = append(upLines, line)
		case down:
			downLines = append(downLines, line)
		}
	}

	if section == header {
		return fail(0, "missing Up marker")
	}

	m := Migration{
		Sequence: seq,
		Name:     name,
		Up:       strings.TrimSpace(strings.Join(upLines, "\n")),
		Down:     strings.TrimSpace(strings.Join(downLines, "\n")),
	}
	if m.Up == "" {
		return fail(0, "empty Up section")
	}
	return m, nil
}

// Migrations returns a copy of the migrations in sequence order.
func (r *Registry) Migrations() []Migration {
	if r == nil {
		return nil
	}
	ms := make([]Migration, len(r.migrations))
	copy(ms, r.migrations)
	return ms
}

// Len returns the number of migrations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.migrations)
}

// Lookup returns the migration with the given sequence.
func (r *Registry) Lookup(seq int) (Migration, bool) {
	if r == nil {
		return Migration{}, false
	}
	i := sort.Search(len(r.migrations), func(i int) bool {
		return r.migrations[i].Sequence >= seq
	})
	if i < len(r.migrations) && r.migrations[i].Sequence == seq {
		return r.migrations[i], true
	}
	return Migration{}, false
}
