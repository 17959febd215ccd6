// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/mdhender/sqlitestore"
)

// TestParseMigration tests splitting texts into up and down scripts.
func TestParseMigration(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantUp   string
		wantDown string
	}{
		{
			name:     "up and down",
			text:     "-- Up\nCREATE TABLE a (id INTEGER);\n\n-- Down\nDROP TABLE a;\n",
			wantUp:   "CREATE TABLE a (id INTEGER);",
			wantDown: "DROP TABLE a;",
		},
		{
			name:   "up only",
			text:   "-- Up\nCREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);\n",
			wantUp: "CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);",
		},
		{
			name:     "header comments and mixed case markers",
			text:     "-- adds table a\n\n--up\nCREATE TABLE a (id INTEGER);\n  -- DOWN reverses it\nDROP TABLE a;",
			wantUp:   "CREATE TABLE a (id INTEGER);",
			wantDown: "DROP TABLE a;",
		},
		{
			name:     "crlf line endings",
			text:     "-- Up\r\nCREATE TABLE a (id INTEGER);\r\n-- Down\r\nDROP TABLE a;\r\n",
			wantUp:   "CREATE TABLE a (id INTEGER);",
			wantDown: "DROP TABLE a;",
		},
		{
			name:   "comments that only start with up are not markers",
			text:   "-- Up\n-- update the index\nCREATE INDEX i ON a (id);\n-- downstream readers need this\n",
			wantUp: "-- update the index\nCREATE INDEX i ON a (id);\n-- downstream readers need this",
		},
		{
			name:   "empty down section",
			text:   "-- Up\nCREATE TABLE a (id INTEGER);\n-- Down\n\n",
			wantUp: "CREATE TABLE a (id INTEGER);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := sqlitestore.ParseMigration(4, "four", tt.text)
			if err != nil {
				t.Fatalf("ParseMigration failed: %v", err)
			}
			if m.Sequence != 4 || m.Name != "four" {
				t.Errorf("expected 4/four, got %d/%s", m.Sequence, m.Name)
			}
			if m.Up != tt.wantUp {
				t.Errorf("Up = %q, want %q", m.Up, tt.wantUp)
			}
			if m.Down != tt.wantDown {
				t.Errorf("Down = %q, want %q", m.Down, tt.wantDown)
			}
		})
	}
}

// TestParseMigration_Errors tests malformed texts.
func TestParseMigration_Errors(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantLine int
	}{
		{name: "missing up", text: "CREATE TABLE a (id INTEGER);", wantLine: 1},
		{name: "only comments", text: "-- nothing here\n", wantLine: 0},
		{name: "down before up", text: "-- Down\nDROP TABLE a;\n-- Up\nCREATE TABLE a (id INTEGER);", wantLine: 1},
		{name: "duplicate up", text: "-- Up\nSELECT 1;\n-- Up\nSELECT 2;", wantLine: 3},
		{name: "duplicate down", text: "-- Up\nSELECT 1;\n-- Down\nSELECT 2;\n-- Down\nSELECT 3;", wantLine: 5},
		{name: "empty up", text: "-- Up\n\n-- Down\nDROP TABLE a;", wantLine: 0},
		{name: "sql before up", text: "\nSELECT 1;\n-- Up\nSELECT 2;", wantLine: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sqlitestore.ParseMigration(1, "one", tt.text)
			var parseErr *sqlitestore.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if parseErr.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (%v)", parseErr.Line, tt.wantLine, err)
			}
		})
	}
}

// TestLoadDir tests loading the testdata migrations.
func TestLoadDir(t *testing.T) {
	reg, err := sqlitestore.LoadDir(testMigrationsDir, quietLogger())
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 migrations, got %d", reg.Len())
	}

	ms := reg.Migrations()
	if ms[0].Sequence != 1 || ms[0].Name != "setting" {
		t.Errorf("unexpected first migration %d/%s", ms[0].Sequence, ms[0].Name)
	}
	if ms[1].Sequence != 2 || ms[1].Name != "test-setting" {
		t.Errorf("unexpected second migration %d/%s", ms[1].Sequence, ms[1].Name)
	}
	if ms[0].Down == "" {
		t.Error("expected a down script for migration 1")
	}

	// the returned slice is a copy
	ms[0].Up = "changed"
	if m, _ := reg.Lookup(1); m.Up == "changed" {
		t.Error("registry should not be mutated through Migrations()")
	}
}

// TestLoadDir_Missing tests a missing directory.
func TestLoadDir_Missing(t *testing.T) {
	if _, err := sqlitestore.LoadDir("testdata/does-not-exist", quietLogger()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

// TestLoadFS_ParseErrorNamesFile tests that parse errors name the file.
func TestLoadFS_ParseErrorNamesFile(t *testing.T) {
	fsys := fstest.MapFS{
		"001-ok.sql":     {Data: []byte("-- Up\nSELECT 1;\n")},
		"002-broken.sql": {Data: []byte("SELECT 2;\n")},
	}
	_, err := sqlitestore.LoadFS(fsys, quietLogger())
	var parseErr *sqlitestore.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if parseErr.Source != "002-broken.sql" {
		t.Errorf("Source = %q, want 002-broken.sql", parseErr.Source)
	}
}

// TestFromTexts tests sequence assignment for in-memory lists.
func TestFromTexts(t *testing.T) {
	reg, err := sqlitestore.FromTexts([]string{"-- Up\nSELECT 1;", "-- Up\nSELECT 2;"})
	if err != nil {
		t.Fatalf("FromTexts failed: %v", err)
	}
	for i, m := range reg.Migrations() {
		if m.Sequence != i+1 {
			t.Errorf("migration %d has sequence %d", i, m.Sequence)
		}
	}
	if _, ok := reg.Lookup(3); ok {
		t.Error("Lookup(3) should report false")
	}
}

// TestNewRegistry_Duplicate tests that repeated sequences are conflicts.
func TestNewRegistry_Duplicate(t *testing.T) {
	_, err := sqlitestore.NewRegistry(
		sqlitestore.Migration{Sequence: 1, Name: "a", Up: "SELECT 1"},
		sqlitestore.Migration{Sequence: 1, Name: "b", Up: "SELECT 2"},
	)
	var conflict *sqlitestore.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", conflict.Sequence)
	}
}
