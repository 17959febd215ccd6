// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// cipherMemoryPragmas are the go-sqlcipher equivalents of memoryPragmas.
var cipherMemoryPragmas = []pragma{
	{name: "_foreign_keys", value: "1"},
	{name: "_journal_mode", value: "MEMORY"},
	{name: "_synchronous", value: "OFF"},
}

// cipherPersistentPragmas are the go-sqlcipher equivalents of persistentPragmas.
var cipherPersistentPragmas = []pragma{
	{name: "_foreign_keys", value: "1"},
	{name: "_journal_mode", value: "WAL"},
	{name: "_synchronous", value: "NORMAL"},
}

// buildCipherDSN constructs a DSN for github.com/mutecomm/go-sqlcipher.
// It follows the mattn syntax (file:path?_foreign_keys=1&_journal_mode=WAL)
// with the key in _pragma_key. The driver issues PRAGMA key immediately
// after sqlite3_open, before any other pragma reads the schema.
//
// The driver splices the key into PRAGMA key = "<key>" as is, so embedded
// double quotes are doubled here to keep the whole secret one string literal.
func buildCipherDSN(path, key string, pragmas []pragma, busyTimeout time.Duration) string {
	var sb strings.Builder

	if isMemoryPath(path) {
		sb.WriteString("file::memory:")
	} else {
		sb.WriteString("file:")
		sb.WriteString(path)
	}

	fmt.Fprintf(&sb, "?_pragma_key=%s", url.QueryEscape(strings.ReplaceAll(key, `"`, `""`)))
	fmt.Fprintf(&sb, "&_pragma_cipher_page_size=%d", 4096)
	fmt.Fprintf(&sb, "&_busy_timeout=%d", busyTimeout.Milliseconds())
	for _, p := range pragmas {
		fmt.Fprintf(&sb, "&%s=%s", p.name, p.value)
	}

	return sb.String()
}

// redactDSN hides the key in a DSN before it is logged.
func redactDSN(dsn string) string {
	start := strings.Index(dsn, "_pragma_key=")
	if start < 0 {
		return dsn
	}
	start += len("_pragma_key=")
	end := strings.IndexByte(dsn[start:], '&')
	if end < 0 {
		return dsn[:start] + "REDACTED"
	}
	return dsn[:start] + "REDACTED" + dsn[start+end:]
}
