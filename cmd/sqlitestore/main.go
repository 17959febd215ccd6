// Copyright (c) 2026 Michael D Henderson. All rights reserved.

// Command sqlitestore manages sqlitestore databases from the shell: it
// applies and reverses migrations, reports migration status and runs
// ad-hoc queries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
