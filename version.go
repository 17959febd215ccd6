// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"github.com/maloquacious/semver"
)

// version of the package. Build carries the VCS commit when the binary was
// built from a checkout.
var version = semver.Version{Major: 0, Minor: 3, Patch: 0, Build: semver.Commit()}

// Version returns the package version.
func Version() semver.Version {
	return version
}
