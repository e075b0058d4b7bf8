//go:build purego || !sqlite_vec

package storage

// Compiled by default and with the purego tag:
//
//	CGO_ENABLED=0 go build ./...
//
// Uses modernc.org/sqlite, so no C compiler is required.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
