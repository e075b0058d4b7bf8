//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// Uses github.com/mattn/go-sqlite3. The embedded store is faster to seed and
// scan with the C driver; vector and trigram scoring stay in the in-memory
// indexes either way.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
