//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with the sqlite_vec tag. It links the
// CGO driver, which is faster on large collections.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
