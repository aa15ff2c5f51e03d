// Package listing implements the directory listing behind the list_dir tool.
package listing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/semcode-mcp/internal/discovery"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// Entry types
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Entry is one child of a listed directory
type Entry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"size_bytes"`

	// ChildCount is the number of regular files anywhere below a directory.
	// Unreadable subtrees are not counted. Nil for files.
	ChildCount *int `json:"child_count,omitempty"`
}

// Listing is the content of one directory, sorted by name
type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// List returns the immediate children of dir. A missing path fails with
// types.ErrNotFound, a file with types.ErrNotADirectory and an unreadable
// directory with types.ErrPermissionDenied.
func List(ctx context.Context, dir string) (*Listing, error) {
	abs, err := discovery.CheckDir(dir)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", types.ErrPermissionDenied, abs)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFileAccess, abs, err)
	}

	listing := &Listing{Path: abs, Entries: make([]Entry, 0, len(dirEntries))}
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		full := filepath.Join(abs, d.Name())
		// Follow symlinks so a link to a directory lists as one
		info, err := os.Stat(full)
		if err != nil {
			if info, err = d.Info(); err != nil {
				continue // Removed while listing
			}
		}

		entry := Entry{Name: d.Name(), Type: TypeFile, SizeBytes: info.Size()}
		if info.IsDir() {
			count := countFiles(ctx, full)
			entry.Type = TypeDirectory
			entry.SizeBytes = 0
			entry.ChildCount = &count
		}
		listing.Entries = append(listing.Entries, entry)
	}

	return listing, nil
}

// countFiles counts regular files below dir. Symlinks inside the tree are
// not followed.
func countFiles(ctx context.Context, dir string) int {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	count := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}
