// Package discovery walks a directory tree and yields indexable source files.
package discovery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// DefaultMaxFileBytes is the size ceiling applied when none is configured
const DefaultMaxFileBytes = 1 << 20

// sniffLen is how much of a file is inspected for NUL bytes
const sniffLen = 8 << 10

// DefaultIgnoreDirs are directory names never descended into
var DefaultIgnoreDirs = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", "target",
	"bin", "obj", "out", "__pycache__", ".venv", "venv", ".idea", ".vscode",
	".next", ".cache",
}

// DefaultIgnoreGlobs are base-name patterns for files that are never indexed
var DefaultIgnoreGlobs = []string{
	"*.lock", "package-lock.json", "go.sum", "*.min.js", "*.min.css", "*.map",
	"*.pyc", "*.pyo", "*.class", "*.o", "*.a", "*.so", "*.dylib", "*.dll", "*.exe",
	"*.zip", "*.tar", "*.gz", "*.tgz", "*.bz2", "*.xz", "*.7z", "*.jar",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.ico", "*.webp", "*.pdf",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.mp3", "*.mp4", "*.mov", "*.wasm",
	"*.db", "*.sqlite", "*.DS_Store",
}

// ErrExcluded marks a file the walk filters reject: ignored names and
// directories, binary content and files over the size ceiling
var ErrExcluded = fmt.Errorf("%w: excluded from indexing", types.ErrFileAccess)

// Warning records a file that was skipped during a walk
type Warning struct {
	Path string
	Err  error
}

// Walker discovers files under a root directory
type Walker struct {
	root         string
	ignoreDirs   map[string]bool
	ignoreGlobs  []string
	maxFileBytes int64
	logger       *zap.Logger

	mu       sync.Mutex
	warnings []Warning
}

// Option configures a Walker
type Option func(*Walker)

// WithMaxFileBytes sets the size ceiling; larger files are skipped.
func WithMaxFileBytes(n int64) Option {
	return func(w *Walker) {
		if n > 0 {
			w.maxFileBytes = n
		}
	}
}

// WithIgnoreDirs adds directory names to skip.
func WithIgnoreDirs(names ...string) Option {
	return func(w *Walker) {
		for _, n := range names {
			w.ignoreDirs[n] = true
		}
	}
}

// WithIgnoreGlobs adds base-name glob patterns to skip.
func WithIgnoreGlobs(patterns ...string) Option {
	return func(w *Walker) {
		w.ignoreGlobs = append(w.ignoreGlobs, patterns...)
	}
}

// WithLogger sets the logger used for per-file warnings.
func WithLogger(l *zap.Logger) Option {
	return func(w *Walker) {
		w.logger = logging.OrNop(l)
	}
}

// New validates root and returns a Walker for it.
func New(root string, opts ...Option) (*Walker, error) {
	abs, err := CheckDir(root)
	if err != nil {
		return nil, err
	}

	w := &Walker{
		root:         abs,
		ignoreDirs:   make(map[string]bool, len(DefaultIgnoreDirs)),
		ignoreGlobs:  append([]string(nil), DefaultIgnoreGlobs...),
		maxFileBytes: DefaultMaxFileBytes,
		logger:       zap.NewNop(),
	}
	for _, d := range DefaultIgnoreDirs {
		w.ignoreDirs[d] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// CheckDir verifies path exists, is a directory and is readable, and returns
// its cleaned absolute form.
func CheckDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", types.ErrNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, abs)
	case errors.Is(err, fs.ErrPermission):
		return "", fmt.Errorf("%w: %s", types.ErrPermissionDenied, abs)
	case err != nil:
		return "", fmt.Errorf("%w: %s: %v", types.ErrFileAccess, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", types.ErrNotADirectory, abs)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrPermissionDenied, abs)
	}
	_ = f.Close()

	return abs, nil
}

// Root returns the absolute root directory
func (w *Walker) Root() string {
	return w.root
}

// Files returns a lazy sequence of discovered files in lexical order. Each call
// starts a fresh walk and resets the recorded warnings. The walk stops early
// when ctx is cancelled or the consumer stops iterating.
func (w *Walker) Files(ctx context.Context) iter.Seq[types.SourceFile] {
	return func(yield func(types.SourceFile) bool) {
		w.mu.Lock()
		w.warnings = nil
		w.mu.Unlock()

		_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				w.warn(path, fmt.Errorf("%w: %v", types.ErrFileAccess, err))
				if d != nil && d.IsDir() && path != w.root {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if path != w.root && w.skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			// Symlinks, sockets and devices are not followed
			if !d.Type().IsRegular() {
				return nil
			}
			if w.ignoredFile(d.Name()) {
				return nil
			}

			sf, err := w.describe(path, d)
			if err != nil {
				return nil
			}
			if !yield(sf) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Warnings returns the warnings recorded by the most recent walk.
func (w *Walker) Warnings() []Warning {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Warning, len(w.warnings))
	copy(out, w.warnings)
	return out
}

// Describe builds a descriptor for a single file, applying the same filters as
// a walk. It is used for incremental runs over explicit paths.
func (w *Walker) Describe(path string) (types.SourceFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.SourceFile{}, fmt.Errorf("%w: %s", types.ErrFileAccess, path)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return types.SourceFile{}, fmt.Errorf("%w: %s", types.ErrNotFound, abs)
	}
	if err != nil {
		return types.SourceFile{}, fmt.Errorf("%w: %s: %v", types.ErrFileAccess, abs, err)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return types.SourceFile{}, fmt.Errorf("%w: %s is not a regular file", types.ErrFileAccess, abs)
	}
	if w.ignoredFile(info.Name()) || w.underIgnoredDir(abs) {
		return types.SourceFile{}, fmt.Errorf("%w: %s is ignored", ErrExcluded, abs)
	}
	return w.describe(abs, fs.FileInfoToDirEntry(info))
}

// describe stats and sniffs a file. Files the filters reject fail with
// ErrExcluded; unreadable ones with types.ErrFileAccess.
func (w *Walker) describe(path string, d fs.DirEntry) (types.SourceFile, error) {
	info, err := d.Info()
	if err != nil {
		err = fmt.Errorf("%w: %v", types.ErrFileAccess, err)
		w.warn(path, err)
		return types.SourceFile{}, err
	}
	if info.Size() > w.maxFileBytes {
		err := fmt.Errorf("%w: file exceeds %d bytes", ErrExcluded, w.maxFileBytes)
		w.warn(path, err)
		return types.SourceFile{}, err
	}

	binary, err := isBinary(path)
	if err != nil {
		err = fmt.Errorf("%w: %v", types.ErrFileAccess, err)
		w.warn(path, err)
		return types.SourceFile{}, err
	}
	if binary {
		return types.SourceFile{}, fmt.Errorf("%w: %s is binary", ErrExcluded, path)
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	return types.SourceFile{
		Path:    filepath.ToSlash(path),
		RelPath: filepath.ToSlash(rel),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (w *Walker) skipDir(name string) bool {
	return w.ignoreDirs[name] || (strings.HasPrefix(name, ".") && name != ".")
}

func (w *Walker) underIgnoredDir(abs string) bool {
	rel, err := filepath.Rel(w.root, filepath.Dir(abs))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.skipDir(part) {
			return true
		}
	}
	return false
}

func (w *Walker) ignoredFile(name string) bool {
	for _, pattern := range w.ignoreGlobs {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (w *Walker) warn(path string, err error) {
	w.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
	w.mu.Lock()
	w.warnings = append(w.warnings, Warning{Path: path, Err: err})
	w.mu.Unlock()
}

// isBinary reports whether the leading bytes of a file contain a NUL byte.
func isBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}

// Load reads a file's content and fills in its content hash.
func Load(sf *types.SourceFile) ([]byte, error) {
	content, err := os.ReadFile(filepath.FromSlash(sf.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFileAccess, sf.Path, err)
	}
	sf.ContentHash = sha256.Sum256(content)
	sf.Size = int64(len(content))
	return content, nil
}
