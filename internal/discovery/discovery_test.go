package discovery

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode-mcp/pkg/types"
)

func writeFile(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func collect(ctx context.Context, w *Walker) ([]types.SourceFile, error) {
	var files []types.SourceFile
	for sf := range w.Files(ctx) {
		files = append(files, sf)
	}
	return files, ctx.Err()
}

func relPaths(files []types.SourceFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	root := t.TempDir()
	file := writeFile(t, root, "a.txt", []byte("x"))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"missing", filepath.Join(root, "nope"), types.ErrNotFound},
		{"file", file, types.ErrNotADirectory},
		{"empty", "", types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	w, err := New(root)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Root()))
}

func TestFiles_LexicalOrderAndFilters(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", []byte("package b\n"))
	writeFile(t, root, "a.md", []byte("# A\n"))
	writeFile(t, root, "sub/c.py", []byte("print(1)\n"))
	writeFile(t, root, ".git/config", []byte("[core]\n"))
	writeFile(t, root, "node_modules/x/index.js", []byte("module.exports = 1\n"))
	writeFile(t, root, ".hidden/secret.txt", []byte("hidden\n"))
	writeFile(t, root, "image.png", []byte("not really a png"))
	writeFile(t, root, "blob.dat", []byte{'a', 0, 'b'})
	writeFile(t, root, "go.sum", []byte("x v1 h1:abc\n"))

	w, err := New(root)
	require.NoError(t, err)

	files, err := collect(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.go", "sub/c.py"}, relPaths(files))

	for _, f := range files {
		assert.True(t, filepath.IsAbs(filepath.FromSlash(f.Path)))
		assert.Zero(t, f.ContentHash, "hash is computed lazily")
	}
}

func TestFiles_SizeCeiling(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", []byte("tiny\n"))
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'a'
	}
	writeFile(t, root, "big.txt", big)

	w, err := New(root, WithMaxFileBytes(1024))
	require.NoError(t, err)

	files, err := collect(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"small.txt"}, relPaths(files))

	warnings := w.Warnings()
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0].Err, types.ErrFileAccess)
	assert.Contains(t, warnings[0].Path, "big.txt")
}

func TestFiles_EmptyDirectory(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	files, err := collect(context.Background(), w)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFiles_StopsEarly(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeFile(t, root, name, []byte(name))
	}

	w, err := New(root)
	require.NoError(t, err)

	var seen []string
	for f := range w.Files(context.Background()) {
		seen = append(seen, f.RelPath)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, seen)
}

func TestFiles_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("a"))

	w, err := New(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = collect(ctx, w)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIgnoreOptions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", []byte("package keep\n"))
	writeFile(t, root, "gen/skip.go", []byte("package gen\n"))
	writeFile(t, root, "skip_test.go", []byte("package keep\n"))

	w, err := New(root, WithIgnoreDirs("gen"), WithIgnoreGlobs("*_test.go"))
	require.NoError(t, err)

	files, err := collect(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.go"}, relPaths(files))
}

func TestDescribe(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "pkg/a.go", []byte("package pkg\n"))
	writeFile(t, root, "vendor/dep/d.go", []byte("package dep\n"))

	w, err := New(root)
	require.NoError(t, err)

	sf, err := w.Describe(path)
	require.NoError(t, err)
	assert.Equal(t, "pkg/a.go", sf.RelPath)

	_, err = w.Describe(filepath.Join(root, "pkg", "gone.go"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = w.Describe(filepath.Join(root, "vendor", "dep", "d.go"))
	assert.ErrorIs(t, err, ErrExcluded)
	assert.ErrorIs(t, err, types.ErrFileAccess)

	writeFile(t, root, "pkg/blob.bin", []byte{'a', 0, 'b'})
	_, err = w.Describe(filepath.Join(root, "pkg", "blob.bin"))
	assert.ErrorIs(t, err, ErrExcluded)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("hello\n"))

	w, err := New(root)
	require.NoError(t, err)
	files, err := collect(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, files, 1)

	sf := files[0]
	content, err := Load(&sf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
	assert.Equal(t, sha256.Sum256([]byte("hello\n")), sf.ContentHash)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	_, err = Load(&sf)
	assert.ErrorIs(t, err, types.ErrFileAccess)
}
