package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/semcode-mcp/internal/config"
	"github.com/dshills/semcode-mcp/internal/lifecycle"
	"github.com/dshills/semcode-mcp/internal/listing"
	"github.com/dshills/semcode-mcp/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataRoot:          t.TempDir(),
		CollectionFolder:  config.DefaultCollectionFolder,
		ModelPath:         config.DefaultModel,
		Provider:          "local",
		ChunkMaxLines:     config.DefaultChunkMaxLines,
		ChunkOverlapLines: config.DefaultChunkOverlap,
		MaxFileBytes:      config.DefaultMaxFileBytes,
		SearchTopK:        config.DefaultSearchTopK,
		IndexWorkers:      2,
		EmbedBatchSize:    8,
		EmbedConcurrency:  1,
		LogLevel:          "debug",
	}
}

// newTestServer returns a server whose runtime is started unless lazy is set
func newTestServer(t *testing.T, lazy bool) *Server {
	t.Helper()

	manager, err := lifecycle.NewManager(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	if !lazy {
		_, err = manager.Start(context.Background())
		require.NoError(t, err)
	}

	s, err := NewServer(manager)
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func call(t *testing.T, handler server.ToolHandlerFunc, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	require.NoError(t, err, "handlers report failures as tool errors")
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

// decodeOK asserts a successful result and decodes its JSON body
func decodeOK(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	body := resultText(t, res)
	require.False(t, res.IsError, "unexpected tool error: %s", body)
	require.NoError(t, json.Unmarshal([]byte(body), v))
}

// errorCode asserts a tool error and returns its code
func errorCode(t *testing.T, res *mcp.CallToolResult) int {
	t.Helper()
	body := resultText(t, res)
	require.True(t, res.IsError, "expected tool error, got: %s", body)

	var payload struct {
		Error MCPError `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.NotEmpty(t, payload.Error.Message)
	return payload.Error.Code
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	s := newTestServer(t, true)
	assert.NotNil(t, s.mcp)

	var names []string
	for _, tool := range s.tools() {
		names = append(names, tool.tool.Name)
		assert.Equal(t, "object", tool.tool.InputSchema.Type)
	}
	assert.Equal(t, []string{ToolListDir, ToolSearchCode, ToolIndexDirectory, ToolGetStatus}, names)
}

func TestListDir(t *testing.T) {
	s := newTestServer(t, true)

	t.Run("empty directory", func(t *testing.T) {
		dir := t.TempDir()
		var got listing.Listing
		decodeOK(t, call(t, s.handleListDir, ToolListDir, map[string]interface{}{"directory_path": dir}), &got)
		assert.Equal(t, dir, got.Path)
		assert.Empty(t, got.Entries)
		assert.NotNil(t, got.Entries)
	})

	t.Run("entries sorted by name", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "b.go"), "package b\n")
		writeFile(t, filepath.Join(dir, "a", "x.go"), "package a\n")
		writeFile(t, filepath.Join(dir, "a", "deep", "y.go"), "package deep\n")

		var got listing.Listing
		decodeOK(t, call(t, s.handleListDir, ToolListDir, map[string]interface{}{"directory_path": dir}), &got)
		require.Len(t, got.Entries, 2)

		assert.Equal(t, "a", got.Entries[0].Name)
		assert.Equal(t, listing.TypeDirectory, got.Entries[0].Type)
		require.NotNil(t, got.Entries[0].ChildCount)
		assert.Equal(t, 2, *got.Entries[0].ChildCount)

		assert.Equal(t, "b.go", got.Entries[1].Name)
		assert.Equal(t, listing.TypeFile, got.Entries[1].Type)
		assert.Equal(t, int64(len("package b\n")), got.Entries[1].SizeBytes)
	})

	t.Run("errors", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "f.txt")
		writeFile(t, file, "x")

		tests := []struct {
			name string
			args map[string]interface{}
			code int
		}{
			{"missing", map[string]interface{}{}, ErrorCodeInvalidParams},
			{"wrong type", map[string]interface{}{"directory_path": 7}, ErrorCodeInvalidParams},
			{"relative", map[string]interface{}{"directory_path": "some/dir"}, ErrorCodeInvalidParams},
			{"not found", map[string]interface{}{"directory_path": filepath.Join(dir, "nope")}, ErrorCodeNotFound},
			{"not a directory", map[string]interface{}{"directory_path": file}, ErrorCodeNotADirectory},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.code, errorCode(t, call(t, s.handleListDir, ToolListDir, tt.args)))
			})
		}
	})
}

func TestIndexAndSearch(t *testing.T) {
	s := newTestServer(t, false)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "foo.go"), `package sample

// foo returns the answer
func foo() int {
	return 42
}
`)
	writeFile(t, filepath.Join(dir, "notes", "readme.md"), "# Deployment\n\nShip the container image to the registry.\n")

	var idx indexDirectoryResponse
	decodeOK(t, call(t, s.handleIndexDirectory, ToolIndexDirectory, map[string]interface{}{"directory_path": dir}), &idx)
	assert.Equal(t, 2, idx.FilesScanned)
	assert.Equal(t, 2, idx.FilesIndexed)
	assert.Positive(t, idx.ChunksAdded)
	assert.Zero(t, idx.ChunksRemoved)
	assert.Equal(t, "full", idx.Mode)
	assert.Empty(t, idx.Errors)

	var found searchCodeResponse
	decodeOK(t, call(t, s.handleSearchCode, ToolSearchCode, map[string]interface{}{
		"query": "function foo",
		"top_k": float64(5),
	}), &found)
	require.NotEmpty(t, found.Results)
	top := found.Results[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, filepath.Join(dir, "foo.go"), top.FilePath)
	assert.Contains(t, top.Snippet, "func foo()")
	assert.LessOrEqual(t, top.StartLine, top.EndLine)
	assert.False(t, found.CacheHit)

	// Restricting to the notes directory excludes foo.go
	var scoped searchCodeResponse
	decodeOK(t, call(t, s.handleSearchCode, ToolSearchCode, map[string]interface{}{
		"query":              "function foo",
		"target_directories": []interface{}{filepath.Join(dir, "notes")},
	}), &scoped)
	for _, r := range scoped.Results {
		assert.True(t, strings.HasPrefix(r.FilePath, filepath.Join(dir, "notes")), r.FilePath)
	}

	var patterned searchCodeResponse
	decodeOK(t, call(t, s.handleSearchCode, ToolSearchCode, map[string]interface{}{
		"query":        "deployment registry",
		"file_pattern": "*.md",
	}), &patterned)
	require.NotEmpty(t, patterned.Results)
	for _, r := range patterned.Results {
		assert.Equal(t, ".md", filepath.Ext(r.FilePath))
	}

	// Re-indexing unchanged files does no work
	var again indexDirectoryResponse
	decodeOK(t, call(t, s.handleIndexDirectory, ToolIndexDirectory, map[string]interface{}{"directory_path": dir}), &again)
	assert.Zero(t, again.ChunksAdded)
	assert.Zero(t, again.ChunksRemoved)
	assert.Equal(t, 2, again.FilesSkipped)

	// Incremental run over one file
	writeFile(t, filepath.Join(dir, "foo.go"), "package sample\n\nfunc bar() {}\n")
	var inc indexDirectoryResponse
	decodeOK(t, call(t, s.handleIndexDirectory, ToolIndexDirectory, map[string]interface{}{
		"directory_path": dir,
		"paths":          []interface{}{"foo.go"},
	}), &inc)
	assert.Equal(t, "incremental", inc.Mode)
	assert.Equal(t, 1, inc.FilesIndexed)
	assert.Positive(t, inc.ChunksRemoved)

	var status statusResponse
	decodeOK(t, call(t, s.handleGetStatus, ToolGetStatus, nil), &status)
	assert.Equal(t, string(lifecycle.StateReady), status.State)
	assert.NotEmpty(t, status.Model)
	assert.Positive(t, status.Dimension)
	require.NotNil(t, status.Collection)
	assert.Equal(t, config.CollectionName, status.Collection.Name)
	assert.Equal(t, 2, status.Collection.Files)
	assert.Positive(t, status.Collection.Entries)
	assert.NotNil(t, status.Collection.LastIndexedAt)
	assert.False(t, status.Indexing)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "incremental", status.LastRun.Mode)
	require.NotNil(t, status.Caches)
	assert.Positive(t, status.Caches.EmbeddingsInMemory)
	assert.Zero(t, status.Caches.SearchResponses, "index runs purge cached searches")

	call(t, s.handleSearchCode, ToolSearchCode, map[string]interface{}{"query": "deployment registry"})
	decodeOK(t, call(t, s.handleGetStatus, ToolGetStatus, nil), &status)
	assert.Equal(t, 1, status.Caches.SearchResponses)
}

func TestSearchCode_InvalidParams(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeInvalidParams},
		{"empty query", map[string]interface{}{"query": ""}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "  \n\t"}, ErrorCodeEmptyQuery},
		{"query too long", map[string]interface{}{"query": strings.Repeat("q", 9000)}, ErrorCodeInvalidParams},
		{"zero top_k", map[string]interface{}{"query": "x", "top_k": float64(0)}, ErrorCodeInvalidParams},
		{"top_k too large", map[string]interface{}{"query": "x", "top_k": float64(1000)}, ErrorCodeInvalidParams},
		{"fractional top_k", map[string]interface{}{"query": "x", "top_k": 2.5}, ErrorCodeInvalidParams},
		{"string top_k", map[string]interface{}{"query": "x", "top_k": "ten"}, ErrorCodeInvalidParams},
		{"relative target", map[string]interface{}{"query": "x", "target_directories": []interface{}{"src"}}, ErrorCodeInvalidParams},
		{"non-string target", map[string]interface{}{"query": "x", "target_directories": []interface{}{3}}, ErrorCodeInvalidParams},
		{"bad pattern", map[string]interface{}{"query": "x", "file_pattern": "[a-"}, ErrorCodeInvalidParams},
		{"min_score out of range", map[string]interface{}{"query": "x", "min_score": 1.5}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(t, call(t, s.handleSearchCode, ToolSearchCode, tt.args)))
		})
	}
}

func TestIndexDirectory_Errors(t *testing.T) {
	s := newTestServer(t, false)

	dir := t.TempDir()
	file := filepath.Join(dir, "f.go")
	writeFile(t, file, "package f\n")

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing", map[string]interface{}{}, ErrorCodeInvalidParams},
		{"relative", map[string]interface{}{"directory_path": "."}, ErrorCodeInvalidParams},
		{"not found", map[string]interface{}{"directory_path": filepath.Join(dir, "gone")}, ErrorCodeNotFound},
		{"not a directory", map[string]interface{}{"directory_path": file}, ErrorCodeNotADirectory},
		{"bad force", map[string]interface{}{"directory_path": dir, "force": "yes"}, ErrorCodeInvalidParams},
		{"bad paths", map[string]interface{}{"directory_path": dir, "paths": "f.go"}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(t, call(t, s.handleIndexDirectory, ToolIndexDirectory, tt.args)))
		})
	}
}

func TestTools_BeforeRuntimeReady(t *testing.T) {
	s := newTestServer(t, true)
	dir := t.TempDir()

	// Listing never needs the model
	var got listing.Listing
	decodeOK(t, call(t, s.handleListDir, ToolListDir, map[string]interface{}{"directory_path": dir}), &got)

	assert.Equal(t, ErrorCodeModelUnavailable,
		errorCode(t, call(t, s.handleSearchCode, ToolSearchCode, map[string]interface{}{"query": "anything"})))
	assert.Equal(t, ErrorCodeModelUnavailable,
		errorCode(t, call(t, s.handleIndexDirectory, ToolIndexDirectory, map[string]interface{}{"directory_path": dir})))

	var status statusResponse
	decodeOK(t, call(t, s.handleGetStatus, ToolGetStatus, nil), &status)
	assert.Equal(t, string(lifecycle.StateUninitialized), status.State)
	assert.Nil(t, status.Collection)
	assert.Nil(t, status.Caches)
	assert.Nil(t, status.LastRun)
}

func TestToMCPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrQuery, ErrorCodeInvalidParams},
		{types.ErrNotFound, ErrorCodeNotFound},
		{types.ErrNotADirectory, ErrorCodeNotADirectory},
		{types.ErrPermissionDenied, ErrorCodePermissionDenied},
		{types.ErrIndexingInProgress, ErrorCodeIndexingInProgress},
		{types.ErrModelUnavailable, ErrorCodeModelUnavailable},
		{types.ErrStorage, ErrorCodeStorageUnavailable},
		{types.ErrFileAccess, ErrorCodeInternalError},
		{context.Canceled, ErrorCodeInternalError},
		{invalidParam("top_k", "must be an integer"), ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := &wrapErr{msg: "op failed", err: tt.err}
			got := toMCPError(wrapped)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

type wrapErr struct {
	msg string
	err error
}

func (e *wrapErr) Error() string { return e.msg + ": " + e.err.Error() }
func (e *wrapErr) Unwrap() error { return e.err }

func TestIntArg(t *testing.T) {
	n, err := intArg(map[string]interface{}{}, "k", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = intArg(map[string]interface{}{"k": float64(3)}, "k", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = intArg(map[string]interface{}{"k": json.Number("12")}, "k", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = intArg(map[string]interface{}{"k": 1.25}, "k", 7)
	assert.Error(t, err)
}
