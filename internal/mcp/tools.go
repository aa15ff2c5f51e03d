package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/indexer"
	"github.com/dshills/semcode-mcp/internal/listing"
	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/internal/searcher"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound           = -32001 // Path does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeNotADirectory      = -32005 // Path is a file
	ErrorCodePermissionDenied   = -32006 // Path is not readable
	ErrorCodeModelUnavailable   = -32010 // Embedding model not loaded
	ErrorCodeStorageUnavailable = -32011 // Vector store unreachable
)

// handleListDir handles the list_dir tool invocation
func (s *Server) handleListDir(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.toolContext(ctx, ToolListDir)
	args := arguments(request)

	dir, err := absPathArg(args, "directory_path")
	if err != nil {
		return errorResult(ctx, err), nil
	}

	result, err := listing.List(ctx, dir)
	if err != nil {
		return errorResult(ctx, err), nil
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.toolContext(ctx, ToolSearchCode)
	args := arguments(request)

	query, err := stringArg(args, "query")
	if err != nil {
		return errorResult(ctx, err), nil
	}
	if strings.TrimSpace(query) == "" {
		return errorResult(ctx, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})), nil
	}

	topK, err := intArg(args, "top_k", 0)
	if err != nil {
		return errorResult(ctx, err), nil
	}
	if _, present := args["top_k"]; present && (topK < 1 || topK > searcher.MaxTopK) {
		return errorResult(ctx, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})), nil
	}

	dirs, err := stringSliceArg(args, "target_directories")
	if err != nil {
		return errorResult(ctx, err), nil
	}
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			return errorResult(ctx, invalidParam("target_directories", "paths must be absolute")), nil
		}
	}

	pattern, err := optionalStringArg(args, "file_pattern")
	if err != nil {
		return errorResult(ctx, err), nil
	}
	minScore, err := floatArg(args, "min_score", 0)
	if err != nil {
		return errorResult(ctx, err), nil
	}

	rt, err := s.manager.Runtime()
	if err != nil {
		return errorResult(ctx, err), nil
	}

	resp, err := rt.Searcher.Search(ctx, searcher.SearchRequest{
		Query:        query,
		TopK:         topK,
		PathPrefixes: dirs,
		FilePattern:  pattern,
		MinScore:     minScore,
	})
	if err != nil {
		return errorResult(ctx, err), nil
	}

	return mcp.NewToolResultText(formatJSON(newSearchCodeResponse(strings.TrimSpace(query), resp))), nil
}

// handleIndexDirectory handles the index_directory tool invocation
func (s *Server) handleIndexDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.toolContext(ctx, ToolIndexDirectory)
	args := arguments(request)

	dir, err := absPathArg(args, "directory_path")
	if err != nil {
		return errorResult(ctx, err), nil
	}
	paths, err := stringSliceArg(args, "paths")
	if err != nil {
		return errorResult(ctx, err), nil
	}
	force, err := boolArg(args, "force", false)
	if err != nil {
		return errorResult(ctx, err), nil
	}

	rt, err := s.manager.Runtime()
	if err != nil {
		return errorResult(ctx, err), nil
	}

	stats, err := rt.Indexer.Index(ctx, indexer.Request{Root: dir, Paths: paths, Force: force})
	if err != nil {
		if stats != nil {
			logging.FromContext(ctx).Warn("indexing stopped early",
				zap.Int("files_indexed", stats.FilesIndexed),
				zap.Int("chunks_added", stats.ChunksAdded))
		}
		return errorResult(ctx, err), nil
	}

	return mcp.NewToolResultText(formatJSON(newIndexDirectoryResponse(stats))), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = s.toolContext(ctx, ToolGetStatus)

	st := s.manager.Status()
	response := statusResponse{
		State:     string(st.State),
		Error:     st.Error,
		Model:     st.Model,
		Dimension: st.Dimension,
		StorePath: st.StorePath,
		StartedAt: timePtr(st.StartedAt),
	}

	rt, err := s.manager.Runtime()
	if err != nil {
		// Not ready yet; the state fields say why
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	stats, err := rt.Store.Stats(ctx, rt.Collection)
	if err != nil {
		return errorResult(ctx, err), nil
	}
	if stats.Collection != nil {
		response.Collection = &collectionStatus{
			Name:          stats.Collection.Name,
			Model:         stats.Collection.Model,
			Dimension:     stats.Collection.Dimension,
			Entries:       stats.Entries,
			Files:         stats.Files,
			LastIndexedAt: timePtr(stats.LastIndexedAt),
			IndexSizeMB:   fmt.Sprintf("%.2f", float64(stats.SizeBytes)/(1<<20)),
		}
	}

	cache := rt.Model.CacheStats()
	response.Caches = &cacheStatus{
		EmbeddingsInMemory: cache.Memory,
		EmbeddingsOnDisk:   cache.Disk,
		SearchResponses:    rt.Searcher.CacheLen(),
	}

	response.Indexing = rt.Indexer.Running()
	if last, lastErr := rt.Indexer.LastRun(); last != nil {
		summary := newIndexDirectoryResponse(last)
		response.LastRun = &summary
		if lastErr != nil {
			response.LastError = lastErr.Error()
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func (s *Server) toolContext(ctx context.Context, tool string) context.Context {
	return logging.WithLogger(ctx, s.logger.With(zap.String("tool", tool)))
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data map[string]interface{}) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func invalidParam(param, reason string) *MCPError {
	return newMCPError(ErrorCodeInvalidParams, "invalid "+param, map[string]interface{}{
		"param":  param,
		"reason": reason,
	})
}

// toMCPError classifies err into a stable error code
func toMCPError(err error) *MCPError {
	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrQuery):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrNotADirectory):
		code = ErrorCodeNotADirectory
	case errors.Is(err, types.ErrPermissionDenied):
		code = ErrorCodePermissionDenied
	case errors.Is(err, types.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrModelUnavailable):
		code = ErrorCodeModelUnavailable
	case errors.Is(err, types.ErrStorage):
		code = ErrorCodeStorageUnavailable
	}
	return newMCPError(code, err.Error(), nil)
}

// errorResult reports err as a tool-level error so the client sees it
// without the session failing
func errorResult(ctx context.Context, err error) *mcp.CallToolResult {
	me := toMCPError(err)
	logger := logging.FromContext(ctx)
	if me.Code == ErrorCodeInternalError || me.Code == ErrorCodeStorageUnavailable {
		logger.Error("tool call failed", zap.Int("code", me.Code), zap.Error(err))
	} else {
		logger.Debug("tool call rejected", zap.Int("code", me.Code), zap.Error(err))
	}
	return mcp.NewToolResultError(formatJSON(map[string]interface{}{"error": me}))
}

// arguments returns the call's argument object, empty when absent
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// absPathArg extracts a required absolute path parameter
func absPathArg(args map[string]interface{}, key string) (string, error) {
	p, err := stringArg(args, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	if !filepath.IsAbs(p) {
		return "", invalidParam(key, "path must be absolute")
	}
	return filepath.Clean(p), nil
}

// stringArg extracts a required string parameter
func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidParam(key, "must be a string")
	}
	return s, nil
}

func optionalStringArg(args map[string]interface{}, key string) (string, error) {
	if v, ok := args[key]; !ok || v == nil {
		return "", nil
	}
	return stringArg(args, key)
}

// intArg extracts an integer parameter with a default value. JSON numbers
// arrive as float64 and must be whole.
func intArg(args map[string]interface{}, key string, defaultValue int) (int, error) {
	switch v := args[key].(type) {
	case nil:
		return defaultValue, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, invalidParam(key, "must be an integer")
		}
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, invalidParam(key, "must be an integer")
		}
		return int(n), nil
	default:
		return 0, invalidParam(key, "must be an integer")
	}
}

func floatArg(args map[string]interface{}, key string, defaultValue float64) (float64, error) {
	switch v := args[key].(type) {
	case nil:
		return defaultValue, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalidParam(key, "must be a number")
		}
		return f, nil
	default:
		return 0, invalidParam(key, "must be a number")
	}
}

// boolArg extracts a boolean parameter with a default value
func boolArg(args map[string]interface{}, key string, defaultValue bool) (bool, error) {
	switch v := args[key].(type) {
	case nil:
		return defaultValue, nil
	case bool:
		return v, nil
	default:
		return false, invalidParam(key, "must be a boolean")
	}
}

// stringSliceArg extracts an optional array of strings. Blank items are dropped.
func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	var items []interface{}
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return nil, invalidParam(key, "must be an array of strings")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, invalidParam(key, "must be an array of strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
