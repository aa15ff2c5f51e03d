package mcp

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/semcode-mcp/internal/indexer"
	"github.com/dshills/semcode-mcp/internal/searcher"
)

// Tool names
const (
	ToolListDir        = "list_dir"
	ToolSearchCode     = "search_code"
	ToolIndexDirectory = "index_directory"
	ToolGetStatus      = "get_status"
)

// listDirTool returns the tool definition for list_dir
func listDirTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolListDir,
		Description: "List the files and subdirectories of a directory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"directory_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to list",
				},
			},
			Required: []string{"directory_path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSearchCode,
		Description: "Search indexed source code with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for, e.g. \"where are retries configured\"",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     searcher.DefaultTopK,
					"minimum":     1,
					"maximum":     searcher.MaxTopK,
				},
				"target_directories": map[string]interface{}{
					"type":        "array",
					"description": "Absolute directories or files to restrict the search to",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"file_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob over file paths, e.g. '*.go' or '*_test.go'",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Drop results whose similarity is below this value",
					"minimum":     -1,
					"maximum":     1,
				},
			},
			Required: []string{"query"},
		},
	}
}

// indexDirectoryTool returns the tool definition for index_directory
func indexDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndexDirectory,
		Description: "Index the source files under a directory so they can be searched. Unchanged files are skipped.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"directory_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index",
				},
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Only re-index these files or subdirectories (absolute, or relative to directory_path)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed files even when their content is unchanged",
					"default":     false,
				},
			},
			Required: []string{"directory_path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatus,
		Description: "Report whether the embedding model is loaded and what the index contains",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// searchHit is one search_code result
type searchHit struct {
	Rank            int     `json:"rank"`
	FilePath        string  `json:"file_path"`
	StartLine       int     `json:"start_line"`
	EndLine         int     `json:"end_line"`
	Symbol          string  `json:"symbol,omitempty"`
	Snippet         string  `json:"snippet"`
	SimilarityScore float64 `json:"similarity_score"`
}

type searchCodeResponse struct {
	Query        string      `json:"query"`
	Results      []searchHit `json:"results"`
	TotalResults int         `json:"total_results"`
	DurationMS   int64       `json:"duration_ms"`
	CacheHit     bool        `json:"cache_hit"`
}

func newSearchCodeResponse(query string, resp *searcher.SearchResponse) searchCodeResponse {
	out := searchCodeResponse{
		Query:        query,
		Results:      make([]searchHit, 0, len(resp.Results)),
		TotalResults: resp.TotalResults,
		DurationMS:   resp.Duration.Milliseconds(),
		CacheHit:     resp.CacheHit,
	}
	for _, r := range resp.Results {
		hit := searchHit{
			Rank:            r.Rank,
			Symbol:          r.Symbol,
			Snippet:         r.Snippet,
			SimilarityScore: r.SimilarityScore,
		}
		if r.File != nil {
			hit.FilePath = r.File.Path
			hit.StartLine = r.File.StartLine
			hit.EndLine = r.File.EndLine
		}
		out.Results = append(out.Results, hit)
	}
	return out
}

// maxReportedErrors is how many per-file errors index_directory returns
const maxReportedErrors = 5

type indexDirectoryResponse struct {
	Root               string   `json:"root"`
	Mode               string   `json:"mode"`
	FilesScanned       int      `json:"files_scanned"`
	FilesIndexed       int      `json:"files_indexed"`
	FilesSkipped       int      `json:"files_skipped"`
	FilesFailed        int      `json:"files_failed"`
	FilesRemoved       int      `json:"files_removed"`
	ChunksAdded        int      `json:"chunks_added"`
	ChunksRemoved      int      `json:"chunks_removed"`
	ChunksUnchanged    int      `json:"chunks_unchanged"`
	EmbeddingsComputed int      `json:"embeddings_computed"`
	CollectionReset    bool     `json:"collection_reset,omitempty"`
	DurationMS         int64    `json:"duration_ms"`
	Errors             []string `json:"errors,omitempty"`
	ErrorCount         int      `json:"error_count,omitempty"`
}

func newIndexDirectoryResponse(stats *indexer.Statistics) indexDirectoryResponse {
	out := indexDirectoryResponse{
		Root:               stats.Root,
		Mode:               stats.Mode,
		FilesScanned:       stats.FilesScanned,
		FilesIndexed:       stats.FilesIndexed,
		FilesSkipped:       stats.FilesSkipped,
		FilesFailed:        stats.FilesFailed,
		FilesRemoved:       stats.FilesRemoved,
		ChunksAdded:        stats.ChunksAdded,
		ChunksRemoved:      stats.ChunksRemoved,
		ChunksUnchanged:    stats.ChunksUnchanged,
		EmbeddingsComputed: stats.EmbeddingsComputed,
		CollectionReset:    stats.CollectionReset,
		DurationMS:         stats.Duration.Milliseconds(),
	}

	if len(stats.Errors) > 0 {
		// Include first few errors
		out.Errors = stats.Errors[:min(len(stats.Errors), maxReportedErrors)]
		out.ErrorCount = max(len(stats.Errors), stats.FilesFailed)
	}
	return out
}

type collectionStatus struct {
	Name          string     `json:"name"`
	Model         string     `json:"model"`
	Dimension     int        `json:"dimension"`
	Entries       int        `json:"entries"`
	Files         int        `json:"files"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	IndexSizeMB   string     `json:"index_size_mb"`
}

type cacheStatus struct {
	EmbeddingsInMemory int `json:"embeddings_in_memory"`
	EmbeddingsOnDisk   int `json:"embeddings_on_disk"` // -1 without a disk cache
	SearchResponses    int `json:"search_responses"`
}

type statusResponse struct {
	State      string                  `json:"state"`
	Error      string                  `json:"error,omitempty"`
	Model      string                  `json:"model,omitempty"`
	Dimension  int                     `json:"dimension,omitempty"`
	StorePath  string                  `json:"store_path"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	Collection *collectionStatus       `json:"collection,omitempty"`
	Caches     *cacheStatus            `json:"caches,omitempty"`
	Indexing   bool                    `json:"indexing"`
	LastRun    *indexDirectoryResponse `json:"last_run,omitempty"`
	LastError  string                  `json:"last_run_error,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
