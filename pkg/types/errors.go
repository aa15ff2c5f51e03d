package types

import "errors"

// Error classes shared across components. Callers wrap these with
// fmt.Errorf("...: %w", ErrX) and classify with errors.Is.
var (
	// ErrConfiguration marks a missing or invalid required option. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelUnavailable marks an embedding model that failed to load or was released.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrStorage marks an unreachable or corrupt vector store.
	ErrStorage = errors.New("storage unavailable")
	// ErrFileAccess marks a per-file read failure. Never aborts an indexing run.
	ErrFileAccess = errors.New("file access error")
	// ErrQuery marks malformed or empty query input.
	ErrQuery = errors.New("invalid query")

	ErrNotFound           = errors.New("path does not exist")
	ErrNotADirectory      = errors.New("path is not a directory")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// Search result validation errors
var (
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between -1 and 1")
	ErrMissingFileInfo       = errors.New("file info is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
)
