// Package types provides shared type definitions for the semcode MCP server.
//
// # Core Types
//
// SourceFile describes a file found by a discovery pass:
//
//	sf := types.SourceFile{Path: "/repo/main.go", RelPath: "main.go", Size: 812}
//
// Chunk is a located slice of a file that gets embedded and stored:
//
//	chunk := types.NewChunk("/repo/main.go", 1, 20, text, types.ChunkWindow)
//
// The chunk identifier is a UUIDv5 derived from the file path, the line range
// and the SHA-256 of the text, so re-indexing unchanged content produces the
// same identifiers and never duplicates entries.
//
// SearchResult is one ranked hit returned to callers:
//
//	result := types.SearchResult{
//	    ChunkID:         chunk.ID,
//	    Rank:            1,
//	    SimilarityScore: 0.92,
//	    File:            &types.FileInfo{Path: chunk.FilePath, StartLine: 1, EndLine: 20},
//	}
//
// # Errors
//
// The error taxonomy lives here so every layer can classify failures with
// errors.Is without importing each other:
//
//	ErrConfiguration     fatal at startup
//	ErrModelUnavailable  model failed to load or was released
//	ErrStorage           vector store unreachable or corrupt
//	ErrFileAccess        per-file failure, logged and skipped
//	ErrQuery             empty or malformed query
package types
