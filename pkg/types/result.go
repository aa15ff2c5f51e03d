package types

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	ChunkID string
	Rank    int // Position in result set (1-based)

	// Scoring
	SimilarityScore float64 // Cosine similarity in [-1, 1]

	// Metadata
	File    *FileInfo
	Symbol  string
	Snippet string // Leading lines of the chunk
	Content string // Full chunk content
}

// FileInfo contains the human-readable location of a search result
type FileInfo struct {
	Path      string // Absolute file path
	StartLine int
	EndLine   int
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.SimilarityScore < -1.0001 || sr.SimilarityScore > 1.0001 {
		return ErrInvalidRelevanceScore
	}

	if sr.File == nil {
		return ErrMissingFileInfo
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
