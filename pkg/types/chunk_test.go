package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDDeterministic(t *testing.T) {
	a := NewChunk("/repo/a.go", 1, 20, "func foo() {}", ChunkDeclaration)
	b := NewChunk("/repo/a.go", 1, 20, "func foo() {}", ChunkDeclaration)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestChunkIDDependsOnLocationAndContent(t *testing.T) {
	base := NewChunk("/repo/a.go", 1, 20, "same text", ChunkWindow)

	tests := []struct {
		name  string
		chunk *Chunk
	}{
		{"different file", NewChunk("/repo/b.go", 1, 20, "same text", ChunkWindow)},
		{"different start", NewChunk("/repo/a.go", 2, 20, "same text", ChunkWindow)},
		{"different end", NewChunk("/repo/a.go", 1, 21, "same text", ChunkWindow)},
		{"different content", NewChunk("/repo/a.go", 1, 20, "other text", ChunkWindow)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base.ID, tt.chunk.ID)
		})
	}
}

func TestChunkValidate(t *testing.T) {
	valid := NewChunk("/repo/a.go", 3, 5, "x := 1", ChunkWindow)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Chunk)
	}{
		{"empty content", func(c *Chunk) { c.Content = "" }},
		{"zero start", func(c *Chunk) { c.StartLine = 0 }},
		{"start after end", func(c *Chunk) { c.StartLine = 9 }},
		{"bad kind", func(c *Chunk) { c.Kind = "bogus" }},
		{"missing path", func(c *Chunk) { c.FilePath = "" }},
		{"zero hash", func(c *Chunk) { c.ContentHash = [32]byte{} }},
		{"tampered id", func(c *Chunk) { c.ID = "not-the-id" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSearchResultValidate(t *testing.T) {
	sr := SearchResult{
		ChunkID:         "id",
		Rank:            1,
		SimilarityScore: 0.5,
		File:            &FileInfo{Path: "/repo/a.go", StartLine: 1, EndLine: 2},
		Content:         "x",
	}
	require.NoError(t, sr.Validate())

	bad := sr
	bad.Rank = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRank)

	bad = sr
	bad.File = nil
	assert.ErrorIs(t, bad.Validate(), ErrMissingFileInfo)

	bad = sr
	bad.SimilarityScore = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRelevanceScore)
}
