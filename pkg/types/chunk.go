package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ChunkKind describes how a chunk's boundaries were chosen
type ChunkKind string

const (
	ChunkDeclaration ChunkKind = "declaration" // Go top-level declaration
	ChunkSection     ChunkKind = "section"     // Markdown heading section
	ChunkWindow      ChunkKind = "window"      // Fixed-size sliding window
)

// chunkNamespace seeds the UUIDv5 chunk identifiers. Changing it invalidates
// every stored identifier.
var chunkNamespace = uuid.MustParse("6f1c0f52-3b8e-5d59-9a47-2c1e8d2b7a10")

// Chunk is a bounded, located slice of a file treated as one retrievable unit.
// A chunk is immutable once created; changed content yields a new ID.
type Chunk struct {
	// Identification
	ID string // UUIDv5 over (FilePath, StartLine, EndLine, ContentHash)

	// Content
	Content     string
	ContentHash [32]byte // SHA-256 of Content

	// Location
	FilePath  string // Absolute, slash separated
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive

	// Metadata
	Kind   ChunkKind
	Symbol string // Declaration name for structural Go chunks
}

// NewChunk builds a chunk and computes its hash and identifier
func NewChunk(filePath string, startLine, endLine int, content string, kind ChunkKind) *Chunk {
	c := &Chunk{
		Content:   content,
		FilePath:  filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Kind:      kind,
	}
	c.ComputeContentHash()
	c.ID = ChunkID(filePath, startLine, endLine, c.ContentHash)
	return c
}

// ChunkID derives the deterministic identifier for a chunk. The same content at
// the same location always produces the same identifier.
func ChunkID(filePath string, startLine, endLine int, contentHash [32]byte) string {
	var b strings.Builder
	b.WriteString(filePath)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(startLine))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(endLine))
	b.WriteByte(0)
	b.WriteString(hex.EncodeToString(contentHash[:]))
	return uuid.NewSHA1(chunkNamespace, []byte(b.String())).String()
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// ValidateKind checks if the chunk kind is valid
func (c *Chunk) ValidateKind() error {
	switch c.Kind {
	case ChunkDeclaration, ChunkSection, ChunkWindow:
		return nil
	default:
		return errors.New("invalid chunk kind")
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if err := c.ValidateKind(); err != nil {
		return err
	}

	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	var zeroHash [32]byte
	if c.ContentHash == zeroHash {
		return errors.New("content hash must be computed")
	}

	if c.ID != ChunkID(c.FilePath, c.StartLine, c.EndLine, c.ContentHash) {
		return errors.New("chunk ID does not match content and location")
	}

	return nil
}
