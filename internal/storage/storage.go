package storage

import (
	"context"
	"time"
)

// VectorStore persists embedded chunks in named collections and answers
// nearest-neighbour queries over them
type VectorStore interface {
	// Collection operations
	EnsureCollection(ctx context.Context, name, model string, dimension int) (reset bool, err error)
	GetCollection(ctx context.Context, name string) (*Collection, error)

	// Entry operations
	Upsert(ctx context.Context, collection string, entries []Entry) error
	Delete(ctx context.Context, collection string, chunkIDs []string) (int, error)
	ListEntryIDs(ctx context.Context, collection, filePath string) ([]string, error)
	Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]Match, error)

	// File state operations
	GetFile(ctx context.Context, collection, path string) (*FileState, error)
	UpsertFile(ctx context.Context, collection string, file *FileState) error
	DeleteFile(ctx context.Context, collection, path string) error
	ListFiles(ctx context.Context, collection, pathPrefix string) ([]*FileState, error)

	// Status operations
	Stats(ctx context.Context, collection string) (*CollectionStats, error)

	// Database operations
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Writer holds the mutations that can run inside a transaction
type Writer interface {
	Upsert(ctx context.Context, collection string, entries []Entry) error
	Delete(ctx context.Context, collection string, chunkIDs []string) (int, error)
	UpsertFile(ctx context.Context, collection string, file *FileState) error
	DeleteFile(ctx context.Context, collection, path string) error
}

// Tx represents a database transaction
type Tx interface {
	Writer
	Commit() error
	Rollback() error
}

// Collection records which model produced the vectors of a collection.
// Generation grows with every committed change to its entries.
type Collection struct {
	Name       string
	Model      string
	Dimension  int
	Generation int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Entry is a chunk's metadata together with its vector
type Entry struct {
	ChunkID     string
	FilePath    string
	StartLine   int
	EndLine     int
	Content     string
	ContentHash [32]byte
	Symbol      string
	Kind        string
	Vector      []float32 // Not populated on query results
}

// FileState is what the last successful index run saw of a file
type FileState struct {
	Path        string
	ContentHash [32]byte
	ModTime     time.Time
	SizeBytes   int64
	ChunkCount  int
	IndexedAt   time.Time
}

// Filter narrows a query. Zero values disable each condition.
type Filter struct {
	PathPrefixes []string // Directories or files; a match on any is enough
	FilePattern  string   // SQLite GLOB over the absolute path, e.g. "*.go"
	MinScore     float64
}

// Match is a query hit
type Match struct {
	Entry
	Score float64
}

// CollectionStats summarises a collection
type CollectionStats struct {
	Collection    *Collection
	Entries       int
	Files         int
	LastIndexedAt time.Time
	SizeBytes     int64 // Database file size on disk
}
