// Package storage provides SQLite-based persistence for embedded code chunks.
//
// A store holds named collections. Each collection is pinned to the model and
// dimension that produced its vectors; switching either empties it.
//
// # Database Schema
//
// Tables:
//   - collections: Name, model identifier and vector dimension
//   - entries: One row per chunk with its metadata and vector blob
//   - files: Content hash and chunk count of each indexed file
//   - schema_version: Applied migrations, compared as semantic versions
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(ctx, "/data/store/index.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	reset, err := store.EnsureCollection(ctx, "code_collection", "local/semcode-hash-v1@384", 384)
//
//	matches, err := store.Query(ctx, "code_collection", queryVector, 10, &storage.Filter{
//	    PathPrefixes: []string{"/repo/internal"},
//	    FilePattern:  "*.go",
//	})
//
// # Transactions
//
// Replacing a file's chunks runs in one transaction so searches never see a
// half-written file:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	_, _ = tx.Delete(ctx, collection, staleIDs)
//	_ = tx.Upsert(ctx, collection, entries)
//	_ = tx.UpsertFile(ctx, collection, state)
//
//	return tx.Commit()
//
// # Vector Search
//
// Similarity is cosine, computed in Go for every build. Results are ordered
// by score descending with ties broken by ascending chunk id.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler. Building
// with the sqlite_vec tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
package storage
