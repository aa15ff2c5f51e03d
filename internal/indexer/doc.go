// Package indexer keeps a vector collection in step with a directory tree.
//
// # Pipeline
//
// Each run walks the tree with internal/discovery, splits changed files with
// internal/chunker, embeds new chunks through the shared model, and commits
// each file in one storage transaction:
//
//	discover -> load + hash -> compare with stored state -> chunk -> embed -> commit
//
// Files whose content hash matches the recorded state are skipped without
// being chunked. Within a changed file only chunks whose identifier is not
// already stored are embedded; identifiers that disappeared are deleted.
//
// # Modes
//
// A Request with no Paths is a full run: after the walk, files recorded under
// the root that were not seen are removed. A Request with Paths is
// incremental: listed files are re-indexed, listed directories are walked and
// pruned like a full run, and listed files that no longer exist are removed.
//
// # Concurrency
//
// Files are processed by an errgroup limited to Config.Workers. Only one run
// may be active per Indexer; a second call fails fast with
// types.ErrIndexingInProgress.
//
// # Failures
//
// Unreadable or oversized files are logged, counted in Statistics and
// skipped. Model and storage errors abort the run. Cancelling the context
// stops the run between files; files already committed stay committed.
//
// # Usage
//
//	idx, err := indexer.New(store, model, chunk, indexer.Config{Collection: "code_collection"})
//	if err != nil {
//	    return err
//	}
//	stats, err := idx.Index(ctx, indexer.Request{Root: "/path/to/project"})
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("indexed %d files, %d chunks added\n", stats.FilesIndexed, stats.ChunksAdded)
package indexer
