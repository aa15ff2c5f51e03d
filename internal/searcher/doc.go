// Package searcher answers natural-language queries over an indexed
// collection.
//
// A search embeds the query with the shared model, asks the store for the
// closest chunks by cosine similarity, and post-processes the matches:
//
//  1. Chunks of the same file whose line ranges overlap or touch collapse
//     into the best scoring one, so sliding-window neighbours do not crowd
//     out other files.
//  2. Results are ordered by score descending; equal scores are ordered by
//     ascending chunk id.
//  3. Each result carries its file path, line range and a snippet of its
//     first SnippetLines lines.
//
// The store is over-fetched by a factor of three so that merging still
// leaves TopK results when enough distinct regions exist.
//
// # Caching
//
// Responses are kept in an LRU keyed by the normalized request. The indexer
// calls InvalidateCache after every run.
//
// # Errors
//
// Empty, oversized or otherwise malformed requests fail with types.ErrQuery.
// Model failures surface as types.ErrModelUnavailable and store failures as
// types.ErrStorage, including a collection that was built with a different
// model.
package searcher
