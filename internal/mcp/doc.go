// Package mcp exposes the code index to AI assistants as Model Context
// Protocol tools over stdio.
//
// Tools:
//   - list_dir: list a directory's files and subdirectories
//   - search_code: rank indexed chunks against a natural language query
//   - index_directory: index (or incrementally re-index) a directory
//   - get_status: model initialisation state, index statistics and cache sizes
//
// Every tool answers with a JSON text result. Failures are returned as tool
// error results (IsError set) whose body is
//
//	{"error": {"code": -32001, "message": "...", "data": {...}}}
//
// Error codes:
//   - -32602: invalid params (missing, mistyped or relative paths, bad filters)
//   - -32001: path not found
//   - -32002: indexing in progress
//   - -32004: empty query
//   - -32005: path is not a directory
//   - -32006: permission denied
//   - -32010: embedding model unavailable (still loading or failed)
//   - -32011: vector store unavailable
//   - -32603: internal error
//
// list_dir works while the model is still loading; the other tools except
// get_status need the runtime to be ready.
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
