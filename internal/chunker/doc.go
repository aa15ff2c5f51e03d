// Package chunker splits file content into bounded, located chunks for
// embedding and search.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chunks, err := c.Chunk("/repo/server.go", content)
//
// # Chunking Strategy
//
// Go files are cut at top-level declarations (doc comments stay with their
// declaration) and Markdown files at headings. Neighbouring small sections are
// merged while they fit in one window, and sections taller than MaxLines are
// windowed. All other files use a sliding window of MaxLines with
// OverlapLines of shared context, the last window ending on the last line:
//
//	50 lines, MaxLines 20, OverlapLines 5 -> [1-20] [16-35] [31-50]
//
// Chunk identifiers are derived from file path, line range and content hash,
// so re-chunking unchanged content reproduces the same identifiers.
package chunker
