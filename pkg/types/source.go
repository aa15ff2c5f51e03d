package types

import "time"

// SourceFile describes a file yielded by a discovery pass. It is recomputed on
// every pass and never persisted on its own.
type SourceFile struct {
	Path        string // Absolute path
	RelPath     string // Slash-separated path relative to the discovery root
	Size        int64
	ModTime     time.Time
	ContentHash [32]byte // Zero until the content has been loaded
}
