package chunker

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/semcode-mcp/internal/parser"
	"github.com/dshills/semcode-mcp/pkg/types"
)

const (
	// DefaultMaxLines is the window height used when none is configured
	DefaultMaxLines = 40

	// DefaultOverlapLines is the number of lines adjacent windows share
	DefaultOverlapLines = 5

	// DefaultMaxChars bounds a single chunk's text; long-line files are cut early
	DefaultMaxChars = 6000

	// DefaultMaxFileBytes is the absolute ceiling above which a file is not chunked
	DefaultMaxFileBytes = 1 << 20
)

// ErrFileTooLarge is returned for content above the configured ceiling
var ErrFileTooLarge = fmt.Errorf("%w: file exceeds size ceiling", types.ErrFileAccess)

// Config controls chunk sizes. Line numbers are 1-based and inclusive.
type Config struct {
	MaxLines     int
	OverlapLines int
	MaxChars     int
	MaxFileBytes int64
}

// DefaultConfig returns the default chunk sizes
func DefaultConfig() Config {
	return Config{
		MaxLines:     DefaultMaxLines,
		OverlapLines: DefaultOverlapLines,
		MaxChars:     DefaultMaxChars,
		MaxFileBytes: DefaultMaxFileBytes,
	}
}

// Validate checks that the configuration yields a positive window step
func (c Config) Validate() error {
	if c.MaxLines <= 0 {
		return fmt.Errorf("%w: max lines must be positive", types.ErrConfiguration)
	}
	if c.OverlapLines < 0 || c.OverlapLines >= c.MaxLines {
		return fmt.Errorf("%w: overlap must be in [0, max lines)", types.ErrConfiguration)
	}
	if c.MaxChars <= 0 {
		return fmt.Errorf("%w: max chars must be positive", types.ErrConfiguration)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("%w: max file bytes must be positive", types.ErrConfiguration)
	}
	return nil
}

// segment is a contiguous line range that should be kept together when it fits
type segment struct {
	start, end int
	symbol     string
}

// Chunker splits file content into located, identified chunks
type Chunker struct {
	cfg      Config
	parser   *parser.Parser
	markdown *markdownSplitter
}

// New creates a Chunker with the given configuration
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		cfg:      cfg,
		parser:   parser.New(),
		markdown: newMarkdownSplitter(),
	}, nil
}

// Config returns the chunker's configuration
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits content into an ordered sequence of chunks that together cover
// every non-blank line of the file. filePath is stored on each chunk and feeds
// its identifier. Go and Markdown files are cut on declaration and heading
// boundaries; everything else uses overlapping sliding windows.
func (c *Chunker) Chunk(filePath string, content []byte) ([]*types.Chunk, error) {
	if int64(len(content)) > c.cfg.MaxFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, filePath, len(content))
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, nil
	}

	lines := splitLines(string(content))

	var segments []segment
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".go":
		segments = c.goSegments(filePath, content, len(lines))
	case ".md", ".markdown":
		segments = c.markdown.segments(content, len(lines))
	}

	if len(segments) == 0 {
		return c.window(filePath, lines, segment{start: 1, end: len(lines)}, types.ChunkWindow), nil
	}

	kind := types.ChunkDeclaration
	if !strings.EqualFold(filepath.Ext(filePath), ".go") {
		kind = types.ChunkSection
	}

	var chunks []*types.Chunk
	for _, seg := range c.merge(lines, segments) {
		chunks = append(chunks, c.window(filePath, lines, seg, kind)...)
	}
	return chunks, nil
}

// goSegments derives segments from top-level declarations. Files with syntax
// errors fall back to windowing.
func (c *Chunker) goSegments(filePath string, content []byte, lineCount int) []segment {
	result := c.parser.Parse(filePath, content)
	if result.HasErrors() || len(result.Decls) == 0 {
		return nil
	}

	boundaries := make([]boundary, 0, len(result.Decls))
	for _, d := range result.Decls {
		name := d.Name
		if d.Kind == parser.KindImport {
			name = ""
		}
		boundaries = append(boundaries, boundary{line: d.StartLine, symbol: name})
	}
	return segmentsFromBoundaries(boundaries, lineCount)
}

type boundary struct {
	line   int
	symbol string
}

// segmentsFromBoundaries turns start lines into contiguous segments covering
// [1, lineCount]. Content before the first boundary becomes its own segment.
func segmentsFromBoundaries(bounds []boundary, lineCount int) []segment {
	sort.SliceStable(bounds, func(i, j int) bool { return bounds[i].line < bounds[j].line })

	var segs []segment
	for _, b := range bounds {
		if b.line < 1 || b.line > lineCount {
			continue
		}
		if len(segs) > 0 && b.line <= segs[len(segs)-1].start {
			continue
		}
		if len(segs) == 0 && b.line > 1 {
			segs = append(segs, segment{start: 1})
		}
		segs = append(segs, segment{start: b.line, symbol: b.symbol})
	}
	if len(segs) == 0 {
		return nil
	}

	for i := range segs {
		if i+1 < len(segs) {
			segs[i].end = segs[i+1].start - 1
		} else {
			segs[i].end = lineCount
		}
	}
	return segs
}

// merge joins consecutive small segments while they fit in one window. The
// merged segment keeps the first non-empty symbol.
func (c *Chunker) merge(lines []string, segs []segment) []segment {
	var out []segment
	for _, s := range segs {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if s.end-last.start+1 <= c.cfg.MaxLines && charCount(lines, last.start, s.end) <= c.cfg.MaxChars {
				last.end = s.end
				if last.symbol == "" {
					last.symbol = s.symbol
				}
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// window cuts seg into chunks of at most MaxLines lines with OverlapLines of
// shared context. The final window always ends on the segment's last line.
// Windows that contain only whitespace are dropped.
func (c *Chunker) window(filePath string, lines []string, seg segment, kind types.ChunkKind) []*types.Chunk {
	var chunks []*types.Chunk
	step := c.cfg.MaxLines - c.cfg.OverlapLines

	for start := seg.start; start <= seg.end; {
		end := min(start+c.cfg.MaxLines-1, seg.end)
		end = c.fitChars(lines, start, end)

		text := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(text) != "" {
			ch := types.NewChunk(filePath, start, end, text, kind)
			ch.Symbol = seg.symbol
			chunks = append(chunks, ch)
		}

		if end >= seg.end {
			break
		}
		next := start + step
		if end < start+c.cfg.MaxLines-1 {
			// Cut short by MaxChars; keep the overlap relative to the actual end
			next = max(end-c.cfg.OverlapLines+1, start+1)
		}
		start = next
	}
	return chunks
}

// fitChars shrinks end until the window's text is within MaxChars. A single
// line longer than MaxChars is kept whole.
func (c *Chunker) fitChars(lines []string, start, end int) int {
	for end > start && charCount(lines, start, end) > c.cfg.MaxChars {
		end--
	}
	return end
}

func charCount(lines []string, start, end int) int {
	n := 0
	for i := start - 1; i < end && i < len(lines); i++ {
		n += len(lines[i]) + 1
	}
	return n
}

// splitLines splits on newlines. A trailing newline does not add an empty
// final line and CRLF endings are normalised.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
