package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode-mcp/pkg/types"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func newChunker(t *testing.T, maxLines, overlap int) *Chunker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxLines = maxLines
	cfg.OverlapLines = overlap
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

type span struct{ start, end int }

func spans(chunks []*types.Chunk) []span {
	out := make([]span, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, span{ch.StartLine, ch.EndLine})
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero lines", Config{MaxLines: 0, MaxChars: 10, MaxFileBytes: 10}},
		{"overlap equals max", Config{MaxLines: 5, OverlapLines: 5, MaxChars: 10, MaxFileBytes: 10}},
		{"negative overlap", Config{MaxLines: 5, OverlapLines: -1, MaxChars: 10, MaxFileBytes: 10}},
		{"zero chars", Config{MaxLines: 5, MaxFileBytes: 10}},
		{"zero bytes", Config{MaxLines: 5, MaxChars: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestChunk_SlidingWindow(t *testing.T) {
	c := newChunker(t, 20, 5)

	chunks, err := c.Chunk("/repo/notes.txt", []byte(numberedLines(50)))
	require.NoError(t, err)

	assert.Equal(t, []span{{1, 20}, {16, 35}, {31, 50}}, spans(chunks))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "line 16\n"))
	assert.True(t, strings.HasSuffix(chunks[2].Content, "line 50"))
	for _, ch := range chunks {
		assert.Equal(t, types.ChunkWindow, ch.Kind)
		assert.NoError(t, ch.Validate())
	}
}

func TestChunk_ShortFileSingleWindow(t *testing.T) {
	c := newChunker(t, 20, 5)

	chunks, err := c.Chunk("/repo/a.py", []byte("print('hi')\nprint('bye')\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, span{1, 2}, span{chunks[0].StartLine, chunks[0].EndLine})
	assert.Equal(t, "print('hi')\nprint('bye')", chunks[0].Content)
}

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	c := newChunker(t, 20, 5)

	for _, content := range []string{"", "\n\n", "   \t\n  "} {
		chunks, err := c.Chunk("/repo/empty.txt", []byte(content))
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunk_TooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileBytes = 16
	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.Chunk("/repo/big.txt", []byte(numberedLines(10)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorIs(t, err, types.ErrFileAccess)
}

func TestChunk_Deterministic(t *testing.T) {
	c := newChunker(t, 20, 5)
	content := []byte(numberedLines(45))

	first, err := c.Chunk("/repo/a.txt", content)
	require.NoError(t, err)
	second, err := c.Chunk("/repo/a.txt", content)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	other, err := c.Chunk("/repo/b.txt", content)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, other[0].ID, "identical content at another path gets its own ID")
	assert.Equal(t, first[0].ContentHash, other[0].ContentHash)
}

func TestChunk_MaxCharsCutsEarly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLines = 10
	cfg.OverlapLines = 2
	cfg.MaxChars = 100
	c, err := New(cfg)
	require.NoError(t, err)

	long := strings.Repeat("x", 45)
	content := strings.Repeat(long+"\n", 6)

	chunks, err := c.Chunk("/repo/wide.txt", []byte(content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 100)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 6, chunks[len(chunks)-1].EndLine)
}

const goSource = `package sample

import "fmt"

// Foo prints a greeting.
func Foo() {
	fmt.Println("foo")
}

// Bar adds two numbers.
func Bar(a, b int) int {
	return a + b
}
`

func TestChunk_GoDeclarations(t *testing.T) {
	// Small windows so each declaration stays on its own
	c := newChunker(t, 5, 1)

	chunks, err := c.Chunk("/repo/sample.go", []byte(goSource))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, span{1, 4}, span{chunks[0].StartLine, chunks[0].EndLine})
	assert.Equal(t, span{5, 9}, span{chunks[1].StartLine, chunks[1].EndLine})
	assert.Equal(t, "Foo", chunks[1].Symbol)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "// Foo prints a greeting."))
	assert.Equal(t, types.ChunkDeclaration, chunks[1].Kind)

	assert.Equal(t, "Bar", chunks[2].Symbol)
	assert.Equal(t, 13, chunks[2].EndLine)
}

func TestChunk_GoDeclarationsMergedWhenSmall(t *testing.T) {
	c := newChunker(t, 40, 5)

	chunks, err := c.Chunk("/repo/sample.go", []byte(goSource))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, span{1, 13}, span{chunks[0].StartLine, chunks[0].EndLine})
	assert.Equal(t, "Foo", chunks[0].Symbol)
}

func TestChunk_GoLongDeclarationWindowed(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Long() {\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "\t_ = %d\n", i)
	}
	b.WriteString("}\n")

	c := newChunker(t, 10, 2)
	chunks, err := c.Chunk("/repo/big.go", []byte(b.String()))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.EndLine-ch.StartLine+1, 10)
	}
	assert.Equal(t, 34, chunks[len(chunks)-1].EndLine)
	assert.Equal(t, "Long", chunks[len(chunks)-1].Symbol)
}

func TestChunk_GoSyntaxErrorFallsBack(t *testing.T) {
	c := newChunker(t, 20, 5)

	chunks, err := c.Chunk("/repo/broken.go", []byte("package x\n\nfunc Bad( {\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkWindow, chunks[0].Kind)
}

const markdownSource = "# Guide\n\nIntro text.\n\n## Install\n\nRun the installer.\n\n```sh\n# not a heading\nmake install\n```\n\n## Usage\n\nCall it.\n"

func TestChunk_MarkdownSections(t *testing.T) {
	c := newChunker(t, 5, 1)

	chunks, err := c.Chunk("/repo/README.md", []byte(markdownSource))
	require.NoError(t, err)

	var symbols []string
	for _, ch := range chunks {
		symbols = append(symbols, ch.Symbol)
		assert.Equal(t, types.ChunkSection, ch.Kind)
	}
	assert.Contains(t, symbols, "Guide")
	assert.Contains(t, symbols, "Guide > Install")
	assert.Contains(t, symbols, "Guide > Usage")
	assert.NotContains(t, symbols, "Guide > not a heading")

	last := chunks[len(chunks)-1]
	assert.Equal(t, 16, last.EndLine)
	assert.Equal(t, "Guide > Usage", last.Symbol)
}

func TestSegmentsFromBoundaries(t *testing.T) {
	segs := segmentsFromBoundaries([]boundary{{line: 5, symbol: "b"}, {line: 3, symbol: "a"}, {line: 3, symbol: "dup"}}, 10)
	assert.Equal(t, []segment{
		{start: 1, end: 2},
		{start: 3, end: 4, symbol: "a"},
		{start: 5, end: 10, symbol: "b"},
	}, segs)

	assert.Nil(t, segmentsFromBoundaries(nil, 10))
}
