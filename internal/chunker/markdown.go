package chunker

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

type headingInfo struct {
	level int
	text  string
}

// markdownSplitter finds heading boundaries with goldmark so that headings
// inside fenced code blocks are not mistaken for section starts.
type markdownSplitter struct {
	md goldmark.Markdown
}

func newMarkdownSplitter() *markdownSplitter {
	return &markdownSplitter{
		md: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// segments returns one segment per top-level heading section. The symbol of a
// section is its heading path, e.g. "Install > Linux".
func (m *markdownSplitter) segments(content []byte, lineCount int) []segment {
	doc := m.md.Parser().Parse(text.NewReader(content))

	var bounds []boundary
	var stack []headingInfo
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Lines().Len() == 0 {
			continue
		}

		seg := heading.Lines().At(0)
		title := strings.TrimSpace(string(seg.Value(content)))

		for len(stack) > 0 && stack[len(stack)-1].level >= heading.Level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, headingInfo{level: heading.Level, text: title})

		bounds = append(bounds, boundary{
			line:   lineOf(content, seg.Start),
			symbol: headingPath(stack),
		})
	}

	return segmentsFromBoundaries(bounds, lineCount)
}

func headingPath(stack []headingInfo) string {
	parts := make([]string, 0, len(stack))
	for _, h := range stack {
		if h.text != "" {
			parts = append(parts, h.text)
		}
	}
	return strings.Join(parts, " > ")
}

// lineOf converts a byte offset into a 1-based line number
func lineOf(content []byte, offset int) int {
	if offset > len(content) {
		offset = len(content)
	}
	return bytes.Count(content[:offset], []byte("\n")) + 1
}
