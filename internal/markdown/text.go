package markdown

import (
	"bytes"
	"html"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark/ast"
)

// wordsPerMinute is the reading speed behind TimeToRead.
const wordsPerMinute = 265

// inlineText concatenates the text below n.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.WriteString(html.UnescapeString(string(t.Value)))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// plainText renders the readable text of nodes as whitespace-normalized
// prose. Code is kept, raw HTML is dropped.
func plainText(nodes []ast.Node, source []byte) string {
	var b strings.Builder
	var visit func(n ast.Node)
	visit = func(n ast.Node) {
		switch t := n.(type) {
		case *ast.Text, *ast.String:
			b.WriteString(inlineText(t, source))
			return
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := t.Lines()
			for i := range lines.Len() {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
			return
		case *Fragment, *BlockFragment, *ast.HTMLBlock, *ast.RawHTML:
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			visit(c)
		}
		if n.Type() == ast.TypeBlock {
			b.WriteByte('\n')
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// prune shortens s to at most limit runes on a word boundary, appending an
// ellipsis when text was cut.
func prune(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

func timeToRead(words int) int {
	return max(1, int(math.Round(float64(words)/wordsPerMinute)))
}

func headings(doc ast.Node, source []byte) []Heading {
	var out []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		id, _ := h.AttributeString("id")
		idb, _ := id.([]byte)
		out = append(out, Heading{Depth: h.Level, ID: string(idb), Value: inlineText(h, source)})
		return ast.WalkSkipChildren, nil
	})
	return out
}

// excerpt renders the top-level blocks before the configured separator, or
// the first paragraph when the document has no separator.
func (r *Renderer) excerpt(doc ast.Node, source []byte) (string, []ast.Node, error) {
	var nodes []ast.Node
	found := false
	if sep := strings.TrimSpace(r.opts.ExcerptSeparator); sep != "" {
		for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
			if isSeparator(c, source, sep) {
				found = true
				break
			}
			nodes = append(nodes, c)
		}
	}
	if !found {
		nodes = nil
		for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
			if c.Kind() == ast.KindParagraph {
				nodes = []ast.Node{c}
				break
			}
		}
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := r.md.Renderer().Render(&buf, source, n); err != nil {
			return "", nil, err
		}
	}
	return strings.TrimSpace(buf.String()), nodes, nil
}

func isSeparator(n ast.Node, source []byte, sep string) bool {
	b, ok := n.(*ast.HTMLBlock)
	if !ok {
		return false
	}
	var raw bytes.Buffer
	lines := b.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		raw.Write(seg.Value(source))
	}
	return strings.TrimSpace(raw.String()) == sep
}
