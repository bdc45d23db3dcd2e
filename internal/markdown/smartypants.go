package markdown

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// substitutions returns the entity table for the configured dash style.
func substitutions(opts plugin.RemarkSmartypantsOptions) extension.TypographicSubstitutions {
	subs := extension.TypographicSubstitutions{
		extension.LeftSingleQuote:  []byte("&lsquo;"),
		extension.RightSingleQuote: []byte("&rsquo;"),
		extension.LeftDoubleQuote:  []byte("&ldquo;"),
		extension.RightDoubleQuote: []byte("&rdquo;"),
		extension.EnDash:           []byte("&ndash;"),
		extension.EmDash:           []byte("&mdash;"),
		extension.Ellipsis:         []byte("&hellip;"),
		extension.LeftAngleQuote:   []byte("&laquo;"),
		extension.RightAngleQuote:  []byte("&raquo;"),
		extension.Apostrophe:       []byte("&rsquo;"),
	}
	switch opts.Dashes {
	case "default":
		subs[extension.EnDash] = []byte("&mdash;")
	case "inverted":
		subs[extension.EnDash] = []byte("&mdash;")
		subs[extension.EmDash] = []byte("&ndash;")
	}
	return subs
}

// smartypants replaces straight quotes, dashes and ellipses in the text
// nodes of doc with typographic entities. Code spans, raw HTML and the
// fragments produced by earlier steps are left alone.
func smartypants(doc ast.Node, source []byte, opts plugin.RemarkSmartypantsOptions) {
	subs := substitutions(opts)
	var texts []*ast.Text
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.CodeSpan, *ast.RawHTML, *ast.AutoLink, *Fragment, *BlockFragment:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if !t.IsRaw() {
				texts = append(texts, t)
			}
		}
		return ast.WalkContinue, nil
	})
	for _, t := range texts {
		punctuate(t, source, subs)
	}
}

// punctuate splits t into plain text segments and entity strings. The last
// replacement node is always a text segment carrying t's line break.
func punctuate(t *ast.Text, source []byte, subs extension.TypographicSubstitutions) {
	seg := t.Segment
	value := seg.Value(source)
	var nodes []ast.Node
	last := 0
	for i := 0; i < len(value); {
		sub, width := match(value, i, before(source, seg.Start+i), subs)
		if sub == nil {
			i++
			continue
		}
		if i > last {
			nodes = append(nodes, ast.NewTextSegment(text.NewSegment(seg.Start+last, seg.Start+i)))
		}
		s := ast.NewString(sub)
		s.SetCode(true)
		nodes = append(nodes, s)
		i += width
		last = i
	}
	if nodes == nil {
		return
	}
	tail := ast.NewTextSegment(text.NewSegment(seg.Start+last, seg.Stop))
	tail.SetSoftLineBreak(t.SoftLineBreak())
	tail.SetHardLineBreak(t.HardLineBreak())
	nodes = append(nodes, tail)

	parent := t.Parent()
	for _, n := range nodes {
		parent.InsertBefore(parent, t, n)
	}
	parent.RemoveChild(parent, t)
}

func match(value []byte, i int, prev byte, subs extension.TypographicSubstitutions) ([]byte, int) {
	if prev == '\\' {
		return nil, 0
	}
	rest := value[i:]
	var next byte
	if len(rest) > 1 {
		next = rest[1]
	}
	switch {
	case bytes.HasPrefix(rest, []byte("---")):
		return subs[extension.EmDash], 3
	case bytes.HasPrefix(rest, []byte("--")):
		return subs[extension.EnDash], 2
	case bytes.HasPrefix(rest, []byte("...")):
		return subs[extension.Ellipsis], 3
	case bytes.HasPrefix(rest, []byte("<<")):
		return subs[extension.LeftAngleQuote], 2
	case bytes.HasPrefix(rest, []byte(">>")):
		return subs[extension.RightAngleQuote], 2
	case rest[0] == '"':
		if opens(prev) {
			return subs[extension.LeftDoubleQuote], 1
		}
		return subs[extension.RightDoubleQuote], 1
	case rest[0] == '\'':
		if util.IsAlphaNumeric(prev) && util.IsAlphaNumeric(next) {
			return subs[extension.Apostrophe], 1
		}
		if opens(prev) {
			return subs[extension.LeftSingleQuote], 1
		}
		return subs[extension.RightSingleQuote], 1
	}
	return nil, 0
}

func before(source []byte, pos int) byte {
	if pos <= 0 {
		return 0
	}
	return source[pos-1]
}

// opens reports whether a quote following b starts a quotation.
func opens(b byte) bool {
	return b == 0 || util.IsSpace(b) || bytes.IndexByte([]byte("([{-"), b) >= 0
}
