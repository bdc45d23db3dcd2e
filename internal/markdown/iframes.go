package markdown

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

const iframeStyle = "position: absolute; top: 0; left: 0; width: 100%; height: 100%"

// rewriteIframes wraps iframes in HTML blocks that carry a numeric width and
// height in a container that keeps their aspect ratio at any width.
func rewriteIframes(doc ast.Node, source []byte, opts plugin.RemarkResponsiveIframeOptions) error {
	var blocks []*ast.HTMLBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if b, ok := n.(*ast.HTMLBlock); ok && entering {
			blocks = append(blocks, b)
		}
		return ast.WalkContinue, nil
	})

	for _, b := range blocks {
		var raw bytes.Buffer
		lines := b.Lines()
		for i := range lines.Len() {
			seg := lines.At(i)
			raw.Write(seg.Value(source))
		}
		if b.HasClosure() {
			raw.Write(b.ClosureLine.Value(source))
		}
		out, changed, err := wrapIframes(raw.Bytes(), opts.WrapperStyle)
		if err != nil {
			return err
		}
		if changed {
			replace(b, &BlockFragment{Raw: bytes.TrimRight(out, "\n")})
		}
	}
	return nil
}

// wrapIframes rewrites raw HTML, reporting whether any iframe was wrapped.
func wrapIframes(raw []byte, wrapperStyle string) ([]byte, bool, error) {
	if !bytes.Contains(bytes.ToLower(raw), []byte("<iframe")) {
		return raw, false, nil
	}
	ctx := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(bytes.NewReader(raw), ctx)
	if err != nil {
		return nil, false, err
	}

	changed := false
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			visit(c)
			c = next
		}
		if n.Type != html.ElementNode || n.DataAtom != atom.Iframe {
			return
		}
		if n.Parent != nil && hasClass(n.Parent, "resp-iframe-wrapper") {
			return
		}
		w, h := numericAttr(n, "width"), numericAttr(n, "height")
		if w <= 0 || h <= 0 {
			return
		}
		changed = true
		setIframeStyle(n)

		style := "padding-bottom: " + strconv.FormatFloat(h/w*100, 'f', 4, 64) + "%; position: relative; height: 0; overflow: hidden;"
		if wrapperStyle != "" {
			style += " " + strings.TrimSpace(wrapperStyle)
		}
		wrapper := el(atom.Div, "class", "resp-iframe-wrapper", "style", style)
		if n.Parent != nil {
			n.Parent.InsertBefore(wrapper, n)
			n.Parent.RemoveChild(n)
		}
		wrapper.AppendChild(n)
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if n.Type == html.ElementNode && n.DataAtom == atom.Iframe {
			// Top-level iframes have no parent to splice into.
			holder := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
			holder.AppendChild(n)
			visit(holder)
			for c := holder.FirstChild; c != nil; c = c.NextSibling {
				if err := html.Render(&buf, c); err != nil {
					return nil, false, err
				}
			}
			continue
		}
		visit(n)
		if err := html.Render(&buf, n); err != nil {
			return nil, false, err
		}
	}
	return buf.Bytes(), changed, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && strings.Contains(" "+a.Val+" ", " "+class+" ") {
			return true
		}
	}
	return false
}

func numericAttr(n *html.Node, key string) float64 {
	for _, a := range n.Attr {
		if a.Key == key {
			v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(a.Val), "px"), 64)
			if err != nil {
				return 0
			}
			return v
		}
	}
	return 0
}

// setIframeStyle drops fixed dimensions and stretches the iframe over its
// wrapper.
func setIframeStyle(n *html.Node) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		switch a.Key {
		case "width", "height", "style":
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attr = append(attrs, html.Attribute{Key: "style", Val: iframeStyle})
}
