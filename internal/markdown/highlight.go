package markdown

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark/ast"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// highlight replaces fenced and indented code blocks with inline-styled
// highlighted markup.
func highlight(doc ast.Node, source []byte, opts plugin.RemarkPrismjsOptions) error {
	var blocks []ast.Node
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			blocks = append(blocks, n)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if len(blocks) == 0 {
		return nil
	}

	style := styles.Get(opts.Theme)
	formatter := chromahtml.New(
		chromahtml.WithClasses(false),
		chromahtml.WithLineNumbers(opts.ShowLineNumbers),
		chromahtml.TabWidth(4),
	)

	for _, b := range blocks {
		lang := "text"
		if f, ok := b.(*ast.FencedCodeBlock); ok {
			if l := f.Language(source); len(l) > 0 {
				lang = strings.ToLower(string(l))
			}
		}
		var code bytes.Buffer
		lines := b.Lines()
		for i := range lines.Len() {
			seg := lines.At(i)
			code.Write(seg.Value(source))
		}

		lexer := lexers.Get(lang)
		if lexer == nil {
			lexer = lexers.Fallback
		}
		it, err := chroma.Coalesce(lexer).Tokenise(nil, code.String())
		if err != nil {
			return err
		}

		var out bytes.Buffer
		out.WriteString(`<div class="highlight" data-language="` + html.EscapeString(lang) + `">`)
		if err := formatter.Format(&out, style, it); err != nil {
			return err
		}
		out.WriteString(`</div>`)
		replace(b, &BlockFragment{Raw: addClass(out.Bytes(), opts.ClassPrefix+lang)})
	}
	return nil
}

// addClass tags the first code element with class so stylesheets written for
// language-prefixed markup keep working.
func addClass(markup []byte, class string) []byte {
	return bytes.Replace(markup, []byte("<code>"), []byte(`<code class="`+html.EscapeString(class)+`">`), 1)
}
