// Package markdown renders one markdown document to HTML through a fixed
// sequence of rewrite steps: parse, images, iframes, highlight,
// copy-linked-files, smartypants and serialize. Steps that are not
// configured are skipped.
//
// Rendering is pure: every external lookup (image derivatives, copied file
// URLs) is resolved by the caller beforehand and passed in as Resolved.
package markdown

import (
	"bytes"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// Step names recorded in a document's pipeline.
const (
	StepParse     = "parse"
	StepSerialize = "serialize"
)

// stepOrder is the fixed execution order of the optional rewrite steps.
var stepOrder = []string{
	plugin.RemarkImages,
	plugin.RemarkResponsiveIframe,
	plugin.RemarkPrismjs,
	plugin.RemarkCopyLinkedFiles,
	plugin.RemarkSmartypants,
}

// Image is a resolved responsive image ready to be embedded.
type Image struct {
	Src         string
	SrcSet      string
	Sizes       string
	Width       int
	Height      int
	Placeholder string
	// Original is the URL of the unresized file, used when images link to it.
	Original string
}

// Resolved maps link destinations, exactly as written in the document, to
// their build outputs.
type Resolved struct {
	Images map[string]Image
	Files  map[string]string
	// Fallbacks point images that could not be processed at their copied
	// original.
	Fallbacks map[string]string
}

// Heading is one document heading.
type Heading struct {
	Depth int    `json:"depth"`
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Result is the serialized document.
type Result struct {
	HTML        string    `json:"html"`
	Excerpt     string    `json:"excerpt"`
	ExcerptText string    `json:"excerpt_text"`
	Headings    []Heading `json:"headings"`
	WordCount   int       `json:"word_count"`
	TimeToRead  int       `json:"time_to_read"`
	Steps       []string  `json:"steps"`
}

// Renderer renders documents with one fixed configuration. It is safe for
// concurrent use.
type Renderer struct {
	opts  plugin.RemarkOptions
	md    goldmark.Markdown
	steps []string
}

// New builds a renderer for opts.
func New(opts plugin.RemarkOptions) *Renderer {
	r := &Renderer{opts: opts, steps: []string{StepParse}}
	for _, name := range stepOrder {
		if s, ok := opts.Step(name); ok {
			if sp, ok := s.(plugin.RemarkSmartypantsOptions); ok && !sp.Enabled {
				continue
			}
			r.steps = append(r.steps, name)
		}
	}
	r.steps = append(r.steps, StepSerialize)

	exts := []goldmark.Extender{}
	if opts.GFM {
		exts = append(exts, extension.GFM)
	}
	r.md = goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
			renderer.WithNodeRenderers(util.Prioritized(fragmentRenderer{}, 100)),
		),
	)
	return r
}

// Steps returns the steps every document goes through, in order.
func (r *Renderer) Steps() []string { return slices.Clone(r.steps) }

func (r *Renderer) parse(body []byte) ast.Node {
	return r.md.Parser().Parse(text.NewReader(body))
}

// Render runs the configured steps over body.
func (r *Renderer) Render(body []byte, res Resolved) (*Result, error) {
	doc := r.parse(body)

	for _, name := range r.steps {
		opts, _ := r.opts.Step(name)
		var err error
		switch name {
		case plugin.RemarkImages:
			err = rewriteImages(doc, body, opts.(plugin.RemarkImagesOptions), res.Images, res.Fallbacks)
		case plugin.RemarkResponsiveIframe:
			err = rewriteIframes(doc, body, opts.(plugin.RemarkResponsiveIframeOptions))
		case plugin.RemarkPrismjs:
			err = highlight(doc, body, opts.(plugin.RemarkPrismjsOptions))
		case plugin.RemarkCopyLinkedFiles:
			rewriteLinkedFiles(doc, res.Files)
		case plugin.RemarkSmartypants:
			smartypants(doc, body, opts.(plugin.RemarkSmartypantsOptions))
		}
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, body, doc); err != nil {
		return nil, err
	}

	excerpt, excerptNodes, err := r.excerpt(doc, body)
	if err != nil {
		return nil, err
	}
	words := len(strings.Fields(plainText([]ast.Node{doc}, body)))
	return &Result{
		HTML:        buf.String(),
		Excerpt:     excerpt,
		ExcerptText: prune(plainText(excerptNodes, body), r.opts.PruneLength),
		Headings:    headings(doc, body),
		WordCount:   words,
		TimeToRead:  timeToRead(words),
		Steps:       r.Steps(),
	}, nil
}

// LinkKind distinguishes image references from plain links.
type LinkKind string

const (
	LinkImage LinkKind = "image"
	LinkFile  LinkKind = "link"
)

// Link is a local destination referenced by a document.
type Link struct {
	Kind        LinkKind
	Destination string
}

// References lists the local (relative) link and image destinations of
// body in document order without duplicates. Callers resolve these before
// calling Render.
func (r *Renderer) References(body []byte) []Link {
	doc := r.parse(body)
	var out []Link
	seen := map[Link]bool{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var l Link
		switch node := n.(type) {
		case *ast.Image:
			l = Link{Kind: LinkImage, Destination: string(node.Destination)}
		case *ast.Link:
			l = Link{Kind: LinkFile, Destination: string(node.Destination)}
		default:
			return ast.WalkContinue, nil
		}
		if IsLocal(l.Destination) && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
		return ast.WalkContinue, nil
	})
	return out
}

// IsLocal reports whether dest is a relative path into the content tree.
func IsLocal(dest string) bool {
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") {
		return false
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.Path != ""
}

// LocalPath returns the slash path dest points at, relative to dir, with
// query, fragment and percent escapes removed.
func LocalPath(dir, dest string) string {
	u, err := url.Parse(dest)
	if err != nil {
		return ""
	}
	return path.Clean(path.Join(dir, u.Path))
}
