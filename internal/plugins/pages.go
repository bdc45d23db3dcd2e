package plugins

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/chain"
	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/frontmatter"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

//go:embed layout.html
var layoutHTML string

// pageData is the template input of one page.
type pageData struct {
	Site        config.SiteConfig
	Title       string
	Description string
	Date        *time.Time
	TimeToRead  int
	Canonical   string
	Body        template.HTML
}

// pages turns rendered markdown into site pages.
type pages struct {
	desc   plugin.Descriptor
	opts   plugin.CreatePagesOptions
	site   config.SiteConfig
	layout *template.Template
}

func newPages(d plugin.Descriptor, o plugin.CreatePagesOptions, site config.SiteConfig) (*pages, error) {
	layout, err := template.New("page").Parse(layoutHTML)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "parse page layout").
			WithContext("plugin", d.Name).Build()
	}
	return &pages{desc: d, opts: o, site: site, layout: layout}, nil
}

func (p *pages) Descriptor() plugin.Descriptor { return p.desc }

// PageURL is the public URL of a page with the given prefix and slug.
func PageURL(prefix, slug string) string {
	p := strings.Trim(path.Join(prefix, slug), "/")
	if p == "" || p == "." {
		return "/"
	}
	return "/" + p + "/"
}

func (p *pages) Transform(_ context.Context, _ *chain.Context, n *graph.Node) (*chain.Result, error) {
	if draft, _ := n.Fields["draft"].(bool); draft && !p.opts.IncludeDrafts {
		return nil, nil
	}

	slug, _ := n.String("slug")
	url := PageURL(p.opts.PathPrefix, slug)
	out := strings.TrimPrefix(url, "/") + "index.html"

	title, _ := n.String("title")
	excerpt, _ := n.String("excerptText")
	ttr, _ := n.Fields["timeToRead"].(int)
	data := pageData{
		Site:        p.site,
		Title:       title,
		Description: excerpt,
		TimeToRead:  ttr,
		Canonical:   strings.TrimSuffix(p.site.SiteURL, "/") + url,
		Body:        template.HTML(n.Content), // #nosec G203 -- rendered by the markdown pipeline
	}
	if t, ok := frontmatter.Date(n.Fields, "date"); ok {
		data.Date = &t
	}

	var buf bytes.Buffer
	if err := p.layout.Execute(&buf, data); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNodeTransform, "execute page layout").
			WithContext("path", n.Get(graph.InternalSourcePath)).Build()
	}

	page := graph.New(graph.TypeSitePage, out)
	page.Parent = n.ID
	page.Content = buf.Bytes()
	for _, k := range []string{"title", "date", "slug", "tags", "excerpt", "excerptText", "frontmatter"} {
		if v, ok := n.Fields[k]; ok {
			page.Fields[k] = v
		}
	}
	page.Fields["url"] = url
	page.Internal[graph.InternalSourcePath] = n.Get(graph.InternalSourcePath)
	page.Internal[graph.InternalOutputPath] = out
	page.Internal[graph.InternalOutputRole] = graph.RolePage
	page.Internal[graph.InternalContentDigest] = graph.Digest(page.Content)
	return &chain.Result{
		Nodes: []*graph.Node{page},
		Links: []chain.Link{{Name: RelPageOf, From: page.ID, To: n.ID}},
	}, nil
}
