package assemble

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/frontmatter"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// sortKey is the ordering value of a page for the configured sort field.
type sortKey struct {
	t    time.Time
	s    string
	path string
}

func pageSortKey(n *graph.Node, field string) sortKey {
	k := sortKey{path: n.Get(graph.InternalOutputPath)}
	fields := n.Fields
	if _, ok := fields[field]; !ok {
		if fm, ok := n.Fields["frontmatter"].(map[string]any); ok {
			fields = fm
		}
	}
	if t, ok := frontmatter.Date(fields, field); ok {
		k.t = t
		return k
	}
	if s, ok := fields[field].(string); ok {
		k.s = s
	}
	return k
}

// compareDesc orders newest first; pages with equal keys are ordered by path.
func compareDesc(a, b sortKey) int {
	if c := a.t.Compare(b.t); c != 0 {
		return -c
	}
	if c := strings.Compare(a.s, b.s); c != 0 {
		return -c
	}
	return cmp.Compare(a.path, b.path)
}

// Feed renders the RSS 2.0 feed of the most recent pages. The channel date
// is the newest item date, so equal inputs produce equal bytes.
func Feed(site config.SiteConfig, o plugin.PluginFeedOptions, pages []*graph.Node) ([]byte, error) {
	type ranked struct {
		n   *graph.Node
		key sortKey
	}
	items := make([]ranked, 0, len(pages))
	for _, p := range pages {
		items = append(items, ranked{n: p, key: pageSortKey(p, o.SortField)})
	}
	slices.SortFunc(items, func(a, b ranked) int { return compareDesc(a.key, b.key) })
	if o.Limit > 0 && len(items) > o.Limit {
		items = items[:o.Limit]
	}

	base := strings.TrimSuffix(site.SiteURL, "/")
	title := o.Title
	if title == "" {
		title = site.Title
	}
	f := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: base + "/"},
		Description: site.Description,
	}
	if site.Author != "" {
		f.Author = &feeds.Author{Name: site.Author}
	}

	for _, it := range items {
		p := it.n
		url, _ := p.Fields["url"].(string)
		link := base + url
		t, _ := p.Fields["title"].(string)
		excerpt, _ := p.Fields["excerpt"].(string)
		item := &feeds.Item{
			Title:       t,
			Link:        &feeds.Link{Href: link},
			Id:          link,
			Description: excerpt,
		}
		if d, ok := frontmatter.Date(p.Fields, "date"); ok {
			item.Created = d
			if d.After(f.Created) {
				f.Created = d
			}
		}
		f.Items = append(f.Items, item)
	}

	rss, err := f.ToRss()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryAssembly, "render feed").
			WithContext("plugin", plugin.PluginFeed).Build()
	}
	return []byte(rss), nil
}
