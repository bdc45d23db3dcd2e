package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/cache"
	"git.home.luguber.info/inful/sitegen/internal/chain"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/frontmatter"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/imaging"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/markdown"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

// transformRender is the transform name hashed into rendered HTML keys.
const transformRender = "remark-html"

var markdownExtensions = []string{"md", "markdown"}

// remark parses markdown File nodes into MarkdownRemark nodes and renders
// those into MarkdownHTML nodes, resolving referenced images and files.
type remark struct {
	desc     plugin.Descriptor
	opts     plugin.RemarkOptions
	sharp    plugin.PluginSharpOptions
	renderer *markdown.Renderer
	optsKey  string
	cache    *cache.Cache
	images   *imaging.Pipeline
	logger   *slog.Logger
}

func newRemark(d plugin.Descriptor, opts plugin.RemarkOptions, sharp plugin.PluginSharpOptions, deps Deps) (*remark, error) {
	if _, ok := opts.Step(plugin.RemarkImages); ok && deps.Images == nil {
		return nil, ferrors.InternalError("remark-images needs an image pipeline").
			WithContext("plugin", d.Name).Build()
	}
	key, err := optionsKey(opts, sharp)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "hash remark options").
			WithContext("plugin", d.Name).Build()
	}
	return &remark{
		desc:     d,
		opts:     opts,
		sharp:    sharp,
		renderer: markdown.New(opts),
		optsKey:  key,
		cache:    deps.Cache,
		images:   deps.Images,
		logger:   deps.Logger,
	}, nil
}

// optionsKey is the canonical form of everything besides the document and
// its resolved references that changes rendered output.
func optionsKey(opts plugin.RemarkOptions, sharp plugin.PluginSharpOptions) (string, error) {
	type step struct {
		Name    string         `json:"name"`
		Options plugin.Options `json:"options"`
	}
	steps := make([]step, 0, len(opts.Steps))
	for _, s := range opts.Steps {
		steps = append(steps, step{Name: s.PluginName(), Options: s})
	}
	return cache.CanonicalJSON(struct {
		GFM              bool                      `json:"gfm"`
		ExcerptSeparator string                    `json:"excerpt_separator"`
		PruneLength      int                       `json:"prune_length"`
		Steps            []step                    `json:"steps"`
		Sharp            plugin.PluginSharpOptions `json:"sharp"`
	}{opts.GFM, opts.ExcerptSeparator, opts.PruneLength, steps, sharp})
}

func (r *remark) Descriptor() plugin.Descriptor { return r.desc }

func (r *remark) Transform(ctx context.Context, tc *chain.Context, n *graph.Node) (*chain.Result, error) {
	switch n.Type {
	case graph.TypeFile:
		if !slices.Contains(markdownExtensions, n.Get(graph.InternalSourceExt)) {
			return nil, nil
		}
		return r.parse(n)
	case graph.TypeMarkdownRemark:
		return r.render(ctx, tc, n)
	}
	return nil, nil
}

// parse splits front matter from a markdown file.
func (r *remark) parse(n *graph.Node) (*chain.Result, error) {
	rel := n.Get(graph.InternalSourcePath)
	doc, err := frontmatter.Parse(n.Content)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNodeTransform, "invalid front matter").
			WithContext("path", rel).Build()
	}
	fp, err := frontmatter.Fingerprint(doc.Fields, doc.Body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNodeTransform, "fingerprint front matter").
			WithContext("path", rel).Build()
	}

	name, _ := n.String("name")
	md := graph.New(graph.TypeMarkdownRemark, n.ID)
	md.Parent = n.ID
	md.Content = doc.Body
	md.Fields["frontmatter"] = doc.Fields
	md.Fields["title"] = frontmatter.Title(doc.Fields, name)
	if t, ok := frontmatter.Date(doc.Fields, "date"); ok {
		md.Fields["date"] = t.Format(time.RFC3339)
	}
	md.Fields["draft"] = frontmatter.Draft(doc.Fields)
	md.Fields["slug"] = documentSlug(doc.Fields, rel)
	if tags := frontmatter.Strings(doc.Fields, "tags"); len(tags) > 0 {
		md.Fields["tags"] = tags
	}
	md.Internal[graph.InternalSourcePath] = rel
	md.Internal[graph.InternalSourceRoot] = n.Get(graph.InternalSourceRoot)
	md.Internal[graph.InternalContentDigest] = fp
	return &chain.Result{Nodes: []*graph.Node{md}}, nil
}

// render resolves references and renders the document, reusing a cached
// rendering when the document and everything it references are unchanged.
func (r *remark) render(ctx context.Context, tc *chain.Context, n *graph.Node) (*chain.Result, error) {
	rs, err := r.resolve(ctx, tc, n)
	if err != nil {
		return nil, err
	}

	resolvedKey, err := cache.CanonicalJSON(rs.resolved)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "hash resolved references").Build()
	}
	key := cache.Key(n.Get(graph.InternalContentDigest), transformRender, r.optsKey, resolvedKey)
	out, diags := r.cachedRender(ctx, key, n.Content, rs.resolved)
	if out == nil {
		return nil, diags[len(diags)-1]
	}
	rs.diags = append(rs.diags, diags...)

	h := graph.New(graph.TypeMarkdownHTML, n.ID)
	h.Parent = n.ID
	h.Content = []byte(out.HTML)
	for _, k := range []string{"title", "date", "draft", "slug", "tags", "frontmatter"} {
		if v, ok := n.Fields[k]; ok {
			h.Fields[k] = v
		}
	}
	h.Fields["excerpt"] = out.Excerpt
	h.Fields["excerptText"] = out.ExcerptText
	h.Fields["wordCount"] = out.WordCount
	h.Fields["timeToRead"] = out.TimeToRead
	headings := make([]any, 0, len(out.Headings))
	for _, hd := range out.Headings {
		headings = append(headings, map[string]any{"depth": hd.Depth, "id": hd.ID, "value": hd.Value})
	}
	h.Fields["headings"] = headings
	h.Internal[graph.InternalSourcePath] = n.Get(graph.InternalSourcePath)
	h.Internal[graph.InternalSourceRoot] = n.Get(graph.InternalSourceRoot)
	h.Internal[graph.InternalContentDigest] = graph.Digest(h.Content)
	h.Internal[graph.InternalPipelineSteps] = strings.Join(out.Steps, ",")

	res := &chain.Result{Nodes: append([]*graph.Node{h}, rs.nodes...), Links: rs.links, Diagnostics: rs.diags}
	for _, id := range rs.referenced {
		res.Links = append(res.Links, chain.Link{Name: RelReferences, From: h.ID, To: id})
	}
	return res, nil
}

// cachedRender returns the rendering for key, computing and storing it on a
// miss. Cache trouble degrades to rendering; a nil result means rendering
// itself failed and the last diagnostic is the cause.
func (r *remark) cachedRender(ctx context.Context, key string, body []byte, resolved markdown.Resolved) (*markdown.Result, []error) {
	var diags []error
	if r.cache != nil {
		e, err := r.cache.Get(ctx, key)
		switch {
		case err == nil:
			var out markdown.Result
			if jerr := json.Unmarshal(e.Payload, &out); jerr == nil {
				return &out, nil
			}
			r.logger.Warn("Discarding unreadable cached rendering", logfields.CacheKey(key))
		case !errors.Is(err, cache.ErrMiss):
			diags = append(diags, err)
		}
	}

	out, err := r.renderer.Render(body, resolved)
	if err != nil {
		return nil, append(diags, ferrors.WrapError(err, ferrors.CategoryNodeTransform, "render markdown").Build())
	}
	if r.cache == nil {
		return out, diags
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, append(diags, ferrors.WrapError(err, ferrors.CategoryInternal, "encode rendering").Build())
	}
	if _, err := r.cache.Put(ctx, &cache.Entry{Key: key, Type: storage.ObjectTypeRenderedHTML, Payload: payload}); err != nil {
		diags = append(diags, err)
	}
	return out, diags
}

// resolution is everything a document's references resolved to.
type resolution struct {
	resolved   markdown.Resolved
	nodes      []*graph.Node
	links      []chain.Link
	diags      []error
	referenced []string
}

func (rs *resolution) add(n *graph.Node, links ...chain.Link) {
	rs.nodes = append(rs.nodes, n)
	rs.links = append(rs.links, links...)
}

func (r *remark) resolve(ctx context.Context, tc *chain.Context, n *graph.Node) (*resolution, error) {
	rs := &resolution{resolved: markdown.Resolved{
		Images:    map[string]markdown.Image{},
		Files:     map[string]string{},
		Fallbacks: map[string]string{},
	}}
	root := n.Get(graph.InternalSourceRoot)
	dir := path.Dir(n.Get(graph.InternalSourcePath))

	imagesOpts, imagesOn := r.opts.Step(plugin.RemarkImages)
	copyOpts, copyOn := r.opts.Step(plugin.RemarkCopyLinkedFiles)

	for _, ref := range r.renderer.References(n.Content) {
		rel := markdown.LocalPath(dir, ref.Destination)
		if rel == "" || rel == "." || strings.HasPrefix(rel, "../") {
			continue
		}
		file, ok := tc.Graph.Lookup(graph.TypeFile, scanner.FileKey(root, rel))
		if !ok {
			continue
		}
		ext := file.Get(graph.InternalSourceExt)
		if slices.Contains(markdownExtensions, ext) {
			continue
		}

		switch {
		case imagesOn && ref.Kind == markdown.LinkImage && slices.Contains(imageExtensions, ext):
			if err := r.resolveImage(ctx, rs, ref.Destination, file, imagesOpts.(plugin.RemarkImagesOptions)); err != nil {
				return nil, err
			}
		case copyOn:
			o := copyOpts.(plugin.RemarkCopyLinkedFilesOptions)
			if slices.Contains(o.IgnoreFileExtensions, ext) {
				continue
			}
			rs.resolved.Files[ref.Destination] = "/" + rs.copyFile(file, o.DestinationDir)
		default:
			continue
		}
		if !slices.Contains(rs.referenced, file.ID) {
			rs.referenced = append(rs.referenced, file.ID)
		}
	}
	return rs, nil
}

// copyFile emits a StaticFile copy of file and returns its output path.
// Identical bytes with the same name share one copy.
func (rs *resolution) copyFile(file *graph.Node, destDir string) string {
	base := path.Base(file.Get(graph.InternalSourcePath))
	digest := file.Get(graph.InternalContentDigest)
	out := path.Join(destDir, digest[:12], base)

	s := graph.New(graph.TypeStaticFile, out)
	s.Parent = file.ID
	s.Content = file.Content
	s.Fields["name"] = base
	s.Internal[graph.InternalOutputPath] = out
	s.Internal[graph.InternalOutputRole] = graph.RoleAsset
	s.Internal[graph.InternalContentDigest] = digest
	rs.add(s, chain.Link{Name: RelCopiedFrom, From: s.ID, To: file.ID})
	return out
}

// resolveImage derives the responsive variants of an image reference. An
// undecodable image falls back to a plain copy of the original.
func (r *remark) resolveImage(ctx context.Context, rs *resolution, dest string, file *graph.Node, o plugin.RemarkImagesOptions) error {
	name := path.Base(file.Get(graph.InternalSourcePath))
	quality := r.sharp.Quality
	if o.Quality > 0 {
		quality = o.Quality
	}
	set, err := r.images.Derive(ctx, imaging.Source{
		Name:   file.Get(graph.InternalSourcePath),
		Digest: file.Get(graph.InternalContentDigest),
		Data:   file.Content,
	}, imaging.Options{
		MaxWidth:         o.MaxWidth,
		Ratios:           r.sharp.BreakpointRatios,
		Formats:          r.sharp.Formats,
		Quality:          quality,
		PlaceholderWidth: r.sharp.PlaceholderWidth,
		Background:       o.BackgroundColor,
	})
	if err != nil {
		if !ferrors.HasCategory(err, ferrors.CategoryDerivativeDecode) {
			return err
		}
		rs.diags = append(rs.diags, err)
		rs.resolved.Fallbacks[dest] = "/" + rs.copyFile(file, "static")
		return nil
	}

	for _, d := range set.Derivatives {
		dn := graph.New(graph.TypeImageDerivative, d.Key)
		dn.Parent = file.ID
		dn.Content = d.Data
		dn.Fields["width"] = d.Width
		dn.Fields["height"] = d.Height
		dn.Internal[graph.InternalOutputPath] = d.OutputPath(name)
		dn.Internal[graph.InternalOutputRole] = graph.RoleAsset
		dn.Internal[graph.InternalImageWidth] = itoa(d.Width)
		dn.Internal[graph.InternalImageHeight] = itoa(d.Height)
		dn.Internal[graph.InternalImageFormat] = d.Format
		dn.Internal[graph.InternalContentDigest] = graph.Digest(d.Data)
		rs.add(dn, chain.Link{Name: RelDerivativeOf, From: dn.ID, To: file.ID})
	}

	ph := graph.New(graph.TypeImagePlaceholder, set.Placeholder.Key)
	ph.Parent = file.ID
	ph.Fields["dataURI"] = set.Placeholder.DataURI
	ph.Internal[graph.InternalImageWidth] = itoa(set.Placeholder.Width)
	ph.Internal[graph.InternalImageHeight] = itoa(set.Placeholder.Height)
	rs.add(ph, chain.Link{Name: RelPlaceholderOf, From: ph.ID, To: file.ID})

	img := markdown.Image{
		Width:       set.PresentationWidth,
		Height:      set.PresentationHeight,
		Placeholder: set.Placeholder.DataURI,
		Sizes:       sizes(set.PresentationWidth),
	}
	if p, ok := set.Presentation(); ok {
		img.Src = "/" + p.OutputPath(name)
	}
	if formats := set.Formats(); len(formats) > 0 {
		img.SrcSet = set.SrcSet(formats[0], func(d imaging.Derivative) string { return "/" + d.OutputPath(name) })
	}
	if o.LinkImagesToOriginal {
		img.Original = "/" + rs.copyFile(file, "static")
	}
	rs.resolved.Images[dest] = img
	return nil
}
