// Package assemble selects the nodes that become site files, adds the
// syndication feed and the offline manifest, and writes the result.
package assemble

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/diag"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// Output roles besides the node roles page and asset.
const (
	RoleFeed     = "feed"
	RoleManifest = "manifest"
)

// outputTypes are the node types that can carry an output path.
var outputTypes = []string{graph.TypeSitePage, graph.TypeImageDerivative, graph.TypeStaticFile}

// File is one emitted site file.
type File struct {
	Path string
	Role string
	Data []byte
}

// Output is the complete site of one build, ordered by path.
type Output struct {
	Files []File
}

// Get returns the file at p.
func (o *Output) Get(p string) (File, bool) {
	i, ok := slices.BinarySearchFunc(o.Files, p, func(f File, p string) int { return strings.Compare(f.Path, p) })
	if !ok {
		return File{}, false
	}
	return o.Files[i], true
}

// Paths lists every file path in order.
func (o *Output) Paths() []string {
	out := make([]string, len(o.Files))
	for i, f := range o.Files {
		out[i] = f.Path
	}
	return out
}

// Count returns how many files have role.
func (o *Output) Count(role string) int {
	n := 0
	for _, f := range o.Files {
		if f.Role == role {
			n++
		}
	}
	return n
}

// Digest is a hash over every path and its bytes.
func (o *Output) Digest() string {
	h := sha256.New()
	for _, f := range o.Files {
		sum := sha256.Sum256(f.Data)
		fmt.Fprintf(h, "%s %x\n", f.Path, sum)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Options configures an Assembler.
type Options struct {
	Site        config.SiteConfig
	Plugins     plugin.Set
	MissingRole config.MissingRole
}

// Assembler builds the site output from a finished graph.
type Assembler struct {
	opts   Options
	logger *slog.Logger
}

// New creates an assembler.
func New(opts Options) *Assembler {
	return &Assembler{opts: opts, logger: slog.Default()}
}

// WithLogger sets a custom logger.
func (a *Assembler) WithLogger(logger *slog.Logger) *Assembler {
	a.logger = logger
	return a
}

// Assemble collects page and asset nodes, then derives the feed and the
// manifest when their plugins are configured. A required role without any
// node fails with an AssemblyError, or is recorded as a warning when missing
// roles are configured to warn.
func (a *Assembler) Assemble(ctx context.Context, g graph.Reader, diags *diag.Collector) (*Output, error) {
	if diags == nil {
		diags = &diag.Collector{}
	}
	files := map[string]File{}
	var pages []*graph.Node

	for _, typ := range outputTypes {
		for _, n := range g.QueryByType(typ) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p := n.Get(graph.InternalOutputPath)
			role := n.Get(graph.InternalOutputRole)
			if p == "" || role == "" {
				continue
			}
			if err := validPath(p); err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryAssembly, "invalid output path").
					WithContext("node_id", n.ID).WithContext("path", p).Build()
			}
			if prev, dup := files[p]; dup {
				if string(prev.Data) != string(n.Content) {
					diags.AddError(ferrors.AssemblyError("conflicting output for path, keeping the first").
						WithContext("node_id", n.ID).WithContext("path", p).Warning().Build())
				}
				continue
			}
			files[p] = File{Path: p, Role: role, Data: n.Content}
			if role == graph.RolePage {
				pages = append(pages, n)
			}
		}
	}

	if len(pages) == 0 {
		if err := a.missing(ctx, graph.RolePage, diags); err != nil {
			return nil, err
		}
	}

	if d, ok := a.opts.Plugins.Find(plugin.PluginFeed); ok {
		o := d.Options.(plugin.PluginFeedOptions)
		if len(pages) == 0 {
			if o.Required {
				if err := a.missing(ctx, RoleFeed, diags); err != nil {
					return nil, err
				}
			}
		} else {
			data, err := Feed(a.opts.Site, o, pages)
			if err != nil {
				return nil, err
			}
			files[o.Output] = File{Path: o.Output, Role: RoleFeed, Data: data}
		}
	}

	out := &Output{Files: sorted(files)}

	if d, ok := a.opts.Plugins.Find(plugin.PluginOffline); ok {
		o := d.Options.(plugin.PluginOfflineOptions)
		m, err := NewManifest(out.Files, o.Exclude)
		if err != nil {
			return nil, err
		}
		if len(m.Entries) == 0 && o.Required {
			if err := a.missing(ctx, RoleManifest, diags); err != nil {
				return nil, err
			}
		} else {
			data, err := m.JSON()
			if err != nil {
				return nil, err
			}
			files[o.Output] = File{Path: o.Output, Role: RoleManifest, Data: data}
			out.Files = sorted(files)
		}
	}

	a.logger.InfoContext(ctx, "Output assembled",
		logfields.Count(len(out.Files)),
		slog.Int("pages", out.Count(graph.RolePage)),
		slog.Int("assets", out.Count(graph.RoleAsset)))
	return out, nil
}

func (a *Assembler) missing(ctx context.Context, role string, diags *diag.Collector) error {
	b := ferrors.AssemblyError("no nodes for required output role").WithContext("role", role)
	if a.opts.MissingRole == config.MissingRoleWarn {
		err := b.Warning().Build()
		diags.AddError(err)
		a.logger.WarnContext(ctx, "Required output role is empty", slog.String("role", role))
		return nil
	}
	return b.Build()
}

func sorted(files map[string]File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// validPath rejects absolute, unclean or escaping output paths.
func validPath(p string) error {
	switch {
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("output path %q is absolute", p)
	case path.Clean(p) != p:
		return fmt.Errorf("output path %q is not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("output path %q escapes the site", p)
	}
	return nil
}
