package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
)

type shape struct {
	kind     Kind
	accepts  []string
	produces []string
}

// shapes lists the node types each top-level plugin consumes and produces.
var shapes = map[string]shape{
	SourceFilesystem: {kind: KindSource, produces: []string{graph.TypeFile}},
	TransformerRemark: {
		kind:    KindTransform,
		accepts: []string{graph.TypeFile, graph.TypeMarkdownRemark},
		produces: []string{
			graph.TypeMarkdownRemark, graph.TypeMarkdownHTML, graph.TypeImageDerivative,
			graph.TypeImagePlaceholder, graph.TypeStaticFile,
		},
	},
	TransformerSharp: {kind: KindTransform, accepts: []string{graph.TypeFile}, produces: []string{graph.TypeImageSharp}},
	PluginSharp:      {kind: KindService},
	CreatePages:      {kind: KindTransform, accepts: []string{graph.TypeMarkdownHTML}, produces: []string{graph.TypeSitePage}},
	PluginFeed:       {kind: KindOutput, accepts: []string{graph.TypeSitePage}},
	PluginOffline: {
		kind:    KindOutput,
		accepts: []string{graph.TypeSitePage, graph.TypeImageDerivative, graph.TypeStaticFile},
	},
}

// remarkSteps are the sub-plugins allowed under transformer-remark.
var remarkSteps = map[string]bool{
	RemarkImages:           true,
	RemarkResponsiveIframe: true,
	RemarkPrismjs:          true,
	RemarkCopyLinkedFiles:  true,
	RemarkSmartypants:      true,
}

// Resolve decodes and validates every configured plugin entry in order.
// Any unknown plugin name, unknown option key or invalid option value fails
// with a PluginOptionError before anything else runs.
func Resolve(entries []config.PluginEntry) (Set, error) {
	out := make(Set, 0, len(entries))
	for i, e := range entries {
		sh, ok := shapes[e.Resolve]
		if !ok {
			return nil, optionError(e.Resolve, i, "unknown plugin", nil)
		}
		opts, err := DecodeOptions(e.Resolve, &e.Options)
		if err != nil {
			return nil, optionError(e.Resolve, i, "invalid options", err)
		}
		if ro, ok := opts.(RemarkOptions); ok {
			if ro, err = resolveSteps(ro); err != nil {
				return nil, optionError(e.Resolve, i, "invalid sub-plugin", err)
			}
			opts = ro
		}
		d := Descriptor{
			Name:     e.Resolve,
			Kind:     sh.kind,
			Accepts:  sh.accepts,
			Produces: sh.produces,
			Options:  opts,
		}
		if err := d.Validate(); err != nil {
			return nil, optionError(e.Resolve, i, "invalid descriptor", err)
		}
		out = append(out, d)
	}
	if len(out.OfKind(KindSource)) == 0 {
		return nil, ferrors.PluginOptionError("no source-filesystem plugin configured").
			WithContext("plugin", SourceFilesystem).Build()
	}
	return out, nil
}

func resolveSteps(ro RemarkOptions) (RemarkOptions, error) {
	seen := make(map[string]bool)
	ro.Steps = make([]Options, 0, len(ro.Plugins))
	for _, sub := range ro.Plugins {
		if !remarkSteps[sub.Resolve] {
			return ro, fmt.Errorf("unknown remark plugin %q", sub.Resolve)
		}
		if seen[sub.Resolve] {
			return ro, fmt.Errorf("remark plugin %q listed twice", sub.Resolve)
		}
		seen[sub.Resolve] = true
		opts, err := DecodeOptions(sub.Resolve, &sub.Options)
		if err != nil {
			return ro, fmt.Errorf("%s: %w", sub.Resolve, err)
		}
		ro.Steps = append(ro.Steps, opts)
	}
	return ro, nil
}

// DecodeOptions decodes node into the typed options of plugin name with all
// defaults applied. A nil or empty node yields the defaults.
func DecodeOptions(name string, node *yaml.Node) (Options, error) {
	switch name {
	case SourceFilesystem:
		return decode(node, SourceFilesystemOptions{})
	case TransformerRemark:
		return decode(node, RemarkOptions{GFM: true, ExcerptSeparator: DefaultExcerptSeparator, PruneLength: DefaultPruneLength})
	case RemarkImages:
		return decode(node, RemarkImagesOptions{MaxWidth: DefaultMaxWidth, LinkImagesToOriginal: true, BackgroundColor: "white", Loading: "lazy"})
	case RemarkResponsiveIframe:
		return decode(node, RemarkResponsiveIframeOptions{})
	case RemarkPrismjs:
		return decode(node, RemarkPrismjsOptions{Theme: DefaultTheme, ClassPrefix: "language-"})
	case RemarkCopyLinkedFiles:
		return decode(node, RemarkCopyLinkedFilesOptions{
			DestinationDir:       "static",
			IgnoreFileExtensions: []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "tiff"},
		})
	case RemarkSmartypants:
		return decode(node, RemarkSmartypantsOptions{Enabled: true, Dashes: "oldschool"})
	case TransformerSharp:
		return decode(node, TransformerSharpOptions{Extensions: []string{"jpg", "jpeg", "png", "gif", "webp"}})
	case PluginSharp:
		return decode(node, PluginSharpOptions{
			Quality:          DefaultQuality,
			BreakpointRatios: append([]float64(nil), DefaultBreakpointRatios...),
			Formats:          []string{"auto"},
			PlaceholderWidth: DefaultPlaceholderWidth,
		})
	case CreatePages:
		return decode(node, CreatePagesOptions{})
	case PluginFeed:
		return decode(node, PluginFeedOptions{Output: "rss.xml", Limit: DefaultFeedLimit, SortField: "date", Required: true})
	case PluginOffline:
		return decode(node, PluginOfflineOptions{Output: "precache-manifest.json", Required: true})
	default:
		return nil, fmt.Errorf("no option schema for %q", name)
	}
}

func decode[T Options](node *yaml.Node, opts T) (Options, error) {
	if node != nil && node.Kind != 0 && node.Tag != "!!null" {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: options must be a mapping", node.Line)
		}
		data, err := yaml.Marshal(node)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	if err := config.Validator().Struct(opts); err != nil {
		return nil, describe(err)
	}
	if c, ok := any(opts).(checker); ok {
		if err := c.check(); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func optionError(name string, index int, msg string, cause error) error {
	b := ferrors.PluginOptionError(msg).
		WithContext("plugin", name).
		WithContext("index", index)
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b.Build()
}
