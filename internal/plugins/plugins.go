// Package plugins implements the built-in transform plugins: markdown
// parsing and rendering, image metadata and page creation.
//
// Instantiate turns the transform descriptors of a resolved plugin set into
// chain.Transformer values in declaration order.
package plugins

import (
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/sitegen/internal/cache"
	"git.home.luguber.info/inful/sitegen/internal/chain"
	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/imaging"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// Relation names recorded by the built-in transforms.
const (
	RelDerivativeOf  = "derivativeOf"
	RelPlaceholderOf = "placeholderOf"
	RelReferences    = "references"
	RelCopiedFrom    = "copiedFrom"
	RelPageOf        = "pageOf"
)

// Deps are the shared services handed to transforms.
type Deps struct {
	Site   config.SiteConfig
	Cache  *cache.Cache
	Images *imaging.Pipeline
	Logger *slog.Logger
}

// Instantiate builds the transformers for every transform plugin in set.
func Instantiate(set plugin.Set, deps Deps) ([]chain.Transformer, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	sharp, err := sharpOptions(set)
	if err != nil {
		return nil, err
	}

	var out []chain.Transformer
	for _, d := range set.OfKind(plugin.KindTransform) {
		var t chain.Transformer
		switch o := d.Options.(type) {
		case plugin.RemarkOptions:
			t, err = newRemark(d, o, sharp, deps)
		case plugin.TransformerSharpOptions:
			t = newSharp(d, o)
		case plugin.CreatePagesOptions:
			t, err = newPages(d, o, deps.Site)
		default:
			err = ferrors.InternalError(fmt.Sprintf("no transformer for %T", d.Options)).
				WithContext("plugin", d.Name).Build()
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// sharpOptions returns the configured image service options, or its
// defaults when plugin-sharp is not listed.
func sharpOptions(set plugin.Set) (plugin.PluginSharpOptions, error) {
	if d, ok := set.Find(plugin.PluginSharp); ok {
		if o, ok := d.Options.(plugin.PluginSharpOptions); ok {
			return o, nil
		}
	}
	opts, err := plugin.DecodeOptions(plugin.PluginSharp, nil)
	if err != nil {
		return plugin.PluginSharpOptions{}, err
	}
	return opts.(plugin.PluginSharpOptions), nil
}
