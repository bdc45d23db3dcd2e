package plugins

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/sitegen/internal/chain"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/imaging"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// imageExtensions are the file extensions the image pipeline can decode.
var imageExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// sharp attaches image metadata to decodable image files.
type sharp struct {
	desc       plugin.Descriptor
	extensions []string
}

func newSharp(d plugin.Descriptor, o plugin.TransformerSharpOptions) *sharp {
	exts := make([]string, 0, len(o.Extensions))
	for _, e := range o.Extensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	return &sharp{desc: d, extensions: exts}
}

func (s *sharp) Descriptor() plugin.Descriptor { return s.desc }

func (s *sharp) Transform(_ context.Context, _ *chain.Context, n *graph.Node) (*chain.Result, error) {
	if !slices.Contains(s.extensions, n.Get(graph.InternalSourceExt)) {
		return nil, nil
	}
	w, h, format, err := imaging.DecodeConfig(n.Content)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDerivativeDecode, "unreadable image").
			WithContext("path", n.Get(graph.InternalSourcePath)).
			Warning().Build()
	}

	img := graph.New(graph.TypeImageSharp, n.ID)
	img.Parent = n.ID
	img.Fields["width"] = w
	img.Fields["height"] = h
	img.Fields["format"] = format
	img.Fields["aspectRatio"] = float64(w) / float64(h)
	img.Internal[graph.InternalSourcePath] = n.Get(graph.InternalSourcePath)
	img.Internal[graph.InternalSourceRoot] = n.Get(graph.InternalSourceRoot)
	img.Internal[graph.InternalContentDigest] = n.Get(graph.InternalContentDigest)
	img.Internal[graph.InternalImageWidth] = itoa(w)
	img.Internal[graph.InternalImageHeight] = itoa(h)
	img.Internal[graph.InternalImageFormat] = format
	return &chain.Result{Nodes: []*graph.Node{img}}, nil
}

func itoa(i int) string { return strconv.Itoa(i) }

// sizes is the sizes attribute for an image shown at width pixels.
func sizes(width int) string {
	return fmt.Sprintf("(max-width: %dpx) 100vw, %dpx", width, width)
}
