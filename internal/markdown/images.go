package markdown

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

const imageStyle = "width:100%;height:100%;margin:0;vertical-align:middle;position:absolute;top:0;left:0;"

// rewriteImages replaces every image whose destination was resolved with
// responsive markup: a max-width wrapper, a placeholder background sized by
// the aspect ratio, and an img carrying srcset and sizes. Images listed in
// fallbacks keep plain markup and point at the given URL.
func rewriteImages(doc ast.Node, source []byte, opts plugin.RemarkImagesOptions, images map[string]Image, fallbacks map[string]string) error {
	var targets []*ast.Image
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		img, ok := n.(*ast.Image)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if _, ok := images[dest]; ok {
			targets = append(targets, img)
		} else if u, ok := fallbacks[dest]; ok {
			img.Destination = []byte(u)
		}
		return ast.WalkContinue, nil
	})

	for _, img := range targets {
		ref := images[string(img.Destination)]
		alt := inlineText(img, source)
		title := string(img.Title)
		raw, err := imageMarkup(ref, alt, title, opts)
		if err != nil {
			return err
		}
		replace(img, &Fragment{Raw: raw})
	}
	return nil
}

func el(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func imageMarkup(ref Image, alt, title string, opts plugin.RemarkImagesOptions) ([]byte, error) {
	ratio := 100.0
	if ref.Width > 0 {
		ratio = float64(ref.Height) / float64(ref.Width) * 100
	}

	wrapperStyle := fmt.Sprintf("position: relative; display: block; margin-left: auto; margin-right: auto; max-width: %dpx;", ref.Width)
	if opts.WrapperStyle != "" {
		wrapperStyle += " " + strings.TrimSpace(opts.WrapperStyle)
	}
	wrapper := el(atom.Span, "class", "resp-image-wrapper", "style", wrapperStyle)

	bgStyle := "padding-bottom: " + strconv.FormatFloat(ratio, 'f', 4, 64) + "%; position: relative; bottom: 0; left: 0; display: block;"
	if ref.Placeholder != "" {
		bgStyle += " background-image: url('" + ref.Placeholder + "'); background-size: cover;"
	}
	if opts.BackgroundColor != "" {
		bgStyle += " background-color: " + opts.BackgroundColor + ";"
	}
	background := el(atom.Span, "class", "resp-image-background-image", "style", bgStyle)

	imgAttrs := []string{"class", "resp-image-image", "alt", alt}
	if title != "" {
		imgAttrs = append(imgAttrs, "title", title)
	}
	imgAttrs = append(imgAttrs, "src", ref.Src)
	if ref.SrcSet != "" {
		imgAttrs = append(imgAttrs, "srcset", ref.SrcSet, "sizes", ref.Sizes)
	}
	imgAttrs = append(imgAttrs, "style", imageStyle, "loading", opts.Loading)
	img := el(atom.Img, imgAttrs...)

	if opts.LinkImagesToOriginal && ref.Original != "" {
		link := el(atom.A, "class", "resp-image-link", "href", ref.Original, "style", "display: block", "target", "_blank", "rel", "noopener")
		link.AppendChild(background)
		link.AppendChild(img)
		wrapper.AppendChild(link)
	} else {
		wrapper.AppendChild(background)
		wrapper.AppendChild(img)
	}

	root := wrapper
	caption := title
	if caption == "" {
		caption = alt
	}
	if opts.ShowCaptions && caption != "" {
		fig := el(atom.Figure, "class", "resp-image-figure")
		fig.AppendChild(wrapper)
		fc := el(atom.Figcaption, "class", "resp-image-figcaption")
		fc.AppendChild(&html.Node{Type: html.TextNode, Data: caption})
		fig.AppendChild(fc)
		root = fig
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
