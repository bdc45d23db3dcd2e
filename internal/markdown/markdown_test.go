package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

func remarkOptions(steps ...plugin.Options) plugin.RemarkOptions {
	return plugin.RemarkOptions{
		GFM:              true,
		ExcerptSeparator: plugin.DefaultExcerptSeparator,
		PruneLength:      plugin.DefaultPruneLength,
		Steps:            steps,
	}
}

var (
	imagesStep = plugin.RemarkImagesOptions{MaxWidth: 590, LinkImagesToOriginal: true, BackgroundColor: "white", Loading: "lazy"}
	iframeStep = plugin.RemarkResponsiveIframeOptions{WrapperStyle: "margin-bottom: 1.0725rem"}
	prismStep  = plugin.RemarkPrismjsOptions{Theme: "github", ClassPrefix: "language-"}
	copyStep   = plugin.RemarkCopyLinkedFilesOptions{DestinationDir: "static"}
	smartStep  = plugin.RemarkSmartypantsOptions{Enabled: true, Dashes: "oldschool"}
)

func render(t *testing.T, r *Renderer, body string, res Resolved) *Result {
	t.Helper()
	out, err := r.Render([]byte(body), res)
	require.NoError(t, err)
	return out
}

func TestStepsRunInFixedOrder(t *testing.T) {
	r := New(remarkOptions(smartStep, prismStep, imagesStep))
	assert.Equal(t, []string{StepParse, plugin.RemarkImages, plugin.RemarkPrismjs, plugin.RemarkSmartypants, StepSerialize}, r.Steps())

	// Smart punctuation runs after highlighting and leaves the highlighted code alone.
	out := render(t, r, "\"quoted\" text\n\n```go\nx := \"raw\" -- 1\n```\n", Resolved{})
	assert.Contains(t, out.HTML, "&ldquo;quoted&rdquo;")
	assert.NotContains(t, out.HTML, "&ldquo;raw")
	assert.NotContains(t, out.HTML, "&ndash;")

	r = New(remarkOptions(plugin.RemarkSmartypantsOptions{Enabled: false, Dashes: "oldschool"}))
	assert.Equal(t, []string{StepParse, StepSerialize}, r.Steps())

	out = render(t, r, "plain", Resolved{})
	assert.Equal(t, r.Steps(), out.Steps)
}

func TestImagesRewrite(t *testing.T) {
	r := New(remarkOptions(imagesStep))
	res := Resolved{Images: map[string]Image{
		"photo.jpg": {
			Src:         "/static/aaa/photo-590.jpg",
			SrcSet:      "/static/bbb/photo-295.jpg 295w,\n/static/aaa/photo-590.jpg 590w",
			Sizes:       "(max-width: 590px) 100vw, 590px",
			Width:       590,
			Height:      295,
			Placeholder: "data:image/jpeg;base64,AAAA",
			Original:    "/static/ccc/photo.jpg",
		},
	}}

	out := render(t, r, "Look:\n\n![A photo](photo.jpg \"Sunset\")\n\n![gone](missing.png)\n", res)

	assert.Contains(t, out.HTML, `class="resp-image-wrapper"`)
	assert.Contains(t, out.HTML, "max-width: 590px;")
	assert.Contains(t, out.HTML, "padding-bottom: 50.0000%")
	assert.Contains(t, out.HTML, "url(&#39;data:image/jpeg;base64,AAAA&#39;)")
	assert.Contains(t, out.HTML, `href="/static/ccc/photo.jpg"`)
	assert.Contains(t, out.HTML, `src="/static/aaa/photo-590.jpg"`)
	assert.Contains(t, out.HTML, `sizes="(max-width: 590px) 100vw, 590px"`)
	assert.Contains(t, out.HTML, `alt="A photo"`)
	assert.Contains(t, out.HTML, `title="Sunset"`)
	assert.Contains(t, out.HTML, `loading="lazy"`)
	assert.Contains(t, out.HTML, `<img src="missing.png" alt="gone"`)
	assert.NotContains(t, out.HTML, `src="photo.jpg"`)
}

func TestImagesCaptionWithoutLink(t *testing.T) {
	opts := imagesStep
	opts.LinkImagesToOriginal = false
	opts.ShowCaptions = true
	r := New(remarkOptions(opts))
	out := render(t, r, "![Alt text](p.png)", Resolved{Images: map[string]Image{"p.png": {Src: "/p.png", Width: 10, Height: 10, Original: "/o.png"}}})

	assert.Contains(t, out.HTML, `<figure class="resp-image-figure">`)
	assert.Contains(t, out.HTML, `<figcaption class="resp-image-figcaption">Alt text</figcaption>`)
	assert.NotContains(t, out.HTML, "resp-image-link")
}

func TestIframesWrapped(t *testing.T) {
	r := New(remarkOptions(iframeStep))
	body := "Video:\n\n<iframe src=\"https://www.youtube.com/embed/xyz\" width=\"560\" height=\"315\" frameborder=\"0\"></iframe>\n\n<iframe src=\"https://example.com\"></iframe>\n"
	out := render(t, r, body, Resolved{})

	assert.Equal(t, 1, strings.Count(out.HTML, `class="resp-iframe-wrapper"`))
	assert.Contains(t, out.HTML, "padding-bottom: 56.2500%; position: relative; height: 0; overflow: hidden; margin-bottom: 1.0725rem")
	assert.Contains(t, out.HTML, `style="position: absolute; top: 0; left: 0; width: 100%; height: 100%"`)
	assert.NotContains(t, out.HTML, `width="560"`)
	assert.Contains(t, out.HTML, `<iframe src="https://example.com"></iframe>`)
}

func TestHighlight(t *testing.T) {
	r := New(remarkOptions(prismStep))
	out := render(t, r, "```go\nfunc main() {}\n```\n\n    indented code\n", Resolved{})

	assert.Contains(t, out.HTML, `<div class="highlight" data-language="go">`)
	assert.Contains(t, out.HTML, `<code class="language-go">`)
	assert.Contains(t, out.HTML, `<code class="language-text">`)
	assert.Contains(t, out.HTML, "style=")
	assert.NotContains(t, out.HTML, `<pre><code class="language-go">func`)
}

func TestCopyLinkedFiles(t *testing.T) {
	r := New(remarkOptions(copyStep))
	out := render(t, r, "Get [my cv](files/cv.pdf) or [home](https://example.com).", Resolved{
		Files: map[string]string{"files/cv.pdf": "/static/abc123/cv.pdf"},
	})
	assert.Contains(t, out.HTML, `<a href="/static/abc123/cv.pdf">my cv</a>`)
	assert.Contains(t, out.HTML, `<a href="https://example.com">home</a>`)
}

func TestSmartypants(t *testing.T) {
	r := New(remarkOptions(smartStep))
	out := render(t, r, "\"Hello\" -- it's `--` here---now...", Resolved{})

	assert.Contains(t, out.HTML, "&ldquo;Hello&rdquo;")
	assert.Contains(t, out.HTML, "&ndash;")
	assert.Contains(t, out.HTML, "&mdash;")
	assert.Contains(t, out.HTML, "&rsquo;")
	assert.Contains(t, out.HTML, "&hellip;")
	assert.Contains(t, out.HTML, "<code>--</code>")

	out = render(t, r, "He said \"*really*\" and\n'quoted' \\\"kept\\\"", Resolved{})
	assert.Contains(t, out.HTML, "&ldquo;<em>really</em>&rdquo;")
	assert.Contains(t, out.HTML, "and\n&lsquo;quoted&rsquo;")
	assert.Contains(t, out.HTML, "&quot;kept&quot;")

	plain := New(remarkOptions())
	out = render(t, plain, "\"Hello\" -- it's", Resolved{})
	assert.NotContains(t, out.HTML, "&ldquo;")
}

func TestExcerpt(t *testing.T) {
	r := New(remarkOptions())
	out := render(t, r, "First para here.\n\nSecond para.\n\n<!-- end -->\n\nRest of the post.\n", Resolved{})
	assert.Equal(t, "<p>First para here.</p>\n<p>Second para.</p>", out.Excerpt)
	assert.Equal(t, "First para here. Second para.", out.ExcerptText)

	out = render(t, r, "# Title\n\nOnly the first paragraph.\n\nNot this one.\n", Resolved{})
	assert.Equal(t, "<p>Only the first paragraph.</p>", out.Excerpt)
	assert.Equal(t, []Heading{{Depth: 1, ID: "title", Value: "Title"}}, out.Headings)
	assert.Equal(t, 8, out.WordCount)
	assert.Equal(t, 1, out.TimeToRead)
}

func TestExcerptTextPruned(t *testing.T) {
	r := New(remarkOptions())
	long := strings.Repeat("word ", 100)
	out := render(t, r, long, Resolved{})
	assert.LessOrEqual(t, len([]rune(out.ExcerptText)), plugin.DefaultPruneLength+1)
	assert.True(t, strings.HasSuffix(out.ExcerptText, "…"))
}

func TestPruneAndTimeToRead(t *testing.T) {
	assert.Equal(t, "one two…", prune("one two three four", 9))
	assert.Equal(t, "short", prune("short", 9))
	assert.Equal(t, 1, timeToRead(0))
	assert.Equal(t, 2, timeToRead(530))
}

func TestReferences(t *testing.T) {
	r := New(remarkOptions())
	refs := r.References([]byte("![a](img/a.jpg) [b](b.pdf) [c](https://x.org) [d](#top) [e](/abs) ![a](img/a.jpg) [f](b.pdf)"))
	assert.Equal(t, []Link{
		{Kind: LinkImage, Destination: "img/a.jpg"},
		{Kind: LinkFile, Destination: "b.pdf"},
	}, refs)
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, "posts/img/a b.jpg", LocalPath("posts", "img/a%20b.jpg?x=1#frag"))
	assert.Equal(t, "img/a.jpg", LocalPath("posts", "../img/a.jpg"))
	assert.False(t, IsLocal("mailto:me@example.com"))
}

func TestSameBodySameHTML(t *testing.T) {
	r := New(remarkOptions(imagesStep, iframeStep, prismStep, copyStep, smartStep))
	body := "# Hi\n\nSome \"text\" here.\n\n```js\nlet a = 1\n```\n"
	a := render(t, r, body, Resolved{})
	b := render(t, r, body, Resolved{})
	assert.Equal(t, a, b)
}

func TestImageFallbackPointsAtOriginal(t *testing.T) {
	r := New(remarkOptions(imagesStep))
	out := render(t, r, "![broken](bad.jpg)", Resolved{Fallbacks: map[string]string{"bad.jpg": "/static/0123/bad.jpg"}})
	assert.Contains(t, out.HTML, `<img src="/static/0123/bad.jpg" alt="broken"`)
	assert.NotContains(t, out.HTML, "resp-image-wrapper")
}
