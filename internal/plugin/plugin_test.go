package plugin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
)

func entries(t *testing.T, doc string) []config.PluginEntry {
	t.Helper()
	var out struct {
		Plugins []config.PluginEntry `yaml:"plugins"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(doc), &out))
	return out.Plugins
}

func TestResolveDefaultConfiguration(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	set, err := Resolve(cfg.Plugins)
	require.NoError(t, err)
	require.Len(t, set, 7)

	src, ok := set.Find(SourceFilesystem)
	require.True(t, ok)
	assert.Equal(t, KindSource, src.Kind)
	assert.Equal(t, SourceFilesystemOptions{Name: "pages", Path: "src/pages"}, src.Options)

	remark, ok := set.Find(TransformerRemark)
	require.True(t, ok)
	ro := remark.Options.(RemarkOptions)
	require.Len(t, ro.Steps, 5)
	img, ok := ro.Step(RemarkImages)
	require.True(t, ok)
	assert.Equal(t, 590, img.(RemarkImagesOptions).MaxWidth)
	assert.True(t, img.(RemarkImagesOptions).LinkImagesToOriginal)
	iframe, _ := ro.Step(RemarkResponsiveIframe)
	assert.Equal(t, "margin-bottom: 1.0725rem", iframe.(RemarkResponsiveIframeOptions).WrapperStyle)
	prism, _ := ro.Step(RemarkPrismjs)
	assert.Equal(t, DefaultTheme, prism.(RemarkPrismjsOptions).Theme)

	feed, ok := set.Find(PluginFeed)
	require.True(t, ok)
	assert.Equal(t, DefaultFeedLimit, feed.Options.(PluginFeedOptions).Limit)
	assert.Equal(t, KindOutput, feed.Kind)

	sharp, _ := set.Find(PluginSharp)
	assert.Equal(t, DefaultBreakpointRatios, sharp.Options.(PluginSharpOptions).BreakpointRatios)

	transforms := set.OfKind(KindTransform)
	names := make([]string, 0, len(transforms))
	for _, d := range transforms {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{TransformerRemark, TransformerSharp, CreatePages}, names)
	assert.True(t, transforms[0].AcceptsType(graph.TypeFile))
}

func TestResolveRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		plugin string
		msg    string
	}{
		{
			name: "negative max width",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
  - resolve: transformer-remark
    options:
      plugins:
        - resolve: remark-images
          options: {max_width: -10}
`,
			plugin: TransformerRemark,
			msg:    "max_width",
		},
		{
			name: "unknown option key",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content, recursive: true}
`,
			plugin: SourceFilesystem,
			msg:    "recursive",
		},
		{
			name:   "missing required option",
			doc:    "plugins:\n  - source-filesystem\n",
			plugin: SourceFilesystem,
			msg:    "path",
		},
		{
			name: "unknown plugin",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
  - plugin-google-analytics
`,
			plugin: "plugin-google-analytics",
			msg:    "unknown plugin",
		},
		{
			name: "unknown theme",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
  - resolve: transformer-remark
    options:
      plugins:
        - resolve: remark-prismjs
          options: {theme: no-such-theme}
`,
			plugin: TransformerRemark,
			msg:    "no-such-theme",
		},
		{
			name: "feed limit zero",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
  - resolve: plugin-feed
    options: {limit: 0}
`,
			plugin: PluginFeed,
			msg:    "limit",
		},
		{
			name: "options not a mapping",
			doc: `plugins:
  - resolve: source-filesystem
    options: [a, b]
`,
			plugin: SourceFilesystem,
			msg:    "mapping",
		},
		{
			name: "duplicate remark step",
			doc: `plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
  - resolve: transformer-remark
    options:
      plugins: [remark-smartypants, remark-smartypants]
`,
			plugin: TransformerRemark,
			msg:    "listed twice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(entries(t, tt.doc))
			require.Error(t, err)
			c, ok := ferrors.AsClassified(err)
			require.True(t, ok)
			assert.Equal(t, ferrors.CategoryPluginOption, c.Category())
			assert.True(t, c.IsFatal())
			p, _ := c.Context().GetString("plugin")
			assert.Equal(t, tt.plugin, p)
			assert.True(t, strings.Contains(err.Error(), tt.msg), "error %q should mention %q", err.Error(), tt.msg)
		})
	}
}

func TestResolveRequiresSource(t *testing.T) {
	_, err := Resolve(entries(t, "plugins: [plugin-feed]\n"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPluginOption))
}

func TestDecodeOptionsOverlaysDefaults(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("quality: 80\nformats: [jpeg, png]\n"), &node))

	opts, err := DecodeOptions(PluginSharp, node.Content[0])
	require.NoError(t, err)
	so := opts.(PluginSharpOptions)
	assert.Equal(t, 80, so.Quality)
	assert.Equal(t, []string{"jpeg", "png"}, so.Formats)
	assert.Equal(t, DefaultPlaceholderWidth, so.PlaceholderWidth)
	assert.Equal(t, DefaultBreakpointRatios, so.BreakpointRatios)
}

func TestDescriptorValidate(t *testing.T) {
	d := Descriptor{Name: CreatePages, Kind: KindTransform, Accepts: []string{graph.TypeMarkdownHTML}, Options: CreatePagesOptions{}}
	require.NoError(t, d.Validate())

	d.Options = PluginFeedOptions{}
	assert.Error(t, d.Validate())

	d.Options = CreatePagesOptions{}
	d.Accepts = nil
	assert.Error(t, d.Validate())

	d.Kind = "bogus"
	assert.Error(t, d.Validate())
}
