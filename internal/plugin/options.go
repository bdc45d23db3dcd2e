package plugin

import (
	"fmt"

	"github.com/alecthomas/chroma/v2/styles"

	"git.home.luguber.info/inful/sitegen/internal/config"
)

// checker is implemented by option types with rules struct tags cannot express.
type checker interface {
	check() error
}

// SourceFilesystemOptions configures one content root.
type SourceFilesystemOptions struct {
	Name    string   `yaml:"name" validate:"required"`
	Path    string   `yaml:"path" validate:"required"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

func (SourceFilesystemOptions) PluginName() string { return SourceFilesystem }

// RemarkOptions configures markdown parsing and its ordered sub-plugins.
type RemarkOptions struct {
	GFM              bool                 `yaml:"gfm"`
	ExcerptSeparator string               `yaml:"excerpt_separator"`
	PruneLength      int                  `yaml:"prune_length" validate:"gte=1"`
	Plugins          []config.PluginEntry `yaml:"plugins"`

	// Steps holds the decoded sub-plugin options in declaration order.
	Steps []Options `yaml:"-"`
}

func (RemarkOptions) PluginName() string { return TransformerRemark }

// Step returns the decoded options of the sub-plugin named name.
func (o RemarkOptions) Step(name string) (Options, bool) {
	for _, s := range o.Steps {
		if s.PluginName() == name {
			return s, true
		}
	}
	return nil, false
}

// RemarkImagesOptions configures responsive image rewriting.
type RemarkImagesOptions struct {
	MaxWidth             int    `yaml:"max_width" validate:"gt=0"`
	LinkImagesToOriginal bool   `yaml:"link_images_to_original"`
	ShowCaptions         bool   `yaml:"show_captions"`
	WrapperStyle         string `yaml:"wrapper_style"`
	BackgroundColor      string `yaml:"background_color"`
	Quality              int    `yaml:"quality" validate:"omitempty,gte=1,lte=100"`
	Loading              string `yaml:"loading" validate:"oneof=lazy eager auto"`
}

func (RemarkImagesOptions) PluginName() string { return RemarkImages }

// RemarkResponsiveIframeOptions configures the iframe wrapper markup.
type RemarkResponsiveIframeOptions struct {
	WrapperStyle string `yaml:"wrapper_style"`
}

func (RemarkResponsiveIframeOptions) PluginName() string { return RemarkResponsiveIframe }

// RemarkPrismjsOptions configures code block highlighting.
type RemarkPrismjsOptions struct {
	Theme           string `yaml:"theme" validate:"required"`
	ClassPrefix     string `yaml:"class_prefix"`
	ShowLineNumbers bool   `yaml:"show_line_numbers"`
}

func (RemarkPrismjsOptions) PluginName() string { return RemarkPrismjs }

func (o RemarkPrismjsOptions) check() error {
	if _, ok := styles.Registry[o.Theme]; !ok {
		return fmt.Errorf("unknown highlighting theme %q", o.Theme)
	}
	return nil
}

// RemarkCopyLinkedFilesOptions configures copying of linked non-markdown files.
type RemarkCopyLinkedFilesOptions struct {
	DestinationDir       string   `yaml:"destination_dir" validate:"required"`
	IgnoreFileExtensions []string `yaml:"ignore_file_extensions"`
}

func (RemarkCopyLinkedFilesOptions) PluginName() string { return RemarkCopyLinkedFiles }

// RemarkSmartypantsOptions configures typographic punctuation.
type RemarkSmartypantsOptions struct {
	Enabled bool   `yaml:"enabled"`
	Dashes  string `yaml:"dashes" validate:"oneof=oldschool inverted default"`
}

func (RemarkSmartypantsOptions) PluginName() string { return RemarkSmartypants }

// TransformerSharpOptions selects which files become image nodes.
type TransformerSharpOptions struct {
	Extensions []string `yaml:"extensions" validate:"min=1,dive,required"`
}

func (TransformerSharpOptions) PluginName() string { return TransformerSharp }

// PluginSharpOptions configures the image derivative service.
type PluginSharpOptions struct {
	Concurrency      int       `yaml:"concurrency" validate:"gte=0"`
	Quality          int       `yaml:"quality" validate:"gte=1,lte=100"`
	BreakpointRatios []float64 `yaml:"breakpoint_ratios" validate:"min=1,dive,gt=0"`
	Formats          []string  `yaml:"formats" validate:"min=1,dive,oneof=auto jpeg png"`
	PlaceholderWidth int       `yaml:"placeholder_width" validate:"gte=1,lte=64"`
}

func (PluginSharpOptions) PluginName() string { return PluginSharp }

// CreatePagesOptions configures page generation from rendered markdown.
type CreatePagesOptions struct {
	PathPrefix    string `yaml:"path_prefix"`
	IncludeDrafts bool   `yaml:"include_drafts"`
}

func (CreatePagesOptions) PluginName() string { return CreatePages }

// PluginFeedOptions configures the syndication feed.
type PluginFeedOptions struct {
	Output    string `yaml:"output" validate:"required"`
	Title     string `yaml:"title"`
	Limit     int    `yaml:"limit" validate:"gte=1"`
	SortField string `yaml:"sort_field" validate:"required"`
	Required  bool   `yaml:"required"`
}

func (PluginFeedOptions) PluginName() string { return PluginFeed }

// PluginOfflineOptions configures the offline precache manifest.
type PluginOfflineOptions struct {
	Output   string   `yaml:"output" validate:"required"`
	Exclude  []string `yaml:"exclude"`
	Required bool     `yaml:"required"`
}

func (PluginOfflineOptions) PluginName() string { return PluginOffline }

// Default option values. DefaultFeedLimit is an assumption: the site
// configuration never set one.
const (
	DefaultMaxWidth         = 650
	DefaultQuality          = 50
	DefaultPlaceholderWidth = 20
	DefaultPruneLength      = 140
	DefaultExcerptSeparator = "<!-- end -->"
	DefaultFeedLimit        = 20
	DefaultTheme            = "github"
)

// DefaultBreakpointRatios are multiples of the presentation width.
var DefaultBreakpointRatios = []float64{0.25, 0.5, 1, 1.5, 2, 3}

