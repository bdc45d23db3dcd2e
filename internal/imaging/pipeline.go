// Package imaging produces responsive image derivatives and placeholders.
//
// Every derivative is cached under a key derived from the source digest and
// the parameters that produced it. When all keys for a source hit the cache
// the source is never decoded.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"git.home.luguber.info/inful/sitegen/internal/cache"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

// Transform names hashed into cache keys.
const (
	TransformResize      = "sharp-resize"
	TransformPlaceholder = "sharp-placeholder"
)

// Source is a decodable image and its identity.
type Source struct {
	// Name is the file name used to build derivative output paths.
	Name   string
	Digest string
	Data   []byte
	// Width, Height and Format may be zero; they are then read from Data.
	Width  int
	Height int
	Format string
}

// Options selects which derivatives Derive produces.
type Options struct {
	MaxWidth         int
	Ratios           []float64
	Formats          []string
	Quality          int
	PlaceholderWidth int
	Background       string
}

// Derivative is one resized and encoded variant of a source.
type Derivative struct {
	Key    string
	Width  int
	Height int
	Format string
	Data   []byte
	// Cached is true when Data came from the build cache.
	Cached bool
}

// OutputPath is the site-relative path the derivative is written to.
func (d Derivative) OutputPath(name string) string {
	stem := strings.TrimSuffix(path.Base(name), path.Ext(name))
	return fmt.Sprintf("static/%s/%s-%d.%s", d.Key[:12], stem, d.Width, Extension(d.Format))
}

// Placeholder is the low resolution preview of a source.
type Placeholder struct {
	Key     string
	Width   int
	Height  int
	DataURI string
	Cached  bool
}

// DerivativeSet is everything produced for one source.
type DerivativeSet struct {
	SourceWidth        int
	SourceHeight       int
	SourceFormat       string
	PresentationWidth  int
	PresentationHeight int
	// Derivatives are ordered by format declaration, then width.
	Derivatives []Derivative
	Placeholder Placeholder
}

// Formats returns the distinct output formats in declaration order.
func (s *DerivativeSet) Formats() []string {
	var out []string
	for _, d := range s.Derivatives {
		if !slices.Contains(out, d.Format) {
			out = append(out, d.Format)
		}
	}
	return out
}

// Presentation returns the derivative displayed at the presentation width in
// the first format.
func (s *DerivativeSet) Presentation() (Derivative, bool) {
	formats := s.Formats()
	if len(formats) == 0 {
		return Derivative{}, false
	}
	for _, d := range s.Derivatives {
		if d.Format == formats[0] && d.Width == s.PresentationWidth {
			return d, true
		}
	}
	return Derivative{}, false
}

// SrcSet renders a srcset attribute for format using url to map each
// derivative to its public URL.
func (s *DerivativeSet) SrcSet(format string, url func(Derivative) string) string {
	var parts []string
	for _, d := range s.Derivatives {
		if d.Format == format {
			parts = append(parts, fmt.Sprintf("%s %dw", url(d), d.Width))
		}
	}
	return strings.Join(parts, ",\n")
}

// Pipeline derives images through a shared cache. It is safe for concurrent
// use; full decodes are bounded by the configured concurrency.
type Pipeline struct {
	cache     *cache.Cache
	sem       *semaphore.Weighted
	flight    singleflight.Group
	logger    *slog.Logger
	generated atomic.Int64
}

// New creates a pipeline. concurrency <= 0 means GOMAXPROCS.
func New(c *cache.Cache, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{
		cache:  c,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	return p
}

// Generated returns how many derivatives and placeholders were computed
// rather than read from the cache.
func (p *Pipeline) Generated() int64 { return p.generated.Load() }

type job struct {
	key    string
	width  int
	height int
	format string
	place  bool
}

// Derive returns the derivative set of src. An undecodable source yields a
// DerivativeDecodeError, which callers treat as a warning.
func (p *Pipeline) Derive(ctx context.Context, src Source, opts Options) (*DerivativeSet, error) {
	if opts.MaxWidth <= 0 {
		return nil, ferrors.PluginOptionError("max width must be positive").
			WithContext("max_width", opts.MaxWidth).Build()
	}
	if opts.Quality <= 0 {
		opts.Quality = 50
	}
	if opts.PlaceholderWidth <= 0 {
		opts.PlaceholderWidth = 20
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{FormatAuto}
	}

	if src.Width <= 0 || src.Height <= 0 || src.Format == "" {
		w, h, f, err := DecodeConfig(src.Data)
		if err != nil {
			return nil, decodeError(src, err)
		}
		src.Width, src.Height, src.Format = w, h, f
	}

	set := &DerivativeSet{
		SourceWidth:       src.Width,
		SourceHeight:      src.Height,
		SourceFormat:      src.Format,
		PresentationWidth: PresentationWidth(opts.MaxWidth, src.Width),
	}
	set.PresentationHeight = scaledHeight(set.PresentationWidth, src.Width, src.Height)

	jobs, err := p.plan(src, opts)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*cache.Entry, len(jobs))
	var misses []job
	for _, j := range jobs {
		e, err := p.cache.Get(ctx, j.key)
		switch {
		case err == nil:
			results[j.key] = e
		case errors.Is(err, cache.ErrMiss):
			misses = append(misses, j)
		default:
			return nil, err
		}
	}

	if len(misses) > 0 {
		computed, err := p.computeOnce(ctx, src, opts, misses)
		if err != nil {
			return nil, err
		}
		maps.Copy(results, computed)
	}

	missed := make(map[string]bool, len(misses))
	for _, j := range misses {
		missed[j.key] = true
	}
	for _, j := range jobs {
		e := results[j.key]
		if j.place {
			set.Placeholder = Placeholder{
				Key:     j.key,
				Width:   j.width,
				Height:  j.height,
				DataURI: DataURI(FormatJPEG, e.Payload),
				Cached:  !missed[j.key],
			}
			continue
		}
		set.Derivatives = append(set.Derivatives, Derivative{
			Key:    j.key,
			Width:  j.width,
			Height: j.height,
			Format: j.format,
			Data:   e.Payload,
			Cached: !missed[j.key],
		})
	}
	return set, nil
}

func (p *Pipeline) plan(src Source, opts Options) ([]job, error) {
	widths := Breakpoints(opts.Ratios, opts.MaxWidth, src.Width)
	if len(opts.Ratios) == 0 {
		widths = []int{PresentationWidth(opts.MaxWidth, src.Width)}
	}
	if !slices.Contains(widths, PresentationWidth(opts.MaxWidth, src.Width)) {
		widths = append(widths, PresentationWidth(opts.MaxWidth, src.Width))
		slices.Sort(widths)
	}

	var formats []string
	for _, f := range opts.Formats {
		rf := resolveFormat(f, src.Format)
		if !slices.Contains(formats, rf) {
			formats = append(formats, rf)
		}
	}

	var jobs []job
	for _, f := range formats {
		quality := 0
		if f == FormatJPEG {
			quality = opts.Quality
		}
		for _, w := range widths {
			params, err := cache.CanonicalJSON(struct {
				Width      int    `json:"width"`
				Format     string `json:"format"`
				Quality    int    `json:"quality,omitempty"`
				Background string `json:"background,omitempty"`
			}{w, f, quality, opts.Background})
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job{
				key:    cache.Key(src.Digest, TransformResize, params),
				width:  w,
				height: scaledHeight(w, src.Width, src.Height),
				format: f,
			})
		}
	}

	pw := min(opts.PlaceholderWidth, src.Width)
	params, err := cache.CanonicalJSON(struct {
		Width      int    `json:"width"`
		Background string `json:"background,omitempty"`
	}{pw, opts.Background})
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, job{
		key:    cache.Key(src.Digest, TransformPlaceholder, params),
		width:  pw,
		height: scaledHeight(pw, src.Width, src.Height),
		format: FormatJPEG,
		place:  true,
	})
	return jobs, nil
}

// computeOnce collapses concurrent derivations of the same source and misses
// into a single decode. Keys already written by an earlier flight are read
// back from the cache instead of being encoded again.
func (p *Pipeline) computeOnce(ctx context.Context, src Source, opts Options, misses []job) (map[string]*cache.Entry, error) {
	keys := make([]string, len(misses))
	for i, j := range misses {
		keys[i] = j.key
	}
	v, err, _ := p.flight.Do(src.Digest+"|"+strings.Join(keys, ","), func() (any, error) {
		results := make(map[string]*cache.Entry, len(misses))
		var pending []job
		for _, j := range misses {
			e, err := p.cache.Get(ctx, j.key)
			switch {
			case err == nil:
				results[j.key] = e
			case errors.Is(err, cache.ErrMiss):
				pending = append(pending, j)
			default:
				return nil, err
			}
		}
		if len(pending) == 0 {
			return results, nil
		}
		if err := p.compute(ctx, src, opts, pending, results); err != nil {
			return nil, err
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*cache.Entry), nil
}

func (p *Pipeline) compute(ctx context.Context, src Source, opts Options, misses []job, results map[string]*cache.Entry) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	img, _, err := decode(src.Data)
	if err != nil {
		return decodeError(src, err)
	}
	bg := parseColor(opts.Background)

	for _, j := range misses {
		if err := ctx.Err(); err != nil {
			return err
		}
		quality := opts.Quality
		typ := storage.ObjectTypeDerivative
		if j.place {
			quality = 50
			typ = storage.ObjectTypePlaceholder
		}
		data, err := encode(resize(img, j.width, j.height, j.format, bg), j.format, quality)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryInternal, "encode derivative").
				WithContext("path", src.Name).Build()
		}
		e := &cache.Entry{
			Key:     j.key,
			Type:    typ,
			Payload: data,
			Meta:    cache.Meta{Width: j.width, Height: j.height, Format: j.format},
		}
		if _, err := p.cache.Put(ctx, e); err != nil {
			return err
		}
		results[j.key] = e
		p.generated.Add(1)
		p.logger.Debug("Derivative generated", logfields.Path(src.Name), logfields.Width(j.width), logfields.CacheKey(j.key))
	}
	return nil
}

func decodeError(src Source, err error) error {
	return ferrors.DerivativeDecodeError("cannot decode source image").
		WithContext("path", src.Name).
		WithCause(err).
		Build()
}
