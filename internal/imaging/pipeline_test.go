package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/cache"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

func fixtureJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func fixturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newPipeline(t *testing.T) (*Pipeline, *cache.Cache) {
	t.Helper()
	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	c := cache.New(store)
	return New(c, 2), c
}

func source(data []byte, name string) Source {
	return Source{Name: name, Digest: graph.Digest(data), Data: data}
}

var testRatios = []float64{0.25, 0.5, 1, 1.5, 2, 3}

func TestBreakpoints(t *testing.T) {
	assert.Equal(t, []int{148, 295, 590, 885, 1180, 1770}, Breakpoints(testRatios, 590, 2000))
	assert.Equal(t, []int{148, 295, 590, 800}, Breakpoints(testRatios, 590, 800))
	assert.Equal(t, []int{100}, Breakpoints([]float64{1, 2}, 590, 100))
	assert.Nil(t, Breakpoints(testRatios, 0, 100))
	assert.Equal(t, 100, PresentationWidth(590, 100))
}

func TestDeriveNeverUpscales(t *testing.T) {
	p, _ := newPipeline(t)
	data := fixtureJPEG(t, 240, 120)

	set, err := p.Derive(context.Background(), source(data, "photo.jpg"), Options{MaxWidth: 200, Ratios: testRatios})
	require.NoError(t, err)

	assert.Equal(t, 200, set.PresentationWidth)
	assert.Equal(t, 100, set.PresentationHeight)
	widths := make([]int, 0, len(set.Derivatives))
	for _, d := range set.Derivatives {
		assert.LessOrEqual(t, d.Width, 240)
		assert.Equal(t, FormatJPEG, d.Format)
		w, h, f, err := DecodeConfig(d.Data)
		require.NoError(t, err)
		assert.Equal(t, d.Width, w)
		assert.Equal(t, d.Height, h)
		assert.Equal(t, "jpeg", f)
		widths = append(widths, d.Width)
	}
	assert.Equal(t, []int{50, 100, 200, 240}, widths)

	pres, ok := set.Presentation()
	require.True(t, ok)
	assert.Equal(t, 200, pres.Width)
	assert.True(t, strings.HasPrefix(set.Placeholder.DataURI, "data:image/jpeg;base64,"))
	assert.Equal(t, 20, set.Placeholder.Width)
}

func TestDeriveCacheHitSkipsDecode(t *testing.T) {
	p, c := newPipeline(t)
	data := fixtureJPEG(t, 160, 80)
	src := source(data, "photo.jpg")
	opts := Options{MaxWidth: 100, Ratios: []float64{0.5, 1}, Quality: 60}

	first, err := p.Derive(context.Background(), src, opts)
	require.NoError(t, err)
	writes := c.Stats().Writes
	assert.Equal(t, int64(3), writes)
	assert.Equal(t, int64(3), p.Generated())

	// A corrupted payload with the same digest proves the second call never decodes.
	src.Data = []byte("not an image")
	src.Width, src.Height, src.Format = 160, 80, "jpeg"
	second, err := p.Derive(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, writes, c.Stats().Writes)
	assert.Equal(t, int64(3), p.Generated())

	require.Len(t, second.Derivatives, len(first.Derivatives))
	for i := range first.Derivatives {
		assert.Equal(t, first.Derivatives[i].Key, second.Derivatives[i].Key)
		assert.Equal(t, first.Derivatives[i].Data, second.Derivatives[i].Data)
		assert.True(t, second.Derivatives[i].Cached)
	}
	assert.Equal(t, first.Placeholder.DataURI, second.Placeholder.DataURI)
}

func TestConcurrentDeriveComputesOnce(t *testing.T) {
	p, c := newPipeline(t)
	src := source(fixtureJPEG(t, 160, 80), "photo.jpg")
	opts := Options{MaxWidth: 100, Ratios: []float64{0.5, 1}, Quality: 60}

	const callers = 8
	sets := make([]*DerivativeSet, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sets[i], errs[i] = p.Derive(context.Background(), src, opts)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, sets[i].Derivatives, 2)
		assert.Equal(t, sets[0].Derivatives[1].Data, sets[i].Derivatives[1].Data)
	}
	assert.Equal(t, int64(3), p.Generated())
	assert.Equal(t, int64(3), c.Stats().Writes)
}

func TestDeriveKeysAreContentAddressed(t *testing.T) {
	p, _ := newPipeline(t)
	data := fixtureJPEG(t, 120, 60)
	opts := Options{MaxWidth: 60, Ratios: []float64{1}}

	a, err := p.Derive(context.Background(), source(data, "a/photo.jpg"), opts)
	require.NoError(t, err)
	b, err := p.Derive(context.Background(), source(data, "b/renamed.jpg"), opts)
	require.NoError(t, err)
	assert.Equal(t, a.Derivatives[0].Key, b.Derivatives[0].Key)
	assert.True(t, b.Derivatives[0].Cached)

	q, err := p.Derive(context.Background(), source(data, "a/photo.jpg"), Options{MaxWidth: 60, Ratios: []float64{1}, Quality: 90})
	require.NoError(t, err)
	assert.NotEqual(t, a.Derivatives[0].Key, q.Derivatives[0].Key)
}

func TestDeriveFormats(t *testing.T) {
	p, _ := newPipeline(t)
	data := fixturePNG(t, 80, 40)

	set, err := p.Derive(context.Background(), source(data, "icon.png"), Options{
		MaxWidth: 40, Ratios: []float64{1}, Formats: []string{FormatAuto, FormatJPEG, FormatPNG},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{FormatPNG, FormatJPEG}, set.Formats())
	assert.Len(t, set.Derivatives, 2)
	assert.Contains(t, set.Derivatives[0].OutputPath("icon.png"), "icon-40.png")
	assert.Contains(t, set.Derivatives[1].OutputPath("icon.png"), "icon-40.jpg")

	srcset := set.SrcSet(FormatPNG, func(d Derivative) string { return "/" + d.OutputPath("icon.png") })
	assert.True(t, strings.HasSuffix(srcset, " 40w"))
}

func TestDeriveCorruptSource(t *testing.T) {
	p, _ := newPipeline(t)
	_, err := p.Derive(context.Background(), source([]byte("garbage"), "broken.jpg"), Options{MaxWidth: 100, Ratios: testRatios})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDerivativeDecode))
	assert.True(t, ferrors.HasSeverity(err, ferrors.SeverityWarning))
	assert.True(t, ferrors.IsRecoverable(err))
}

func TestDeriveRejectsNonPositiveWidth(t *testing.T) {
	p, _ := newPipeline(t)
	_, err := p.Derive(context.Background(), source(fixtureJPEG(t, 10, 10), "x.jpg"), Options{MaxWidth: -10})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPluginOption))
}

func TestDeriveDeterministicBytes(t *testing.T) {
	data := fixtureJPEG(t, 200, 100)
	opts := Options{MaxWidth: 100, Ratios: []float64{0.5, 1}}

	p1, _ := newPipeline(t)
	p2, _ := newPipeline(t)
	a, err := p1.Derive(context.Background(), source(data, "p.jpg"), opts)
	require.NoError(t, err)
	b, err := p2.Derive(context.Background(), source(data, "p.jpg"), opts)
	require.NoError(t, err)
	for i := range a.Derivatives {
		assert.Equal(t, a.Derivatives[i].Data, b.Derivatives[i].Data)
	}
}

func TestParseColor(t *testing.T) {
	assert.Equal(t, color.NRGBA{R: 0xff, G: 0, B: 0, A: 0xff}, parseColor("#f00"))
	assert.Equal(t, color.NRGBA{R: 0x12, G: 0x34, B: 0x56, A: 0xff}, parseColor("#123456"))
	assert.Equal(t, color.White, parseColor("nonsense"))
}
