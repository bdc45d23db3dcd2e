package build

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
	"git.home.luguber.info/inful/sitegen/internal/notify"
)

const siteYAML = `version: "1"
site:
  title: Test blog
  author: Someone
  site_url: https://blog.example.com
build:
  cache_backend: %s
  workers: 4
plugins:
  - resolve: source-filesystem
    options:
      name: posts
      path: content
  - resolve: transformer-remark
    options:
      plugins:
        - resolve: remark-images
          options:
            max_width: %d
        - remark-copy-linked-files
        - remark-smartypants
  - transformer-sharp
  - plugin-sharp
  - create-pages
  - plugin-feed
  - plugin-offline
`

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 8 {
		for x := 0; x < w; x += 8 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

// project writes a site with one post and one photo and loads its config.
func project(t *testing.T, backend string, maxWidth int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"sitegen.yaml":      fmt.Appendf(nil, siteYAML, backend, maxWidth),
		"content/post.md":   []byte("---\ntitle: Sunset\ndate: 2021-03-04\n---\n\nA \"nice\" view:\n\n![The sunset](photo.jpg)\n"),
		"content/photo.jpg": jpegFixture(t, 2000, 1000),
	}
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, data, 0o600))
	}
	cfg, err := config.Load(filepath.Join(dir, "sitegen.yaml"))
	require.NoError(t, err)
	return cfg
}

func readTree(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = data
		return nil
	}))
	return out
}

func TestBuildPostWithPhotoAndRerun(t *testing.T) {
	for _, backend := range []string{"fs", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := project(t, backend, 590)
			rec := metrics.NewPrometheusRecorder(nil)
			svc := NewBuildService().WithRecorder(rec)

			first, err := svc.Run(context.Background(), Request{Config: cfg, Trigger: "test"})
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, first.Status, "%v", first.Diagnostics)
			assert.Equal(t, 6, first.Derivatives)
			assert.Equal(t, 1, first.Pages)
			assert.Equal(t, 1, first.Nodes[graph.TypeImagePlaceholder])
			assert.Positive(t, first.Cache.Writes)

			tree := readTree(t, first.OutputPath)
			assert.Contains(t, tree, "post/index.html")
			assert.Contains(t, tree, "rss.xml")
			assert.Contains(t, tree, "precache-manifest.json")
			assert.Contains(t, string(tree["post/index.html"]), "-590.jpg")

			second, err := svc.Run(context.Background(), Request{Config: cfg, Trigger: "test"})
			require.NoError(t, err)
			assert.NotEqual(t, first.BuildID, second.BuildID)
			assert.Zero(t, second.Cache.Writes)
			assert.Positive(t, second.Cache.Hits)
			assert.Equal(t, tree, readTree(t, second.OutputPath))

			journal, err := JournalPath(cfg)
			require.NoError(t, err)
			store, err := eventstore.NewSQLiteStore(journal)
			require.NoError(t, err)
			defer func() { _ = store.Close() }()
			history := eventstore.NewBuildHistoryProjection(store, 10)
			require.NoError(t, history.Rebuild(context.Background()))
			builds := history.History(0)
			require.Len(t, builds, 2)
			assert.Equal(t, eventstore.StatusSucceeded, builds[0].Status)
			assert.Equal(t, first.Iterations, builds[1].Iterations)
		})
	}
}

func TestBuildIncrementalMatchesFull(t *testing.T) {
	cfg := project(t, "fs", 590)
	svc := NewBuildService()

	full, err := svc.Run(context.Background(), Request{Config: cfg})
	require.NoError(t, err)
	want := readTree(t, full.OutputPath)

	incDir := filepath.Join(t.TempDir(), "public")
	for range 2 {
		inc, err := svc.Run(context.Background(), Request{Config: cfg, OutputDir: incDir, Incremental: true})
		require.NoError(t, err)
		assert.Equal(t, want, readTree(t, inc.OutputPath))
	}
}

func TestNegativeMaxWidthFailsBeforeScan(t *testing.T) {
	cfg := project(t, "fs", -1)
	// A missing content root would be a scan error; the option error wins.
	require.NoError(t, os.RemoveAll(cfg.ResolvePath("content")))

	res, err := NewBuildService().Run(context.Background(), Request{Config: cfg})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryPluginOption))
	assert.Equal(t, StatusFailed, res.Status)
	assert.NoDirExists(t, cfg.ResolvePath(cfg.Build.CacheDir))
	assert.NoDirExists(t, res.OutputPath)
}

func TestMissingContentRootIsScanError(t *testing.T) {
	cfg := project(t, "fs", 590)
	require.NoError(t, os.RemoveAll(cfg.ResolvePath("content")))

	res, err := NewBuildService().Run(context.Background(), Request{Config: cfg})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryScan))
	assert.Equal(t, StatusFailed, res.Status)
	assert.NoDirExists(t, res.OutputPath)
}

func TestCorruptImageBuildsWithWarning(t *testing.T) {
	cfg := project(t, "fs", 590)
	require.NoError(t, os.WriteFile(cfg.ResolvePath("content/photo.jpg"), []byte("not a jpeg"), 0o600))

	res, err := NewBuildService().Run(context.Background(), Request{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, res.Status)
	require.NotEmpty(t, res.Diagnostics)
	for _, d := range res.Diagnostics {
		assert.Equal(t, ferrors.CategoryDerivativeDecode, d.Category)
	}
	assert.Zero(t, res.Derivatives)
	assert.Equal(t, 1, res.Pages)
}

func TestCancelledBuild(t *testing.T) {
	cfg := project(t, "fs", 590)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewBuildService().Run(ctx, Request{Config: cfg})
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
}

type capturePublisher struct{ data [][]byte }

func (c *capturePublisher) Publish(_ string, data []byte) error {
	c.data = append(c.data, data)
	return nil
}
func (c *capturePublisher) FlushWithContext(context.Context) error { return nil }
func (c *capturePublisher) Close()                                 {}

func TestBuildPublishesNotification(t *testing.T) {
	cfg := project(t, "fs", 590)
	pub := &capturePublisher{}
	journal, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()

	res, err := NewBuildService().
		WithNotifier(notify.New(pub, "", nil)).
		WithJournal(journal).
		Run(context.Background(), Request{Config: cfg})
	require.NoError(t, err)
	require.Len(t, pub.data, 1)
	assert.Contains(t, string(pub.data[0]), res.BuildID)

	events, err := journal.GetByBuildID(context.Background(), res.BuildID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, eventstore.TypeBuildStarted, events[0].Type())
	assert.Equal(t, eventstore.TypeBuildCompleted, events[len(events)-1].Type())
}

func TestNilConfig(t *testing.T) {
	_, err := NewBuildService().Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}
