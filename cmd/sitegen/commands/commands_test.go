package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

const testConfig = `version: "1"
site:
  title: CLI blog
  site_url: https://cli.example.com
build:
  workers: 2
plugins:
  - resolve: source-filesystem
    options:
      name: pages
      path: content
  - transformer-remark
  - create-pages
  - plugin-feed
`

// execute parses args like the sitegen binary and runs the selected command.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	var out bytes.Buffer
	g := &Global{Stdout: &out, Stderr: io.Discard, level: new(slog.LevelVar)}
	parser, err := kong.New(&cli,
		kong.Name("sitegen"),
		kong.Vars{"version": "test"},
		kong.Bind(g),
		kong.Exit(func(int) { t.Fatalf("unexpected exit") }),
	)
	require.NoError(t, err)
	kctx, err := parser.Parse(append([]string{"-c", filepath.Join(dir, "sitegen.yaml")}, args...))
	require.NoError(t, err)
	err = kctx.Run(g, &cli)
	return out.String(), err
}

func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content", "hello"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sitegen.yaml"), []byte(testConfig), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content", "hello", "index.md"),
		[]byte("---\ntitle: Hello\ndate: 2024-02-03\n---\n\nFirst post.\n"), 0o600))
	return dir
}

func TestInitRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote configuration")
	assert.FileExists(t, filepath.Join(dir, "sitegen.yaml"))

	_, err = execute(t, dir, "init")
	require.Error(t, err)
	assert.Equal(t, 7, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))

	_, err = execute(t, dir, "init", "--force")
	require.NoError(t, err)
}

func TestBuildHistoryAndCache(t *testing.T) {
	dir := writeSite(t)
	metricsFile := filepath.Join(dir, "sitegen.prom")

	out, err := execute(t, dir, "build", "--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, ": success in ")
	assert.FileExists(t, filepath.Join(dir, "public", "hello", "index.html"))
	assert.FileExists(t, filepath.Join(dir, "public", "rss.xml"))
	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sitegen_build_outcomes_total{outcome="success"} 1`)

	_, err = execute(t, dir, "build", "-i")
	require.NoError(t, err)

	out, err = execute(t, dir, "history", "--json")
	require.NoError(t, err)
	var builds []eventstore.BuildSummary
	require.NoError(t, json.Unmarshal([]byte(out), &builds))
	require.Len(t, builds, 2)
	assert.Equal(t, "cli", builds[0].Trigger)
	assert.Equal(t, eventstore.StatusSucceeded, builds[0].Status)

	out, err = execute(t, dir, "history", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "BUILD")
	assert.Contains(t, out, "succeeded")

	out, err = execute(t, dir, "history", "--json", "--prune", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &builds))
	require.Len(t, builds, 1)

	out, err = execute(t, dir, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "rendered_html  1")
	assert.Contains(t, out, "builds         2")

	out, err = execute(t, dir, "cache", "gc", "--keep", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 cache entries")
}

func TestBuildOutputOverride(t *testing.T) {
	dir := writeSite(t)
	target := filepath.Join(t.TempDir(), "site")
	_, err := execute(t, dir, "build", "-o", target)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, "hello", "index.html"))
	assert.NoDirExists(t, filepath.Join(dir, "public"))
}

func TestBuildMissingConfig(t *testing.T) {
	_, err := execute(t, t.TempDir(), "build")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestBuildPluginOptionErrorExitCode(t *testing.T) {
	dir := writeSite(t)
	bad := testConfig + "  - resolve: plugin-feed-typo\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sitegen.yaml"), []byte(bad), 0o600))

	_, err := execute(t, dir, "build")
	require.Error(t, err)
	assert.Equal(t, 2, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestHistoryEmpty(t *testing.T) {
	dir := writeSite(t)
	out, err := execute(t, dir, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No builds recorded")
}
