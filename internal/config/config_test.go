package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "sitegen.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultConfigParses(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "leah.world", cfg.Site.Title)
	assert.Equal(t, DefaultOutputDir, cfg.Build.OutputDir)
	assert.Equal(t, CacheBackendFS, cfg.Build.CacheBackend)
	assert.Equal(t, MissingRoleFatal, cfg.Build.MissingRole)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Build.Workers)
	assert.True(t, cfg.Build.JournalEnabled())

	names := make([]string, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		names = append(names, p.Resolve)
	}
	assert.Equal(t, []string{
		"source-filesystem", "transformer-remark", "transformer-sharp", "plugin-sharp",
		"create-pages", "plugin-feed", "plugin-offline",
	}, names)

	remark, ok := cfg.Plugin("transformer-remark")
	require.True(t, ok)
	assert.True(t, remark.HasOptions())
	sharp, _ := cfg.Plugin("plugin-sharp")
	assert.False(t, sharp.HasOptions())
}

func TestLoadExpandsEnvAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITEGEN_TEST_URL=https://example.org/\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SITEGEN_TEST_URL") })

	p := writeConfig(t, dir, `version: "1"
site:
  title: Example
  site_url: ${SITEGEN_TEST_URL}
build:
  cache_backend: SQLite
  missing_role: Warning
plugins:
  - resolve: source-filesystem
    options: {name: pages, path: content}
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "https://example.org", cfg.Site.SiteURL)
	assert.Equal(t, CacheBackendSQLite, cfg.Build.CacheBackend)
	assert.Equal(t, MissingRoleWarn, cfg.Build.MissingRole)
	assert.Equal(t, filepath.Join(dir, "content"), cfg.ResolvePath("content"))
	assert.Equal(t, "/abs/out", cfg.ResolvePath("/abs/out"))
}

func TestLoadDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SITEGEN_TEST_TITLE", "from-env")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITEGEN_TEST_TITLE=from-file\n"), 0o600))

	p := writeConfig(t, dir, `version: "1"
site: {title: "${SITEGEN_TEST_TITLE}", site_url: "https://example.org"}
plugins: [source-filesystem]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Site.Title)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "wrong version",
			body:    "version: \"2\"\nsite: {title: x, site_url: \"https://x.org\"}\nplugins: [plugin-feed]\n",
			wantMsg: "unsupported configuration version",
		},
		{
			name:    "unknown key",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\nbogus: 1\nplugins: [plugin-feed]\n",
			wantMsg: "bogus",
		},
		{
			name:    "missing plugins",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\n",
			wantMsg: "plugins",
		},
		{
			name:    "bad site url",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"not a url\"}\nplugins: [plugin-feed]\n",
			wantMsg: "site_url",
		},
		{
			name:    "unknown cache backend",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\nbuild: {cache_backend: redis}\nplugins: [plugin-feed]\n",
			wantMsg: "cache_backend",
		},
		{
			name:    "duplicate plugin",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\nplugins: [plugin-feed, plugin-feed]\n",
			wantMsg: "plugin listed twice",
		},
		{
			name:    "unknown retry backoff",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\nnotify: {retry: {backoff: random}}\nplugins: [plugin-feed]\n",
			wantMsg: "backoff",
		},
		{
			name:    "unknown entry key",
			body:    "version: \"1\"\nsite: {title: x, site_url: \"https://x.org\"}\nplugins:\n  - resolve: plugin-feed\n    option: {}\n",
			wantMsg: "unknown plugin entry key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(p)
			require.Error(t, err)
			assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadNotifyRetry(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `version: "1"
site: {title: x, site_url: "https://x.org"}
notify:
  nats_url: nats://localhost:4222
  retry: {backoff: exponential, initial: 200ms, max: 2s, max_retries: 4}
plugins: [plugin-feed]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, DefaultNotifySubject, cfg.Notify.Subject)
	assert.Equal(t, RetryConfig{
		Backoff:    RetryBackoffExponential,
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		MaxRetries: 4,
	}, cfg.Notify.Retry)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "site", "sitegen.yaml")
	require.NoError(t, Init(p, false))

	err := Init(p, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already exists"))
	require.NoError(t, Init(p, true))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(p), filepath.Dir(cfg.Path()))
}

func TestPluginEntryMarshalRoundTrip(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	feed, ok := cfg.Plugin("plugin-feed")
	require.True(t, ok)
	v, err := feed.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "plugin-feed", v)
}
