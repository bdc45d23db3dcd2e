package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	triggers []string
	signal   chan string
}

func newRecorder() *recorder { return &recorder{signal: make(chan string, 16)} }

func (r *recorder) build(_ context.Context, trigger string) error {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	r.signal <- trigger
	return nil
}

func (r *recorder) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.signal:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s build", want)
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.signal:
		t.Fatalf("unexpected %s build", got)
	case <-time.After(d):
	}
}

func start(t *testing.T, r *recorder, opts Options) {
	t.Helper()
	w, err := New(r.build, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	r.wait(t, TriggerStart)
}

func TestDebouncedRebuild(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "content")
	require.NoError(t, os.MkdirAll(filepath.Join(content, "posts"), 0o750))

	r := newRecorder()
	start(t, r, Options{Roots: []string{content}, Debounce: 100 * time.Millisecond})

	for _, name := range []string{"a.md", "b.md", "posts/c.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(content, name), []byte("x"), 0o600))
	}
	r.wait(t, TriggerChange)
	r.quiet(t, 300*time.Millisecond)
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	content := t.TempDir()
	r := newRecorder()
	start(t, r, Options{Roots: []string{content}, Debounce: 50 * time.Millisecond})

	sub := filepath.Join(content, "new")
	require.NoError(t, os.Mkdir(sub, 0o750))
	r.wait(t, TriggerChange)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "post.md"), []byte("x"), 0o600))
	r.wait(t, TriggerChange)
}

func TestIgnoredAndConfigSiblingsDoNotTrigger(t *testing.T) {
	dir := t.TempDir()
	content := filepath.Join(dir, "content")
	public := filepath.Join(content, "public")
	require.NoError(t, os.MkdirAll(public, 0o750))
	cfgPath := filepath.Join(dir, "sitegen.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: \"1\"\n"), 0o600))

	r := newRecorder()
	start(t, r, Options{
		ConfigPath: cfgPath,
		Roots:      []string{content},
		Ignore:     []string{public},
		Debounce:   50 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(public, "index.html"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(content, ".draft.swp"), []byte("x"), 0o600))
	r.quiet(t, 300*time.Millisecond)

	require.NoError(t, os.WriteFile(cfgPath, []byte("version: \"1\"\n# changed\n"), 0o600))
	r.wait(t, TriggerChange)
}

func TestScheduledRebuild(t *testing.T) {
	r := newRecorder()
	start(t, r, Options{Roots: []string{t.TempDir()}, Every: 200 * time.Millisecond})
	r.wait(t, TriggerSchedule)
}
