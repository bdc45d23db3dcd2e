package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil error", err: nil, want: ExitOK},
		{name: "plugin option", err: PluginOptionError("negative max_width").Build(), want: 2},
		{name: "scan", err: ScanError("missing root").Build(), want: 3},
		{name: "cycle", err: PluginCycleError("ceiling").Build(), want: 4},
		{name: "assembly", err: AssemblyError("no pages").Build(), want: 6},
		{name: "config", err: ConfigError("bad config").Build(), want: 7},
		{name: "internal", err: InternalError("bug").Build(), want: 10},
		{name: "filesystem", err: FileSystemError("disk").Build(), want: 11},
		{name: "cache", err: CacheError("corrupt index").Build(), want: 11},
		{name: "interrupted", err: fmt.Errorf("transform: %w", context.Canceled), want: ExitInterrupted},
		{name: "node transform", err: NewError(CategoryNodeTransform, "bad front matter").Build(), want: ExitFailure},
		{name: "unclassified error", err: errors.New("unknown"), want: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	err := PluginOptionError("max_width must be greater than 0").
		WithContext("plugin", "remark-images").
		WithContext("unlisted", "hidden").
		Build()

	quiet := NewCLIErrorAdapter(false, nil).FormatError(err)
	assert.Contains(t, quiet, "Error (plugin_option): max_width must be greater than 0")
	assert.Contains(t, quiet, "\n  plugin: remark-images")
	assert.NotContains(t, quiet, "hidden")

	verbose := NewCLIErrorAdapter(true, nil).FormatError(err)
	assert.Contains(t, verbose, "[plugin_option:fatal]")

	assert.Equal(t, "Error: plain", NewCLIErrorAdapter(false, nil).FormatError(errors.New("plain")))
}

func TestCLIErrorAdapter_Report(t *testing.T) {
	var logs, out bytes.Buffer
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&logs, nil)))

	err := ScanError("content root missing").WithContext("path", "src/pages").Build()
	assert.Equal(t, ExitScan, adapter.Report(&out, err))
	assert.Contains(t, out.String(), "path: src/pages")
	assert.Contains(t, logs.String(), "category=scan")
	assert.Contains(t, logs.String(), "path=src/pages")

	assert.Equal(t, ExitOK, adapter.Report(&out, nil))
}
