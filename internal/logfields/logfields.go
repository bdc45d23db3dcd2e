package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyNodeID     = "node_id"
	KeyNodeType   = "node_type"
	KeyPlugin     = "plugin"
	KeyPath       = "path"
	KeyRoot       = "root"
	KeyIteration  = "iteration"
	KeyStage      = "stage"
	KeyCacheKey   = "cache_key"
	KeyWidth      = "width"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func NodeID(id string) slog.Attr      { return slog.String(KeyNodeID, id) }
func NodeType(t string) slog.Attr     { return slog.String(KeyNodeType, t) }
func Plugin(name string) slog.Attr    { return slog.String(KeyPlugin, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Root(name string) slog.Attr      { return slog.String(KeyRoot, name) }
func Iteration(i int) slog.Attr       { return slog.Int(KeyIteration, i) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func CacheKey(k string) slog.Attr     { return slog.String(KeyCacheKey, k) }
func Width(w int) slog.Attr           { return slog.Int(KeyWidth, w) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
