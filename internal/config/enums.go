package config

import (
	"log/slog"

	"git.home.luguber.info/inful/sitegen/internal/foundation/normalization"
)

// CacheBackend selects the object store behind the build cache.
type CacheBackend string

const (
	CacheBackendFS     CacheBackend = "fs"
	CacheBackendSQLite CacheBackend = "sqlite"
)

var cacheBackendNormalizer = normalization.NewNormalizer(map[string]CacheBackend{
	"fs":         CacheBackendFS,
	"filesystem": CacheBackendFS,
	"sqlite":     CacheBackendSQLite,
}, CacheBackendFS)

// MissingRole decides what happens when a required output role has no nodes.
type MissingRole string

const (
	MissingRoleFatal MissingRole = "fatal"
	MissingRoleWarn  MissingRole = "warn"
)

var missingRoleNormalizer = normalization.NewNormalizer(map[string]MissingRole{
	"fatal":   MissingRoleFatal,
	"error":   MissingRoleFatal,
	"warn":    MissingRoleWarn,
	"warning": MissingRoleWarn,
}, MissingRoleFatal)

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelNormalizer = normalization.NewNormalizer(map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}, LogLevelInfo)

// NormalizeLogLevel maps raw to a LogLevel, defaulting to info.
func NormalizeLogLevel(raw string) LogLevel {
	return logLevelNormalizer.Normalize(raw)
}

// SlogLevel converts l to a slog level.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
