// Package commands implements the sitegen command line.
package commands

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/observability"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "SITEGEN_LOG_LEVEL"

// Global is shared state passed to every command.
type Global struct {
	Stdout io.Writer
	Stderr io.Writer
	// levelFixed is set when -v or the environment chose the log level, so
	// the configuration file must not override it.
	levelFixed bool
	level      *slog.LevelVar
}

// NewGlobal writes to the process streams.
func NewGlobal() *Global {
	return &Global{Stdout: os.Stdout, Stderr: os.Stderr, level: new(slog.LevelVar)}
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"sitegen.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build the site once"`
	Watch   WatchCmd   `cmd:"" help:"Rebuild the site whenever content or configuration changes"`
	Init    InitCmd    `cmd:"" help:"Write a default configuration file"`
	Cache   CacheCmd   `cmd:"" help:"Inspect and prune the build cache"`
	History HistoryCmd `cmd:"" help:"List recent builds from the journal"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply(g *Global) error {
	if g.level == nil {
		g.level = new(slog.LevelVar)
	}
	if g.Stderr == nil {
		g.Stderr = os.Stderr
	}
	switch {
	case c.Verbose:
		g.level.Set(slog.LevelDebug)
		g.levelFixed = true
	case os.Getenv(EnvLogLevel) != "":
		g.level.Set(config.NormalizeLogLevel(os.Getenv(EnvLogLevel)).SlogLevel())
		g.levelFixed = true
	default:
		g.level.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(observability.NewHandler(slog.NewTextHandler(g.Stderr, &slog.HandlerOptions{Level: g.level}))))
	return nil
}

// loadConfig loads the configuration and applies its log level unless the
// command line already chose one.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if !g.levelFixed && g.level != nil && cfg.Logging.Level != "" {
		g.level.Set(cfg.Logging.Level.SlogLevel())
	}
	return cfg, nil
}

// absPath resolves a command line path against the working directory.
func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
