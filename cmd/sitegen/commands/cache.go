package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitegen/internal/build"
	"git.home.luguber.info/inful/sitegen/internal/cache"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

// CacheCmd groups the cache maintenance commands.
type CacheCmd struct {
	Stats CacheStatsCmd `cmd:"" help:"Show cache entry counts"`
	GC    CacheGCCmd    `cmd:"gc" help:"Remove entries no recent build used"`
}

// CacheStatsCmd implements 'cache stats'.
type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	store, err := build.OpenCache(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	_, _ = fmt.Fprintf(g.Stdout, "Cache %s (%s)\n", cfg.ResolvePath(cfg.Build.CacheDir), cfg.Build.CacheBackend)
	total := 0
	for _, typ := range []storage.ObjectType{
		storage.ObjectTypeDerivative,
		storage.ObjectTypePlaceholder,
		storage.ObjectTypeRenderedHTML,
	} {
		keys, err := store.List(ctx, typ)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryCache, "list cache entries").
				WithContext("type", string(typ)).Build()
		}
		total += len(keys)
		_, _ = fmt.Fprintf(g.Stdout, "  %-14s %d\n", typ, len(keys))
	}
	refs, err := store.BuildRefs(ctx)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryCache, "list build refs").Build()
	}
	_, _ = fmt.Fprintf(g.Stdout, "  %-14s %d\n", "total", total)
	_, _ = fmt.Fprintf(g.Stdout, "  %-14s %d\n", "builds", len(refs))
	return nil
}

// CacheGCCmd implements 'cache gc'.
type CacheGCCmd struct {
	Keep int `help:"Number of recent builds whose entries are kept" default:"3"`
}

func (c *CacheGCCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	store, err := build.OpenCache(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	removed, err := cache.New(store).GC(context.Background(), c.Keep)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Stdout, "Removed %d cache entries\n", removed)
	return nil
}
