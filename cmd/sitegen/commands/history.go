package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/build"
	"git.home.luguber.info/inful/sitegen/internal/eventstore"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int  `short:"n" help:"Number of builds to show" default:"10"`
	JSON  bool `name:"json" help:"Print builds as JSON"`
	Prune int  `help:"Delete the events of all but the N most recent builds first" placeholder:"N"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	path, err := build.JournalPath(cfg)
	if err != nil {
		return err
	}
	store, err := eventstore.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if h.Prune > 0 {
		removed, err := store.Prune(context.Background(), h.Prune)
		if err != nil {
			return err
		}
		slog.Info("Pruned build journal", slog.Int64("events", removed), slog.Int("builds_kept", h.Prune))
	}

	projection := eventstore.NewBuildHistoryProjection(store, max(h.Limit, 1))
	if err := projection.Rebuild(context.Background()); err != nil {
		return err
	}
	builds := projection.History(h.Limit)

	if h.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(builds)
	}
	if len(builds) == 0 {
		_, _ = fmt.Fprintln(g.Stdout, "No builds recorded")
		return nil
	}
	tw := tabwriter.NewWriter(g.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BUILD\tSTARTED\tSTATUS\tDURATION\tFILES\tWARNINGS\tCACHE WRITES\tTRIGGER")
	for _, b := range builds {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.BuildID[:min(8, len(b.BuildID))],
			b.StartedAt.Local().Format(time.DateTime),
			b.Status,
			b.Duration.Round(time.Millisecond),
			b.Files,
			b.Warnings,
			b.CacheWrites,
			b.Trigger)
	}
	return tw.Flush()
}
