package assemble

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
)

// rename is swapped out in tests to fail the promotion step.
var rename = os.Rename

// WriteOptions selects how the output directory is replaced.
type WriteOptions struct {
	// Incremental rewrites only changed files and removes stale ones in place
	// instead of promoting a freshly written staging directory.
	Incremental bool
	Logger      *slog.Logger
}

// WriteStats counts what Write did.
type WriteStats struct {
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
}

// Write makes dir contain exactly the files of out. Both modes produce the
// same tree.
func Write(dir string, out *Output, opts WriteOptions) (WriteStats, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Incremental {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return writeIncremental(dir, out, opts.Logger)
		}
	}
	return writeStaged(dir, out, opts.Logger)
}

// writeStaged writes everything to a sibling staging directory and swaps it
// in, keeping the previous output until the swap succeeded.
func writeStaged(dir string, out *Output, logger *slog.Logger) (WriteStats, error) {
	var stats WriteStats
	stage := dir + "_stage"
	if err := os.RemoveAll(stage); err != nil {
		return stats, fsError(err, "clear staging directory", stage)
	}
	abort := func() {
		if err := os.RemoveAll(stage); err != nil {
			logger.Warn("Failed to remove staging directory after abort", logfields.Path(stage), logfields.Error(err))
		}
	}

	for _, f := range out.Files {
		if err := writeFile(filepath.Join(stage, filepath.FromSlash(f.Path)), f.Data); err != nil {
			abort()
			return stats, fsError(err, "write output file", f.Path)
		}
		stats.Written++
	}
	if len(out.Files) == 0 {
		if err := os.MkdirAll(stage, 0o750); err != nil {
			return stats, fsError(err, "create staging directory", stage)
		}
	}

	prev := dir + ".prev"
	if err := os.RemoveAll(prev); err != nil {
		abort()
		return stats, fsError(err, "remove previous backup", prev)
	}
	backedUp := false
	if _, err := os.Stat(dir); err == nil {
		if err := rename(dir, prev); err != nil {
			abort()
			return stats, fsError(err, "backup existing output", dir)
		}
		backedUp = true
	}
	if err := rename(stage, dir); err != nil {
		abort()
		if backedUp {
			if rerr := rename(prev, dir); rerr != nil {
				logger.Error("Failed to restore previous output", logfields.Path(prev), logfields.Error(rerr))
			}
		}
		return stats, fsError(err, "promote staging directory", dir)
	}
	if err := os.RemoveAll(prev); err != nil {
		logger.Warn("Failed to remove previous output", logfields.Path(prev), logfields.Error(err))
	}
	logger.Info("Promoted staging directory", logfields.Path(dir), logfields.Count(stats.Written))
	return stats, nil
}

// writeIncremental updates dir in place.
func writeIncremental(dir string, out *Output, logger *slog.Logger) (WriteStats, error) {
	var stats WriteStats
	want := make(map[string]bool, len(out.Files))
	for _, f := range out.Files {
		abs := filepath.Join(dir, filepath.FromSlash(f.Path))
		want[abs] = true
		// #nosec G304 -- abs is inside the output directory
		existing, err := os.ReadFile(abs)
		if err == nil && bytes.Equal(existing, f.Data) {
			stats.Unchanged++
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return stats, fsError(err, "read output file", f.Path)
		}
		if err := writeFile(abs, f.Data); err != nil {
			return stats, fsError(err, "write output file", f.Path)
		}
		stats.Written++
	}

	var dirs []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir {
				dirs = append(dirs, p)
			}
			return nil
		}
		if !want[p] {
			if err := os.Remove(p); err != nil {
				return err
			}
			stats.Removed++
		}
		return nil
	})
	if err != nil {
		return stats, fsError(err, "remove stale output", dir)
	}
	// Deepest first so parents empty out before they are checked.
	slices.Reverse(dirs)
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(d)
		}
	}
	logger.Info("Updated output directory", logfields.Path(dir),
		slog.Int("written", stats.Written), slog.Int("unchanged", stats.Unchanged), slog.Int("removed", stats.Removed))
	return stats, nil
}

// writeFile writes data through a temporary file and rename.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { // #nosec G302 -- site files are public
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func fsError(err error, msg, path string) error {
	return ferrors.WrapError(err, ferrors.CategoryFileSystem, msg).
		WithContext("path", path).Fatal().Build()
}
