// Package scanner walks content roots and emits raw File nodes.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// Root is one named content directory.
type Root struct {
	Name    string
	Path    string
	Include []string
	Exclude []string
}

// Scanner produces File nodes for a fixed set of roots.
type Scanner struct {
	roots   []Root
	filters []*Filter
	logger  *slog.Logger
}

// New compiles the root filters. Roots are scanned in the given order.
func New(roots []Root) (*Scanner, error) {
	s := &Scanner{roots: roots, logger: slog.Default()}
	for _, r := range roots {
		f, err := NewFilter(r.Include, r.Exclude)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryScan, "invalid root pattern").
				WithContext("root", r.Name).Fatal().Build()
		}
		s.filters = append(s.filters, f)
	}
	return s, nil
}

// WithLogger sets a custom logger.
func (s *Scanner) WithLogger(logger *slog.Logger) *Scanner {
	s.logger = logger
	return s
}

// RootsFromPlugins builds one root per source-filesystem plugin. Relative
// paths are resolved with resolve.
func RootsFromPlugins(set plugin.Set, resolve func(string) string) []Root {
	var roots []Root
	for _, d := range set.OfKind(plugin.KindSource) {
		o, ok := d.Options.(plugin.SourceFilesystemOptions)
		if !ok {
			continue
		}
		p := o.Path
		if resolve != nil {
			p = resolve(p)
		}
		roots = append(roots, Root{Name: o.Name, Path: p, Include: o.Include, Exclude: o.Exclude})
	}
	return roots
}

// Roots returns the configured roots.
func (s *Scanner) Roots() []Root { return s.roots }

// Validate checks that every root exists and is a readable directory.
func (s *Scanner) Validate() error {
	for _, r := range s.roots {
		if err := checkRoot(r); err != nil {
			return err
		}
	}
	return nil
}

func checkRoot(r Root) error {
	info, err := os.Stat(r.Path)
	if err != nil {
		msg := "content root unreadable"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "content root does not exist"
		}
		return ferrors.WrapError(err, ferrors.CategoryScan, msg).
			WithContext("root", r.Name).WithContext("path", r.Path).Fatal().Build()
	}
	if !info.IsDir() {
		return ferrors.ScanError("content root is not a directory").
			WithContext("root", r.Name).WithContext("path", r.Path).Build()
	}
	if _, err := os.ReadDir(r.Path); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryScan, "content root unreadable").
			WithContext("root", r.Name).WithContext("path", r.Path).Fatal().Build()
	}
	return nil
}

// Scan lazily yields one File node per matching file, roots in declaration
// order and files in lexical order. The sequence stops after the first error.
// Ranging over it again rescans the filesystem.
func (s *Scanner) Scan(ctx context.Context) iter.Seq2[*graph.Node, error] {
	return func(yield func(*graph.Node, error) bool) {
		for i, r := range s.roots {
			if err := checkRoot(r); err != nil {
				yield(nil, err)
				return
			}
			count := 0
			stopped := false
			err := filepath.WalkDir(r.Path, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				if p != r.Path && strings.HasPrefix(d.Name(), ".") {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.IsDir() || !d.Type().IsRegular() {
					return nil
				}
				rel, err := filepath.Rel(r.Path, p)
				if err != nil {
					return err
				}
				rel = filepath.ToSlash(rel)
				if !s.filters[i].Match(rel) {
					return nil
				}
				n, err := fileNode(r, rel, p, d)
				if err != nil {
					return err
				}
				count++
				if !yield(n, nil) {
					stopped = true
					return filepath.SkipAll
				}
				return nil
			})
			if stopped {
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					yield(nil, err)
					return
				}
				yield(nil, ferrors.WrapError(err, ferrors.CategoryScan, "scan content root").
					WithContext("root", r.Name).WithContext("path", r.Path).Fatal().Build())
				return
			}
			s.logger.Debug("Content root scanned", logfields.Root(r.Name), logfields.Count(count))
		}
	}
}

// Collect drains Scan into a slice.
func (s *Scanner) Collect(ctx context.Context) ([]*graph.Node, error) {
	var out []*graph.Node
	for n, err := range s.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// FileKey is the identity key of the File node for rel under root.
func FileKey(root, rel string) string {
	return root + "/" + rel
}

func fileNode(r Root, rel, abs string, d fs.DirEntry) (*graph.Node, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- abs comes from walking a configured content root
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(rel), "."))
	base := path.Base(rel)
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}

	n := graph.New(graph.TypeFile, FileKey(r.Name, rel))
	n.Content = data
	n.Fields["sourceInstanceName"] = r.Name
	n.Fields["relativePath"] = rel
	n.Fields["relativeDirectory"] = dir
	n.Fields["name"] = strings.TrimSuffix(base, path.Ext(base))
	n.Fields["extension"] = ext
	n.Fields["size"] = int64(len(data))
	n.Internal[graph.InternalSourcePath] = rel
	n.Internal[graph.InternalSourceRoot] = r.Name
	n.Internal[graph.InternalSourceAbs] = abs
	n.Internal[graph.InternalSourceExt] = ext
	n.Internal[graph.InternalSourceMTime] = info.ModTime().UTC().Format(time.RFC3339Nano)
	n.Internal[graph.InternalContentDigest] = graph.Digest(data)
	return n, nil
}
