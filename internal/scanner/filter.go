package scanner

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter decides whether a root-relative path is scanned.
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewFilter compiles include and exclude glob patterns. An empty include list
// accepts every path that is not excluded.
func NewFilter(includeGlobs, excludeGlobs []string) (*Filter, error) {
	compile := func(globs []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(globs))
		for _, g := range globs {
			if strings.TrimSpace(g) == "" {
				continue
			}
			r, err := regexp.Compile(globToRegex(g))
			if err != nil {
				return nil, fmt.Errorf("compile glob %s: %w", g, err)
			}
			out = append(out, r)
		}
		return out, nil
	}
	incs, err := compile(includeGlobs)
	if err != nil {
		return nil, err
	}
	excs, err := compile(excludeGlobs)
	if err != nil {
		return nil, err
	}
	return &Filter{include: incs, exclude: excs}, nil
}

// Match reports whether rel (slash separated) passes the filter.
func (f *Filter) Match(rel string) bool {
	if f == nil {
		return true
	}
	for _, rx := range f.exclude {
		if rx.MatchString(rel) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, rx := range f.include {
		if rx.MatchString(rel) {
			return true
		}
	}
	return false
}

// globToRegex converts a glob into an anchored regular expression.
// '*' and '?' stay within one path segment; '**' crosses segments and
// "**/" also matches no directory at all.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				i++
				if i+1 < len(glob) && glob[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("$")
	return b.String()
}
