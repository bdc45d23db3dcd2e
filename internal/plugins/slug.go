package plugins

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, strips diacritics and collapses every run of
// characters outside [a-z0-9] into a single hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// slugPath slugifies every segment of a slash path and drops empty ones.
func slugPath(p string) string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if s := Slugify(seg); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// documentSlug derives the page slug of a document. An explicit slug or path
// front matter field wins; otherwise the source path without extension is
// used, with index documents standing for their directory.
func documentSlug(fields map[string]any, rel string) string {
	for _, key := range []string{"slug", "path"} {
		if s, ok := fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return slugPath(s)
		}
	}
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	if path.Base(stem) == "index" {
		stem = path.Dir(stem)
	}
	return slugPath(stem)
}
