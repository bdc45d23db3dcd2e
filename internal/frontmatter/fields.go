package frontmatter

import (
	"strings"
	"time"

	"github.com/inful/mdfp"
)

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
}

// Title returns the non-blank title field or fallback.
func Title(fields map[string]any, fallback string) string {
	if s, ok := fields["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return fallback
}

// Date reads a date-valued field. Timestamps decoded by YAML and strings in
// the common layouts are accepted; dates without a zone are UTC.
func Date(fields map[string]any, key string) (time.Time, bool) {
	switch v := fields[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Draft reports whether the document is marked draft: true.
func Draft(fields map[string]any) bool {
	b, _ := fields["draft"].(bool)
	return b
}

// Strings reads a list-of-strings field such as tags. A single string is a
// one element list.
func Strings(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Fingerprint is the content fingerprint of a document: its canonical front
// matter (minus any stored fingerprint) plus body. Equal documents at
// different paths share a fingerprint.
func Fingerprint(fields map[string]any, body []byte) (string, error) {
	hashed := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == mdfp.FingerprintField {
			continue
		}
		hashed[k] = v
	}
	fm, err := Canonical(hashed)
	if err != nil {
		return "", err
	}
	return mdfp.CalculateFingerprintFromParts(strings.TrimSuffix(string(fm), "\n"), string(body)), nil
}
