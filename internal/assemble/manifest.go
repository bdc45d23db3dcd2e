package assemble

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
)

// ManifestEntry is one precached URL.
type ManifestEntry struct {
	URL      string `json:"url"`
	Revision string `json:"revision"`
}

// Manifest is the offline precache manifest.
type Manifest struct {
	// Version changes whenever any entry changes.
	Version string          `json:"version"`
	Entries []ManifestEntry `json:"entries"`
}

// NewManifest lists files, already ordered by path, except those matching
// an exclude pattern.
func NewManifest(files []File, exclude []string) (*Manifest, error) {
	filter, err := scanner.NewFilter(nil, exclude)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPluginOption, "invalid manifest exclude pattern").
			WithContext("plugin", plugin.PluginOffline).Build()
	}
	m := &Manifest{Entries: []ManifestEntry{}}
	version := sha256.New()
	for _, f := range files {
		if !filter.Match(f.Path) {
			continue
		}
		sum := sha256.Sum256(f.Data)
		e := ManifestEntry{URL: "/" + f.Path, Revision: hex.EncodeToString(sum[:])}
		m.Entries = append(m.Entries, e)
		fmt.Fprintf(version, "%s %s\n", e.URL, e.Revision)
	}
	m.Version = hex.EncodeToString(version.Sum(nil))
	return m, nil
}

// JSON encodes the manifest with a trailing newline.
func (m *Manifest) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "encode manifest").Build()
	}
	return append(data, '\n'), nil
}
