// Package plugin describes the configured plugin list: which plugins exist,
// what node types they consume and produce, and the typed option schema of
// each one.
//
// There is no process-wide registry. Resolve turns the ordered entries of a
// configuration file into an ordered descriptor list that callers hand to the
// transform chain and the assembler explicitly.
package plugin

import (
	"fmt"
	"slices"
)

// Kind identifies where in the build a plugin participates.
type Kind string

const (
	// KindSource discovers raw file nodes.
	KindSource Kind = "source"

	// KindTransform derives new nodes from existing ones inside the fixpoint loop.
	KindTransform Kind = "transform"

	// KindService configures a shared service used by transforms.
	KindService Kind = "service"

	// KindOutput selects nodes for an output role during assembly.
	KindOutput Kind = "output"
)

// IsValid returns true if the kind is recognized.
func (k Kind) IsValid() bool {
	switch k {
	case KindSource, KindTransform, KindService, KindOutput:
		return true
	default:
		return false
	}
}

// Plugin names understood by the engine.
const (
	SourceFilesystem  = "source-filesystem"
	TransformerRemark = "transformer-remark"
	TransformerSharp  = "transformer-sharp"
	PluginSharp       = "plugin-sharp"
	CreatePages       = "create-pages"
	PluginFeed        = "plugin-feed"
	PluginOffline     = "plugin-offline"

	RemarkImages           = "remark-images"
	RemarkResponsiveIframe = "remark-responsive-iframe"
	RemarkPrismjs          = "remark-prismjs"
	RemarkCopyLinkedFiles  = "remark-copy-linked-files"
	RemarkSmartypants      = "remark-smartypants"
)

// Options is the typed option value of one plugin. Every plugin has its own
// concrete Options type; a type switch on it is the tagged variant.
type Options interface {
	PluginName() string
}

// Descriptor is one configured plugin.
type Descriptor struct {
	Name     string
	Kind     Kind
	Accepts  []string
	Produces []string
	Options  Options
}

// String returns a human-readable representation of the descriptor.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Kind)
}

// AcceptsType reports whether nodes of typ are consumed by the plugin.
func (d Descriptor) AcceptsType(typ string) bool {
	return slices.Contains(d.Accepts, typ)
}

// Validate checks descriptor invariants.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("invalid plugin kind: %s", d.Kind)
	}
	if d.Kind == KindTransform && len(d.Accepts) == 0 {
		return fmt.Errorf("transform plugin %s accepts no node types", d.Name)
	}
	if d.Options == nil {
		return fmt.Errorf("plugin %s has no options value", d.Name)
	}
	if d.Options.PluginName() != d.Name {
		return fmt.Errorf("plugin %s carries options of %s", d.Name, d.Options.PluginName())
	}
	return nil
}

// Set is the ordered descriptor list of one configuration.
type Set []Descriptor

// Find returns the first descriptor named name.
func (s Set) Find(name string) (Descriptor, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// OfKind returns the descriptors of kind k in declaration order.
func (s Set) OfKind(k Kind) Set {
	var out Set
	for _, d := range s {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// Has reports whether a plugin named name is configured.
func (s Set) Has(name string) bool {
	_, ok := s.Find(name)
	return ok
}
