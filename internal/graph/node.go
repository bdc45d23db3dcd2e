package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
)

// Node types produced by the built-in plugins.
const (
	TypeFile             = "File"
	TypeMarkdownRemark   = "MarkdownRemark"
	TypeMarkdownHTML     = "MarkdownHTML"
	TypeImageSharp       = "ImageSharp"
	TypeImageDerivative  = "ImageDerivative"
	TypeImagePlaceholder = "ImagePlaceholder"
	TypeStaticFile       = "StaticFile"
	TypeSitePage         = "SitePage"
)

// Well-known Internal keys.
const (
	InternalSourcePath    = "source.path"
	InternalSourceRoot    = "source.root"
	InternalSourceAbs     = "source.abs"
	InternalSourceExt     = "source.ext"
	InternalSourceMTime   = "source.mtime"
	InternalContentDigest = "content.digest"
	InternalOutputPath    = "output.path"
	InternalOutputRole    = "output.role"
	InternalPipelineSteps = "pipeline.steps"
	InternalImageWidth    = "image.width"
	InternalImageHeight   = "image.height"
	InternalImageFormat   = "image.format"
	InternalOwner         = "owner"
)

// Output roles understood by the assembler.
const (
	RolePage  = "page"
	RoleAsset = "asset"
)

// idLength is the number of hex characters kept from the sha256 digest.
const idLength = 32

// Node is an addressable unit of content or derived content.
//
// A node must not be modified after it has been added to a Store; transforms
// create new nodes and link them instead.
type Node struct {
	ID       string
	Type     string
	Content  []byte
	Fields   map[string]any
	Internal map[string]string
	Parent   string

	// Iteration is the fixpoint iteration that produced the node (0 for scanned seeds).
	Iteration int
}

// NodeID computes the deterministic id for a node of typ identified by key.
func NodeID(typ, key string) string {
	h := sha256.New()
	h.Write([]byte(typ))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

// New creates a node with its id derived from typ and key.
func New(typ, key string) *Node {
	return &Node{
		ID:       NodeID(typ, key),
		Type:     typ,
		Fields:   map[string]any{},
		Internal: map[string]string{},
	}
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns an Internal value, or "" when the node or key is missing.
func (n *Node) Get(key string) string {
	if n == nil || n.Internal == nil {
		return ""
	}
	return n.Internal[key]
}

// String returns a field as a string when present.
func (n *Node) String(field string) (string, bool) {
	if n == nil || n.Fields == nil {
		return "", false
	}
	s, ok := n.Fields[field].(string)
	return s, ok
}

// Clone returns a copy that shares no mutable state with n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Content = slices.Clone(n.Content)
	c.Fields = cloneFields(n.Fields)
	c.Internal = maps.Clone(n.Internal)
	if c.Internal == nil {
		c.Internal = map[string]string{}
	}
	return &c
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return slices.Clone(t)
	case []byte:
		return slices.Clone(t)
	default:
		return v
	}
}
