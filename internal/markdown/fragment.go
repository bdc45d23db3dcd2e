package markdown

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// KindFragment and KindBlockFragment mark nodes whose HTML was produced by a
// rewrite step and is written out verbatim.
var (
	KindFragment      = ast.NewNodeKind("Fragment")
	KindBlockFragment = ast.NewNodeKind("BlockFragment")
)

// Fragment is inline pre-rendered HTML.
type Fragment struct {
	ast.BaseInline
	Raw []byte
}

// Kind implements ast.Node.
func (n *Fragment) Kind() ast.NodeKind { return KindFragment }

// Dump implements ast.Node.
func (n *Fragment) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Raw": string(n.Raw)}, nil)
}

// BlockFragment is block level pre-rendered HTML.
type BlockFragment struct {
	ast.BaseBlock
	Raw []byte
}

// Kind implements ast.Node.
func (n *BlockFragment) Kind() ast.NodeKind { return KindBlockFragment }

// Dump implements ast.Node.
func (n *BlockFragment) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Raw": string(n.Raw)}, nil)
}

type fragmentRenderer struct{}

func (fragmentRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindFragment, renderFragment)
	reg.Register(KindBlockFragment, renderFragment)
}

func renderFragment(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	switch f := n.(type) {
	case *Fragment:
		_, _ = w.Write(f.Raw)
	case *BlockFragment:
		_, _ = w.Write(f.Raw)
		_ = w.WriteByte('\n')
	}
	return ast.WalkSkipChildren, nil
}

// replace swaps old for n under old's parent.
func replace(old, n ast.Node) {
	if p := old.Parent(); p != nil {
		p.ReplaceChild(p, old, n)
	}
}
