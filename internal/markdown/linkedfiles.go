package markdown

import "github.com/yuin/goldmark/ast"

// rewriteLinkedFiles points links and remaining images at the copied files.
// Destinations without an entry in files are left untouched.
func rewriteLinkedFiles(doc ast.Node, files map[string]string) {
	if len(files) == 0 {
		return
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			if u, ok := files[string(node.Destination)]; ok {
				node.Destination = []byte(u)
			}
		case *ast.Image:
			if u, ok := files[string(node.Destination)]; ok {
				node.Destination = []byte(u)
			}
		}
		return ast.WalkContinue, nil
	})
}
