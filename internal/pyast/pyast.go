// Package pyast wraps a tree-sitter Python grammar behind a small typed
// surface so the fixture engine never touches the tree-sitter API directly.
//
// The rest of the fixtures packages depend only on Tree/Node/Walk/NodeText;
// swapping the underlying parser means changing only this package.
package pyast

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// Point is a 0-based (row, column) position, matching tree-sitter's convention.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is one node of a parsed Python syntax tree.
type Node struct {
	n      *tree_sitter.Node
	source []byte
}

// Kind returns the grammar node type, e.g. "function_definition", "decorator".
func (n *Node) Kind() string {
	if n == nil || n.n == nil {
		return ""
	}
	return n.n.Kind()
}

// IsNamed reports whether this node corresponds to a named grammar rule
// rather than anonymous syntax (punctuation, keywords).
func (n *Node) IsNamed() bool {
	if n == nil || n.n == nil {
		return false
	}
	return n.n.IsNamed()
}

// ChildByFieldName returns the child bound to the given grammar field, e.g.
// "name", "parameters", "body", "right", "left".
func (n *Node) ChildByFieldName(name string) *Node {
	if n == nil || n.n == nil {
		return nil
	}
	c := n.n.ChildByFieldName(name)
	if c == nil {
		return nil
	}
	return &Node{n: c, source: n.source}
}

// ChildCount returns the number of direct children, named and anonymous.
func (n *Node) ChildCount() uint {
	if n == nil || n.n == nil {
		return 0
	}
	return n.n.ChildCount()
}

// Child returns the i-th direct child, or nil if out of range.
func (n *Node) Child(i uint) *Node {
	if n == nil || n.n == nil {
		return nil
	}
	c := n.n.Child(i)
	if c == nil {
		return nil
	}
	return &Node{n: c, source: n.source}
}

// NamedChildren returns only the named direct children, in source order.
func (n *Node) NamedChildren() []*Node {
	if n == nil || n.n == nil {
		return nil
	}
	var out []*Node
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if c != nil && c.IsNamed() {
			out = append(out, c)
		}
	}
	return out
}

// Parent returns the enclosing node, or nil at the root.
func (n *Node) Parent() *Node {
	if n == nil || n.n == nil {
		return nil
	}
	p := n.n.Parent()
	if p == nil {
		return nil
	}
	return &Node{n: p, source: n.source}
}

// StartPoint returns the 0-based (row, column) of the node's first byte.
func (n *Node) StartPoint() Point {
	if n == nil || n.n == nil {
		return Point{}
	}
	p := n.n.StartPosition()
	return Point{Row: p.Row, Column: p.Column}
}

// EndPoint returns the 0-based (row, column) just past the node's last byte.
func (n *Node) EndPoint() Point {
	if n == nil || n.n == nil {
		return Point{}
	}
	p := n.n.EndPosition()
	return Point{Row: p.Row, Column: p.Column}
}

// StartByte returns the byte offset of the node's first byte.
func (n *Node) StartByte() uint {
	if n == nil || n.n == nil {
		return 0
	}
	return uint(n.n.StartByte())
}

// EndByte returns the byte offset just past the node's last byte.
func (n *Node) EndByte() uint {
	if n == nil || n.n == nil {
		return 0
	}
	return uint(n.n.EndByte())
}

// Text returns the source text spanned by the node.
func (n *Node) Text() string {
	return NodeText(n, n.source)
}

// NodeText returns the slice of source spanned by node. Safe to call with a
// nil node (returns "").
func NodeText(node *Node, source []byte) string {
	if node == nil || node.n == nil {
		return ""
	}
	start, end := node.n.StartByte(), node.n.EndByte()
	if int(end) > len(source) || start > end {
		return ""
	}
	return string(source[start:end])
}

// Walk performs a depth-first preorder traversal starting at root, calling fn
// on every node including root. If fn returns false, that node's children are
// not visited, matching the teacher-pack "parser.Walk" convention.
func Walk(root *Node, fn func(*Node) bool) {
	if root == nil || root.n == nil {
		return
	}
	if !fn(root) {
		return
	}
	for i := uint(0); i < root.ChildCount(); i++ {
		Walk(root.Child(i), fn)
	}
}

// Tree is a parsed Python syntax tree together with the source it was parsed
// from (spans are byte offsets into this slice).
type Tree struct {
	tree   *tree_sitter.Tree
	Source []byte
}

// RootNode returns the tree's module-level root node.
func (t *Tree) RootNode() *Node {
	if t == nil || t.tree == nil {
		return nil
	}
	return &Node{n: t.tree.RootNode(), source: t.Source}
}

// Close releases the tree's native resources.
func (t *Tree) Close() {
	if t == nil || t.tree == nil {
		return
	}
	t.tree.Close()
}

var languageOnce sync.Once
var pythonLanguage *tree_sitter.Language

func pythonLang() *tree_sitter.Language {
	languageOnce.Do(func() {
		pythonLanguage = tree_sitter.NewLanguage(tree_sitter_python.Language())
	})
	return pythonLanguage
}

// Parser parses Python source into Trees. Not safe for concurrent use by
// multiple goroutines on the same Parser; callers pool or create one per
// worker (see internal/fixtures.Database's parser pool).
type Parser struct {
	p *tree_sitter.Parser
}

// NewParser returns a Parser configured for the Python grammar.
func NewParser() (*Parser, error) {
	p := tree_sitter.NewParser()
	if err := p.SetLanguage(pythonLang()); err != nil {
		return nil, fmt.Errorf("pyast: setting python language: %w", err)
	}
	return &Parser{p: p}, nil
}

// Close releases the parser's native resources.
func (p *Parser) Close() {
	if p == nil || p.p == nil {
		return
	}
	p.p.Close()
}

// Parse parses Python source and returns its syntax tree. A parse failure
// (rather than a merely-error-recovered tree, which tree-sitter tolerates)
// returns a non-nil error; callers treat that as spec's "Parse failure"
// error category.
func (p *Parser) Parse(source []byte) (*Tree, error) {
	tree := p.p.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("pyast: parser returned no tree")
	}
	return &Tree{tree: tree, Source: source}, nil
}
