package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// classifyFunc maps one grammar node to zero or more emitted nodes. The first
// returned node becomes the parent of everything emitted beneath n.
type classifyFunc func(w *walker, n *sitter.Node) []Node

type adapter struct {
	lang     Language
	grammar  *sitter.Language
	classify classifyFunc
}

func (a *adapter) Language() Language { return a.lang }

// Parse builds a SyntaxTree with a fresh tree-sitter parser. Syntax errors
// inside an otherwise parseable file are tolerated.
func (a *adapter) Parse(ctx context.Context, path string, content []byte) (*SyntaxTree, error) {
	if !utf8.Valid(content) {
		return nil, &ParseError{Path: path, Reason: "content is not valid UTF-8"}
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, &ParseError{Path: path, Reason: "binary content"}
	}

	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(a.grammar)

	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	root := tree.RootNode()
	if root == nil || root.Type() == "ERROR" {
		return nil, &ParseError{Path: path, Reason: "unrecognized syntax"}
	}

	st := &SyntaxTree{
		Language: a.lang,
		Path:     path,
		Source:   content,
		Lines:    countLines(content),
	}
	w := &walker{
		src:        content,
		tree:       st,
		classify:   a.classify,
		suppressed: make(map[uint32]bool),
		claimed:    make(map[uint32]bool),
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.walk(root.NamedChild(i), -1, 0)
	}
	return st, nil
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := bytes.Count(src, []byte{'\n'})
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}

// walker emits nodes in document order.
type walker struct {
	src      []byte
	tree     *SyntaxTree
	classify classifyFunc

	// suppressed holds start offsets of identifiers already accounted for
	// as a declaration name, callee or write target.
	suppressed map[uint32]bool
	// claimed holds start offsets of function literals already emitted as
	// named declarations.
	claimed map[uint32]bool
	// scopes counts enclosing callables (declarations and lambdas).
	scopes int
}

func (w *walker) walk(n *sitter.Node, parent, depth int) {
	if n == nil {
		return
	}
	typ := n.Type()

	var emitted []Node
	switch {
	case strings.Contains(typ, "comment"):
		emitted = []Node{{Role: RoleComment}}
	case typ == "identifier" || typ == "type_identifier":
		if !w.suppressed[n.StartByte()] {
			emitted = []Node{{Role: RoleIdentifier, Name: w.text(n)}}
		}
	default:
		emitted = w.classify(w, n)
	}

	next, nextDepth := parent, depth
	for i, e := range emitted {
		if e.Type == "" {
			e.Type = typ
		}
		if e.EndByte == 0 {
			e.StartByte, e.EndByte = int(n.StartByte()), int(n.EndByte())
			e.StartLine, e.EndLine = line(n.StartPoint()), line(n.EndPoint())
			e.StartCol = int(n.StartPoint().Column)
		}
		e.Parent = parent
		e.Depth = depth
		w.tree.Nodes = append(w.tree.Nodes, e)
		if i == 0 {
			next, nextDepth = len(w.tree.Nodes)-1, depth+1
		}
	}

	callable := len(emitted) > 0 && isCallableRole(emitted[0].Role)
	if callable {
		w.scopes++
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), next, nextDepth)
	}
	if callable {
		w.scopes--
	}
}

func isCallableRole(r Role) bool {
	return r == RoleFunction || r == RoleMethod || r == RoleLambda
}

// topLevel reports whether the walker is outside every callable.
func (w *walker) topLevel() bool { return w.scopes == 0 }

func line(p sitter.Point) int { return int(p.Row) + 1 }

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

// suppress marks an identifier so it is not emitted as a read.
func (w *walker) suppress(n *sitter.Node) {
	if n != nil {
		w.suppressed[n.StartByte()] = true
	}
}

// at positions an emitted node at n instead of the node being classified.
func at(e Node, n *sitter.Node) Node {
	e.StartByte, e.EndByte = int(n.StartByte()), int(n.EndByte())
	e.StartLine, e.EndLine = line(n.StartPoint()), line(n.EndPoint())
	e.StartCol = int(n.StartPoint().Column)
	return e
}

// declare emits a declaration named by n's name field.
func (w *walker) declare(role Role, n *sitter.Node) []Node {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	w.suppress(name)
	return []Node{{Role: role, Name: w.text(name)}}
}

var nameTypes = map[string]bool{
	"identifier":          true,
	"type_identifier":     true,
	"field_identifier":    true,
	"property_identifier": true,
	"package_identifier":  true,
	"constant":            true,
}

// lastName returns the right-most name-like node inside an expression such
// as a.b.c, a::b::c or pkg.Type[T]. Type arguments are skipped.
func lastName(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if nameTypes[n.Type()] {
		return n
	}
	switch n.Type() {
	case "type_arguments", "arguments", "argument_list", "type_parameters":
		return nil
	}
	for _, field := range []string{"field", "property", "name", "attribute", "type", "function"} {
		if c := n.ChildByFieldName(field); c != nil {
			if got := lastName(c); got != nil {
				return got
			}
		}
	}
	for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
		if got := lastName(n.NamedChild(i)); got != nil {
			return got
		}
	}
	return nil
}

// call emits a call site for the callee expression fn and suppresses the
// callee name.
func (w *walker) call(role Role, fn *sitter.Node) []Node {
	name := lastName(fn)
	if name == nil {
		return nil
	}
	w.suppress(name)
	return []Node{{Role: role, Target: w.text(name)}}
}

// bases emits one node per base type listed under n.
func (w *walker) bases(role Role, n *sitter.Node) []Node {
	var out []Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		name := lastName(c)
		if name == nil {
			continue
		}
		w.suppress(name)
		out = append(out, at(Node{Role: role, Target: w.text(name)}, c))
	}
	return out
}

// write emits a write when the assignment target is a plain identifier.
func (w *walker) write(left *sitter.Node) []Node {
	for left != nil && left.NamedChildCount() == 1 && !nameTypes[left.Type()] {
		switch left.Type() {
		case "expression_list", "pattern_list", "parenthesized_expression":
			left = left.NamedChild(0)
		default:
			return nil
		}
	}
	if left == nil || left.Type() != "identifier" {
		return nil
	}
	w.suppress(left)
	return []Node{{Role: RoleWrite, Target: w.text(left)}}
}

func logical(w *walker, n *sitter.Node, ops ...string) []Node {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return nil
	}
	s := w.text(op)
	for _, o := range ops {
		if s == o {
			return []Node{{Role: RoleDecision, Decision: DecisionLogical, Operator: s}}
		}
	}
	return nil
}

func decision(d Decision) []Node {
	return []Node{{Role: RoleDecision, Decision: d}}
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() &&
		a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// isField reports whether n is the child of its parent under field.
func isField(n *sitter.Node, field string) bool {
	p := n.Parent()
	return p != nil && sameNode(p.ChildByFieldName(field), n)
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}
