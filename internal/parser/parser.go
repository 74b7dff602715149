// Package parser turns source files into flat syntax trees. Each supported
// language is one variant behind the Adapter interface; all variants share a
// tree-sitter walker and differ only in the table that classifies grammar
// nodes into roles.
package parser

import (
	"context"
	"fmt"
)

// Language is the closed set of supported source languages.
type Language string

const (
	Go         Language = "go"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
	JavaScript Language = "javascript"
	Python     Language = "python"
	Java       Language = "java"
	Rust       Language = "rust"
)

// Languages lists every supported language in a stable order.
var Languages = []Language{Go, TypeScript, TSX, JavaScript, Python, Java, Rust}

// Role classifies an emitted syntax node.
type Role string

// Declaration roles share their values with graph.EntityKind.
const (
	RoleFunction  Role = "function"
	RoleClass     Role = "class"
	RoleMethod    Role = "method"
	RoleVariable  Role = "variable"
	RoleType      Role = "type"
	RoleInterface Role = "interface"
	RoleEnum      Role = "enum"
	RoleConstant  Role = "constant"

	RoleImport     Role = "import"
	RoleImpl       Role = "impl" // method container that is not itself a declaration
	RoleCall       Role = "call"
	RoleNew        Role = "new"
	RoleExtends    Role = "extends"
	RoleImplements Role = "implements"
	RoleIdentifier Role = "identifier"
	RoleWrite      Role = "write"
	RoleReturn     Role = "return"
	RoleLambda     Role = "lambda"
	RoleDecision   Role = "decision"
	RoleComment    Role = "comment"
)

// Declaration reports whether nodes of this role declare an entity.
func (r Role) Declaration() bool {
	switch r {
	case RoleFunction, RoleClass, RoleMethod, RoleVariable, RoleType,
		RoleInterface, RoleEnum, RoleConstant:
		return true
	}
	return false
}

// Container reports whether declarations nested under this role are
// qualified by its name.
func (r Role) Container() bool {
	switch r {
	case RoleClass, RoleInterface, RoleEnum, RoleImpl:
		return true
	}
	return false
}

// Decision is the language-neutral kind of a control-flow decision point.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionBranch  Decision = "branch"
	DecisionElseIf  Decision = "else_if"
	DecisionElse    Decision = "else"
	DecisionLoop    Decision = "loop"
	DecisionSwitch  Decision = "switch"
	DecisionCase    Decision = "case"
	DecisionLogical Decision = "logical"
	DecisionCatch   Decision = "catch"
	DecisionTernary Decision = "ternary"
)

// Node is one emitted syntax node. Nodes are stored in document order and
// link to their nearest emitted ancestor through Parent.
type Node struct {
	Role      Role     `json:"role"`
	Type      string   `json:"type"`
	Name      string   `json:"name,omitempty"`
	StartByte int      `json:"start_byte"`
	EndByte   int      `json:"end_byte"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	StartCol  int      `json:"start_col"`
	Parent    int      `json:"parent"`
	Depth     int      `json:"depth"`
	Decision  Decision `json:"decision,omitempty"`
	Operator  string   `json:"operator,omitempty"`

	// Target is the callee, instantiated type, base type, written name or
	// imported name. Owner is the receiver or impl type of a method.
	Target string `json:"target,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Alias  string `json:"alias,omitempty"`
	Module string `json:"module,omitempty"`
}

// SyntaxTree is the flat result of parsing one file.
type SyntaxTree struct {
	Language Language
	Path     string
	Source   []byte
	Lines    int
	Nodes    []Node
}

// Text returns the source span of n.
func (t *SyntaxTree) Text(n *Node) string {
	if n.StartByte < 0 || n.EndByte > len(t.Source) || n.StartByte > n.EndByte {
		return ""
	}
	return string(t.Source[n.StartByte:n.EndByte])
}

// Children returns the indexes of nodes whose parent is i. Pass -1 for
// top-level nodes.
func (t *SyntaxTree) Children(i int) []int {
	var out []int
	for j := range t.Nodes {
		if t.Nodes[j].Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// Within reports whether node j is a descendant of node i.
func (t *SyntaxTree) Within(j, i int) bool {
	for p := t.Nodes[j].Parent; p >= 0; p = t.Nodes[p].Parent {
		if p == i {
			return true
		}
	}
	return false
}

// Adapter parses files of one language.
type Adapter interface {
	Language() Language
	Parse(ctx context.Context, path string, content []byte) (*SyntaxTree, error)
}

// ParseError reports a file that could not be parsed. The pipeline records it
// and moves on.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}
