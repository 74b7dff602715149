package parser

import (
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

func classifyPython(w *walker, n *sitter.Node) []Node {
	switch n.Type() {
	case "function_definition":
		return w.declare(RoleFunction, n)

	case "class_definition":
		return w.declare(RoleClass, n)

	case "argument_list":
		// Superclasses of a class definition.
		if p := n.Parent(); p != nil && p.Type() == "class_definition" && isField(n, "superclasses") {
			var out []Node
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				if c.Type() != "identifier" && c.Type() != "attribute" {
					continue
				}
				if name := lastName(c); name != nil {
					w.suppress(name)
					out = append(out, at(Node{Role: RoleExtends, Target: w.text(name)}, c))
				}
			}
			return out
		}
		return nil

	case "import_statement":
		var out []Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			mod, alias := pyImportName(w, c)
			if mod == "" {
				continue
			}
			name := alias
			if name == "" {
				name = strings.SplitN(mod, ".", 2)[0]
			}
			out = append(out, at(Node{Role: RoleImport, Name: name, Alias: alias, Module: mod}, c))
		}
		return out

	case "import_from_statement":
		mod := n.ChildByFieldName("module_name")
		if mod == nil {
			return nil
		}
		module := w.text(mod)
		var out []Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if sameNode(c, mod) {
				continue
			}
			if c.Type() == "wildcard_import" {
				out = append(out, at(Node{Role: RoleImport, Name: "*", Module: module}, c))
				continue
			}
			target, alias := pyImportName(w, c)
			if target == "" {
				continue
			}
			name := target
			if alias != "" {
				name = alias
			}
			out = append(out, at(Node{Role: RoleImport, Name: name, Target: target, Alias: alias, Module: module}, c))
		}
		return out

	case "call":
		return w.call(RoleCall, n.ChildByFieldName("function"))

	case "assignment", "augmented_assignment":
		left := n.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			return nil
		}
		if n.Type() == "assignment" && w.topLevel() && !pyInClass(n) {
			w.suppress(left)
			name := w.text(left)
			role := RoleVariable
			if isUpperSnake(name) {
				role = RoleConstant
			}
			return []Node{{Role: role, Name: name}}
		}
		return w.write(left)

	case "return_statement":
		return []Node{{Role: RoleReturn}}

	case "lambda":
		return []Node{{Role: RoleLambda}}

	case "if_statement", "if_clause":
		return decision(DecisionBranch)

	case "elif_clause":
		return decision(DecisionElseIf)

	case "else_clause":
		return decision(DecisionElse)

	case "for_statement", "while_statement", "for_in_clause":
		return decision(DecisionLoop)

	case "match_statement":
		return decision(DecisionSwitch)

	case "case_clause":
		return decision(DecisionCase)

	case "except_clause":
		return decision(DecisionCatch)

	case "conditional_expression":
		return decision(DecisionTernary)

	case "boolean_operator":
		return logical(w, n, "and", "or")
	}
	return nil
}

// pyImportName returns the dotted name and alias of an import item.
func pyImportName(w *walker, n *sitter.Node) (string, string) {
	switch n.Type() {
	case "dotted_name":
		w.suppressAll(n)
		return w.text(n), ""
	case "aliased_import":
		name := n.ChildByFieldName("name")
		alias := n.ChildByFieldName("alias")
		if name == nil {
			return "", ""
		}
		w.suppressAll(n)
		return w.text(name), w.text(alias)
	}
	return "", ""
}

// suppressAll suppresses every identifier under n.
func (w *walker) suppressAll(n *sitter.Node) {
	if n.Type() == "identifier" {
		w.suppress(n)
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.suppressAll(n.NamedChild(i))
	}
}

func pyInClass(n *sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == "class_definition" {
			return true
		}
	}
	return false
}

func isUpperSnake(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	return hasLetter
}
