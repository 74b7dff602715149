package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

func classifyJava(w *walker, n *sitter.Node) []Node {
	switch n.Type() {
	case "class_declaration", "record_declaration":
		return w.declare(RoleClass, n)

	case "interface_declaration", "annotation_type_declaration":
		return w.declare(RoleInterface, n)

	case "enum_declaration":
		return w.declare(RoleEnum, n)

	case "method_declaration", "constructor_declaration":
		return w.declare(RoleMethod, n)

	case "superclass":
		return w.bases(RoleExtends, n)

	case "super_interfaces", "extends_interfaces":
		role := RoleImplements
		if n.Type() == "extends_interfaces" {
			role = RoleExtends
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "type_list" {
				return w.bases(role, c)
			}
		}
		return w.bases(role, n)

	case "field_declaration", "constant_declaration":
		role := RoleVariable
		mods := ""
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "modifiers" {
				mods = w.text(c)
			}
		}
		if n.Type() == "constant_declaration" || (strings.Contains(mods, "static") && strings.Contains(mods, "final")) {
			role = RoleConstant
		}
		var out []Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() != "variable_declarator" {
				continue
			}
			if name := c.ChildByFieldName("name"); name != nil {
				w.suppress(name)
				out = append(out, at(Node{Role: role, Name: w.text(name)}, n))
			}
		}
		return out

	case "local_variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "variable_declarator" {
				w.suppress(c.ChildByFieldName("name"))
			}
		}
		return nil

	case "import_declaration":
		var path *sitter.Node
		wildcard := false
		for i := 0; i < int(n.NamedChildCount()); i++ {
			switch c := n.NamedChild(i); c.Type() {
			case "scoped_identifier", "identifier":
				path = c
			case "asterisk":
				wildcard = true
			}
		}
		if path == nil {
			return nil
		}
		w.suppressAll(path)
		full := w.text(path)
		if wildcard {
			return []Node{{Role: RoleImport, Name: "*", Module: full}}
		}
		mod, name := full, full
		if i := strings.LastIndex(full, "."); i >= 0 {
			mod, name = full[:i], full[i+1:]
		}
		return []Node{{Role: RoleImport, Name: name, Target: name, Module: mod}}

	case "method_invocation":
		name := n.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		w.suppress(name)
		return []Node{{Role: RoleCall, Target: w.text(name)}}

	case "object_creation_expression":
		return w.call(RoleNew, n.ChildByFieldName("type"))

	case "assignment_expression":
		return w.write(n.ChildByFieldName("left"))

	case "update_expression":
		if n.NamedChildCount() > 0 {
			return w.write(n.NamedChild(0))
		}
		return nil

	case "return_statement":
		return []Node{{Role: RoleReturn}}

	case "lambda_expression":
		return []Node{{Role: RoleLambda}}

	case "if_statement":
		if p := n.Parent(); p != nil && p.Type() == "if_statement" && isField(n, "alternative") {
			return decision(DecisionElseIf)
		}
		return decision(DecisionBranch)

	case "block":
		if p := n.Parent(); p != nil && p.Type() == "if_statement" && isField(n, "alternative") {
			return decision(DecisionElse)
		}
		return nil

	case "for_statement", "enhanced_for_statement", "while_statement", "do_statement":
		return decision(DecisionLoop)

	case "switch_expression", "switch_statement":
		return decision(DecisionSwitch)

	case "switch_label":
		if strings.HasPrefix(strings.TrimSpace(w.text(n)), "default") {
			return nil
		}
		return decision(DecisionCase)

	case "catch_clause":
		return decision(DecisionCatch)

	case "ternary_expression":
		return decision(DecisionTernary)

	case "binary_expression":
		return logical(w, n, "&&", "||")
	}
	return nil
}
