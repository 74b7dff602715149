package parser

import (
	"path"

	sitter "github.com/smacker/go-tree-sitter"
)

func classifyGo(w *walker, n *sitter.Node) []Node {
	switch n.Type() {
	case "function_declaration":
		return w.declare(RoleFunction, n)

	case "method_declaration":
		out := w.declare(RoleMethod, n)
		if len(out) == 0 {
			return nil
		}
		if recv := n.ChildByFieldName("receiver"); recv != nil && recv.NamedChildCount() > 0 {
			if typ := lastName(recv.NamedChild(0).ChildByFieldName("type")); typ != nil {
				w.suppress(typ)
				out[0].Owner = w.text(typ)
			}
		}
		return out

	case "method_elem", "method_spec":
		return w.declare(RoleMethod, n)

	case "type_spec", "type_alias":
		role := RoleType
		if t := n.ChildByFieldName("type"); t != nil && n.Type() == "type_spec" {
			switch t.Type() {
			case "struct_type":
				role = RoleClass
			case "interface_type":
				role = RoleInterface
			}
		}
		return w.declare(role, n)

	case "const_spec", "var_spec":
		role := RoleVariable
		if n.Type() == "const_spec" {
			role = RoleConstant
		}
		var out []Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() != "identifier" {
				continue
			}
			w.suppress(c)
			if w.topLevel() && w.text(c) != "_" {
				out = append(out, at(Node{Role: role, Name: w.text(c)}, n))
			}
		}
		return out

	case "import_spec":
		p := n.ChildByFieldName("path")
		if p == nil {
			return nil
		}
		mod := unquote(w.text(p))
		e := Node{Role: RoleImport, Module: mod, Name: path.Base(mod)}
		if alias := n.ChildByFieldName("name"); alias != nil {
			e.Alias = w.text(alias)
			e.Name = e.Alias
		}
		return []Node{e}

	case "call_expression":
		return w.call(RoleCall, n.ChildByFieldName("function"))

	case "composite_literal":
		t := n.ChildByFieldName("type")
		if t == nil {
			return nil
		}
		switch t.Type() {
		case "type_identifier", "qualified_type", "generic_type":
			return w.call(RoleNew, t)
		}
		return nil

	case "field_declaration":
		if n.ChildByFieldName("name") == nil {
			if t := n.ChildByFieldName("type"); t != nil {
				return w.call(RoleExtends, t)
			}
		}
		return nil

	case "type_elem", "constraint_elem":
		if n.NamedChildCount() == 1 {
			return w.call(RoleExtends, n.NamedChild(0))
		}
		return nil

	case "assignment_statement":
		return w.write(n.ChildByFieldName("left"))

	case "inc_statement", "dec_statement":
		return w.write(n.NamedChild(0))

	case "short_var_declaration":
		if left := n.ChildByFieldName("left"); left != nil {
			for i := 0; i < int(left.NamedChildCount()); i++ {
				w.suppress(left.NamedChild(i))
			}
		}
		return nil

	case "return_statement":
		return []Node{{Role: RoleReturn}}

	case "func_literal":
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

	case "for_statement":
		return decision(DecisionLoop)

	case "expression_switch_statement", "type_switch_statement", "select_statement":
		return decision(DecisionSwitch)

	case "expression_case", "type_case", "communication_case":
		return decision(DecisionCase)

	case "binary_expression":
		return logical(w, n, "&&", "||")
	}
	return nil
}
