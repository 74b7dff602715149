package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

func classifyRust(w *walker, n *sitter.Node) []Node {
	switch n.Type() {
	case "function_item", "function_signature_item":
		return w.declare(RoleFunction, n)

	case "struct_item", "union_item":
		return w.declare(RoleClass, n)

	case "enum_item":
		return w.declare(RoleEnum, n)

	case "trait_item":
		return w.declare(RoleInterface, n)

	case "type_item":
		return w.declare(RoleType, n)

	case "const_item":
		if !w.topLevel() {
			return nil
		}
		return w.declare(RoleConstant, n)

	case "static_item":
		if !w.topLevel() {
			return nil
		}
		return w.declare(RoleVariable, n)

	case "impl_item":
		typ := lastName(n.ChildByFieldName("type"))
		if typ == nil {
			return nil
		}
		w.suppress(typ)
		e := Node{Role: RoleImpl, Name: w.text(typ)}
		if trait := lastName(n.ChildByFieldName("trait")); trait != nil {
			w.suppress(trait)
			e.Target = w.text(trait)
		}
		return []Node{e}

	case "use_declaration":
		var out []Node
		rustUse(w, n.ChildByFieldName("argument"), "", &out)
		return out

	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn != nil && fn.Type() == "scoped_identifier" {
			// Type::new(..) constructs Type.
			name := fn.ChildByFieldName("name")
			if path := fn.ChildByFieldName("path"); name != nil && path != nil && w.text(name) == "new" {
				if typ := lastName(path); typ != nil {
					w.suppress(name)
					w.suppress(typ)
					return []Node{{Role: RoleNew, Target: w.text(typ)}}
				}
			}
		}
		return w.call(RoleCall, fn)

	case "struct_expression":
		return w.call(RoleNew, n.ChildByFieldName("name"))

	case "assignment_expression", "compound_assignment_expr":
		return w.write(n.ChildByFieldName("left"))

	case "let_declaration":
		if p := n.ChildByFieldName("pattern"); p != nil && p.Type() == "identifier" {
			w.suppress(p)
		}
		return nil

	case "return_expression":
		return []Node{{Role: RoleReturn}}

	case "closure_expression":
		return []Node{{Role: RoleLambda}}

	case "if_expression", "if_let_expression":
		if p := n.Parent(); p != nil && p.Type() == "else_clause" {
			return decision(DecisionElseIf)
		}
		return decision(DecisionBranch)

	case "else_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			switch n.NamedChild(i).Type() {
			case "if_expression", "if_let_expression":
				return nil
			}
		}
		return decision(DecisionElse)

	case "for_expression", "while_expression", "while_let_expression", "loop_expression":
		return decision(DecisionLoop)

	case "match_expression":
		return decision(DecisionSwitch)

	case "match_arm":
		return decision(DecisionCase)

	case "binary_expression":
		return logical(w, n, "&&", "||")
	}
	return nil
}

// rustUse flattens a use tree into import nodes.
func rustUse(w *walker, n *sitter.Node, prefix string, out *[]Node) {
	if n == nil {
		return
	}
	join := func(a, b string) string {
		if a == "" {
			return b
		}
		if b == "" {
			return a
		}
		return a + "::" + b
	}
	switch n.Type() {
	case "identifier", "crate", "self", "super":
		w.suppressAll(n)
		name := w.text(n)
		*out = append(*out, at(Node{Role: RoleImport, Name: name, Target: name, Module: rustModule(prefix)}, n))
	case "scoped_identifier":
		w.suppressAll(n)
		name := n.ChildByFieldName("name")
		path := n.ChildByFieldName("path")
		if name == nil {
			return
		}
		mod := prefix
		if path != nil {
			mod = join(prefix, w.text(path))
		}
		*out = append(*out, at(Node{Role: RoleImport, Name: w.text(name), Target: w.text(name), Module: rustModule(mod)}, n))
	case "use_as_clause":
		w.suppressAll(n)
		p := n.ChildByFieldName("path")
		alias := n.ChildByFieldName("alias")
		if p == nil || alias == nil {
			return
		}
		target, mod := w.text(p), prefix
		if i := strings.LastIndex(target, "::"); i >= 0 {
			mod = join(prefix, target[:i])
			target = target[i+2:]
		}
		*out = append(*out, at(Node{Role: RoleImport, Name: w.text(alias), Target: target, Alias: w.text(alias), Module: rustModule(mod)}, n))
	case "scoped_use_list":
		p := n.ChildByFieldName("path")
		if p != nil {
			w.suppressAll(p)
			prefix = join(prefix, w.text(p))
		}
		rustUse(w, n.ChildByFieldName("list"), prefix, out)
	case "use_list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			rustUse(w, n.NamedChild(i), prefix, out)
		}
	case "use_wildcard":
		w.suppressAll(n)
		*out = append(*out, at(Node{Role: RoleImport, Name: "*", Module: rustModule(join(prefix, strings.TrimSuffix(w.text(n), "::*")))}, n))
	}
}

// rustModule converts a use path to a slash path usable as a resolution
// hint. crate, self and super prefixes carry no location.
func rustModule(p string) string {
	var parts []string
	for _, seg := range strings.Split(p, "::") {
		switch seg {
		case "", "crate", "self", "super":
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/")
}
