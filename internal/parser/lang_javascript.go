package parser

import (
	"path"

	sitter "github.com/smacker/go-tree-sitter"
)

// classifyJS serves JavaScript, TypeScript and TSX. The TypeScript grammars
// extend the JavaScript one, so node types missing from a grammar never
// appear.
func classifyJS(w *walker, n *sitter.Node) []Node {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		return w.declare(RoleFunction, n)

	case "class_declaration", "abstract_class_declaration", "class":
		if n.ChildByFieldName("name") == nil {
			return nil
		}
		return w.declare(RoleClass, n)

	case "method_definition", "method_signature", "abstract_method_signature":
		return w.declare(RoleMethod, n)

	case "interface_declaration":
		return w.declare(RoleInterface, n)

	case "type_alias_declaration":
		return w.declare(RoleType, n)

	case "enum_declaration":
		return w.declare(RoleEnum, n)

	case "variable_declarator":
		return jsDeclarator(w, n)

	case "import_statement":
		return jsImport(w, n)

	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() == "import" {
			return nil
		}
		return w.call(RoleCall, fn)

	case "new_expression":
		return w.call(RoleNew, n.ChildByFieldName("constructor"))

	case "class_heritage":
		// JavaScript: extends <expr>. TypeScript wraps clauses.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			switch n.NamedChild(i).Type() {
			case "extends_clause", "implements_clause":
				return nil
			}
		}
		if n.NamedChildCount() > 0 {
			return w.call(RoleExtends, n.NamedChild(0))
		}
		return nil

	case "extends_clause", "extends_type_clause":
		return w.bases(RoleExtends, n)

	case "implements_clause":
		return w.bases(RoleImplements, n)

	case "assignment_expression", "augmented_assignment_expression":
		return w.write(n.ChildByFieldName("left"))

	case "update_expression":
		return w.write(n.ChildByFieldName("argument"))

	case "return_statement":
		return []Node{{Role: RoleReturn}}

	case "arrow_function", "function_expression", "function", "generator_function":
		if w.claimed[n.StartByte()] {
			return nil
		}
		return []Node{{Role: RoleLambda}}

	case "if_statement":
		if p := n.Parent(); p != nil && p.Type() == "else_clause" {
			return decision(DecisionElseIf)
		}
		return decision(DecisionBranch)

	case "else_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "if_statement" {
				return nil
			}
		}
		return decision(DecisionElse)

	case "for_statement", "for_in_statement", "while_statement", "do_statement":
		return decision(DecisionLoop)

	case "switch_statement":
		return decision(DecisionSwitch)

	case "switch_case":
		return decision(DecisionCase)

	case "catch_clause":
		return decision(DecisionCatch)

	case "ternary_expression":
		return decision(DecisionTernary)

	case "binary_expression":
		return logical(w, n, "&&", "||", "??")
	}
	return nil
}

func jsDeclarator(w *walker, n *sitter.Node) []Node {
	name := n.ChildByFieldName("name")
	if name == nil || name.Type() != "identifier" {
		return nil
	}
	value := n.ChildByFieldName("value")
	if value != nil {
		switch value.Type() {
		case "arrow_function", "function_expression", "function", "generator_function":
			w.suppress(name)
			w.claimed[value.StartByte()] = true
			return []Node{{Role: RoleFunction, Name: w.text(name)}}
		case "call_expression":
			// const x = require('./mod')
			fn := value.ChildByFieldName("function")
			args := value.ChildByFieldName("arguments")
			if fn != nil && w.text(fn) == "require" && args != nil && args.NamedChildCount() == 1 {
				if arg := args.NamedChild(0); arg.Type() == "string" {
					w.suppress(name)
					w.suppress(fn)
					mod := unquote(w.text(arg))
					return []Node{{Role: RoleImport, Name: w.text(name), Module: mod}}
				}
			}
		case "class":
			w.suppress(name)
			return []Node{{Role: RoleClass, Name: w.text(name)}}
		}
	}
	w.suppress(name)
	if !w.topLevel() {
		return nil
	}
	role := RoleVariable
	if p := n.Parent(); p != nil && p.Type() == "lexical_declaration" && p.ChildCount() > 0 && p.Child(0).Type() == "const" {
		role = RoleConstant
	}
	return []Node{{Role: role, Name: w.text(name)}}
}

func jsImport(w *walker, n *sitter.Node) []Node {
	src := n.ChildByFieldName("source")
	if src == nil {
		return nil
	}
	mod := unquote(w.text(src))
	var out []Node
	add := func(name, target, alias string, site *sitter.Node) {
		out = append(out, at(Node{Role: RoleImport, Name: name, Target: target, Alias: alias, Module: mod}, site))
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			switch c.Type() {
			case "identifier":
				// Default exports are usually declared under the local name.
				w.suppress(c)
				add(w.text(c), w.text(c), "", c)
			case "namespace_import":
				if id := lastName(c); id != nil {
					w.suppress(id)
					add(w.text(id), "", "", c)
				}
			case "named_imports":
				for k := 0; k < int(c.NamedChildCount()); k++ {
					spec := c.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := spec.ChildByFieldName("name")
					if name == nil {
						continue
					}
					w.suppress(name)
					target := w.text(name)
					local := target
					alias := ""
					if a := spec.ChildByFieldName("alias"); a != nil {
						w.suppress(a)
						alias = w.text(a)
						local = alias
					}
					add(local, target, alias, spec)
				}
			}
		}
	}
	if len(out) == 0 {
		// Side-effect import.
		out = append(out, Node{Role: RoleImport, Name: path.Base(mod), Module: mod})
	}
	return out
}
