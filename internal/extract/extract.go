// Package extract turns parsed syntax trees into graph entities and
// relationships.
package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/codeindex/internal/analysis"
	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/parser"
)

// ErrNoTree is returned when Extract is called without a syntax tree.
var ErrNoTree = errors.New("no syntax tree")

// Result is everything extracted from one file.
type Result struct {
	Entities      []graph.Entity
	Relationships []graph.Relationship
	// Imports lists the distinct module specifiers the file imports.
	Imports []string
}

// Extract walks tree and produces the file's entities and relationships.
// Targets found in the same file resolve with exact confidence; everything
// else is left unresolved for project-wide resolution.
func Extract(tree *parser.SyntaxTree, codebaseID, filePath string) (*Result, error) {
	if tree == nil {
		return nil, ErrNoTree
	}
	if codebaseID == "" || filePath == "" {
		return nil, fmt.Errorf("extract %s: codebase id and path are required", filePath)
	}
	x := &extractor{
		tree:       tree,
		outline:    analysis.NewOutline(tree),
		codebaseID: codebaseID,
		path:       filePath,
		entityAt:   make(map[int]int),
		ownerOf:    make([]int, len(tree.Nodes)),
		byName:     make(map[string][]int),
		imports:    make(map[string]*parser.Node),
		seenRel:    make(map[string]bool),
	}
	x.declare()
	x.assignOwners()
	x.relate()
	x.resolveLocal()

	res := &Result{Entities: x.entities, Relationships: x.rels}
	seen := make(map[string]bool)
	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		if n.Role == parser.RoleImport && n.Module != "" && !seen[n.Module] {
			seen[n.Module] = true
			res.Imports = append(res.Imports, n.Module)
		}
	}
	sort.Strings(res.Imports)
	return res, nil
}

type extractor struct {
	tree       *parser.SyntaxTree
	outline    *analysis.Outline
	codebaseID string
	path       string

	entities []graph.Entity
	entityAt map[int]int // node index -> entity index
	ownerOf  []int       // node index -> owning entity index, -1 when none
	byName   map[string][]int
	imports  map[string]*parser.Node // local binding -> import node

	rels    []graph.Relationship
	seenRel map[string]bool
}

var roleKind = map[parser.Role]graph.EntityKind{
	parser.RoleFunction:  graph.KindFunction,
	parser.RoleMethod:    graph.KindMethod,
	parser.RoleClass:     graph.KindClass,
	parser.RoleInterface: graph.KindInterface,
	parser.RoleType:      graph.KindType,
	parser.RoleEnum:      graph.KindEnum,
	parser.RoleVariable:  graph.KindVariable,
	parser.RoleConstant:  graph.KindConstant,
	parser.RoleImport:    graph.KindImport,
}

// declare creates one entity per declaration and import node.
func (x *extractor) declare() {
	qnames := make(map[string]int)
	for i := range x.tree.Nodes {
		n := &x.tree.Nodes[i]
		kind, ok := roleKind[n.Role]
		if !ok || n.Name == "" || n.Name == "*" {
			continue
		}
		container := x.container(i)
		if kind == graph.KindFunction && container != "" && x.inTypeBody(i) {
			kind = graph.KindMethod
		}
		if n.Role == parser.RoleImport {
			x.imports[n.Name] = n
		}

		qname := n.Name
		switch {
		case n.Owner != "":
			qname = n.Owner + "." + n.Name
		case container != "":
			qname = container + "." + n.Name
		}
		key := string(kind) + "\x00" + qname
		qnames[key]++
		if c := qnames[key]; c > 1 {
			qname = fmt.Sprintf("%s#%d", qname, c)
		}

		src := x.tree.Text(n)
		e := graph.Entity{
			ID:            graph.EntityID(x.codebaseID, x.path, qname, kind),
			CodebaseID:    x.codebaseID,
			Kind:          kind,
			Name:          n.Name,
			QualifiedName: qname,
			Language:      string(x.tree.Language),
			FilePath:      x.path,
			StartLine:     n.StartLine,
			EndLine:       n.EndLine,
			Signature:     signature(src),
			ContentHash:   graph.ContentHash([]byte(src)),
			Source:        src,
		}
		if n.Role.Declaration() {
			e.Metrics = x.outline.Measure(i)
		}
		x.entityAt[i] = len(x.entities)
		x.byName[n.Name] = append(x.byName[n.Name], len(x.entities))
		x.entities = append(x.entities, e)
	}
}

// container returns the dotted names of the declarations and containers
// enclosing node i.
func (x *extractor) container(i int) string {
	var parts []string
	for p := x.tree.Nodes[i].Parent; p >= 0; p = x.tree.Nodes[p].Parent {
		n := &x.tree.Nodes[p]
		if n.Name == "" || !(n.Role.Declaration() || n.Role.Container()) {
			continue
		}
		name := n.Name
		if n.Owner != "" {
			name = n.Owner + "." + name
		}
		parts = append(parts, name)
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, ".")
}

// inTypeBody reports whether the nearest enclosing declaration of node i is a
// type container rather than a callable.
func (x *extractor) inTypeBody(i int) bool {
	for p := x.tree.Nodes[i].Parent; p >= 0; p = x.tree.Nodes[p].Parent {
		r := x.tree.Nodes[p].Role
		switch {
		case r.Container():
			return true
		case r == parser.RoleFunction || r == parser.RoleMethod || r == parser.RoleLambda:
			return false
		}
	}
	return false
}

// assignOwners maps every node to its nearest enclosing entity.
func (x *extractor) assignOwners() {
	for i := range x.tree.Nodes {
		x.ownerOf[i] = -1
		if e, ok := x.entityAt[i]; ok {
			x.ownerOf[i] = e
			continue
		}
		if p := x.tree.Nodes[i].Parent; p >= 0 {
			x.ownerOf[i] = x.ownerOf[p]
		}
	}
}

// add records a relationship from entity src and returns its index, or -1
// when nothing was recorded.
func (x *extractor) add(src int, kind graph.RelationshipKind, target, module string, n *parser.Node) int {
	if src < 0 || target == "" {
		return -1
	}
	source := &x.entities[src]
	loc := graph.Location{FilePath: x.path, Line: n.StartLine, Column: n.StartCol + 1}
	id := graph.RelationshipID(source.ID, kind, target, loc)
	if x.seenRel[id] {
		return -1
	}
	x.seenRel[id] = true
	x.rels = append(x.rels, graph.Relationship{
		ID:             id,
		SourceEntityID: source.ID,
		TargetName:     target,
		Kind:           kind,
		Location:       loc,
		TargetModule:   module,
	})
	return len(x.rels) - 1
}

// link records a relationship between two entities of this file.
func (x *extractor) link(src, dst int, kind graph.RelationshipKind, n *parser.Node) {
	if r := x.add(src, kind, x.entities[dst].Name, "", n); r >= 0 {
		x.rels[r].TargetEntityID = x.entities[dst].ID
		x.rels[r].Confidence = graph.ConfidenceExact
	}
}

// viaImport maps a local name bound by an import to the imported name and
// module. Imports that bind a whole module have no target.
func (x *extractor) viaImport(name string) (string, string, bool) {
	imp, ok := x.imports[name]
	if !ok || imp.Target == "" {
		return "", "", false
	}
	return imp.Target, imp.Module, true
}

// relate emits relationships for every site node.
func (x *extractor) relate() {
	nodes := x.tree.Nodes
	for i := range nodes {
		n := &nodes[i]
		owner := x.ownerOf[i]
		switch n.Role {
		case parser.RoleCall, parser.RoleNew:
			kind := graph.RelCall
			if n.Role == parser.RoleNew {
				kind = graph.RelInstantiate
			}
			target, module := n.Target, ""
			if t, m, ok := x.viaImport(n.Target); ok {
				target, module = t, m
			}
			x.add(owner, kind, target, module, n)
			if p := n.Parent; p >= 0 {
				switch parent := &nodes[p]; parent.Role {
				case parser.RoleCall:
					// The inner result feeds the outer call.
					outer, outerModule := parent.Target, ""
					if t, m, ok := x.viaImport(outer); ok {
						outer, outerModule = t, m
					}
					x.add(owner, graph.RelDataFlow, outer, outerModule, n)
				case parser.RoleReturn:
					x.add(owner, graph.RelDataFlow, target, module, n)
				}
			}

		case parser.RoleExtends, parser.RoleImplements:
			kind := graph.RelExtend
			if n.Role == parser.RoleImplements {
				kind = graph.RelImplement
			}
			target, module := n.Target, ""
			if t, m, ok := x.viaImport(n.Target); ok {
				target, module = t, m
			}
			x.add(owner, kind, target, module, n)

		case parser.RoleImpl:
			if n.Target == "" {
				continue
			}
			for _, e := range x.byName[n.Name] {
				switch x.entities[e].Kind {
				case graph.KindClass, graph.KindEnum, graph.KindType:
					target, module := n.Target, ""
					if t, m, ok := x.viaImport(n.Target); ok {
						target, module = t, m
					}
					x.add(e, graph.RelImplement, target, module, n)
				}
			}

		case parser.RoleImport:
			if n.Target != "" {
				x.add(owner, graph.RelImport, n.Target, n.Module, n)
			}

		case parser.RoleWrite:
			if v := x.variable(n.Target, owner); v >= 0 && owner >= 0 {
				x.link(owner, v, graph.RelWrite, n)
				x.link(owner, v, graph.RelDataFlow, n)
			} else if t, m, ok := x.viaImport(n.Target); ok {
				x.add(owner, graph.RelWrite, t, m, n)
				x.add(owner, graph.RelDataFlow, t, m, n)
			}

		case parser.RoleIdentifier:
			x.identifier(owner, n)
		}
	}
}

// identifier emits reads of module-level variables and references to other
// named entities.
func (x *extractor) identifier(owner int, n *parser.Node) {
	if owner < 0 {
		return
	}
	if v := x.variable(n.Name, owner); v >= 0 {
		x.link(owner, v, graph.RelRead, n)
		x.link(v, owner, graph.RelDataFlow, n)
		return
	}
	for _, e := range x.byName[n.Name] {
		if e == owner || x.entities[e].Kind == graph.KindImport {
			continue
		}
		x.add(owner, graph.RelReference, n.Name, "", n)
		return
	}
	if t, m, ok := x.viaImport(n.Name); ok {
		x.add(owner, graph.RelReference, t, m, n)
	}
}

// variable returns the in-file variable or constant named name, other than
// the owner itself.
func (x *extractor) variable(name string, owner int) int {
	for _, e := range x.byName[name] {
		if e == owner {
			continue
		}
		switch x.entities[e].Kind {
		case graph.KindVariable, graph.KindConstant:
			return e
		}
	}
	return -1
}

// resolveLocal resolves relationships whose target is declared in the same
// file. Relationships declared through an import are resolved project-wide.
func (x *extractor) resolveLocal() {
	index := make(map[string]int, len(x.entities))
	for i := range x.entities {
		index[x.entities[i].ID] = i
	}
	for i := range x.rels {
		r := &x.rels[i]
		if r.TargetModule != "" || r.Kind == graph.RelImport {
			continue
		}
		if r.Resolved() {
			continue
		}
		src := index[r.SourceEntityID]
		best := -1
		for _, e := range x.byName[r.TargetName] {
			if e == src && r.Kind != graph.RelCall {
				continue
			}
			if !graph.CompatibleTarget(r.Kind, x.entities[e].Kind) {
				continue
			}
			if best < 0 || x.closer(src, e, best) {
				best = e
			}
		}
		if best >= 0 {
			r.TargetEntityID = x.entities[best].ID
			r.Confidence = graph.ConfidenceExact
		}
	}
}

// closer reports whether candidate a shares a longer qualified-name prefix
// with the source than candidate b.
func (x *extractor) closer(src, a, b int) bool {
	q := x.entities[src].QualifiedName
	return commonPrefix(q, x.entities[a].QualifiedName) > commonPrefix(q, x.entities[b].QualifiedName)
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// signature returns the declaration header: the first line of the span
// without the body opener.
func signature(src string) string {
	line := src
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, "{")
	return strings.TrimSpace(line)
}
