package codeindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/codeindex/internal/graph"
)

// ReferenceOptions tunes FindReferences.
type ReferenceOptions struct {
	// IncludeDeclaration adds the entity's own definition site.
	IncludeDeclaration bool
	// IncludeIndirect adds import sites of the entity and the usages of those
	// imports, one hop deep.
	IncludeIndirect bool
	// MaxResults caps the references returned. Zero means MaxLimit.
	MaxResults int
}

// Reference is one usage of an entity.
type Reference struct {
	SourceEntityID string           `json:"source_entity_id"`
	SourceName     string           `json:"source_name"`
	ReferenceType  RelationshipKind `json:"reference_type"`
	Location       Location         `json:"location"`
	Confidence     float64          `json:"confidence"`
	// Indirect marks references found through an import alias.
	Indirect bool `json:"indirect,omitempty"`
}

// ReferenceResult is the answer to FindReferences.
type ReferenceResult struct {
	Declaration *Location   `json:"declaration,omitempty"`
	References  []Reference `json:"references"`
	Truncated   bool        `json:"truncated"`
}

// FindReferences returns the usages of an entity, sorted by file, line and
// column. The entity never appears as its own reference.
func (e *Engine) FindReferences(ctx context.Context, entityID string, opts ReferenceOptions) (*ReferenceResult, error) {
	if opts.MaxResults < 0 || opts.MaxResults > MaxLimit {
		return nil, invalidf("max results %d outside 0-%d", opts.MaxResults, MaxLimit)
	}
	sn := e.index.Snapshot()
	defer sn.Release()

	target, err := entityByID(sn, entityID)
	if err != nil {
		return nil, err
	}
	return e.findReferences(ctx, sn, target, opts)
}

func entityByID(sn *graph.Snapshot, id string) (Entity, error) {
	if !graph.ValidID(id) {
		return Entity{}, invalidf("malformed entity id %q", id)
	}
	ent, ok := sn.Entity(id)
	if !ok {
		return Entity{}, notFoundf("entity %s", id)
	}
	return ent, nil
}

func (e *Engine) findReferences(ctx context.Context, sn *graph.Snapshot, target Entity, opts ReferenceOptions) (*ReferenceResult, error) {
	limit := opts.MaxResults
	if limit == 0 {
		limit = MaxLimit
	}
	res := &ReferenceResult{References: []Reference{}}
	if opts.IncludeDeclaration {
		res.Declaration = &Location{FilePath: target.FilePath, Line: target.StartLine}
	}

	seen := make(map[string]bool)
	var refs []Reference
	add := func(r Relationship, indirect bool) {
		if r.SourceEntityID == target.ID || seen[r.ID] {
			return
		}
		seen[r.ID] = true
		ref := Reference{
			SourceEntityID: r.SourceEntityID,
			ReferenceType:  r.Kind,
			Location:       r.Location,
			Confidence:     r.Confidence,
			Indirect:       indirect,
		}
		if src, ok := sn.Entity(r.SourceEntityID); ok {
			ref.SourceName = src.QualifiedName
		}
		refs = append(refs, ref)
	}

	for _, r := range sn.Incoming(target.ID) {
		if r.Kind != graph.RelImport {
			add(r, false)
			continue
		}
		if !opts.IncludeIndirect {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The import site itself, then the usages of the local alias.
		add(r, true)
		for _, via := range sn.Incoming(r.SourceEntityID) {
			if via.Kind != graph.RelImport {
				add(via, true)
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := &refs[i].Location, &refs[j].Location
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return refs[i].ReferenceType < refs[j].ReferenceType
	})
	if len(refs) > limit {
		refs = refs[:limit]
		res.Truncated = true
	}
	if refs != nil {
		res.References = refs
	}
	return res, nil
}

// Call graph direction.
type Direction string

const (
	Callers Direction = "callers"
	Callees Direction = "callees"
)

// maxCallDepth caps CallGraph traversal.
const maxCallDepth = 100

// CallGraph is the transitive call graph rooted at an entity.
type CallGraph struct {
	Root  string          `json:"root"`
	Nodes []CallGraphNode `json:"nodes"`
	Edges []CallGraphEdge `json:"edges"`
	Depth int             `json:"depth"` // deepest level reached
}

// CallGraphNode is an entity in the call graph with its distance from the
// root.
type CallGraphNode struct {
	Entity Entity `json:"entity"`
	Depth  int    `json:"depth"`
}

// CallGraphEdge is one caller-callee relationship.
type CallGraphEdge struct {
	CallerID   string   `json:"caller_id"`
	CalleeID   string   `json:"callee_id"`
	Location   Location `json:"location"`
	Confidence float64  `json:"confidence"`
}

// callEdge reports whether r links a caller to a callee.
func callEdge(r *Relationship) bool {
	return r.Resolved() && (r.Kind == graph.RelCall || r.Kind == graph.RelInstantiate)
}

// CallGraph walks call and instantiate edges from entityID with BFS. A
// maxDepth of 0 returns only the root; depths above 100 are capped.
func (e *Engine) CallGraph(ctx context.Context, entityID string, dir Direction, maxDepth int) (*CallGraph, error) {
	if dir != Callers && dir != Callees {
		return nil, invalidf("unknown direction %q", dir)
	}
	if maxDepth < 0 {
		return nil, invalidf("max depth must be non-negative, got %d", maxDepth)
	}
	maxDepth = min(maxDepth, maxCallDepth)

	sn := e.index.Snapshot()
	defer sn.Release()
	root, err := entityByID(sn, entityID)
	if err != nil {
		return nil, err
	}

	result := &CallGraph{
		Root:  root.ID,
		Nodes: []CallGraphNode{{Entity: root}},
		Edges: []CallGraphEdge{},
	}
	next := func(id string) []Relationship {
		if dir == Callers {
			return sn.Incoming(id)
		}
		return sn.Outgoing(id)
	}

	visited := map[string]int{root.ID: 0}
	queue := []string{root.ID}
	edgeSeen := make(map[string]bool)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("call graph: %w", err)
		}
		cur := queue[0]
		queue = queue[1:]
		depth := visited[cur]
		if depth >= maxDepth {
			continue
		}
		for _, r := range next(cur) {
			if !callEdge(&r) || r.SourceEntityID == r.TargetEntityID {
				continue
			}
			other := r.TargetEntityID
			if dir == Callers {
				other = r.SourceEntityID
			}
			if !edgeSeen[r.ID] {
				edgeSeen[r.ID] = true
				result.Edges = append(result.Edges, CallGraphEdge{
					CallerID:   r.SourceEntityID,
					CalleeID:   r.TargetEntityID,
					Location:   r.Location,
					Confidence: r.Confidence,
				})
			}
			if _, ok := visited[other]; ok {
				continue
			}
			ent, ok := sn.Entity(other)
			if !ok {
				continue
			}
			visited[other] = depth + 1
			result.Depth = max(result.Depth, depth+1)
			result.Nodes = append(result.Nodes, CallGraphNode{Entity: ent, Depth: depth + 1})
			queue = append(queue, other)
		}
	}
	return result, nil
}

// Hotspot is a heavily used entity with its fan-in and fan-out.
type Hotspot struct {
	Entity      Entity `json:"entity"`
	CallerCount int    `json:"caller_count"`
	CalleeCount int    `json:"callee_count"`
}

// Hotspots returns the callable entities of a codebase with the most
// distinct callers, ties broken by fan-out then qualified name.
func (e *Engine) Hotspots(ctx context.Context, codebaseID string, topN int) ([]Hotspot, error) {
	if topN <= 0 || topN > MaxLimit {
		return nil, invalidf("top %d outside 1-%d", topN, MaxLimit)
	}
	if _, err := e.codebase(codebaseID); err != nil {
		return nil, err
	}
	sn := e.index.Snapshot()
	defer sn.Release()

	var out []Hotspot
	for _, ent := range sn.Entities(codebaseID) {
		if !ent.Kind.Callable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := Hotspot{
			Entity:      ent,
			CallerCount: distinctPeers(sn.Incoming(ent.ID), ent.ID, true),
			CalleeCount: distinctPeers(sn.Outgoing(ent.ID), ent.ID, false),
		}
		if h.CallerCount > 0 {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CallerCount != out[j].CallerCount {
			return out[i].CallerCount > out[j].CallerCount
		}
		if out[i].CalleeCount != out[j].CalleeCount {
			return out[i].CalleeCount > out[j].CalleeCount
		}
		return out[i].Entity.QualifiedName < out[j].Entity.QualifiedName
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// distinctPeers counts the distinct entities on the far side of call edges.
func distinctPeers(rels []Relationship, self string, incoming bool) int {
	peers := make(map[string]bool)
	for _, r := range rels {
		if !callEdge(&r) {
			continue
		}
		peer := r.TargetEntityID
		if incoming {
			peer = r.SourceEntityID
		}
		if peer != self {
			peers[peer] = true
		}
	}
	return len(peers)
}
