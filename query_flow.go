package codeindex

import (
	"context"
	"time"

	"github.com/jward/codeindex/internal/graph"
)

// Trace depth bounds.
const (
	DefaultTraceDepth = 10
	MaxTraceDepth     = 20
)

// TraceOptions tunes TraceDataFlow.
type TraceOptions struct {
	// CodebaseID scopes name matching of the endpoints. Empty searches every
	// codebase.
	CodebaseID string
	// MaxDepth bounds the path length in edges. Zero means 10.
	MaxDepth int
	// Bidirectional also follows edges against their direction.
	Bidirectional bool
	// TimeBudget bounds the search. Zero means the configured budget.
	TimeBudget time.Duration
}

// Step is one entity on a traced path. Via and Location describe the edge
// that led to it and are empty for the first step.
type Step struct {
	EntityID      string           `json:"entity_id"`
	Name          string           `json:"name"`
	QualifiedName string           `json:"qualified_name"`
	Kind          EntityKind       `json:"kind"`
	FilePath      string           `json:"file_path"`
	Line          int              `json:"line"`
	Via           RelationshipKind `json:"via,omitempty"`
	Location      *Location        `json:"location,omitempty"`
	Confidence    float64          `json:"confidence"`
	Reversed      bool             `json:"reversed,omitempty"`
}

// FlowResult is the answer to TraceDataFlow. Confidence is the product of
// the edge confidences along Path, and zero when no path was found.
type FlowResult struct {
	Path       []Step  `json:"path"`
	TotalSteps int     `json:"total_steps"`
	Confidence float64 `json:"confidence"`
	Found      bool    `json:"found"`
	// Truncated is set when the time budget ran out before the search did.
	Truncated bool `json:"truncated"`
}

// flowEdges are the relationship kinds a trace may follow.
var flowEdges = map[RelationshipKind]bool{
	graph.RelDataFlow:  true,
	graph.RelCall:      true,
	graph.RelReference: true,
}

// TraceDataFlow finds the shortest path from start to end over data_flow,
// call and reference edges. Each endpoint is an entity id or a name matched
// like a search term. Cycles are cut by a visited set, so the search always
// ends within MaxDepth levels.
func (e *Engine) TraceDataFlow(ctx context.Context, start, end string, opts TraceOptions) (*FlowResult, error) {
	f := &entityFilter{codebaseID: opts.CodebaseID}
	if opts.CodebaseID != "" {
		if _, err := e.codebase(opts.CodebaseID); err != nil {
			return nil, err
		}
	}
	sn := e.index.Snapshot()
	defer sn.Release()
	return e.traceDataFlow(ctx, sn, f, start, end, opts)
}

func (e *Engine) traceDataFlow(ctx context.Context, sn *graph.Snapshot, f *entityFilter, start, end string, opts TraceOptions) (*FlowResult, error) {
	depth := opts.MaxDepth
	if depth == 0 {
		depth = DefaultTraceDepth
	}
	if depth < 1 || depth > MaxTraceDepth {
		return nil, invalidf("max depth %d outside 1-%d", opts.MaxDepth, MaxTraceDepth)
	}
	budget := opts.TimeBudget
	if budget <= 0 {
		budget = e.cfg.TraceTimeBudget
	}
	deadline := time.Now().Add(budget)

	from, err := e.resolvePoint(sn, f, start)
	if err != nil {
		return nil, err
	}
	to, err := e.resolvePoint(sn, f, end)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		return &FlowResult{Path: []Step{stepFor(from)}, TotalSteps: 1, Confidence: 1, Found: true}, nil
	}

	type arrival struct {
		prev     string
		rel      Relationship
		reversed bool
		depth    int
	}
	visited := map[string]arrival{from.ID: {}}
	queue := []string{from.ID}
	res := &FlowResult{Path: []Step{}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			res.Truncated = true
			return res, nil
		}
		cur := queue[0]
		queue = queue[1:]
		d := visited[cur].depth
		if d >= depth {
			continue
		}

		var edges []Relationship
		edges = append(edges, sn.Outgoing(cur)...)
		nForward := len(edges)
		if opts.Bidirectional {
			edges = append(edges, sn.Incoming(cur)...)
		}
		for i, r := range edges {
			if !flowEdges[r.Kind] || !r.Resolved() {
				continue
			}
			reversed := i >= nForward
			next := r.TargetEntityID
			if reversed {
				next = r.SourceEntityID
			}
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = arrival{prev: cur, rel: r, reversed: reversed, depth: d + 1}
			if next != to.ID {
				queue = append(queue, next)
				continue
			}

			// Walk back from the end to rebuild the path.
			var rev []Step
			conf := 1.0
			for id := to.ID; id != from.ID; id = visited[id].prev {
				a := visited[id]
				ent, _ := sn.Entity(id)
				s := stepFor(ent)
				loc := a.rel.Location
				s.Via, s.Location, s.Confidence, s.Reversed = a.rel.Kind, &loc, a.rel.Confidence, a.reversed
				conf *= a.rel.Confidence
				rev = append(rev, s)
			}
			rev = append(rev, stepFor(from))
			for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
				rev[i], rev[j] = rev[j], rev[i]
			}
			res.Path, res.TotalSteps, res.Confidence, res.Found = rev, len(rev), conf, true
			return res, nil
		}
	}
	return res, nil
}

func stepFor(ent Entity) Step {
	return Step{
		EntityID:      ent.ID,
		Name:          ent.Name,
		QualifiedName: ent.QualifiedName,
		Kind:          ent.Kind,
		FilePath:      ent.FilePath,
		Line:          ent.StartLine,
		Confidence:    1,
	}
}

// resolvePoint matches a trace endpoint: an entity id when it has that
// shape, otherwise the best search hit.
func (e *Engine) resolvePoint(sn *graph.Snapshot, f *entityFilter, point string) (Entity, error) {
	if point == "" {
		return Entity{}, invalidf("trace endpoint is required")
	}
	if graph.ValidID(point) {
		if ent, ok := sn.Entity(point); ok {
			return ent, nil
		}
		return Entity{}, notFoundf("entity %s", point)
	}
	hits := e.search(sn, point, f)
	if len(hits) == 0 {
		return Entity{}, notFoundf("no entity matches %q", point)
	}
	return hits[0].entity, nil
}
