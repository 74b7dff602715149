package codeindex

import (
	"context"
	"slices"

	"github.com/jward/codeindex/internal/analysis"
	"github.com/jward/codeindex/internal/graph"
)

// Metric types accepted by CheckComplexity.
const (
	MetricCyclomatic      = "cyclomatic"
	MetricCognitive       = "cognitive"
	MetricMaintainability = "maintainability"
	MetricLines           = "lines"
)

// MetricTypes lists every metric type in a stable order.
var MetricTypes = []string{MetricCyclomatic, MetricCognitive, MetricMaintainability, MetricLines}

// ComplexityMetrics are the requested metrics of one entity. Metrics that
// were not requested are nil.
type ComplexityMetrics struct {
	EntityID        string     `json:"entity_id"`
	Name            string     `json:"name"`
	Kind            EntityKind `json:"kind"`
	FilePath        string     `json:"file_path"`
	Cyclomatic      *int       `json:"cyclomatic,omitempty"`
	Cognitive       *int       `json:"cognitive,omitempty"`
	Maintainability *float64   `json:"maintainability,omitempty"`
	LinesOfCode     *int       `json:"lines_of_code,omitempty"`
	CommentLines    *int       `json:"comment_lines,omitempty"`
	// Rating buckets cyclomatic complexity: low, moderate, high or very_high.
	Rating string `json:"rating"`
}

// CheckComplexity returns the metrics of an entity computed when its file
// was indexed. An empty metricTypes returns every metric.
func (e *Engine) CheckComplexity(ctx context.Context, entityID string, metricTypes []string) (*ComplexityMetrics, error) {
	for _, mt := range metricTypes {
		if !slices.Contains(MetricTypes, mt) {
			return nil, invalidf("unknown metric type %q", mt)
		}
	}
	if len(metricTypes) == 0 {
		metricTypes = MetricTypes
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sn := e.index.Snapshot()
	defer sn.Release()
	ent, err := entityByID(sn, entityID)
	if err != nil {
		return nil, err
	}

	m := ent.Metrics
	out := &ComplexityMetrics{
		EntityID: ent.ID,
		Name:     ent.QualifiedName,
		Kind:     ent.Kind,
		FilePath: ent.FilePath,
		Rating:   rating(m.Cyclomatic),
	}
	for _, mt := range metricTypes {
		switch mt {
		case MetricCyclomatic:
			out.Cyclomatic = &m.Cyclomatic
		case MetricCognitive:
			out.Cognitive = &m.Cognitive
		case MetricMaintainability:
			mi := analysis.Maintainability(m)
			out.Maintainability = &mi
		case MetricLines:
			out.LinesOfCode, out.CommentLines = &m.LinesOfCode, &m.CommentLines
		}
	}
	return out, nil
}

func rating(cyclomatic int) string {
	switch {
	case cyclomatic <= 10:
		return "low"
	case cyclomatic <= 20:
		return "moderate"
	case cyclomatic <= 50:
		return "high"
	default:
		return "very_high"
	}
}

// EntityDetail bundles an entity with its edges. One call replaces separate
// entity and adjacency lookups.
type EntityDetail struct {
	Entity   Entity         `json:"entity"`
	Incoming []Relationship `json:"incoming"`
	Outgoing []Relationship `json:"outgoing"`
	// Members are the entities declared inside this one, such as methods
	// of a class.
	Members []Entity `json:"members"`
}

// EntityDetail returns an entity with its incoming and outgoing
// relationships and the entities nested in its span.
func (e *Engine) EntityDetail(ctx context.Context, entityID string) (*EntityDetail, error) {
	sn := e.index.Snapshot()
	defer sn.Release()
	ent, err := entityByID(sn, entityID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := &EntityDetail{
		Entity:   ent,
		Incoming: orEmpty(sn.Incoming(ent.ID)),
		Outgoing: orEmpty(sn.Outgoing(ent.ID)),
		Members:  []Entity{},
	}
	prefix := ent.QualifiedName + "."
	for _, other := range sn.EntitiesByFile(ent.CodebaseID, ent.FilePath) {
		if other.ID == ent.ID || other.Kind == graph.KindImport {
			continue
		}
		if len(other.QualifiedName) > len(prefix) && other.QualifiedName[:len(prefix)] == prefix {
			d.Members = append(d.Members, other)
		}
	}
	return d, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
