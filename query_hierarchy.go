package codeindex

import (
	"context"
	"sort"

	"github.com/jward/codeindex/internal/graph"
)

// TypeRelation is one link in a type hierarchy.
type TypeRelation struct {
	Entity     Entity           `json:"entity"`
	Kind       RelationshipKind `json:"kind"` // extend or implement
	Confidence float64          `json:"confidence"`
}

// TypeHierarchy is the hierarchy view of one type.
type TypeHierarchy struct {
	Entity        Entity          `json:"entity"`
	Extends       []*TypeRelation `json:"extends"`        // parent types
	ExtendedBy    []*TypeRelation `json:"extended_by"`    // subtypes
	Implements    []*TypeRelation `json:"implements"`     // interfaces this type implements
	ImplementedBy []*TypeRelation `json:"implemented_by"` // types implementing this interface
	// Unresolved lists parent names that no indexed entity matched.
	Unresolved []string `json:"unresolved,omitempty"`
}

// TypeHierarchy returns what a type extends and implements and what extends
// or implements it, from resolved extend and implement edges.
func (e *Engine) TypeHierarchy(ctx context.Context, entityID string) (*TypeHierarchy, error) {
	sn := e.index.Snapshot()
	defer sn.Release()
	ent, err := entityByID(sn, entityID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &TypeHierarchy{
		Entity:        ent,
		Extends:       []*TypeRelation{},
		ExtendedBy:    []*TypeRelation{},
		Implements:    []*TypeRelation{},
		ImplementedBy: []*TypeRelation{},
	}
	for _, r := range sn.Outgoing(ent.ID) {
		if r.Kind != graph.RelExtend && r.Kind != graph.RelImplement {
			continue
		}
		if !r.Resolved() {
			h.Unresolved = append(h.Unresolved, r.TargetName)
			continue
		}
		parent, ok := sn.Entity(r.TargetEntityID)
		if !ok {
			continue
		}
		rel := &TypeRelation{Entity: parent, Kind: r.Kind, Confidence: r.Confidence}
		if r.Kind == graph.RelExtend {
			h.Extends = append(h.Extends, rel)
		} else {
			h.Implements = append(h.Implements, rel)
		}
	}
	for _, r := range sn.Incoming(ent.ID) {
		if r.Kind != graph.RelExtend && r.Kind != graph.RelImplement {
			continue
		}
		child, ok := sn.Entity(r.SourceEntityID)
		if !ok {
			continue
		}
		rel := &TypeRelation{Entity: child, Kind: r.Kind, Confidence: r.Confidence}
		if r.Kind == graph.RelExtend {
			h.ExtendedBy = append(h.ExtendedBy, rel)
		} else {
			h.ImplementedBy = append(h.ImplementedBy, rel)
		}
	}
	for _, rels := range [][]*TypeRelation{h.Extends, h.ExtendedBy, h.Implements, h.ImplementedBy} {
		sortRelations(rels)
	}
	sort.Strings(h.Unresolved)
	return h, nil
}

func sortRelations(rels []*TypeRelation) {
	sort.Slice(rels, func(i, j int) bool {
		a, b := &rels[i].Entity, &rels[j].Entity
		if a.QualifiedName != b.QualifiedName {
			return a.QualifiedName < b.QualifiedName
		}
		return a.FilePath < b.FilePath
	})
}
