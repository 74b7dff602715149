package codeindex

import (
	"context"

	"github.com/jward/codeindex/internal/analysis"
	"github.com/jward/codeindex/internal/graph"
)

// Duplicate detection modes.
const (
	ModeExact   = "exact"
	ModeSimilar = "similar"
)

// Duplicate detection defaults.
const (
	DefaultSimilarThreshold = 0.7
	DefaultMinLines         = 3
	DefaultMaxGroups        = 100
)

// DuplicateOptions tunes FindDuplicates.
type DuplicateOptions struct {
	CodebaseID string
	// Mode is exact (the default) or similar.
	Mode string
	// SimilarityThreshold in (0, 1]. Zero means 1.0 in exact mode and 0.7 in
	// similar mode. Exact mode accepts only 1.0.
	SimilarityThreshold float64
	// MinLines is the shortest span considered. Zero means 3.
	MinLines         int
	IgnoreWhitespace bool
	IgnoreComments   bool
	// Kinds defaults to functions and methods.
	Kinds        []EntityKind
	FilePatterns []string
	// MaxGroups caps the groups returned. Zero means 100.
	MaxGroups int
}

// DuplicateMember is one span of a duplicate group.
type DuplicateMember struct {
	EntityID      string `json:"entity_id"`
	QualifiedName string `json:"qualified_name"`
	FilePath      string `json:"file_path"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
}

// DuplicateGroup is a set of mutually similar spans. Similarity is the
// lowest confirmed pairwise similarity in the group.
type DuplicateGroup struct {
	Similarity float64           `json:"similarity"`
	Members    []DuplicateMember `json:"members"`
}

// DuplicateMetadata describes how a duplicate search ran.
type DuplicateMetadata struct {
	Mode               string  `json:"mode"`
	Threshold          float64 `json:"threshold"`
	MinLines           int     `json:"min_lines"`
	FragmentsScanned   int     `json:"fragments_scanned"`
	GroupsFound        int     `json:"groups_found"`
	DuplicatedEntities int     `json:"duplicated_entities"`
	Truncated          bool    `json:"truncated"`
	Version            uint64  `json:"version"`
}

// DuplicateReport is the answer to FindDuplicates.
type DuplicateReport struct {
	Groups   []DuplicateGroup  `json:"groups"`
	Metadata DuplicateMetadata `json:"metadata"`
}

// FindDuplicates groups entities with duplicated bodies. Groups are merged
// transitively, hold at least two distinct spans and are ordered largest
// first. Lowering the threshold never loses a group found at a higher one.
func (e *Engine) FindDuplicates(ctx context.Context, opts DuplicateOptions) (*DuplicateReport, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeExact
	}
	threshold := opts.SimilarityThreshold
	switch mode {
	case ModeExact:
		if threshold == 0 {
			threshold = 1
		}
		if threshold != 1 {
			return nil, invalidf("exact mode requires threshold 1.0, got %g", threshold)
		}
	case ModeSimilar:
		if threshold == 0 {
			threshold = DefaultSimilarThreshold
		}
		if threshold <= 0 || threshold > 1 {
			return nil, invalidf("similarity threshold %g outside (0, 1]", threshold)
		}
	default:
		return nil, invalidf("unknown duplicate mode %q", opts.Mode)
	}
	minLines := opts.MinLines
	if minLines < 0 {
		return nil, invalidf("min lines must be non-negative, got %d", minLines)
	}
	if minLines == 0 {
		minLines = DefaultMinLines
	}
	maxGroups := opts.MaxGroups
	if maxGroups < 0 || maxGroups > MaxLimit {
		return nil, invalidf("max groups %d outside 0-%d", maxGroups, MaxLimit)
	}
	if maxGroups == 0 {
		maxGroups = DefaultMaxGroups
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []EntityKind{graph.KindFunction, graph.KindMethod}
	}
	f, err := e.buildFilter(QueryFilters{CodebaseID: opts.CodebaseID, FilePatterns: opts.FilePatterns, Kinds: kinds})
	if err != nil {
		return nil, err
	}

	sn := e.index.Snapshot()
	defer sn.Release()

	var ents []Entity
	var frags []analysis.Fragment
	for _, ent := range sn.Entities(f.codebaseID) {
		if !f.keep(&ent) || ent.Source == "" {
			continue
		}
		ents = append(ents, ent)
		frags = append(frags, analysis.Fragment{
			ID:        ent.ID,
			Path:      ent.FilePath,
			StartLine: ent.StartLine,
			EndLine:   ent.EndLine,
			Source:    ent.Source,
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := analysis.FindDuplicates(frags, analysis.DuplicateOptions{
		Threshold:        threshold,
		MinLines:         minLines,
		IgnoreWhitespace: opts.IgnoreWhitespace,
		IgnoreComments:   opts.IgnoreComments,
	})

	report := &DuplicateReport{
		Groups: []DuplicateGroup{},
		Metadata: DuplicateMetadata{
			Mode:             mode,
			Threshold:        threshold,
			MinLines:         minLines,
			FragmentsScanned: len(frags),
			GroupsFound:      len(groups),
			Version:          sn.Version(),
		},
	}
	for _, g := range groups {
		report.Metadata.DuplicatedEntities += len(g.Members)
	}
	if len(groups) > maxGroups {
		groups = groups[:maxGroups]
		report.Metadata.Truncated = true
	}
	for _, g := range groups {
		dg := DuplicateGroup{Similarity: g.Similarity}
		for _, m := range g.Members {
			ent := &ents[m]
			dg.Members = append(dg.Members, DuplicateMember{
				EntityID:      ent.ID,
				QualifiedName: ent.QualifiedName,
				FilePath:      ent.FilePath,
				StartLine:     ent.StartLine,
				EndLine:       ent.EndLine,
			})
		}
		report.Groups = append(report.Groups, dg)
	}
	return report, nil
}
