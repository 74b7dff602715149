package codeindex

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/rules"
)

// auditKinds are the entity kinds security rules run against.
var auditKinds = map[EntityKind]bool{
	graph.KindFunction: true,
	graph.KindMethod:   true,
	graph.KindVariable: true,
	graph.KindConstant: true,
}

// AuditOptions scope SecurityAudit.
type AuditOptions struct {
	CodebaseID   string
	FilePatterns []string
	// CWE keeps only findings with this identifier, e.g. "CWE-78".
	CWE string
}

// AuditReport is the answer to SecurityAudit.
type AuditReport struct {
	Findings   []Finding `json:"findings"`
	RuleErrors []string  `json:"rule_errors,omitempty"`
	Rules      []string  `json:"rules"`
}

// SecurityAudit runs every loaded rule over the functions, methods,
// variables and constants in scope. Findings are sorted by severity, then
// file and line.
func (e *Engine) SecurityAudit(ctx context.Context, opts AuditOptions) (*AuditReport, error) {
	f, err := e.buildFilter(QueryFilters{CodebaseID: opts.CodebaseID, FilePatterns: opts.FilePatterns})
	if err != nil {
		return nil, err
	}
	sn := e.index.Snapshot()
	defer sn.Release()

	findings, ruleErrs, err := e.audit(ctx, sn, f)
	if err != nil {
		return nil, err
	}
	if opts.CWE != "" {
		kept := findings[:0]
		for _, fd := range findings {
			if strings.EqualFold(fd.CWE, opts.CWE) {
				kept = append(kept, fd)
			}
		}
		findings = kept
	}
	return &AuditReport{Findings: orEmpty(findings), RuleErrors: ruleErrs, Rules: e.rules.Rules()}, nil
}

func (e *Engine) audit(ctx context.Context, sn *graph.Snapshot, f *entityFilter) ([]Finding, []string, error) {
	type site struct {
		rule, file string
		line       int
	}
	seen := make(map[site]bool)
	errSeen := make(map[string]bool)
	var findings []Finding
	var ruleErrs []string

	for _, ent := range sn.Entities(f.codebaseID) {
		if !auditKinds[ent.Kind] || !f.keep(&ent) {
			continue
		}
		got, err := e.rules.Evaluate(ctx, rules.Target{
			EntityID:  ent.ID,
			Name:      ent.Name,
			Kind:      string(ent.Kind),
			Language:  ent.Language,
			FilePath:  ent.FilePath,
			StartLine: ent.StartLine,
			Source:    ent.Source,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			if msg := err.Error(); !errSeen[msg] {
				errSeen[msg] = true
				ruleErrs = append(ruleErrs, msg)
				e.logger.Warn("security rule failed", "entity_id", ent.ID, "error", err)
			}
		}
		for _, fd := range got {
			k := site{fd.Rule, fd.FilePath, fd.Line}
			if seen[k] {
				continue
			}
			seen[k] = true
			findings = append(findings, fd)
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if ra, rb := rules.SeverityRank(a.Severity), rules.SeverityRank(b.Severity); ra != rb {
			return ra > rb
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})
	return findings, ruleErrs, nil
}
