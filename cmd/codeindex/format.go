package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jward/codeindex"
)

// outputResult writes result as indented JSON, or as text with --format text.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case codeindex.IndexJob:
		formatJobsText(w, []codeindex.IndexJob{v})
	case []codeindex.IndexJob:
		formatJobsText(w, v)
	case *codeindex.QueryResponse:
		formatQueryText(w, v)
	case *codeindex.ReferenceResult:
		formatReferencesText(w, v)
	case *codeindex.FlowResult:
		formatFlowText(w, v)
	case *codeindex.CallGraph:
		formatCallGraphText(w, v)
	case *codeindex.TypeHierarchy:
		formatHierarchyText(w, v)
	case *codeindex.ComplexityMetrics:
		formatComplexityText(w, v)
	case *codeindex.DuplicateReport:
		formatDuplicatesText(w, v)
	case *codeindex.AuditReport:
		formatFindingsText(w, v.Findings)
		for _, e := range v.RuleErrors {
			fmt.Fprintf(w, "rule error: %s\n", e)
		}
	case CLIDeps:
		formatDepsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatJobsText(w io.Writer, jobs []codeindex.IndexJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tPROCESSED\tFAILED\tTOTAL")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			j.ID, j.JobType, j.Status, j.Priority, j.FilesProcessed, j.FilesFailed, j.FilesTotal)
	}
	tw.Flush()
}

func formatEntitiesText(w io.Writer, rows []CLIEntity) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tKIND\tNAME\tFILE\tLINE\tID")
	for _, r := range rows {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\t%s\t%d\t%s\n", r.Score, r.Kind, r.QualifiedName, r.File, r.StartLine, r.ID)
	}
	tw.Flush()
}

func formatQueryText(w io.Writer, resp *codeindex.QueryResponse) {
	fmt.Fprintf(w, "intent: %s (%d ms)\n", resp.Intent, resp.ExecutionTimeMS)
	switch r := resp.Result.(type) {
	case codeindex.Matches:
		rows := make([]CLIEntity, len(r.Items))
		for i, m := range r.Items {
			rows[i] = entityToCLI(m.Entity, m.Score)
		}
		formatEntitiesText(w, rows)
	case codeindex.Ambiguous:
		fmt.Fprintf(w, "%q matches %d entities:\n", r.Term, len(r.Candidates))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range r.Candidates {
			fmt.Fprintf(tw, "  %s\t%s\t%s:%d\t%s\n", c.Kind, c.QualifiedName, c.FilePath, c.Line, c.ID)
		}
		tw.Flush()
	case codeindex.Empty:
		fmt.Fprintln(w, r.Reason)
	case codeindex.References:
		fmt.Fprintf(w, "references to %s:\n", r.Target.QualifiedName)
		formatReferencesText(w, &r.Result)
	case codeindex.Flow:
		formatFlowText(w, &r.FlowResult)
	case codeindex.Findings:
		formatFindingsText(w, r.Items)
	}
	if resp.Truncated {
		fmt.Fprintln(w, "(truncated)")
	}
}

func formatReferencesText(w io.Writer, res *codeindex.ReferenceResult) {
	if res.Declaration != nil {
		fmt.Fprintf(w, "declared at %s:%d\n", res.Declaration.FilePath, res.Declaration.Line)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tTYPE\tFROM\tCONFIDENCE")
	for _, r := range res.References {
		kind := string(r.ReferenceType)
		if r.Indirect {
			kind += " (indirect)"
		}
		fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\t%.2f\n",
			r.Location.FilePath, r.Location.Line, r.Location.Column, kind, r.SourceName, r.Confidence)
	}
	tw.Flush()
}

func formatFlowText(w io.Writer, res *codeindex.FlowResult) {
	if !res.Found {
		msg := "no path found"
		if res.Truncated {
			msg += " within the time budget"
		}
		fmt.Fprintln(w, msg)
		return
	}
	fmt.Fprintf(w, "%d steps, confidence %.2f\n", res.TotalSteps, res.Confidence)
	for i, s := range res.Path {
		via := ""
		if s.Via != "" {
			via = fmt.Sprintf(" via %s", s.Via)
			if s.Reversed {
				via += " (reversed)"
			}
		}
		fmt.Fprintf(w, "%2d. %s (%s:%d)%s\n", i+1, s.QualifiedName, s.FilePath, s.Line, via)
	}
}

func formatCallGraphText(w io.Writer, g *codeindex.CallGraph) {
	for _, n := range g.Nodes {
		fmt.Fprintf(w, "%s%s (%s:%d)\n", strings.Repeat("  ", n.Depth), n.Entity.QualifiedName, n.Entity.FilePath, n.Entity.StartLine)
	}
}

func formatHierarchyText(w io.Writer, h *codeindex.TypeHierarchy) {
	fmt.Fprintf(w, "%s %s\n", h.Entity.Kind, h.Entity.QualifiedName)
	sections := []struct {
		title string
		rels  []*codeindex.TypeRelation
	}{
		{"extends", h.Extends},
		{"implements", h.Implements},
		{"extended by", h.ExtendedBy},
		{"implemented by", h.ImplementedBy},
	}
	for _, s := range sections {
		for _, r := range s.rels {
			fmt.Fprintf(w, "  %s %s (%s:%d)\n", s.title, r.Entity.QualifiedName, r.Entity.FilePath, r.Entity.StartLine)
		}
	}
	for _, name := range h.Unresolved {
		fmt.Fprintf(w, "  unresolved parent %s\n", name)
	}
}

func formatComplexityText(w io.Writer, m *codeindex.ComplexityMetrics) {
	fmt.Fprintf(w, "%s (%s)\n", m.Name, m.FilePath)
	if m.Cyclomatic != nil {
		fmt.Fprintf(w, "  cyclomatic:      %d\n", *m.Cyclomatic)
	}
	if m.Cognitive != nil {
		fmt.Fprintf(w, "  cognitive:       %d\n", *m.Cognitive)
	}
	if m.Maintainability != nil {
		fmt.Fprintf(w, "  maintainability: %.1f\n", *m.Maintainability)
	}
	if m.LinesOfCode != nil {
		fmt.Fprintf(w, "  lines:           %d code, %d comment\n", *m.LinesOfCode, *m.CommentLines)
	}
	fmt.Fprintf(w, "  rating:          %s\n", m.Rating)
}

func formatDuplicatesText(w io.Writer, rep *codeindex.DuplicateReport) {
	for i, g := range rep.Groups {
		fmt.Fprintf(w, "group %d (similarity %.2f)\n", i+1, g.Similarity)
		for _, m := range g.Members {
			fmt.Fprintf(w, "  %s:%d-%d %s\n", m.FilePath, m.StartLine, m.EndLine, m.QualifiedName)
		}
	}
	md := rep.Metadata
	fmt.Fprintf(w, "\n%d groups from %d fragments (mode %s, threshold %.2f, min lines %d)\n",
		md.GroupsFound, md.FragmentsScanned, md.Mode, md.Threshold, md.MinLines)
	if md.Truncated {
		fmt.Fprintf(w, "Showing %d of %d groups\n", len(rep.Groups), md.GroupsFound)
	}
}

func formatFindingsText(w io.Writer, findings []codeindex.Finding) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tRULE\tCWE\tLOCATION\tMESSAGE")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\t%s\n", f.Severity, f.Rule, f.CWE, f.FilePath, f.Line, f.Message)
	}
	tw.Flush()
}

func formatDepsText(w io.Writer, d CLIDeps) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tIMPORTS")
	for _, e := range d.Graph.Edges {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", e.FromPackage, e.ToPackage, e.ImportCount)
	}
	tw.Flush()
	for _, c := range d.Cycles {
		fmt.Fprintf(w, "cycle: %s\n", strings.Join(c, " -> "))
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
