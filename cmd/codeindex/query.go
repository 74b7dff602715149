package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/codeindex"
)

var (
	flagCodebase string
	flagKinds    []string
	flagFiles    []string
	flagLimit    int
	flagRefLimit int
	flagGroups   int
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Ask the index a free-form question",
	Long: `Classifies the text as find_function, find_usage, trace_flow, security_audit
or explain_code and answers it. Examples:

  codeindex query "find function getUserById"
  codeindex query "who calls parseConfig"
  codeindex query "trace from readInput to writeOutput"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagCodebase, "codebase", "", "restrict to this codebase id")
	queryCmd.Flags().StringSliceVar(&flagKinds, "kind", nil, "entity kinds to consider (repeatable)")
	queryCmd.Flags().StringSliceVar(&flagFiles, "file", nil, "file globs to consider (repeatable)")
	queryCmd.Flags().IntVar(&flagLimit, "limit", codeindex.DefaultLimit, "maximum results (max 1000)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("query", err)
	}
	defer e.Close()

	kinds := make([]codeindex.EntityKind, len(flagKinds))
	for i, k := range flagKinds {
		kinds[i] = codeindex.EntityKind(k)
	}
	resp, err := e.Query(cmd.Context(), codeindex.QueryRequest{
		Text:    strings.Join(args, " "),
		Filters: codeindex.QueryFilters{CodebaseID: flagCodebase, FilePatterns: flagFiles, Kinds: kinds},
		Limit:   flagLimit,
	})
	if err != nil {
		return outputError("query", err)
	}
	return outputResult(CLIResult{Command: "query", Results: resp})
}

var (
	flagDeclaration bool
	flagIndirect    bool
)

var refsCmd = &cobra.Command{
	Use:   "refs <entity-id>",
	Short: "List the references to an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefs,
}

func init() {
	refsCmd.Flags().BoolVar(&flagDeclaration, "declaration", false, "include the declaration site")
	refsCmd.Flags().BoolVar(&flagIndirect, "indirect", false, "follow one hop through imports")
	refsCmd.Flags().IntVar(&flagRefLimit, "limit", 0, "maximum references (0 = 1000)")
}

func runRefs(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("refs", err)
	}
	defer e.Close()
	res, err := e.FindReferences(cmd.Context(), args[0], codeindex.ReferenceOptions{
		IncludeDeclaration: flagDeclaration,
		IncludeIndirect:    flagIndirect,
		MaxResults:         flagRefLimit,
	})
	if err != nil {
		return outputError("refs", err)
	}
	n := len(res.References)
	return outputResult(CLIResult{Command: "refs", Results: res, TotalCount: &n})
}

var (
	flagTraceDepth    int
	flagCallDepth     int
	flagBidirectional bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <from> <to>",
	Short: "Find a data-flow path between two entities",
	Long:  "Each endpoint is an entity id or a name matched like a search term.",
	Args:  cobra.ExactArgs(2),
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().IntVar(&flagTraceDepth, "max-depth", codeindex.DefaultTraceDepth, "maximum path length (1-20)")
	traceCmd.Flags().BoolVar(&flagBidirectional, "bidirectional", false, "also follow edges backwards")
	traceCmd.Flags().StringVar(&flagCodebase, "codebase", "", "restrict endpoint matching to this codebase id")
}

func runTrace(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("trace", err)
	}
	defer e.Close()
	res, err := e.TraceDataFlow(cmd.Context(), args[0], args[1], codeindex.TraceOptions{
		CodebaseID:    flagCodebase,
		MaxDepth:      flagTraceDepth,
		Bidirectional: flagBidirectional,
	})
	if err != nil {
		return outputError("trace", err)
	}
	return outputResult(CLIResult{Command: "trace", Results: res})
}

var flagCallers bool

var callsCmd = &cobra.Command{
	Use:   "calls <entity-id>",
	Short: "Walk the call graph from an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runCalls,
}

func init() {
	callsCmd.Flags().BoolVar(&flagCallers, "callers", false, "walk callers instead of callees")
	callsCmd.Flags().IntVar(&flagCallDepth, "max-depth", 3, "maximum depth (0 = root only)")
}

func runCalls(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("calls", err)
	}
	defer e.Close()
	dir := codeindex.Callees
	if flagCallers {
		dir = codeindex.Callers
	}
	g, err := e.CallGraph(cmd.Context(), args[0], dir, flagCallDepth)
	if err != nil {
		return outputError("calls", err)
	}
	return outputResult(CLIResult{Command: "calls", Results: g})
}

var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy <entity-id>",
	Short: "Show what a type extends and implements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngineCwd()
		if err != nil {
			return outputError("hierarchy", err)
		}
		defer e.Close()
		h, err := e.TypeHierarchy(cmd.Context(), args[0])
		if err != nil {
			return outputError("hierarchy", err)
		}
		return outputResult(CLIResult{Command: "hierarchy", Results: h})
	},
}

var flagMetrics []string

var complexityCmd = &cobra.Command{
	Use:   "complexity <entity-id>",
	Short: "Report complexity metrics of an entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplexity,
}

func init() {
	complexityCmd.Flags().StringSliceVar(&flagMetrics, "metric", nil, "cyclomatic|cognitive|maintainability|lines (repeatable, default all)")
}

func runComplexity(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("complexity", err)
	}
	defer e.Close()
	m, err := e.CheckComplexity(cmd.Context(), args[0], flagMetrics)
	if err != nil {
		return outputError("complexity", err)
	}
	return outputResult(CLIResult{Command: "complexity", Results: m})
}

var (
	flagMode             string
	flagThreshold        float64
	flagMinLines         int
	flagIgnoreWhitespace bool
	flagIgnoreComments   bool
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find duplicated functions and methods",
	Args:  cobra.NoArgs,
	RunE:  runDuplicates,
}

func init() {
	f := duplicatesCmd.Flags()
	f.StringVar(&flagMode, "mode", codeindex.ModeExact, "exact|similar")
	f.Float64Var(&flagThreshold, "threshold", 0, "similarity threshold (default 1.0 exact, 0.7 similar)")
	f.IntVar(&flagMinLines, "min-lines", codeindex.DefaultMinLines, "shortest span considered")
	f.BoolVar(&flagIgnoreWhitespace, "ignore-whitespace", false, "compare with whitespace collapsed")
	f.BoolVar(&flagIgnoreComments, "ignore-comments", false, "compare with comments removed")
	f.StringVar(&flagCodebase, "codebase", "", "restrict to this codebase id")
	f.StringSliceVar(&flagFiles, "file", nil, "file globs to consider (repeatable)")
	f.IntVar(&flagGroups, "limit", codeindex.DefaultMaxGroups, "maximum groups")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("duplicates", err)
	}
	defer e.Close()
	rep, err := e.FindDuplicates(cmd.Context(), codeindex.DuplicateOptions{
		CodebaseID:          flagCodebase,
		Mode:                flagMode,
		SimilarityThreshold: flagThreshold,
		MinLines:            flagMinLines,
		IgnoreWhitespace:    flagIgnoreWhitespace,
		IgnoreComments:      flagIgnoreComments,
		FilePatterns:        flagFiles,
		MaxGroups:           flagGroups,
	})
	if err != nil {
		return outputError("duplicates", err)
	}
	n := rep.Metadata.GroupsFound
	return outputResult(CLIResult{Command: "duplicates", Results: rep, TotalCount: &n})
}

var flagCWE string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the security rules over the index",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&flagCWE, "cwe", "", "only findings with this CWE id, e.g. CWE-78")
	auditCmd.Flags().StringVar(&flagCodebase, "codebase", "", "restrict to this codebase id")
	auditCmd.Flags().StringSliceVar(&flagFiles, "file", nil, "file globs to consider (repeatable)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	e, err := openEngineCwd()
	if err != nil {
		return outputError("audit", err)
	}
	defer e.Close()
	rep, err := e.SecurityAudit(cmd.Context(), codeindex.AuditOptions{
		CodebaseID:   flagCodebase,
		FilePatterns: flagFiles,
		CWE:          flagCWE,
	})
	if err != nil {
		return outputError("audit", err)
	}
	n := len(rep.Findings)
	return outputResult(CLIResult{Command: "audit", Results: rep, TotalCount: &n})
}

var depsCmd = &cobra.Command{
	Use:   "deps [path]",
	Short: "Show the directory dependency graph of a codebase and its cycles",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeps,
}

// CLIDeps pairs the dependency graph with its cycles.
type CLIDeps struct {
	Graph  *codeindex.DependencyGraph `json:"graph"`
	Cycles [][]string                 `json:"cycles"`
}

func runDeps(cmd *cobra.Command, args []string) error {
	target, err := resolveTargetDir(args)
	if err != nil {
		return outputError("deps", err)
	}
	e, err := openEngine(target)
	if err != nil {
		return outputError("deps", err)
	}
	defer e.Close()
	cb, err := e.CodebaseByRoot(target)
	if err != nil {
		return outputError("deps", err)
	}
	g, err := e.PackageDependencyGraph(cmd.Context(), cb.ID)
	if err != nil {
		return outputError("deps", err)
	}
	cycles, err := e.CircularDependencies(cmd.Context(), cb.ID)
	if err != nil {
		return outputError("deps", err)
	}
	return outputResult(CLIResult{Command: "deps", Results: CLIDeps{Graph: g, Cycles: cycles}})
}
