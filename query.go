package codeindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jward/codeindex/internal/analysis"
	"github.com/jward/codeindex/internal/graph"
)

// Query limits.
const (
	DefaultLimit  = 10
	MaxLimit      = 1000
	maxCandidates = 20
)

// Intent is the purpose a query was classified as.
type Intent string

const (
	IntentFindFunction  Intent = "find_function"
	IntentFindUsage     Intent = "find_usage"
	IntentTraceFlow     Intent = "trace_flow"
	IntentSecurityAudit Intent = "security_audit"
	IntentExplainCode   Intent = "explain_code"
)

// Lexical cues, checked in this order.
var (
	traceCue    = regexp.MustCompile(`(?i)\btrace\b|\bflows?\b|\bfrom\s+\S+\s+to\s+\S+`)
	usageCue    = regexp.MustCompile(`(?i)\bused\s+(?:by|in)\b|\bwho\s+calls\b|\bcallers?\s+of\b|\busages?\s+of\b|\breferences?\s+to\b|\bwhere\s+is\s+\S+\s+used\b`)
	securityCue = regexp.MustCompile(`(?i)vulnerab|\bsecurity\b|\bcwe\b|\bcwe-\d+|\binsecure\b|\binjection\b`)
	explainCue  = regexp.MustCompile(`(?i)\bwhere\b|\bexplain\b|\bhow\b|\bwhat\s+does\b`)
	findCue     = regexp.MustCompile(`(?i)\bfind\s+(function|class|method|type|interface|enum|constant|variable)\b`)

	fromToRe = regexp.MustCompile(`(?i)\bfrom\s+(\S+)\s+to\s+(\S+)`)
	arrowRe  = regexp.MustCompile(`(\S+)\s*(?:->|=>)\s*(\S+)`)
	cweRe    = regexp.MustCompile(`(?i)\bcwe-(\d+)\b`)
)

// ClassifyIntent maps query text to an intent using lexical cues only.
func ClassifyIntent(text string) Intent {
	switch {
	case traceCue.MatchString(text):
		return IntentTraceFlow
	case usageCue.MatchString(text):
		return IntentFindUsage
	case securityCue.MatchString(text):
		return IntentSecurityAudit
	case explainCue.MatchString(text):
		return IntentExplainCode
	default:
		return IntentFindFunction
	}
}

// queryWords are cue words removed when extracting the subject of a query.
var queryWords = map[string]bool{
	"find": true, "function": true, "class": true, "method": true, "type": true,
	"interface": true, "enum": true, "constant": true, "variable": true,
	"who": true, "calls": true, "call": true, "callers": true, "caller": true,
	"used": true, "by": true, "in": true, "usage": true, "usages": true, "of": true,
	"references": true, "reference": true, "to": true, "where": true, "is": true,
	"explain": true, "how": true, "does": true, "what": true, "the": true, "a": true,
	"an": true, "show": true, "me": true, "work": true, "works": true, "defined": true,
	"trace": true, "flow": true, "flows": true, "data": true, "from": true,
	"search": true, "for": true, "named": true, "called": true, "?": true,
}

// subject strips cue words from text, keeping the words that name code.
func subject(text string) string {
	var kept []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, "?!,;\"'`()")
		if w == "" || queryWords[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// kindHint narrows "find class X" style queries to the named kinds.
func kindHint(text string) []EntityKind {
	m := findCue.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	switch strings.ToLower(m[1]) {
	case "function", "method":
		return []EntityKind{graph.KindFunction, graph.KindMethod}
	case "class":
		return []EntityKind{graph.KindClass}
	case "type":
		return []EntityKind{graph.KindType, graph.KindClass, graph.KindInterface, graph.KindEnum}
	case "interface":
		return []EntityKind{graph.KindInterface}
	case "enum":
		return []EntityKind{graph.KindEnum}
	case "constant":
		return []EntityKind{graph.KindConstant}
	case "variable":
		return []EntityKind{graph.KindVariable}
	}
	return nil
}

// QueryFilters restrict the entities a query considers.
type QueryFilters struct {
	CodebaseID   string       `json:"codebase_id,omitempty"`
	FilePatterns []string     `json:"file_patterns,omitempty"` // globs over codebase-relative paths
	Kinds        []EntityKind `json:"kinds,omitempty"`
}

// QueryRequest is a free-form query.
type QueryRequest struct {
	Text    string       `json:"text"`
	Filters QueryFilters `json:"filters"`
	Limit   int          `json:"limit,omitempty"` // default 10, at most 1000
}

// ResultType tags the variants of QueryResult.
type ResultType string

const (
	ResultMatches    ResultType = "matches"
	ResultAmbiguous  ResultType = "multiple_matches"
	ResultEmpty      ResultType = "empty"
	ResultReferences ResultType = "references"
	ResultFlow       ResultType = "flow"
	ResultFindings   ResultType = "findings"
)

// QueryResult is one of Matches, Ambiguous, Empty, References, Flow or
// Findings.
type QueryResult interface {
	Type() ResultType
	isQueryResult()
}

// Match is one ranked entity.
type Match struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`

	// Set for explain_code queries.
	Incoming        *int     `json:"incoming,omitempty"`
	Outgoing        *int     `json:"outgoing,omitempty"`
	Maintainability *float64 `json:"maintainability,omitempty"`
}

// Matches is a ranked list of entities.
type Matches struct {
	Items []Match `json:"items"`
}

// Candidate is one entity offered for disambiguation.
type Candidate struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Kind          EntityKind `json:"kind"`
	FilePath      string     `json:"file_path"`
	Line          int        `json:"line"`
}

// Ambiguous reports that a bare identifier matched several unrelated
// entities.
type Ambiguous struct {
	Term       string      `json:"term"`
	Candidates []Candidate `json:"candidates"`
	Truncated  bool        `json:"truncated"`
}

// Empty reports a query with nothing to return.
type Empty struct {
	Reason string `json:"reason"`
}

// References are the usages of the best match of a find_usage query.
type References struct {
	Target Entity          `json:"target"`
	Result ReferenceResult `json:"result"`
}

// Flow is the outcome of a trace_flow query.
type Flow struct {
	FlowResult
}

// Findings are security rule results.
type Findings struct {
	Items []Finding `json:"items"`
	// RuleErrors lists rules that failed to evaluate.
	RuleErrors []string `json:"rule_errors,omitempty"`
}

func (Matches) Type() ResultType    { return ResultMatches }
func (Ambiguous) Type() ResultType  { return ResultAmbiguous }
func (Empty) Type() ResultType      { return ResultEmpty }
func (References) Type() ResultType { return ResultReferences }
func (Flow) Type() ResultType       { return ResultFlow }
func (Findings) Type() ResultType   { return ResultFindings }

func (Matches) isQueryResult()    {}
func (Ambiguous) isQueryResult()  {}
func (Empty) isQueryResult()      {}
func (References) isQueryResult() {}
func (Flow) isQueryResult()       {}
func (Findings) isQueryResult()   {}

// QueryResponse is the answer to a QueryRequest.
type QueryResponse struct {
	Intent          Intent      `json:"intent"`
	Result          QueryResult `json:"result"`
	ExecutionTimeMS int64       `json:"execution_time_ms"`
	Truncated       bool        `json:"truncated"`
	Version         uint64      `json:"version"`
}

// MarshalJSON adds the result_type tag next to the result.
func (r QueryResponse) MarshalJSON() ([]byte, error) {
	type plain QueryResponse
	var rt ResultType
	if r.Result != nil {
		rt = r.Result.Type()
	}
	return json.Marshal(struct {
		plain
		ResultType ResultType `json:"result_type"`
	}{plain(r), rt})
}

// Query classifies req.Text, runs the matching lookup against one snapshot
// and returns ranked results. Ambiguous identifiers, empty results and
// unreachable flows are normal responses, not errors.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, invalidf("query text is required")
	}
	if req.Limit < 0 || req.Limit > MaxLimit {
		return nil, invalidf("limit %d outside 0-%d", req.Limit, MaxLimit)
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	filter, err := e.buildFilter(req.Filters)
	if err != nil {
		return nil, err
	}

	sn := e.index.Snapshot()
	defer sn.Release()

	key := cacheKey(sn.Version(), text, req.Filters, limit)
	if cached, ok := e.queryCache.Get(key); ok {
		e.recordLocality(cached.seen)
		resp := *cached.resp
		resp.Result = cloneResult(resp.Result)
		resp.ExecutionTimeMS = time.Since(start).Milliseconds()
		return &resp, nil
	}

	intent := ClassifyIntent(text)
	if len(filter.kinds) == 0 {
		if hint := kindHint(text); hint != nil {
			filter.kinds = kindSet(hint)
		}
	}
	resp := &QueryResponse{Intent: intent, Version: sn.Version()}
	q := &queryRun{e: e, sn: sn, ctx: ctx, text: text, filter: filter, limit: limit, resp: resp}

	switch intent {
	case IntentTraceFlow:
		err = q.traceFlow()
	case IntentFindUsage:
		err = q.findUsage()
	case IntentSecurityAudit:
		err = q.securityAudit()
	case IntentExplainCode:
		err = q.explain()
	default:
		err = q.findFunction()
	}
	if err != nil {
		return nil, err
	}
	e.recordLocality(q.seen)
	resp.ExecutionTimeMS = time.Since(start).Milliseconds()
	e.queryCache.Add(key, cachedQuery{resp: resp, seen: q.seen})
	out := *resp
	out.Result = cloneResult(resp.Result)
	return &out, nil
}

// cachedQuery is a query cache entry.
type cachedQuery struct {
	resp *QueryResponse
	seen []Entity
}

// cloneResult copies r so callers cannot reach a cached entry's slices or
// pointers.
func cloneResult(r QueryResult) QueryResult {
	switch v := r.(type) {
	case Matches:
		items := make([]Match, len(v.Items))
		for i, m := range v.Items {
			m.Incoming = clonePtr(m.Incoming)
			m.Outgoing = clonePtr(m.Outgoing)
			m.Maintainability = clonePtr(m.Maintainability)
			items[i] = m
		}
		return Matches{Items: items}
	case Ambiguous:
		v.Candidates = slices.Clone(v.Candidates)
		return v
	case References:
		v.Result.Declaration = clonePtr(v.Result.Declaration)
		v.Result.References = slices.Clone(v.Result.References)
		return v
	case Flow:
		path := make([]Step, len(v.Path))
		for i, st := range v.Path {
			st.Location = clonePtr(st.Location)
			path[i] = st
		}
		v.Path = path
		return v
	case Findings:
		v.Items = slices.Clone(v.Items)
		v.RuleErrors = slices.Clone(v.RuleErrors)
		return v
	}
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (e *Engine) buildFilter(f QueryFilters) (*entityFilter, error) {
	out := &entityFilter{codebaseID: f.CodebaseID}
	if f.CodebaseID != "" {
		if _, err := e.codebase(f.CodebaseID); err != nil {
			return nil, err
		}
	}
	for _, k := range f.Kinds {
		if !k.Valid() {
			return nil, invalidf("unknown entity kind %q", k)
		}
	}
	if len(f.Kinds) > 0 {
		out.kinds = kindSet(f.Kinds)
	}
	globs, err := compileGlobs(f.FilePatterns)
	if err != nil {
		return nil, err
	}
	out.globs = globs
	return out, nil
}

func kindSet(kinds []EntityKind) map[EntityKind]bool {
	m := make(map[EntityKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func cacheKey(version uint64, text string, f QueryFilters, limit int) string {
	patterns := append([]string(nil), f.FilePatterns...)
	sort.Strings(patterns)
	kinds := make([]string, len(f.Kinds))
	for i, k := range f.Kinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	// Case matters for exact-name ranking.
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s\x00%s\x00%s\x00%d",
		version, norm, text, f.CodebaseID, strings.Join(patterns, ","), strings.Join(kinds, ","), limit)
}

// queryRun carries one query's state through its intent handler.
type queryRun struct {
	e      *Engine
	sn     *graph.Snapshot
	ctx    context.Context
	text   string
	filter *entityFilter
	limit  int
	resp   *QueryResponse
	seen   []Entity // entities returned to the caller, for locality
}

func (q *queryRun) term() string {
	if s := subject(q.text); s != "" {
		return s
	}
	return q.text
}

// ambiguous returns the disambiguation result when term is a bare
// identifier whose exact matches are unrelated entities.
func ambiguous(term string, hits []hit) *Ambiguous {
	if !isIdentifier(term) {
		return nil
	}
	var exact []Entity
	related := make(map[string]bool)
	for _, h := range hits {
		if h.entity.Name != term {
			continue
		}
		key := h.entity.FilePath + "\x00" + stripOrdinal(h.entity.QualifiedName)
		if related[key] {
			continue
		}
		related[key] = true
		exact = append(exact, h.entity)
	}
	if len(exact) < 2 {
		return nil
	}
	out := &Ambiguous{Term: term}
	for i, ent := range exact {
		if i == maxCandidates {
			out.Truncated = true
			break
		}
		out.Candidates = append(out.Candidates, Candidate{
			ID:            ent.ID,
			Name:          ent.Name,
			QualifiedName: ent.QualifiedName,
			Kind:          ent.Kind,
			FilePath:      ent.FilePath,
			Line:          ent.StartLine,
		})
	}
	return out
}

// stripOrdinal drops the #n suffix that separates same-named declarations
// in one file.
func stripOrdinal(qname string) string {
	if i := strings.LastIndexByte(qname, '#'); i > 0 {
		return qname[:i]
	}
	return qname
}

func (q *queryRun) matches(hits []hit) []Match {
	if len(hits) > q.limit {
		hits = hits[:q.limit]
		q.resp.Truncated = true
	}
	out := make([]Match, len(hits))
	ents := make([]Entity, len(hits))
	for i, h := range hits {
		out[i] = Match{Entity: h.entity, Score: h.score}
		ents[i] = h.entity
	}
	q.seen = append(q.seen, ents...)
	return out
}

func (q *queryRun) findFunction() error {
	term := q.term()
	hits := q.e.search(q.sn, term, q.filter)
	if len(hits) == 0 {
		q.resp.Result = Empty{Reason: fmt.Sprintf("no entity matches %q", term)}
		return nil
	}
	if amb := ambiguous(term, hits); amb != nil {
		q.resp.Result = *amb
		return nil
	}
	q.resp.Result = Matches{Items: q.matches(hits)}
	return nil
}

func (q *queryRun) explain() error {
	term := q.term()
	hits := q.e.search(q.sn, term, q.filter)
	if len(hits) == 0 {
		q.resp.Result = Empty{Reason: fmt.Sprintf("no entity matches %q", term)}
		return nil
	}
	items := q.matches(hits)
	for i := range items {
		ent := &items[i].Entity
		in, out := countEdges(q.sn.Incoming(ent.ID), ent.ID), countEdges(q.sn.Outgoing(ent.ID), ent.ID)
		items[i].Incoming, items[i].Outgoing = &in, &out
		if ent.Kind.Callable() {
			mi := analysis.Maintainability(ent.Metrics)
			items[i].Maintainability = &mi
		}
	}
	q.resp.Result = Matches{Items: items}
	return nil
}

// countEdges counts edges other than self references.
func countEdges(rels []Relationship, self string) int {
	n := 0
	for _, r := range rels {
		if r.SourceEntityID != r.TargetEntityID || r.SourceEntityID != self {
			n++
		}
	}
	return n
}

func (q *queryRun) findUsage() error {
	term := q.term()
	hits := q.e.search(q.sn, term, q.filter)
	if len(hits) == 0 {
		q.resp.Result = Empty{Reason: fmt.Sprintf("no entity matches %q", term)}
		return nil
	}
	if amb := ambiguous(term, hits); amb != nil {
		q.resp.Result = *amb
		return nil
	}
	target := hits[0].entity
	refs, err := q.e.findReferences(q.ctx, q.sn, target, ReferenceOptions{MaxResults: q.limit})
	if err != nil {
		return err
	}
	q.resp.Truncated = refs.Truncated
	q.seen = append(q.seen, target)
	if len(refs.References) == 0 {
		q.resp.Result = Empty{Reason: fmt.Sprintf("%s has no references", target.QualifiedName)}
		return nil
	}
	q.resp.Result = References{Target: target, Result: *refs}
	return nil
}

func (q *queryRun) traceFlow() error {
	m := fromToRe.FindStringSubmatch(q.text)
	if m == nil {
		m = arrowRe.FindStringSubmatch(q.text)
	}
	if m == nil {
		q.resp.Result = Empty{Reason: `trace queries need "from <start> to <end>"`}
		return nil
	}
	res, err := q.e.traceDataFlow(q.ctx, q.sn, q.filter, m[1], m[2], TraceOptions{})
	if errors.Is(err, ErrNotFound) {
		q.resp.Result = Empty{Reason: err.Error()}
		return nil
	}
	if err != nil {
		return err
	}
	q.resp.Truncated = res.Truncated
	q.resp.Result = Flow{FlowResult: *res}
	return nil
}

func (q *queryRun) securityAudit() error {
	var cwe string
	if m := cweRe.FindStringSubmatch(q.text); m != nil {
		cwe = "CWE-" + m[1]
	}
	findings, ruleErrs, err := q.e.audit(q.ctx, q.sn, q.filter)
	if err != nil {
		return err
	}
	if cwe != "" {
		kept := findings[:0]
		for _, f := range findings {
			if strings.EqualFold(f.CWE, cwe) {
				kept = append(kept, f)
			}
		}
		findings = kept
	}
	if len(findings) > q.limit {
		findings = findings[:q.limit]
		q.resp.Truncated = true
	}
	if len(findings) == 0 && len(ruleErrs) == 0 {
		q.resp.Result = Empty{Reason: "no security findings"}
		return nil
	}
	q.resp.Result = Findings{Items: findings, RuleErrors: ruleErrs}
	return nil
}
