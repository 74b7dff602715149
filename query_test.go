package codeindex

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeindex/internal/graph"
)

func TestClassifyIntent(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text string
		want Intent
	}{
		{"find function getUserById", IntentFindFunction},
		{"getUserById", IntentFindFunction},
		{"who calls getUserById", IntentFindUsage},
		{"where is parseConfig used", IntentFindUsage},
		{"references to Store", IntentFindUsage},
		{"trace from readInput to writeOutput", IntentTraceFlow},
		{"how does data flow into save", IntentTraceFlow},
		{"find security vulnerabilities", IntentSecurityAudit},
		{"check for CWE-89", IntentSecurityAudit},
		{"explain the retry loop", IntentExplainCode},
		{"how does authentication work", IntentExplainCode},
		{"where is the config loaded", IntentExplainCode},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyIntent(tc.text), tc.text)
	}
}

func TestSubject_StripsCueWords(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "getUserById", subject("find function getUserById"))
	assert.Equal(t, "getUserById", subject("who calls getUserById?"))
	assert.Equal(t, "retry loop", subject("explain the retry loop"))
}

func TestTokenize_SplitsIdentifiers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"handle", "http", "error"}, tokenize("handleHTTPError"))
	assert.Equal(t, []string{"user", "id"}, tokenize("user_id"))
	assert.Equal(t, []string{"parse", "config", "value"}, tokenize("the parseConfig value"))
}

// =============================================================================
// Query validation
// =============================================================================

func TestQuery_Validation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  QueryRequest
		want error
	}{
		{"empty text", QueryRequest{Text: "  "}, ErrInvalidInput},
		{"negative limit", QueryRequest{Text: "x", Limit: -1}, ErrInvalidInput},
		{"limit too large", QueryRequest{Text: "x", Limit: MaxLimit + 1}, ErrInvalidInput},
		{"unknown kind", QueryRequest{Text: "x", Filters: QueryFilters{Kinds: []EntityKind{"module"}}}, ErrInvalidInput},
		{"bad pattern", QueryRequest{Text: "x", Filters: QueryFilters{FilePatterns: []string{"[a"}}}, ErrInvalidInput},
		{"unknown codebase", QueryRequest{Text: "x", Filters: QueryFilters{CodebaseID: "8f14e45f-ceea-467f-a8f5-0b5e2c3b6d1a"}}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Query(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

// =============================================================================
// find_function
// =============================================================================

func TestQuery_FindFunctionExactMatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"users.ts": usersTS, "main.ts": mainTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "find function getUserById"})
	require.NoError(t, err)
	assert.Equal(t, IntentFindFunction, resp.Intent)
	m, ok := resp.Result.(Matches)
	require.True(t, ok, "got %T", resp.Result)
	require.Len(t, m.Items, 1)
	assert.Equal(t, "getUserById", m.Items[0].Entity.Name)
	assert.Equal(t, "users.ts", m.Items[0].Entity.FilePath)
	assert.Equal(t, graph.KindFunction, m.Items[0].Entity.Kind)
	assert.InDelta(t, 1.0, m.Items[0].Score, 1e-9)
	assert.False(t, resp.Truncated)
}

func TestQuery_AmbiguousIdentifier(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{
		"a.ts": "export function handler() { return 1; }\n",
		"b.ts": "export function handler() { return 2; }\n",
	})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "handler"})
	require.NoError(t, err)
	amb, ok := resp.Result.(Ambiguous)
	require.True(t, ok, "got %T", resp.Result)
	assert.Equal(t, "handler", amb.Term)
	require.Len(t, amb.Candidates, 2)
	assert.Equal(t, "a.ts", amb.Candidates[0].FilePath)
	assert.Equal(t, "b.ts", amb.Candidates[1].FilePath)
	assert.False(t, amb.Truncated)
}

func TestQuery_FilePatternResolvesAmbiguity(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{
		"api/a.ts": "export function handler() { return 1; }\n",
		"web/b.ts": "export function handler() { return 2; }\n",
	})

	resp, err := e.Query(context.Background(), QueryRequest{
		Text:    "handler",
		Filters: QueryFilters{FilePatterns: []string{"api/**"}},
	})
	require.NoError(t, err)
	m, ok := resp.Result.(Matches)
	require.True(t, ok, "got %T", resp.Result)
	require.Len(t, m.Items, 1)
	assert.Equal(t, "api/a.ts", m.Items[0].Entity.FilePath)
}

func TestQuery_NoMatchIsEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"users.ts": usersTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "zzqqxx"})
	require.NoError(t, err)
	_, ok := resp.Result.(Empty)
	assert.True(t, ok, "got %T", resp.Result)
}

func TestQuery_LimitTruncates(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"fetch.ts": `export function fetchUser() { return 1; }
export function fetchOrder() { return 2; }
export function fetchInvoice() { return 3; }
`})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "fetch", Limit: 2})
	require.NoError(t, err)
	m, ok := resp.Result.(Matches)
	require.True(t, ok, "got %T", resp.Result)
	assert.Len(t, m.Items, 2)
	assert.True(t, resp.Truncated)
	assert.GreaterOrEqual(t, m.Items[0].Score, m.Items[1].Score)
}

func TestQuery_RepeatedQueryUsesSameVersion(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, root := indexTree(t, e, map[string]string{"users.ts": usersTS})
	ctx := context.Background()

	first, err := e.Query(ctx, QueryRequest{Text: "getUserById"})
	require.NoError(t, err)
	second, err := e.Query(ctx, QueryRequest{Text: "getUserById"})
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Result, second.Result)

	writeTree(t, root, map[string]string{"extra.ts": "export function getUserByIdV2() { return 1; }\n"})
	job := runJob(t, e, cb.ID, JobIncrementalUpdate)
	require.Equal(t, JobCompleted, job.Status)

	third, err := e.Query(ctx, QueryRequest{Text: "getUserById"})
	require.NoError(t, err)
	assert.Greater(t, third.Version, first.Version)
}

func TestQuery_CachedResultIsIsolatedFromCallers(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"users.ts": usersTS, "main.ts": mainTS})
	ctx := context.Background()

	first, err := e.Query(ctx, QueryRequest{Text: "explain getUserById"})
	require.NoError(t, err)
	m := first.Result.(Matches)
	require.NotEmpty(t, m.Items)
	incoming := *m.Items[0].Incoming
	m.Items[0].Entity.Name = "mutated"
	*m.Items[0].Incoming = -1

	second, err := e.Query(ctx, QueryRequest{Text: "explain getUserById"})
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	m2 := second.Result.(Matches)
	assert.Equal(t, "getUserById", m2.Items[0].Entity.Name)
	assert.Equal(t, incoming, *m2.Items[0].Incoming)

	m2.Items[0].Entity.Name = "mutated again"
	third, err := e.Query(ctx, QueryRequest{Text: "explain getUserById"})
	require.NoError(t, err)
	assert.Equal(t, "getUserById", third.Result.(Matches).Items[0].Entity.Name)
}

func TestQuery_CacheHitRecordsLocality(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, _ := indexTree(t, e, map[string]string{"users.ts": usersTS})
	ctx := context.Background()
	count := func() int {
		e.localityMu.Lock()
		defer e.localityMu.Unlock()
		n, _ := e.locality.Peek(cb.ID + "/users.ts")
		return n
	}

	_, err := e.Query(ctx, QueryRequest{Text: "getUserById"})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	_, err = e.Query(ctx, QueryRequest{Text: "getUserById"})
	require.NoError(t, err)
	assert.Equal(t, 2, count())
}

// =============================================================================
// Other intents
// =============================================================================

func TestQuery_FindUsage(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"users.ts": usersTS, "main.ts": mainTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "who calls getUserById"})
	require.NoError(t, err)
	assert.Equal(t, IntentFindUsage, resp.Intent)
	refs, ok := resp.Result.(References)
	require.True(t, ok, "got %T", resp.Result)
	assert.Equal(t, "getUserById", refs.Target.Name)
	require.Len(t, refs.Result.References, 1)
	ref := refs.Result.References[0]
	assert.Equal(t, graph.RelCall, ref.ReferenceType)
	assert.Equal(t, "main.ts", ref.Location.FilePath)
	assert.Equal(t, "main", ref.SourceName)
}

func TestQuery_ExplainAddsEdgeCounts(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"users.ts": usersTS, "main.ts": mainTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "explain getUserById"})
	require.NoError(t, err)
	assert.Equal(t, IntentExplainCode, resp.Intent)
	m, ok := resp.Result.(Matches)
	require.True(t, ok, "got %T", resp.Result)
	require.NotEmpty(t, m.Items)
	top := m.Items[0]
	assert.Equal(t, "getUserById", top.Entity.Name)
	require.NotNil(t, top.Incoming)
	require.NotNil(t, top.Outgoing)
	assert.Positive(t, *top.Incoming)
	assert.Positive(t, *top.Outgoing)
	require.NotNil(t, top.Maintainability)
	assert.InDelta(t, 50, *top.Maintainability, 50)
}

func TestQuery_TraceFlow(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"pipe.ts": chainTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "trace from sink to source"})
	require.NoError(t, err)
	assert.Equal(t, IntentTraceFlow, resp.Intent)
	flow, ok := resp.Result.(Flow)
	require.True(t, ok, "got %T", resp.Result)
	assert.True(t, flow.Found)
	assert.Equal(t, 3, flow.TotalSteps)
}

func TestQuery_TraceUnknownEndpointIsEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"pipe.ts": chainTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "trace from sink to zzqqxx"})
	require.NoError(t, err)
	_, ok := resp.Result.(Empty)
	assert.True(t, ok, "got %T", resp.Result)
}

func TestQueryResponse_MarshalJSONIncludesResultType(t *testing.T) {
	t.Parallel()
	resp := QueryResponse{Intent: IntentFindFunction, Result: Empty{Reason: "nothing"}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "empty", got["result_type"])
	assert.Equal(t, "find_function", got["intent"])
	assert.Equal(t, "nothing", got["result"].(map[string]any)["reason"])
}
