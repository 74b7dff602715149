package codeindex

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeindex/internal/rules"
)

const serviceTS = `export function run(x: string) {
  return eval(x);
}

export function digest(data: string) {
  return crypto.createHash("md5").update(data);
}
`

func TestSecurityAudit_BuiltinRules(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, _ := indexTree(t, e, map[string]string{"service.ts": serviceTS, "users.ts": usersTS})

	rep, err := e.SecurityAudit(context.Background(), AuditOptions{CodebaseID: cb.ID})
	require.NoError(t, err)
	require.Len(t, rep.Findings, 2, "findings: %v", rep.Findings)
	assert.Empty(t, rep.RuleErrors)
	assert.Contains(t, rep.Rules, "weak_hash")

	first, second := rep.Findings[0], rep.Findings[1]
	assert.Equal(t, "CWE-95", first.CWE)
	assert.Equal(t, "high", first.Severity)
	assert.Equal(t, "service.ts", first.FilePath)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "CWE-328", second.CWE)
	assert.Equal(t, "medium", second.Severity)
	assert.Equal(t, 6, second.Line)
}

func TestSecurityAudit_CWEFilter(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, _ := indexTree(t, e, map[string]string{"service.ts": serviceTS})

	rep, err := e.SecurityAudit(context.Background(), AuditOptions{CodebaseID: cb.ID, CWE: "cwe-328"})
	require.NoError(t, err)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "CWE-328", rep.Findings[0].CWE)
}

func TestSecurityAudit_FilePatterns(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, _ := indexTree(t, e, map[string]string{"src/service.ts": serviceTS, "test/fixture.ts": serviceTS})

	rep, err := e.SecurityAudit(context.Background(), AuditOptions{CodebaseID: cb.ID, FilePatterns: []string{"src/**"}})
	require.NoError(t, err)
	require.Len(t, rep.Findings, 2)
	for _, f := range rep.Findings {
		assert.Equal(t, "src/service.ts", f.FilePath)
	}
}

func TestSecurityAudit_BrokenRuleReported(t *testing.T) {
	t.Parallel()
	rt, err := rules.New(rules.WithRulesFS(fstest.MapFS{
		"broken.risor": &fstest.MapFile{Data: []byte("this is not ((( risor")},
	}))
	require.NoError(t, err)
	e, err := New(filepath.Join(t.TempDir(), "test.db"), WithConfig(testConfig()),
		WithLogger(slog.New(slog.DiscardHandler)), WithRules(rt))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	cb, _ := indexTree(t, e, map[string]string{"service.ts": serviceTS})

	rep, err := e.SecurityAudit(context.Background(), AuditOptions{CodebaseID: cb.ID})
	require.NoError(t, err)
	require.NotEmpty(t, rep.RuleErrors)
	assert.Contains(t, rep.RuleErrors[0], "broken")
	assert.Len(t, rep.Findings, 2, "other rules still report")
}

func TestQuery_SecurityAuditIntent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	indexTree(t, e, map[string]string{"service.ts": serviceTS})

	resp, err := e.Query(context.Background(), QueryRequest{Text: "find security vulnerabilities"})
	require.NoError(t, err)
	assert.Equal(t, IntentSecurityAudit, resp.Intent)
	f, ok := resp.Result.(Findings)
	require.True(t, ok, "got %T", resp.Result)
	assert.Len(t, f.Items, 2)
}
