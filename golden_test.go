package codeindex

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeindex/internal/graph"
)

var (
	goFuncDecl   = regexp.MustCompile(`^func (\w+)`)
	goMethodDecl = regexp.MustCompile(`^func \([^)]*\) (\w+)`)
)

// declaredGo scans Go sources for top-level function and method names.
func declaredGo(t *testing.T, srcDir string) (funcs, methods []string) {
	t.Helper()
	entries, err := os.ReadDir(srcDir)
	require.NoError(t, err)
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".go" {
			continue
		}
		f, err := os.Open(filepath.Join(srcDir, ent.Name()))
		require.NoError(t, err)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if m := goMethodDecl.FindStringSubmatch(line); m != nil {
				methods = append(methods, m[1])
			} else if m := goFuncDecl.FindStringSubmatch(line); m != nil {
				funcs = append(funcs, m[1])
			}
		}
		require.NoError(t, sc.Err())
		require.NoError(t, f.Close())
	}
	return funcs, methods
}

// TestGolden indexes every testdata/go/<level>/src tree and checks that each
// declared function and method becomes an entity and that the graph holds no
// dangling edges.
func TestGolden(t *testing.T) {
	levels, err := os.ReadDir(filepath.Join("testdata", "go"))
	if err != nil {
		t.Skip("no testdata directory found")
	}

	for _, level := range levels {
		srcDir := filepath.Join("testdata", "go", level.Name(), "src")
		if _, err := os.Stat(srcDir); err != nil {
			continue
		}
		t.Run(level.Name(), func(t *testing.T) {
			t.Parallel()
			runGoldenLevel(t, srcDir)
		})
	}
}

func runGoldenLevel(t *testing.T, srcDir string) {
	t.Helper()
	abs, err := filepath.Abs(srcDir)
	require.NoError(t, err)

	e := newTestEngine(t)
	cb, err := e.RegisterCodebase(abs)
	require.NoError(t, err)
	job := runJob(t, e, cb.ID, JobFullIndex)
	require.Equal(t, JobCompleted, job.Status, "job error: %s", job.ErrorMessage)
	assert.Zero(t, job.FilesFailed, "errors: %v", job.Errors)

	funcs, methods := declaredGo(t, srcDir)
	require.NotEmpty(t, append(funcs, methods...))

	sn := e.index.Snapshot()
	defer sn.Release()

	has := func(name string, kind EntityKind) bool {
		for _, ent := range sn.EntitiesByName(name) {
			if ent.Kind == kind && ent.CodebaseID == cb.ID {
				return true
			}
		}
		return false
	}
	t.Run("definitions", func(t *testing.T) {
		for _, name := range funcs {
			assert.True(t, has(name, graph.KindFunction), "function %s", name)
		}
		for _, name := range methods {
			assert.True(t, has(name, graph.KindMethod), "method %s", name)
		}
	})

	t.Run("relationships", func(t *testing.T) {
		for _, f := range sn.Files(cb.ID) {
			for _, r := range sn.RelationshipsByFile(cb.ID, f.Path) {
				_, ok := sn.Entity(r.SourceEntityID)
				assert.True(t, ok, "relationship %s has no live source", r.ID)
				if r.Resolved() {
					_, ok = sn.Entity(r.TargetEntityID)
					assert.True(t, ok, "relationship %s points at a retired entity", r.ID)
				}
			}
		}
	})
}
