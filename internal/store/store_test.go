package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeindex/internal/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// insertTestCodebase registers a codebase row and returns it.
func insertTestCodebase(t *testing.T, s *Store, id, root string) *Codebase {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	c := &Codebase{ID: id, RootPath: root, Status: "pending", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.UpsertCodebase(c))
	return c
}

func testBatch(codebaseID, path string, gen int64, names ...string) graph.FileBatch {
	b := graph.FileBatch{
		CodebaseID:  codebaseID,
		Path:        path,
		Language:    "go",
		ContentHash: graph.ContentHash([]byte(path + string(rune(gen)))),
		Imports:     []string{"fmt"},
		Generation:  gen,
	}
	for i, n := range names {
		e := graph.Entity{
			ID:            graph.EntityID(codebaseID, path, n, graph.KindFunction),
			CodebaseID:    codebaseID,
			Kind:          graph.KindFunction,
			Name:          n,
			QualifiedName: n,
			Language:      "go",
			FilePath:      path,
			StartLine:     i*10 + 1,
			EndLine:       i*10 + 5,
			Signature:     "func " + n + "()",
			ContentHash:   graph.ContentHash([]byte(n)),
			Metrics:       graph.Metrics{Cyclomatic: 2, Cognitive: 1, LinesOfCode: 5},
			Source:        "func " + n + "() {}",
		}
		b.Entities = append(b.Entities, e)
	}
	if len(b.Entities) > 1 {
		src := b.Entities[0]
		loc := graph.Location{FilePath: path, Line: src.StartLine + 1, Column: 2}
		b.Relationships = append(b.Relationships, graph.Relationship{
			ID:             graph.RelationshipID(src.ID, graph.RelCall, b.Entities[1].Name, loc),
			SourceEntityID: src.ID,
			TargetEntityID: b.Entities[1].ID,
			TargetName:     b.Entities[1].Name,
			Kind:           graph.RelCall,
			Location:       loc,
			Confidence:     graph.ConfidenceExact,
		}, graph.Relationship{
			ID:             graph.RelationshipID(src.ID, graph.RelCall, "Println", loc),
			SourceEntityID: src.ID,
			TargetName:     "Println",
			TargetModule:   "fmt",
			Kind:           graph.RelCall,
			Location:       loc,
		})
	}
	return b
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"codebases", "files", "entities", "relationships", "jobs"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Codebases
// =============================================================================

func TestCodebase_UpsertAndLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	c := insertTestCodebase(t, s, "cb1", "/src/app")

	got, err := s.CodebaseByID("cb1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/src/app", got.RootPath)
	assert.Equal(t, "pending", got.Status)
	assert.Empty(t, got.Languages)

	c.Status = "ready"
	c.Languages = map[string]int{"go": 3, "python": 1}
	c.UpdatedAt = c.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpsertCodebase(c))

	got, err = s.CodebaseByRoot("/src/app")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ready", got.Status)
	assert.Equal(t, map[string]int{"go": 3, "python": 1}, got.Languages)

	all, err := s.Codebases()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCodebase_MissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.CodebaseByID("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.CodebaseByRoot("/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCodebase_DuplicateRootRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	now := time.Now()
	err := s.UpsertCodebase(&Codebase{ID: "cb2", RootPath: "/src/app", Status: "pending", CreatedAt: now, UpdatedAt: now})
	require.Error(t, err)
}

func TestCodebase_DeleteCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	require.NoError(t, s.CommitFile(testBatch("cb1", "a.go", 1, "A", "B"), time.Now()))
	require.NoError(t, s.UpsertJob(&Job{ID: "j1", CodebaseID: "cb1", JobType: "full_index", Priority: 5, Status: "completed", CreatedAt: time.Now()}))

	require.NoError(t, s.DeleteCodebase("cb1"))

	for _, table := range []string{"codebases", "files", "entities", "relationships", "jobs"} {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, "table %s", table)
	}
}

// =============================================================================
// Files, entities, relationships
// =============================================================================

func TestCommitFile_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	in := testBatch("cb1", "pkg/a.go", 1, "A", "B")
	require.NoError(t, s.CommitFile(in, time.Now()))

	batches, err := s.LoadBatches("cb1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	out := batches[0]
	assert.Equal(t, in.Path, out.Path)
	assert.Equal(t, in.ContentHash, out.ContentHash)
	assert.Equal(t, int64(1), out.Generation)
	assert.Equal(t, []string{"fmt"}, out.Imports)

	require.Len(t, out.Entities, 2)
	a := out.Entities[0]
	assert.Equal(t, in.Entities[0].ID, a.ID)
	assert.Equal(t, "A", a.QualifiedName)
	assert.Equal(t, graph.KindFunction, a.Kind)
	assert.Equal(t, int64(1), a.Generation)
	assert.Equal(t, in.Entities[0].Metrics, a.Metrics)
	assert.Equal(t, in.Entities[0].Source, a.Source)
	assert.Equal(t, "cb1", a.CodebaseID)

	require.Len(t, out.Relationships, 2)
	byTarget := map[string]graph.Relationship{}
	for _, r := range out.Relationships {
		byTarget[r.TargetName] = r
	}
	assert.Equal(t, in.Entities[1].ID, byTarget["B"].TargetEntityID)
	assert.Equal(t, graph.ConfidenceExact, byTarget["B"].Confidence)
	assert.Equal(t, "fmt", byTarget["Println"].TargetModule)
	assert.False(t, byTarget["Println"].Resolved())
	assert.Equal(t, "pkg/a.go", byTarget["Println"].Location.FilePath)
}

func TestCommitFile_ReplacesPreviousGeneration(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	require.NoError(t, s.CommitFile(testBatch("cb1", "a.go", 1, "A", "B"), time.Now()))
	require.NoError(t, s.CommitFile(testBatch("cb1", "a.go", 2, "C"), time.Now()))

	batches, err := s.LoadBatches("cb1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(2), batches[0].Generation)
	require.Len(t, batches[0].Entities, 1)
	assert.Equal(t, "C", batches[0].Entities[0].Name)
	assert.Empty(t, batches[0].Relationships)
}

func TestCommitFile_RequiresGeneration(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	err := s.CommitFile(testBatch("cb1", "a.go", 0, "A"), time.Now())
	require.Error(t, err)
}

func TestCommitFile_FailureLeavesPreviousState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	require.NoError(t, s.CommitFile(testBatch("cb1", "a.go", 1, "A"), time.Now()))

	bad := testBatch("cb1", "a.go", 2, "X", "Y")
	bad.Entities[1].ID = bad.Entities[0].ID // primary key violation
	require.Error(t, s.CommitFile(bad, time.Now()))

	batches, err := s.LoadBatches("cb1")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(1), batches[0].Generation)
	require.Len(t, batches[0].Entities, 1)
	assert.Equal(t, "A", batches[0].Entities[0].Name)
}

func TestCommitFile_UnknownCodebaseRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.Error(t, s.CommitFile(testBatch("ghost", "a.go", 1, "A"), time.Now()))
}

func TestRemoveFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	for _, p := range []string{"a.go", "b.go", "c.go"} {
		require.NoError(t, s.CommitFile(testBatch("cb1", p, 1, "F"+p[:1], "G"+p[:1]), time.Now()))
	}
	require.NoError(t, s.RemoveFiles("cb1", []string{"a.go", "c.go"}))
	require.NoError(t, s.RemoveFiles("cb1", nil))

	files, err := s.Files("cb1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.go", files[0].Path)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestLoadBatches_RestoresIntoIndex(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	require.NoError(t, s.CommitFile(testBatch("cb1", "a.go", 3, "A", "B"), time.Now()))
	require.NoError(t, s.CommitFile(testBatch("cb1", "b.go", 1, "C"), time.Now()))

	batches, err := s.LoadBatches("cb1")
	require.NoError(t, err)
	idx := graph.NewStore()
	for _, b := range batches {
		_, err := idx.Apply(b)
		require.NoError(t, err)
	}
	info, ok := idx.File("cb1", "a.go")
	require.True(t, ok)
	assert.Equal(t, int64(3), info.Generation)

	snap := idx.Snapshot()
	defer snap.Release()
	assert.Len(t, snap.Entities("cb1"), 3)
	a := snap.EntitiesByName("A")
	require.Len(t, a, 1)
	assert.Len(t, snap.Outgoing(a[0].ID), 2)
}

// =============================================================================
// Jobs
// =============================================================================

func TestJobs_UpsertAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	insertTestCodebase(t, s, "cb2", "/src/lib")

	base := time.Now().Truncate(time.Second)
	j1 := &Job{ID: "j1", CodebaseID: "cb1", JobType: "full_index", Priority: 5, Status: "queued", CreatedAt: base}
	j2 := &Job{ID: "j2", CodebaseID: "cb1", JobType: "incremental_update", Priority: 9, Status: "queued", CreatedAt: base.Add(time.Second)}
	j3 := &Job{ID: "j3", CodebaseID: "cb2", JobType: "full_index", Priority: 1, Status: "queued", CreatedAt: base.Add(2 * time.Second)}
	for _, j := range []*Job{j1, j2, j3} {
		require.NoError(t, s.UpsertJob(j))
	}

	j1.Status = "completed"
	j1.FilesTotal, j1.FilesProcessed, j1.FilesFailed = 3, 3, 1
	j1.Errors = []FileError{{Path: "bad.py", Message: "binary content"}}
	j1.StartedAt = ptr(base.Add(time.Second))
	j1.CompletedAt = ptr(base.Add(2 * time.Second))
	require.NoError(t, s.UpsertJob(j1))

	got, err := s.JobByID("j1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, 1, got.FilesFailed)
	assert.Equal(t, []FileError{{Path: "bad.py", Message: "binary content"}}, got.Errors)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(*j1.StartedAt))
	require.NotNil(t, got.CompletedAt)

	jobs, err := s.Jobs("cb1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Nil(t, jobs[0].StartedAt)

	all, err := s.Jobs("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	missing, err := s.JobByID("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJobs_FailInterrupted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	insertTestCodebase(t, s, "cb1", "/src/app")
	now := time.Now()
	for id, status := range map[string]string{"a": "queued", "b": "running", "c": "completed"} {
		require.NoError(t, s.UpsertJob(&Job{ID: id, CodebaseID: "cb1", JobType: "full_index", Priority: 5, Status: status, CreatedAt: now}))
	}
	n, err := s.FailInterruptedJobs(now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.JobByID("b")
	require.NoError(t, err)
	assert.Equal(t, "failed", b.Status)
	assert.NotEmpty(t, b.ErrorMessage)
	c, err := s.JobByID("c")
	require.NoError(t, err)
	assert.Equal(t, "completed", c.Status)
}
