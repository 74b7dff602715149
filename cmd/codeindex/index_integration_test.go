package main_test

import (
	"database/sql"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles the codeindex binary into t.TempDir().
func buildBinary(t *testing.T) string {
	t.Helper()
	binName := "codeindex"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	bin := filepath.Join(t.TempDir(), binName)
	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = filepath.Join(projectRoot(t), "cmd", "codeindex")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(out))
	return bin
}

// projectRoot walks up from this test file to the directory holding go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller failed")
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "could not find project root")
		dir = parent
	}
}

// createFixture creates a repository with a TypeScript caller/callee pair.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.ts"), []byte(`export function getUserById(id: number) {
  if (id < 0) {
    return null;
  }
  return { id };
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.ts"), []byte(`import { getUserById } from "./users";

export function main() {
  getUserById(1);
  return 0;
}
`), 0o644))
	return dir
}

func run(t *testing.T, bin, dir string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	var out, errb strings.Builder
	cmd.Stdout, cmd.Stderr = &out, &errb
	err = cmd.Run()
	return out.String(), errb.String(), err
}

func runJSON(t *testing.T, bin, dir string, args ...string) map[string]any {
	t.Helper()
	stdout, stderr, err := run(t, bin, dir, args...)
	require.NoError(t, err, "%v failed: %s", args, stderr)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got), "invalid JSON: %s", stdout)
	return got
}

func TestIndex_CreatesDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	fixture := createFixture(t)

	got := runJSON(t, bin, fixture, "index", fixture)
	job := got["results"].(map[string]any)
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, "full_index", job["job_type"])
	assert.EqualValues(t, 2, job["files_processed"])

	dbPath := filepath.Join(fixture, ".codeindex", "index.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var files, entities int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&entities))
	assert.Equal(t, 2, files)
	assert.Greater(t, entities, 0)
}

func TestIndex_SecondRunIsIncremental(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	fixture := createFixture(t)
	runJSON(t, bin, fixture, "index", fixture)

	got := runJSON(t, bin, fixture, "index", fixture)
	job := got["results"].(map[string]any)
	assert.Equal(t, "incremental_update", job["job_type"])
	assert.EqualValues(t, 0, job["files_total"])
}

func TestQuery_FindFunctionAfterRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	fixture := createFixture(t)
	runJSON(t, bin, fixture, "index", fixture)

	got := runJSON(t, bin, fixture, "query", "find function getUserById")
	resp := got["results"].(map[string]any)
	assert.Equal(t, "find_function", resp["intent"])
	assert.Equal(t, "matches", resp["result_type"])
	items := resp["result"].(map[string]any)["items"].([]any)
	require.NotEmpty(t, items)
	first := items[0].(map[string]any)
	assert.EqualValues(t, 1, first["score"])
	entity := first["entity"].(map[string]any)
	assert.Equal(t, "users.ts", entity["file_path"])

	refs := runJSON(t, bin, fixture, "refs", entity["id"].(string))
	list := refs["results"].(map[string]any)["references"].([]any)
	require.Len(t, list, 1)
	ref := list[0].(map[string]any)
	assert.Equal(t, "call", ref["reference_type"])
	assert.Equal(t, "main.ts", ref["location"].(map[string]any)["file_path"])

	cx := runJSON(t, bin, fixture, "complexity", entity["id"].(string), "--metric", "cyclomatic")
	assert.EqualValues(t, 2, cx["results"].(map[string]any)["cyclomatic"])
}

func TestQuery_ErrorEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	fixture := createFixture(t)
	runJSON(t, bin, fixture, "index", fixture)

	stdout, _, err := run(t, bin, fixture, "refs", "not-an-id")
	require.Error(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "refs", got["command"])
	assert.Contains(t, got["error"], "invalid input")
}

func TestQuery_FormatText(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	bin := buildBinary(t)
	fixture := createFixture(t)
	runJSON(t, bin, fixture, "index", fixture)

	stdout, stderr, err := run(t, bin, fixture, "--format", "text", "query", "getUserById")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "intent: find_function")
	assert.Contains(t, stdout, "users.ts")
}
