// Package codeindex builds and queries a versioned semantic index of source
// code. Files are parsed with tree-sitter into a language-neutral syntax
// outline, entities and relationships are extracted from it, and every file
// generation is installed atomically into an in-memory graph that readers
// query through immutable snapshots. SQLite keeps the index across restarts.
//
// Go, Python, JavaScript, TypeScript, Rust and Java are supported.
//
// # Pipeline
//
// Indexing runs as jobs on a priority scheduler. Each job moves through three
// phases:
//
//  1. Prepare: walk the codebase root, skip excluded directories, patterns
//     and oversized files, and (for incremental jobs) drop files whose
//     content hash is unchanged.
//
//  2. Extract: parse and extract each batch of files on a worker pool.
//
//  3. Install: a single writer commits each file to SQLite and then applies
//     it to the in-memory graph, resolving references against what is
//     already installed.
//
// # Usage
//
//	e, err := codeindex.New(".codeindex/index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	cb, err := e.RegisterCodebase("path/to/project")
//	job, err := e.SubmitIndexJob(cb.ID, codeindex.JobFullIndex, 5)
//	job, err = e.WaitJob(ctx, job.ID)
//
//	resp, err := e.Query(ctx, codeindex.QueryRequest{Text: "find function getUserById"})
//
// # Query API
//
//   - [Engine.Query] classifies free text into an intent and answers it.
//   - [Engine.FindReferences] lists the usages of an entity.
//   - [Engine.TraceDataFlow] finds a path between two entities.
//   - [Engine.CallGraph] walks callers or callees transitively.
//   - [Engine.TypeHierarchy] shows extend and implement links.
//   - [Engine.PackageDependencyGraph] aggregates imports by directory.
//   - [Engine.CheckComplexity] reports cyclomatic, cognitive and
//     maintainability metrics.
//   - [Engine.FindDuplicates] groups duplicated function bodies.
//   - [Engine.SecurityAudit] runs the Risor security rules.
//
// # Consistency
//
// Every query binds to one snapshot version for its whole run. A file
// reindexed while a query runs is either fully visible or not visible at
// all, and records retired by newer generations are only collected once no
// snapshot can see them.
//
// # Incremental Indexing
//
// Incremental jobs compare content hashes against the stored file records
// and reprocess only new and changed files; deleted files are retired.
// [Engine.Watch] submits incremental jobs automatically when files change.
package codeindex
