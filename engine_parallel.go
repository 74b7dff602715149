package codeindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/jward/codeindex/internal/extract"
	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/parser"
	"github.com/jward/codeindex/internal/store"
	"github.com/jward/codeindex/internal/watch"
)

// errJobCancelled stops a job at a batch boundary.
var errJobCancelled = errors.New("job cancelled")

// sourceFile is one discovered file.
type sourceFile struct {
	rel  string // slash-separated, relative to the codebase root
	abs  string
	lang parser.Language
	size int64
	hash string // filled during change detection
}

// fileResult is what a worker hands to the writer.
type fileResult struct {
	file  sourceFile
	batch graph.FileBatch
	err   error
}

// runJob executes one job on the scheduler's goroutine.
//
//	Phase A (serial):   discovery and change detection.
//	Phase B (parallel): parse and extract each batch on a worker pool.
//	Phase C (serial):   install each file, SQLite first, then the index.
func (e *Engine) runJob(ctx context.Context, st *jobState) {
	now := e.now()
	j := st.update(func(j *IndexJob) {
		j.Status = JobRunning
		j.StartedAt = &now
	})
	e.persistJob(j)
	log := e.logger.With("job_id", j.ID, "codebase_id", j.CodebaseID)
	log.Info("job started", "job_type", j.JobType)

	cb, err := e.db.CodebaseByID(j.CodebaseID)
	if err == nil && cb == nil {
		err = fmt.Errorf("codebase %s was removed", j.CodebaseID)
	}
	if err != nil {
		e.finishJob(st, JobFailed, err.Error())
		log.Error("job failed", "error", err)
		return
	}
	e.setCodebaseStatus(cb, StatusIndexing, "")

	err = e.indexCodebase(ctx, st, cb)
	e.index.Collect()

	switch {
	case errors.Is(err, errJobCancelled):
		e.setCodebaseStatus(cb, StatusPartial, "")
		j = e.finishJob(st, JobCancelled, "")
		log.Info("job cancelled", "files_processed", j.FilesProcessed, "files_total", j.FilesTotal)
	case err != nil:
		e.setCodebaseStatus(cb, StatusError, err.Error())
		j = e.finishJob(st, JobFailed, err.Error())
		log.Error("job failed", "error", err, "files_processed", j.FilesProcessed)
	default:
		e.setCodebaseStatus(cb, StatusIndexed, "")
		j = e.finishJob(st, JobCompleted, "")
		log.Info("job completed", "files_processed", j.FilesProcessed,
			"files_failed", j.FilesFailed, "files_total", j.FilesTotal)
	}
}

func (e *Engine) setCodebaseStatus(cb *store.Codebase, status CodebaseStatus, lastError string) {
	cb.Status = string(status)
	cb.LastError = lastError
	cb.UpdatedAt = e.now()
	if status != StatusIndexing {
		sn := e.index.Snapshot()
		langs := make(map[string]int)
		for _, f := range sn.Files(cb.ID) {
			langs[f.Language]++
		}
		sn.Release()
		cb.Languages = langs
	}
	if err := e.db.UpsertCodebase(cb); err != nil {
		e.logger.Error("persist codebase", "codebase_id", cb.ID, "error", err)
	}
}

func (e *Engine) indexCodebase(ctx context.Context, st *jobState, cb *store.Codebase) error {
	job := st.snapshot()
	info, err := os.Stat(cb.RootPath)
	if err != nil {
		return fmt.Errorf("codebase path inaccessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("codebase path %s is not a directory", cb.RootPath)
	}

	// ---- Phase A: discovery and change detection ----
	found, skipped, err := e.discover(cb.RootPath)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	recorded, err := e.db.Files(cb.ID)
	if err != nil {
		return fmt.Errorf("load file records: %w", err)
	}
	known := make(map[string]*store.File, len(recorded))
	for _, f := range recorded {
		known[f.Path] = f
	}

	present := make(map[string]bool, len(found))
	var work []sourceFile
	for _, f := range found {
		present[f.rel] = true
		if job.JobType == JobIncrementalUpdate {
			h, err := hashFile(f.abs)
			if err != nil {
				st.fileFailed(f.rel, err)
				continue
			}
			if prev, ok := known[f.rel]; ok && prev.Hash == h {
				continue
			}
			f.hash = h
		}
		work = append(work, f)
	}
	var deleted []string
	for path := range known {
		if !present[path] {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)

	j := st.update(func(j *IndexJob) {
		j.FilesTotal = len(work) + len(deleted) + len(skipped) + j.FilesFailed
	})
	e.persistJob(j)
	for _, s := range skipped {
		st.fileFailed(s.path, s.err)
	}

	// Files that disappeared are retired first.
	if len(deleted) > 0 {
		if err := e.db.RemoveFiles(cb.ID, deleted); err != nil {
			return fmt.Errorf("storage write failed: %w", err)
		}
		for _, p := range deleted {
			e.index.RemoveFile(cb.ID, p)
		}
		st.update(func(j *IndexJob) { j.FilesProcessed += len(deleted) })
	}

	// ---- Phases B and C, one batch at a time ----
	batchSize := e.cfg.BatchSize
	for start := 0; start < len(work); start += batchSize {
		if st.cancelRequested.Load() || ctx.Err() != nil {
			return errJobCancelled
		}
		end := min(start+batchSize, len(work))
		if err := e.indexBatch(ctx, st, cb.ID, work[start:end]); err != nil {
			return err
		}
		e.persistJob(st.snapshot())
	}
	return nil
}

// indexBatch parses and extracts files in parallel and installs the results
// serially. In-flight files always finish, even when the job is cancelled.
func (e *Engine) indexBatch(ctx context.Context, st *jobState, codebaseID string, files []sourceFile) error {
	workCtx := context.WithoutCancel(ctx)
	numWorkers := max(1, min(e.cfg.Workers, len(files)))

	workCh := make(chan sourceFile, len(files))
	for _, f := range files {
		workCh <- f
	}
	close(workCh)
	resultCh := make(chan fileResult, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range workCh {
				resultCh <- e.processFile(workCtx, codebaseID, f)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Results are installed in path order so versions are deterministic.
	results := make([]fileResult, 0, len(files))
	for r := range resultCh {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].file.rel < results[j].file.rel })

	var fatal error
	for _, r := range results {
		if fatal != nil {
			break
		}
		if r.err != nil {
			fatal = e.dropFailedFile(st, codebaseID, r.file.rel, r.err)
			continue
		}
		fatal = e.install(st, r)
	}
	return fatal
}

// processFile reads, parses and extracts one file. Nothing is shared with
// other workers.
func (e *Engine) processFile(ctx context.Context, codebaseID string, f sourceFile) fileResult {
	res := fileResult{file: f}
	content, err := os.ReadFile(f.abs)
	if err != nil {
		res.err = fmt.Errorf("read: %w", err)
		return res
	}
	adapter, ok := parser.ForLanguage(f.lang)
	if !ok {
		res.err = &parser.ParseError{Path: f.rel, Reason: fmt.Sprintf("no parser for %s", f.lang)}
		return res
	}
	tree, err := adapter.Parse(ctx, f.rel, content)
	if err != nil {
		res.err = err
		return res
	}
	out, err := extract.Extract(tree, codebaseID, f.rel)
	if err != nil {
		res.err = fmt.Errorf("extract: %w", err)
		return res
	}
	res.batch = graph.FileBatch{
		CodebaseID:    codebaseID,
		Path:          f.rel,
		Language:      string(f.lang),
		ContentHash:   graph.ContentHash(content),
		Entities:      out.Entities,
		Relationships: out.Relationships,
		Imports:       out.Imports,
	}
	return res
}

// install commits one file generation: the SQLite transaction first, then
// the in-memory index. An unchanged file is a no-op. A storage failure is
// fatal to the job and leaves both stores at the previous generation.
func (e *Engine) install(st *jobState, r fileResult) error {
	b := r.batch
	defer st.update(func(j *IndexJob) { j.FilesProcessed++ })

	prev, ok := e.index.File(b.CodebaseID, b.Path)
	if ok && prev.ContentHash == b.ContentHash {
		return nil
	}
	b.Generation = 1
	if ok {
		b.Generation = prev.Generation + 1
	}
	if err := e.db.CommitFile(b, e.now()); err != nil {
		return fmt.Errorf("storage write failed for %s: %w", b.Path, err)
	}
	res, err := e.index.Apply(b)
	if err != nil {
		// The extractor produced an inconsistent batch; undo the commit so
		// both stores agree.
		if rmErr := e.db.RemoveFiles(b.CodebaseID, []string{b.Path}); rmErr != nil {
			return fmt.Errorf("storage write failed for %s: %w", b.Path, rmErr)
		}
		e.index.RemoveFile(b.CodebaseID, b.Path)
		st.update(func(j *IndexJob) { j.FilesProcessed-- })
		st.fileFailed(b.Path, err)
		return nil
	}
	e.logger.Debug("installed file", "path", b.Path, "generation", res.Generation,
		"version", res.Version, "entities", res.Added, "unresolved", res.Unresolved, "rebound", res.Rebound)
	return nil
}

// dropFailedFile records a per-file error. A file that no longer parses
// contributes no entities, so its previous generation is retired and its
// record dropped; the next incremental run retries it.
func (e *Engine) dropFailedFile(st *jobState, codebaseID, path string, cause error) error {
	e.logger.Warn("file skipped", "job_id", st.snapshot().ID, "path", path, "error", cause)
	st.fileFailed(path, cause)
	if _, ok := e.index.File(codebaseID, path); !ok {
		return nil
	}
	if err := e.db.RemoveFiles(codebaseID, []string{path}); err != nil {
		return fmt.Errorf("storage write failed for %s: %w", path, err)
	}
	e.index.RemoveFile(codebaseID, path)
	return nil
}

// skippedFile is a discovered file rejected before parsing.
type skippedFile struct {
	path string
	err  error
}

// discover walks root for files with a supported language, skipping
// excluded directories, files that fail the include/exclude patterns and
// files over the size limit.
func (e *Engine) discover(root string) ([]sourceFile, []skippedFile, error) {
	includes, err := compileGlobs(e.cfg.IncludePatterns)
	if err != nil {
		return nil, nil, err
	}
	excludes, err := compileGlobs(e.cfg.ExcludePatterns)
	if err != nil {
		return nil, nil, err
	}
	skipDirs := make(map[string]bool, len(e.cfg.ExcludeDirs))
	for _, d := range e.cfg.ExcludeDirs {
		skipDirs[d] = true
	}

	var files []sourceFile
	var skipped []skippedFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		lang, ok := parser.LanguageForFile(path)
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if len(includes) > 0 && !watch.MatchAny(includes, rel) {
			return nil
		}
		if watch.MatchAny(excludes, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > e.cfg.MaxFileSize {
			skipped = append(skipped, skippedFile{
				path: rel,
				err:  &parser.ParseError{Path: rel, Reason: fmt.Sprintf("file size %d exceeds limit %d", info.Size(), e.cfg.MaxFileSize)},
			})
			return nil
		}
		files = append(files, sourceFile{rel: rel, abs: path, lang: lang, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, skipped, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, invalidf("pattern %q: %v", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
