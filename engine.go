package codeindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/codeindex/internal/config"
	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/rules"
	"github.com/jward/codeindex/internal/store"
)

// Engine hosts the index: SQLite persistence, the in-memory versioned graph,
// the job scheduler and the query surface.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	db    *store.Store
	index *graph.Store
	rules *rules.Runtime
	sched *Scheduler

	mu   sync.Mutex
	jobs map[string]*jobState // queued and running jobs

	queryCache *lru.Cache[string, cachedQuery]
	localityMu sync.Mutex
	locality   *lru.Cache[string, int] // codebase/path -> times returned
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithRules replaces the security rule runtime built from the config.
func WithRules(rt *rules.Runtime) Option {
	return func(e *Engine) { e.rules = rt }
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New opens (creating if needed) the SQLite database at dbPath, restores the
// in-memory index from it and starts the job scheduler.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    config.Default(),
		logger: slog.Default(),
		now:    time.Now,
		index:  graph.NewStore(),
		jobs:   make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("codeindex: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("codeindex: create db dir: %w", err)
		}
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("codeindex: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("codeindex: migrate: %w", err)
	}
	e.db = s

	if e.rules == nil {
		ropts := []rules.Option{rules.WithLogger(e.logger)}
		if e.cfg.RulesDir != "" {
			ropts = append(ropts, rules.WithRulesDir(e.cfg.RulesDir))
		}
		if e.rules, err = rules.New(ropts...); err != nil {
			s.Close()
			return nil, fmt.Errorf("codeindex: %w", err)
		}
	}
	if e.queryCache, err = lru.New[string, cachedQuery](e.cfg.QueryCacheSize); err != nil {
		s.Close()
		return nil, fmt.Errorf("codeindex: query cache: %w", err)
	}
	if e.locality, err = lru.New[string, int](e.cfg.LocalityCacheSize); err != nil {
		s.Close()
		return nil, fmt.Errorf("codeindex: locality cache: %w", err)
	}

	if err := e.restore(); err != nil {
		s.Close()
		return nil, err
	}

	e.sched = NewScheduler(e.cfg.MaxConcurrentJobs)
	e.sched.Start()
	return e, nil
}

// restore reloads every persisted file generation into the in-memory index
// and settles state left behind by an unclean shutdown.
func (e *Engine) restore() error {
	now := e.now()
	n, err := e.db.FailInterruptedJobs(now)
	if err != nil {
		return fmt.Errorf("codeindex: restore jobs: %w", err)
	}
	if n > 0 {
		e.logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	cbs, err := e.db.Codebases()
	if err != nil {
		return fmt.Errorf("codeindex: restore: %w", err)
	}
	for _, cb := range cbs {
		batches, err := e.db.LoadBatches(cb.ID)
		if err != nil {
			return fmt.Errorf("codeindex: restore %s: %w", cb.RootPath, err)
		}
		for _, b := range batches {
			if _, err := e.index.Apply(b); err != nil {
				return fmt.Errorf("codeindex: restore %s: %w", b.Path, err)
			}
		}
		if cb.Status == string(StatusIndexing) {
			cb.Status = string(StatusError)
			cb.LastError = "indexing interrupted"
			cb.UpdatedAt = now
			if err := e.db.UpsertCodebase(cb); err != nil {
				return fmt.Errorf("codeindex: restore %s: %w", cb.RootPath, err)
			}
		}
		e.logger.Debug("restored codebase", "codebase_id", cb.ID, "root", cb.RootPath, "files", len(batches))
	}
	return nil
}

// Close cancels queued jobs, waits for running jobs to stop at their next
// batch boundary and closes the database.
func (e *Engine) Close() error {
	return e.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	dropped, err := e.sched.Shutdown(ctx)
	for _, t := range dropped {
		if st := e.liveJob(t.ID); st != nil {
			e.finishJob(st, JobCancelled, "scheduler shut down")
		}
	}
	if err != nil {
		return fmt.Errorf("codeindex: shutdown: %w", err)
	}
	return e.db.Close()
}

// Stats returns counts of the in-memory index.
func (e *Engine) Stats() Stats {
	return e.index.Stats()
}

// RegisterCodebase records root as a codebase and returns it. Registering
// the same root twice returns the existing codebase.
func (e *Engine) RegisterCodebase(root string) (Codebase, error) {
	if root == "" {
		return Codebase{}, invalidf("codebase root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Codebase{}, invalidf("codebase root %q: %v", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Codebase{}, invalidf("codebase root %q: %v", root, err)
	}
	if !info.IsDir() {
		return Codebase{}, invalidf("codebase root %q is not a directory", root)
	}

	existing, err := e.db.CodebaseByRoot(abs)
	if err != nil {
		return Codebase{}, fmt.Errorf("register codebase: %w", err)
	}
	if existing != nil {
		return codebaseFromStore(existing), nil
	}
	now := e.now()
	cb := &store.Codebase{
		ID:        uuid.NewString(),
		RootPath:  abs,
		Status:    string(StatusUnindexed),
		Languages: map[string]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.UpsertCodebase(cb); err != nil {
		return Codebase{}, fmt.Errorf("register codebase: %w", err)
	}
	e.logger.Info("registered codebase", "codebase_id", cb.ID, "root", abs)
	return codebaseFromStore(cb), nil
}

// GetCodebase returns a codebase with its tracked files.
func (e *Engine) GetCodebase(id string) (Codebase, error) {
	cb, err := e.codebase(id)
	if err != nil {
		return Codebase{}, err
	}
	files, err := e.db.Files(id)
	if err != nil {
		return Codebase{}, fmt.Errorf("get codebase: %w", err)
	}
	out := codebaseFromStore(cb)
	out.Files = make(map[string]FileState, len(files))
	for _, f := range files {
		out.Files[f.Path] = FileState{
			Language:    f.Language,
			Hash:        f.Hash,
			Generation:  f.Generation,
			LastIndexed: f.LastIndexed,
		}
	}
	return out, nil
}

// CodebaseByRoot looks up a registered codebase by its root directory.
func (e *Engine) CodebaseByRoot(root string) (Codebase, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Codebase{}, invalidf("codebase root %q: %v", root, err)
	}
	cb, err := e.db.CodebaseByRoot(abs)
	if err != nil {
		return Codebase{}, fmt.Errorf("codebase by root: %w", err)
	}
	if cb == nil {
		return Codebase{}, notFoundf("codebase at %s", abs)
	}
	return codebaseFromStore(cb), nil
}

// ListCodebases returns every registered codebase without file detail.
func (e *Engine) ListCodebases() ([]Codebase, error) {
	cbs, err := e.db.Codebases()
	if err != nil {
		return nil, fmt.Errorf("list codebases: %w", err)
	}
	out := make([]Codebase, len(cbs))
	for i, cb := range cbs {
		out[i] = codebaseFromStore(cb)
	}
	return out, nil
}

// RemoveCodebase unregisters a codebase and drops its index. It fails while
// a job of the codebase is queued or running.
func (e *Engine) RemoveCodebase(id string) error {
	if _, err := e.codebase(id); err != nil {
		return err
	}
	if e.activeJobFor(id) {
		return invalidf("codebase %s has an active job", id)
	}
	sn := e.index.Snapshot()
	files := sn.Files(id)
	sn.Release()
	if err := e.db.DeleteCodebase(id); err != nil {
		return fmt.Errorf("remove codebase: %w", err)
	}
	for _, f := range files {
		e.index.RemoveFile(id, f.Path)
	}
	e.index.Collect()
	return nil
}

func (e *Engine) codebase(id string) (*store.Codebase, error) {
	if err := validUUID("codebase", id); err != nil {
		return nil, err
	}
	cb, err := e.db.CodebaseByID(id)
	if err != nil {
		return nil, fmt.Errorf("codebase %s: %w", id, err)
	}
	if cb == nil {
		return nil, notFoundf("codebase %s", id)
	}
	return cb, nil
}

func validUUID(what, id string) error {
	if id == "" {
		return invalidf("%s id is required", what)
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalidf("malformed %s id %q", what, id)
	}
	return nil
}
