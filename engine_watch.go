package codeindex

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/jward/codeindex/internal/parser"
	"github.com/jward/codeindex/internal/watch"
)

// WatchPriority is the priority of incremental jobs submitted by Watch.
const WatchPriority = 5

// Watch submits an incremental_update job whenever source files under the
// codebase root change, until ctx is done. Bursts are coalesced by the
// configured debounce and submissions are throttled by watch_rate. A change
// set is dropped when an incremental job is already queued for the
// codebase, since that job will see the change when it runs. onJob, when
// non-nil, is called with each submitted job.
func (e *Engine) Watch(ctx context.Context, codebaseID string, onJob func(IndexJob)) error {
	cb, err := e.codebase(codebaseID)
	if err != nil {
		return err
	}
	includes, err := compileGlobs(e.cfg.IncludePatterns)
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{
		Root:            cb.RootPath,
		ExcludeDirs:     e.cfg.ExcludeDirs,
		ExcludePatterns: e.cfg.ExcludePatterns,
		Debounce:        e.cfg.WatchDebounce,
		Logger:          e.logger,
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", cb.RootPath, err)
	}
	defer w.Close()

	changes, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", cb.RootPath, err)
	}
	limiter := rate.NewLimiter(rate.Limit(e.cfg.WatchRate), e.cfg.WatchBurst)
	e.logger.Info("watching codebase", "codebase_id", codebaseID, "root", cb.RootPath)

	for cs := range changes {
		n := 0
		for _, p := range cs.Paths {
			if _, ok := parser.LanguageForFile(p); !ok {
				continue
			}
			if len(includes) > 0 && !watch.MatchAny(includes, p) {
				continue
			}
			n++
		}
		if n == 0 {
			continue
		}
		if e.queuedJobFor(codebaseID, JobIncrementalUpdate) {
			e.logger.Debug("incremental job already queued", "codebase_id", codebaseID, "changed", n)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		job, err := e.SubmitIndexJob(codebaseID, JobIncrementalUpdate, WatchPriority)
		if errors.Is(err, ErrSchedulerClosed) {
			return err
		}
		if err != nil {
			e.logger.Warn("submit watch job", "codebase_id", codebaseID, "error", err)
			continue
		}
		e.logger.Info("change detected", "codebase_id", codebaseID, "changed", n, "job_id", job.ID)
		if onJob != nil {
			onJob(job)
		}
	}
	return ctx.Err()
}
