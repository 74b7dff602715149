package codeindex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// jobState is the live record of a queued or running job.
type jobState struct {
	mu   sync.Mutex
	job  IndexJob
	done chan struct{}

	cancelRequested atomic.Bool
	maxErrors       int
}

func (st *jobState) snapshot() IndexJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	j := st.job
	j.Errors = append([]FileError(nil), st.job.Errors...)
	return j
}

func (st *jobState) update(fn func(j *IndexJob)) IndexJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.job)
	j := st.job
	j.Errors = append([]FileError(nil), st.job.Errors...)
	return j
}

// fileFailed counts a per-file error and keeps at most maxErrors of them.
func (st *jobState) fileFailed(path string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.job.FilesFailed++
	st.job.FilesProcessed++
	if len(st.job.Errors) < st.maxErrors {
		st.job.Errors = append(st.job.Errors, FileError{Path: path, Message: err.Error()})
	}
}

// SubmitIndexJob validates the request and queues a job. Higher priorities
// run first; equal priorities run in submission order. Only one job per
// codebase runs at a time.
func (e *Engine) SubmitIndexJob(codebaseID string, jobType JobType, priority int) (IndexJob, error) {
	if priority < MinPriority || priority > MaxPriority {
		return IndexJob{}, invalidf("priority %d outside %d-%d", priority, MinPriority, MaxPriority)
	}
	if !jobType.valid() {
		return IndexJob{}, invalidf("unknown job type %q", jobType)
	}
	if _, err := e.codebase(codebaseID); err != nil {
		return IndexJob{}, err
	}
	if e.sched.Closed() {
		return IndexJob{}, ErrSchedulerClosed
	}

	st := &jobState{
		job: IndexJob{
			ID:         uuid.NewString(),
			CodebaseID: codebaseID,
			JobType:    jobType,
			Priority:   priority,
			Status:     JobQueued,
			CreatedAt:  e.now(),
		},
		done:      make(chan struct{}),
		maxErrors: e.cfg.MaxJobErrors,
	}
	if err := e.db.UpsertJob(st.job.toStore()); err != nil {
		return IndexJob{}, fmt.Errorf("submit job: %w", err)
	}

	e.mu.Lock()
	e.jobs[st.job.ID] = st
	e.mu.Unlock()

	err := e.sched.Submit(&Task{
		ID:       st.job.ID,
		Key:      codebaseID,
		Priority: priority,
		Run:      func(ctx context.Context) { e.runJob(ctx, st) },
	})
	if err != nil {
		e.finishJob(st, JobCancelled, "scheduler shut down")
		return IndexJob{}, err
	}
	e.logger.Info("job queued", "job_id", st.job.ID, "codebase_id", codebaseID,
		"job_type", jobType, "priority", priority)
	return st.snapshot(), nil
}

// GetJob returns the current state of a job.
func (e *Engine) GetJob(id string) (IndexJob, error) {
	if err := validUUID("job", id); err != nil {
		return IndexJob{}, err
	}
	if st := e.liveJob(id); st != nil {
		return st.snapshot(), nil
	}
	j, err := e.db.JobByID(id)
	if err != nil {
		return IndexJob{}, fmt.Errorf("get job: %w", err)
	}
	if j == nil {
		return IndexJob{}, notFoundf("job %s", id)
	}
	return jobFromStore(j), nil
}

// ListJobs returns the jobs of a codebase, newest first. An empty
// codebaseID lists every job.
func (e *Engine) ListJobs(codebaseID string) ([]IndexJob, error) {
	if codebaseID != "" {
		if _, err := e.codebase(codebaseID); err != nil {
			return nil, err
		}
	}
	stored, err := e.db.Jobs(codebaseID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]IndexJob, len(stored))
	for i, j := range stored {
		if st := e.liveJob(j.ID); st != nil {
			out[i] = st.snapshot()
			continue
		}
		out[i] = jobFromStore(j)
	}
	return out, nil
}

// CancelJob cancels a job. A queued job is cancelled at once; a running job
// stops before its next batch, keeping the files it already installed.
// Cancelling a finished job returns it unchanged.
func (e *Engine) CancelJob(id string) (IndexJob, error) {
	if err := validUUID("job", id); err != nil {
		return IndexJob{}, err
	}
	st := e.liveJob(id)
	if st == nil {
		return e.GetJob(id)
	}
	if e.sched.Remove(id) {
		e.finishJob(st, JobCancelled, "")
		e.logger.Info("job cancelled", "job_id", id, "status", JobQueued)
		return st.snapshot(), nil
	}
	st.cancelRequested.Store(true)
	e.logger.Info("job cancellation requested", "job_id", id)
	return st.snapshot(), nil
}

// WaitJob blocks until the job reaches a terminal state or ctx ends.
func (e *Engine) WaitJob(ctx context.Context, id string) (IndexJob, error) {
	if err := validUUID("job", id); err != nil {
		return IndexJob{}, err
	}
	if st := e.liveJob(id); st != nil {
		select {
		case <-st.done:
		case <-ctx.Done():
			return st.snapshot(), ctx.Err()
		}
	}
	return e.GetJob(id)
}

func (e *Engine) liveJob(id string) *jobState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs[id]
}

func (e *Engine) activeJobFor(codebaseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.jobs {
		if st.snapshot().CodebaseID == codebaseID {
			return true
		}
	}
	return false
}

// queuedJobFor reports whether a job of the given type is waiting to run
// for the codebase.
func (e *Engine) queuedJobFor(codebaseID string, jobType JobType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.jobs {
		j := st.snapshot()
		if j.CodebaseID == codebaseID && j.JobType == jobType && j.Status == JobQueued {
			return true
		}
	}
	return false
}

// persistJob writes the job's current state. Failures are logged; the job
// record is advisory while the job is live.
func (e *Engine) persistJob(j IndexJob) {
	if err := e.db.UpsertJob(j.toStore()); err != nil {
		e.logger.Error("persist job", "job_id", j.ID, "error", err)
	}
}

// finishJob moves a job to a terminal state, persists it and wakes waiters.
func (e *Engine) finishJob(st *jobState, status JobStatus, message string) IndexJob {
	now := e.now()
	j := st.update(func(j *IndexJob) {
		j.Status = status
		if message != "" {
			j.ErrorMessage = message
		}
		j.CompletedAt = &now
	})
	e.persistJob(j)

	e.mu.Lock()
	delete(e.jobs, j.ID)
	e.mu.Unlock()
	close(st.done)
	return j
}
