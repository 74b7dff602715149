package store

import (
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, codebase_id, job_type, priority, status, files_processed, files_total,
	files_failed, errors, error_message, created_at, started_at, completed_at`

// UpsertJob inserts j or overwrites the row with the same id.
func (s *Store) UpsertJob(j *Job) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			files_processed = excluded.files_processed,
			files_total = excluded.files_total,
			files_failed = excluded.files_failed,
			errors = excluded.errors,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		j.ID, j.CodebaseID, j.JobType, j.Priority, j.Status, j.FilesProcessed, j.FilesTotal,
		j.FilesFailed, marshalJSON(j.Errors, "[]"), j.ErrorMessage, j.CreatedAt,
		nullTime(j.StartedAt), nullTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", j.ID, err)
	}
	return nil
}

// JobByID returns the job with id, or nil when none exists.
func (s *Store) JobByID(id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job by id: %w", err)
	}
	return j, nil
}

// Jobs returns the jobs of a codebase, newest first. An empty codebaseID
// returns every job.
func (s *Store) Jobs(codebaseID string) ([]*Job, error) {
	q := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if codebaseID != "" {
		q += " WHERE codebase_id = ?"
		args = append(args, codebaseID)
	}
	q += " ORDER BY created_at DESC, id"
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FailInterruptedJobs marks jobs left queued or running by a previous
// process as failed and returns how many were updated.
func (s *Store) FailInterruptedJobs(now time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'failed', error_message = 'interrupted by shutdown', completed_at = ?
		 WHERE status IN ('queued', 'running')`, now)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanJob(r rowScanner) (*Job, error) {
	j := &Job{}
	var errs string
	var started, completed sql.NullTime
	if err := r.Scan(&j.ID, &j.CodebaseID, &j.JobType, &j.Priority, &j.Status, &j.FilesProcessed,
		&j.FilesTotal, &j.FilesFailed, &errs, &j.ErrorMessage, &j.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}
	unmarshalJSON(errs, &j.Errors)
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	return j, nil
}
