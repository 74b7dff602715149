package codeindex

import (
	"time"

	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/rules"
	"github.com/jward/codeindex/internal/store"
)

// Public aliases for the internal record types. They are identical to the
// internal types at compile time, so no conversion is needed.

type Entity = graph.Entity
type Relationship = graph.Relationship
type Location = graph.Location
type Metrics = graph.Metrics
type EntityKind = graph.EntityKind
type RelationshipKind = graph.RelationshipKind
type FileError = store.FileError
type Finding = rules.Finding
type Stats = graph.Stats

// CodebaseStatus is the aggregate indexing state of a codebase.
type CodebaseStatus string

const (
	StatusUnindexed CodebaseStatus = "unindexed"
	StatusIndexing  CodebaseStatus = "indexing"
	StatusIndexed   CodebaseStatus = "indexed"
	StatusError     CodebaseStatus = "error"
	// StatusPartial means a job was cancelled with files left unprocessed.
	// The installed files are consistent; an incremental job completes it.
	StatusPartial CodebaseStatus = "partial"
)

// FileState is the recorded state of one tracked file.
type FileState struct {
	Language    string    `json:"language"`
	Hash        string    `json:"hash"`
	Generation  int64     `json:"generation"`
	LastIndexed time.Time `json:"last_indexed"`
}

// Codebase is a registered source tree.
type Codebase struct {
	ID        string               `json:"id"`
	RootPath  string               `json:"root_path"`
	Status    CodebaseStatus       `json:"status"`
	Languages map[string]int       `json:"languages"`
	Files     map[string]FileState `json:"files,omitempty"`
	LastError string               `json:"last_error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// JobType selects how much of a codebase a job reprocesses.
type JobType string

const (
	JobFullIndex         JobType = "full_index"
	JobIncrementalUpdate JobType = "incremental_update"
)

func (t JobType) valid() bool {
	return t == JobFullIndex || t == JobIncrementalUpdate
}

// JobStatus is the state of an IndexJob:
//
//	queued -> running -> completed | failed | cancelled
//
// A queued job may also move straight to cancelled.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Priority bounds for SubmitIndexJob.
const (
	MinPriority = 1
	MaxPriority = 10
)

// IndexJob is one indexing run over a codebase.
type IndexJob struct {
	ID             string      `json:"id"`
	CodebaseID     string      `json:"codebase_id"`
	JobType        JobType     `json:"job_type"`
	Priority       int         `json:"priority"`
	Status         JobStatus   `json:"status"`
	FilesProcessed int         `json:"files_processed"`
	FilesTotal     int         `json:"files_total"`
	FilesFailed    int         `json:"files_failed"`
	Errors         []FileError `json:"errors,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

func jobFromStore(j *store.Job) IndexJob {
	return IndexJob{
		ID:             j.ID,
		CodebaseID:     j.CodebaseID,
		JobType:        JobType(j.JobType),
		Priority:       j.Priority,
		Status:         JobStatus(j.Status),
		FilesProcessed: j.FilesProcessed,
		FilesTotal:     j.FilesTotal,
		FilesFailed:    j.FilesFailed,
		Errors:         j.Errors,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func (j *IndexJob) toStore() *store.Job {
	return &store.Job{
		ID:             j.ID,
		CodebaseID:     j.CodebaseID,
		JobType:        string(j.JobType),
		Priority:       j.Priority,
		Status:         string(j.Status),
		FilesProcessed: j.FilesProcessed,
		FilesTotal:     j.FilesTotal,
		FilesFailed:    j.FilesFailed,
		Errors:         j.Errors,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func codebaseFromStore(c *store.Codebase) Codebase {
	langs := c.Languages
	if langs == nil {
		langs = map[string]int{}
	}
	return Codebase{
		ID:        c.ID,
		RootPath:  c.RootPath,
		Status:    CodebaseStatus(c.Status),
		Languages: langs,
		LastError: c.LastError,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
