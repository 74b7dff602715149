package store

import "time"

// Codebase is one registered root directory.
type Codebase struct {
	ID        string
	RootPath  string
	Status    string
	Languages map[string]int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is the recorded state of one indexed file.
type File struct {
	CodebaseID  string
	Path        string
	Language    string
	Hash        string
	Generation  int64
	Imports     []string
	LastIndexed time.Time
}

// FileError is a recoverable per-file failure recorded on a job.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Job is one persisted indexing job.
type Job struct {
	ID             string
	CodebaseID     string
	JobType        string
	Priority       int
	Status         string
	FilesProcessed int
	FilesTotal     int
	FilesFailed    int
	Errors         []FileError
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}
