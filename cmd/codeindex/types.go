package main

import "github.com/jward/codeindex"

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIEntity is the compact entity row used by list outputs.
type CLIEntity struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	QualifiedName string  `json:"qualified_name"`
	Kind          string  `json:"kind"`
	File          string  `json:"file"`
	StartLine     int     `json:"start_line"`
	EndLine       int     `json:"end_line"`
	Score         float64 `json:"score,omitempty"`
}

func entityToCLI(e codeindex.Entity, score float64) CLIEntity {
	return CLIEntity{
		ID:            e.ID,
		Name:          e.Name,
		QualifiedName: e.QualifiedName,
		Kind:          string(e.Kind),
		File:          e.FilePath,
		StartLine:     e.StartLine,
		EndLine:       e.EndLine,
		Score:         score,
	}
}
