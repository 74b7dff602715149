package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/codeindex/internal/graph"
)

// CommitFile replaces everything recorded for the batch's file inside a
// single transaction: the file row, its entities and its relationships. The
// batch's Generation must already be pinned.
func (s *Store) CommitFile(batch graph.FileBatch, indexedAt time.Time) error {
	if batch.Generation <= 0 {
		return fmt.Errorf("commit file %s: generation not set", batch.Path)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit file: begin: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileTx(tx, batch.CodebaseID, batch.Path); err != nil {
		return fmt.Errorf("commit file %s: %w", batch.Path, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO files (codebase_id, path, language, hash, generation, imports, last_indexed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.CodebaseID, batch.Path, batch.Language, batch.ContentHash, batch.Generation,
		marshalJSON(batch.Imports, "[]"), indexedAt,
	); err != nil {
		return fmt.Errorf("commit file %s: insert file: %w", batch.Path, err)
	}

	entStmt, err := tx.Prepare(
		`INSERT INTO entities (id, codebase_id, file_path, kind, name, qualified_name, language,
			start_line, end_line, signature, content_hash, generation,
			cyclomatic, cognitive, lines_of_code, comment_lines, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("commit file: prepare entities: %w", err)
	}
	defer entStmt.Close()
	for _, e := range batch.Entities {
		if _, err := entStmt.Exec(
			e.ID, batch.CodebaseID, batch.Path, string(e.Kind), e.Name, e.QualifiedName, e.Language,
			e.StartLine, e.EndLine, e.Signature, e.ContentHash, batch.Generation,
			e.Metrics.Cyclomatic, e.Metrics.Cognitive, e.Metrics.LinesOfCode, e.Metrics.CommentLines, e.Source,
		); err != nil {
			return fmt.Errorf("commit file %s: entity %q: %w", batch.Path, e.QualifiedName, err)
		}
	}

	relStmt, err := tx.Prepare(
		`INSERT INTO relationships (id, codebase_id, file_path, source_entity_id, target_entity_id,
			target_name, target_module, kind, line, col, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("commit file: prepare relationships: %w", err)
	}
	defer relStmt.Close()
	for _, r := range batch.Relationships {
		if _, err := relStmt.Exec(
			r.ID, batch.CodebaseID, batch.Path, r.SourceEntityID, r.TargetEntityID,
			r.TargetName, r.TargetModule, string(r.Kind), r.Location.Line, r.Location.Column, r.Confidence,
		); err != nil {
			return fmt.Errorf("commit file %s: relationship %s: %w", batch.Path, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file %s: %w", batch.Path, err)
	}
	return nil
}

// RemoveFiles deletes the recorded state of paths in one transaction.
func (s *Store) RemoveFiles(codebaseID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("remove files: begin: %w", err)
	}
	defer tx.Rollback()

	args := append([]any{codebaseID}, stringsToArgs(paths)...)
	in := "(" + placeholderList(len(paths)) + ")"
	for _, q := range []string{
		"DELETE FROM relationships WHERE codebase_id = ? AND file_path IN " + in,
		"DELETE FROM entities WHERE codebase_id = ? AND file_path IN " + in,
		"DELETE FROM files WHERE codebase_id = ? AND path IN " + in,
	} {
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("remove files: %w", err)
		}
	}
	return tx.Commit()
}

func deleteFileTx(tx *sql.Tx, codebaseID, path string) error {
	for _, q := range []string{
		"DELETE FROM relationships WHERE codebase_id = ? AND file_path = ?",
		"DELETE FROM entities WHERE codebase_id = ? AND file_path = ?",
		"DELETE FROM files WHERE codebase_id = ? AND path = ?",
	} {
		if _, err := tx.Exec(q, codebaseID, path); err != nil {
			return fmt.Errorf("delete file data: %w", err)
		}
	}
	return nil
}

// Files returns the recorded files of a codebase ordered by path.
func (s *Store) Files(codebaseID string) ([]*File, error) {
	rows, err := s.db.Query(
		`SELECT codebase_id, path, language, hash, generation, imports, last_indexed
		 FROM files WHERE codebase_id = ? ORDER BY path`, codebaseID)
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var out []*File
	for rows.Next() {
		f := &File{}
		var imports string
		if err := rows.Scan(&f.CodebaseID, &f.Path, &f.Language, &f.Hash, &f.Generation, &imports, &f.LastIndexed); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		unmarshalJSON(imports, &f.Imports)
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadBatches rebuilds one FileBatch per recorded file of a codebase, with
// generations pinned, so the in-memory index can be restored by applying
// them in order.
func (s *Store) LoadBatches(codebaseID string) ([]graph.FileBatch, error) {
	files, err := s.Files(codebaseID)
	if err != nil {
		return nil, err
	}
	batches := make([]graph.FileBatch, len(files))
	byPath := make(map[string]*graph.FileBatch, len(files))
	for i, f := range files {
		batches[i] = graph.FileBatch{
			CodebaseID:  codebaseID,
			Path:        f.Path,
			Language:    f.Language,
			ContentHash: f.Hash,
			Imports:     f.Imports,
			Generation:  f.Generation,
		}
		byPath[f.Path] = &batches[i]
	}

	rows, err := s.db.Query(
		`SELECT id, file_path, kind, name, qualified_name, language, start_line, end_line,
			signature, content_hash, generation, cyclomatic, cognitive, lines_of_code, comment_lines, source
		 FROM entities WHERE codebase_id = ? ORDER BY file_path, start_line, id`, codebaseID)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e := graph.Entity{CodebaseID: codebaseID}
		var kind string
		if err := rows.Scan(&e.ID, &e.FilePath, &kind, &e.Name, &e.QualifiedName, &e.Language,
			&e.StartLine, &e.EndLine, &e.Signature, &e.ContentHash, &e.Generation,
			&e.Metrics.Cyclomatic, &e.Metrics.Cognitive, &e.Metrics.LinesOfCode, &e.Metrics.CommentLines,
			&e.Source); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Kind = graph.EntityKind(kind)
		if b, ok := byPath[e.FilePath]; ok {
			b.Entities = append(b.Entities, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	relRows, err := s.db.Query(
		`SELECT id, file_path, source_entity_id, target_entity_id, target_name, target_module,
			kind, line, col, confidence
		 FROM relationships WHERE codebase_id = ? ORDER BY file_path, line, col, id`, codebaseID)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer relRows.Close()
	for relRows.Next() {
		var r graph.Relationship
		var kind string
		if err := relRows.Scan(&r.ID, &r.Location.FilePath, &r.SourceEntityID, &r.TargetEntityID,
			&r.TargetName, &r.TargetModule, &kind, &r.Location.Line, &r.Location.Column, &r.Confidence); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Kind = graph.RelationshipKind(kind)
		if b, ok := byPath[r.Location.FilePath]; ok {
			b.Relationships = append(b.Relationships, r)
		}
	}
	return batches, relRows.Err()
}
