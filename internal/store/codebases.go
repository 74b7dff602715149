package store

import (
	"database/sql"
	"fmt"
)

const codebaseColumns = "id, root_path, status, languages, last_error, created_at, updated_at"

// UpsertCodebase inserts c or updates the row with the same id.
func (s *Store) UpsertCodebase(c *Codebase) error {
	_, err := s.db.Exec(
		`INSERT INTO codebases (`+codebaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			root_path = excluded.root_path,
			status = excluded.status,
			languages = excluded.languages,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		c.ID, c.RootPath, c.Status, marshalJSON(c.Languages, "{}"), c.LastError, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert codebase %s: %w", c.ID, err)
	}
	return nil
}

// CodebaseByID returns the codebase with id, or nil when none exists.
func (s *Store) CodebaseByID(id string) (*Codebase, error) {
	c, err := scanCodebase(s.db.QueryRow("SELECT "+codebaseColumns+" FROM codebases WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("codebase by id: %w", err)
	}
	return c, nil
}

// CodebaseByRoot returns the codebase registered at root, or nil.
func (s *Store) CodebaseByRoot(root string) (*Codebase, error) {
	c, err := scanCodebase(s.db.QueryRow("SELECT "+codebaseColumns+" FROM codebases WHERE root_path = ?", root))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("codebase by root: %w", err)
	}
	return c, nil
}

// Codebases returns every registered codebase ordered by creation time.
func (s *Store) Codebases() ([]*Codebase, error) {
	rows, err := s.db.Query("SELECT " + codebaseColumns + " FROM codebases ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("codebases: %w", err)
	}
	defer rows.Close()
	var out []*Codebase
	for rows.Next() {
		c, err := scanCodebase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan codebase: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCodebase removes a codebase and, by cascade, its files, entities,
// relationships and jobs.
func (s *Store) DeleteCodebase(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete codebase: begin: %w", err)
	}
	defer tx.Rollback()
	for _, q := range []string{
		"DELETE FROM relationships WHERE codebase_id = ?",
		"DELETE FROM entities WHERE codebase_id = ?",
		"DELETE FROM files WHERE codebase_id = ?",
		"DELETE FROM jobs WHERE codebase_id = ?",
		"DELETE FROM codebases WHERE id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete codebase %s: %w", id, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCodebase(r rowScanner) (*Codebase, error) {
	c := &Codebase{}
	var langs string
	if err := r.Scan(&c.ID, &c.RootPath, &c.Status, &langs, &c.LastError, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Languages = make(map[string]int)
	unmarshalJSON(langs, &c.Languages)
	return c, nil
}
