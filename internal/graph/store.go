package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInvalidBatch is returned by Apply when a batch violates the model
// invariants. Nothing from such a batch is installed.
var ErrInvalidBatch = errors.New("invalid batch")

type handle uint64

type entityRecord struct {
	Entity
	born    uint64
	retired uint64 // 0 while live
}

type relRecord struct {
	Relationship
	file    FileKey
	born    uint64
	retired uint64
}

type fileRecord struct {
	FileInfo
	entities []handle
	rels     []handle
	born     uint64
	retired  uint64
}

// FileInfo describes one installed file generation.
type FileInfo struct {
	CodebaseID  string   `json:"codebase_id"`
	Path        string   `json:"path"`
	Language    string   `json:"language"`
	ContentHash string   `json:"content_hash"`
	Generation  int64    `json:"generation"`
	Imports     []string `json:"imports,omitempty"`
	EntityCount int      `json:"entity_count"`
}

func visible(born, retired, version uint64) bool {
	return born <= version && (retired == 0 || retired > version)
}

// Store is the versioned in-memory index. Records live in an arena keyed by
// monotonically increasing handles; retirement stamps a version instead of
// freeing memory, and Collect drops records no snapshot can still observe.
//
// Writers serialize on mu. Readers go through a Snapshot and hold the read
// lock only for the duration of a single lookup.
type Store struct {
	mu         sync.RWMutex
	version    uint64
	nextHandle handle

	entities map[handle]*entityRecord
	rels     map[handle]*relRecord

	byID     map[string][]handle
	byName   map[string][]handle
	byQName  map[string][]handle
	byKind   map[EntityKind][]handle
	relByID  map[string][]handle
	outgoing map[string][]handle // source entity id -> relationship handles
	incoming map[string][]handle // target entity id -> relationship handles
	byTarget map[string][]handle // target name -> relationships resolved across files, or awaiting resolution

	files       map[FileKey]*fileRecord   // live generation per file
	fileHistory map[FileKey][]*fileRecord // every generation not yet collected

	snapMu    sync.Mutex
	snapshots map[uint64]int
}

// NewStore returns an empty Store at version 0.
func NewStore() *Store {
	return &Store{
		entities:    make(map[handle]*entityRecord),
		rels:        make(map[handle]*relRecord),
		byID:        make(map[string][]handle),
		byName:      make(map[string][]handle),
		byQName:     make(map[string][]handle),
		byKind:      make(map[EntityKind][]handle),
		relByID:     make(map[string][]handle),
		outgoing:    make(map[string][]handle),
		incoming:    make(map[string][]handle),
		byTarget:    make(map[string][]handle),
		files:       make(map[FileKey]*fileRecord),
		fileHistory: make(map[FileKey][]*fileRecord),
		snapshots:   make(map[uint64]int),
	}
}

// Version returns the latest committed version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// File returns the live state of a file, if installed.
func (s *Store) File(codebaseID, path string) (FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[FileKey{codebaseID, path}]
	if !ok {
		return FileInfo{}, false
	}
	return f.FileInfo, true
}

// ApplyResult summarizes one installed batch.
type ApplyResult struct {
	Version    uint64
	Generation int64
	NoOp       bool
	Added      int // entities installed
	Retired    int // entities retired
	Unresolved int // relationships left without a target
	Resolved   int // relationships elsewhere that gained a target
	Orphaned   int // relationships elsewhere that lost their target
	Rebound    int // relationships elsewhere whose target or confidence changed
}

// Apply installs a file generation in one logical step: the file's previous
// entities and relationships are retired, the new ones installed, and
// references into the file are repaired, all under a single new version.
// A batch identical to the live generation is a no-op.
func (s *Store) Apply(batch FileBatch) (ApplyResult, error) {
	if err := validateBatch(&batch); err != nil {
		return ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := FileKey{batch.CodebaseID, batch.Path}
	old := s.files[key]
	if old != nil && batch.Generation == 0 && s.sameGeneration(old, &batch) {
		return ApplyResult{Version: s.version, Generation: old.Generation, NoOp: true}, nil
	}
	return s.installLocked(key, old, &batch, false), nil
}

// RemoveFile retires every record of a file. Removing an unknown file is a
// no-op.
func (s *Store) RemoveFile(codebaseID, path string) ApplyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := FileKey{codebaseID, path}
	old := s.files[key]
	if old == nil {
		return ApplyResult{Version: s.version, NoOp: true}
	}
	return s.installLocked(key, old, &FileBatch{CodebaseID: codebaseID, Path: path}, true)
}

func validateBatch(b *FileBatch) error {
	if b.CodebaseID == "" || b.Path == "" {
		return fmt.Errorf("%w: codebase id and path are required", ErrInvalidBatch)
	}
	ids := make(map[string]bool, len(b.Entities))
	for i := range b.Entities {
		e := &b.Entities[i]
		if e.ID == "" || !e.Kind.Valid() {
			return fmt.Errorf("%w: entity %q has no id or an unknown kind %q", ErrInvalidBatch, e.QualifiedName, e.Kind)
		}
		if e.FilePath != b.Path || e.CodebaseID != b.CodebaseID {
			return fmt.Errorf("%w: entity %s belongs to %s", ErrInvalidBatch, e.ID, e.FilePath)
		}
		if ids[e.ID] {
			return fmt.Errorf("%w: duplicate entity id %s (%s)", ErrInvalidBatch, e.ID, e.QualifiedName)
		}
		ids[e.ID] = true
	}
	for i := range b.Relationships {
		r := &b.Relationships[i]
		if !ids[r.SourceEntityID] {
			return fmt.Errorf("%w: relationship %s has a source outside the batch", ErrInvalidBatch, r.ID)
		}
		if !r.Kind.Valid() {
			return fmt.Errorf("%w: relationship %s has unknown kind %q", ErrInvalidBatch, r.ID, r.Kind)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%w: relationship %s confidence %v out of range", ErrInvalidBatch, r.ID, r.Confidence)
		}
	}
	return nil
}

func (s *Store) sameGeneration(old *fileRecord, b *FileBatch) bool {
	if old.ContentHash != b.ContentHash || len(old.entities) != len(b.Entities) {
		return false
	}
	hashes := make(map[string]string, len(old.entities))
	for _, h := range old.entities {
		rec := s.entities[h]
		hashes[rec.ID] = rec.ContentHash
	}
	for i := range b.Entities {
		if hashes[b.Entities[i].ID] != b.Entities[i].ContentHash {
			return false
		}
	}
	return true
}

func (s *Store) alloc() handle {
	s.nextHandle++
	return s.nextHandle
}

// installLocked performs the write. Caller holds mu.
func (s *Store) installLocked(key FileKey, old *fileRecord, b *FileBatch, remove bool) ApplyResult {
	s.version++
	v := s.version
	res := ApplyResult{Version: v}

	// Retire the previous generation.
	oldIDs := make(map[string]string)
	if old != nil {
		for _, h := range old.entities {
			rec := s.entities[h]
			rec.retired = v
			oldIDs[rec.ID] = rec.Name
			res.Retired++
		}
		for _, h := range old.rels {
			s.rels[h].retired = v
		}
		old.retired = v
		delete(s.files, key)
	}

	var rec *fileRecord
	if !remove {
		gen := b.Generation
		if gen == 0 {
			gen = 1
			if old != nil {
				gen = old.Generation + 1
			}
		}
		res.Generation = gen
		rec = &fileRecord{
			FileInfo: FileInfo{
				CodebaseID:  b.CodebaseID,
				Path:        b.Path,
				Language:    b.Language,
				ContentHash: b.ContentHash,
				Generation:  gen,
				Imports:     append([]string(nil), b.Imports...),
				EntityCount: len(b.Entities),
			},
			born: v,
		}
		s.files[key] = rec
		s.fileHistory[key] = append(s.fileHistory[key], rec)
	}

	// Install entities.
	newIDs := make(map[string]bool, len(b.Entities))
	changed := make(map[string]bool)
	for i := range b.Entities {
		e := b.Entities[i]
		e.Generation = res.Generation
		h := s.alloc()
		s.entities[h] = &entityRecord{Entity: e, born: v}
		s.byID[e.ID] = append(s.byID[e.ID], h)
		s.byName[e.Name] = append(s.byName[e.Name], h)
		s.byQName[e.QualifiedName] = append(s.byQName[e.QualifiedName], h)
		s.byKind[e.Kind] = append(s.byKind[e.Kind], h)
		rec.entities = append(rec.entities, h)
		newIDs[e.ID] = true
		if _, ok := oldIDs[e.ID]; !ok {
			changed[e.Name] = true
		}
		res.Added++
	}

	for id, name := range oldIDs {
		if !newIDs[id] {
			changed[name] = true
		}
	}

	// Install this file's relationships, resolving what the extractor could
	// not resolve within the file. Cross-file targets carried in the batch
	// are resolved again against the current candidates.
	var imports []string
	if rec != nil {
		imports = rec.Imports
	}
	for i := range b.Relationships {
		r := b.Relationships[i]
		if r.TargetEntityID != "" && (r.Confidence < ConfidenceExact || !s.liveIDLocked(r.TargetEntityID)) {
			r.TargetEntityID = ""
			r.Confidence = ConfidenceUnresolved
		}
		if r.TargetEntityID == "" {
			r.TargetEntityID, r.Confidence = s.resolveLocked(&r, key, imports)
			if r.TargetEntityID == "" {
				res.Unresolved++
			}
		}
		h := s.installRelLocked(r, key, v)
		rec.rels = append(rec.rels, h)
	}

	// Relationships in other files that resolve by a name whose candidates
	// changed are resolved again, so the outcome depends only on the live
	// entities and never on installation order.
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.reresolveLocked(name, key, v, &res)
	}

	// Anything still pointing at a vanished entity is repaired here.
	for id := range oldIDs {
		if newIDs[id] {
			continue
		}
		for _, h := range s.incoming[id] {
			r := s.rels[h]
			if r == nil || r.retired != 0 || r.file == key {
				continue
			}
			orphan := r.Relationship
			var imports []string
			if f := s.files[r.file]; f != nil {
				imports = f.Imports
			}
			orphan.TargetEntityID, orphan.Confidence = s.resolveLocked(&orphan, r.file, imports)
			s.rewriteRelLocked(h, orphan, v)
			if orphan.TargetEntityID == "" {
				res.Orphaned++
			}
		}
	}

	return res
}

func (s *Store) installRelLocked(r Relationship, file FileKey, v uint64) handle {
	h := s.alloc()
	s.rels[h] = &relRecord{Relationship: r, file: file, born: v}
	s.relByID[r.ID] = append(s.relByID[r.ID], h)
	s.outgoing[r.SourceEntityID] = append(s.outgoing[r.SourceEntityID], h)
	if r.TargetEntityID != "" {
		s.incoming[r.TargetEntityID] = append(s.incoming[r.TargetEntityID], h)
	}
	if r.TargetName != "" && r.Confidence < ConfidenceExact {
		s.byTarget[r.TargetName] = append(s.byTarget[r.TargetName], h)
	}
	return h
}

// rewriteRelLocked retires the relationship at prev and installs r in its
// place, keeping the owning file's handle list current.
func (s *Store) rewriteRelLocked(prev handle, r Relationship, v uint64) {
	old := s.rels[prev]
	old.retired = v
	h := s.installRelLocked(r, old.file, v)
	f := s.files[old.file]
	if f == nil {
		return
	}
	for i, x := range f.rels {
		if x == prev {
			f.rels[i] = h
			return
		}
	}
	f.rels = append(f.rels, h)
}

func (s *Store) liveIDLocked(id string) bool {
	for _, h := range s.byID[id] {
		if s.entities[h].retired == 0 {
			return true
		}
	}
	return false
}

// reresolveLocked resolves every live relationship outside the installed
// file that targets name, rewriting those whose outcome changed.
func (s *Store) reresolveLocked(name string, installed FileKey, v uint64, res *ApplyResult) {
	hs := s.byTarget[name]
	delete(s.byTarget, name)
	var keep []handle
	for _, h := range hs {
		r := s.rels[h]
		if r == nil || r.retired != 0 {
			continue
		}
		if r.file == installed {
			keep = append(keep, h)
			continue
		}
		var imports []string
		if f := s.files[r.file]; f != nil {
			imports = f.Imports
		}
		target, conf := s.resolveLocked(&r.Relationship, r.file, imports)
		if target == r.TargetEntityID && conf == r.Confidence {
			keep = append(keep, h)
			continue
		}
		switch {
		case r.TargetEntityID == "":
			res.Resolved++
		case target == "":
			res.Orphaned++
		default:
			res.Rebound++
		}
		fixed := r.Relationship
		fixed.TargetEntityID = target
		fixed.Confidence = conf
		s.rewriteRelLocked(h, fixed, v)
	}
	if len(keep) > 0 {
		s.byTarget[name] = append(s.byTarget[name], keep...)
	}
}

// Stats reports live and total record counts.
type Stats struct {
	Version              uint64 `json:"version"`
	Files                int    `json:"files"`
	Entities             int    `json:"entities"`
	Relationships        int    `json:"relationships"`
	Unresolved           int    `json:"unresolved"`
	RetiredEntities      int    `json:"retired_entities"`
	RetiredRelationships int    `json:"retired_relationships"`
	ActiveSnapshots      int    `json:"active_snapshots"`
}

// Stats returns current counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Version: s.version, Files: len(s.files)}
	for _, e := range s.entities {
		if e.retired == 0 {
			st.Entities++
		} else {
			st.RetiredEntities++
		}
	}
	for _, r := range s.rels {
		switch {
		case r.retired != 0:
			st.RetiredRelationships++
		case r.TargetEntityID == "":
			st.Unresolved++
			st.Relationships++
		default:
			st.Relationships++
		}
	}
	s.snapMu.Lock()
	for _, n := range s.snapshots {
		st.ActiveSnapshots += n
	}
	s.snapMu.Unlock()
	return st
}
