package graph

import (
	"sort"
	"sync"
)

// Snapshot is a read view bound to one store version. Records retired after
// that version stay visible to it; records installed after it do not. Each
// lookup holds the store's read lock only while copying its result out.
type Snapshot struct {
	s       *Store
	version uint64
	once    sync.Once
}

// Snapshot binds a new read view to the latest version. Callers must
// Release it so retired records can be collected.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	v := s.version
	s.snapMu.Lock()
	s.snapshots[v]++
	s.snapMu.Unlock()
	s.mu.RUnlock()
	return &Snapshot{s: s, version: v}
}

// Release unregisters the snapshot. It is safe to call more than once.
func (sn *Snapshot) Release() {
	sn.once.Do(func() {
		sn.s.snapMu.Lock()
		defer sn.s.snapMu.Unlock()
		if sn.s.snapshots[sn.version] <= 1 {
			delete(sn.s.snapshots, sn.version)
			return
		}
		sn.s.snapshots[sn.version]--
	})
}

// Version returns the store version the snapshot observes.
func (sn *Snapshot) Version() uint64 {
	return sn.version
}

func (sn *Snapshot) entityVisible(r *entityRecord) bool {
	return r != nil && visible(r.born, r.retired, sn.version)
}

func (sn *Snapshot) relVisible(r *relRecord) bool {
	return r != nil && visible(r.born, r.retired, sn.version)
}

// Entity returns the entity with id as of the snapshot.
func (sn *Snapshot) Entity(id string) (Entity, bool) {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	for _, h := range sn.s.byID[id] {
		if r := sn.s.entities[h]; sn.entityVisible(r) {
			return r.Entity, true
		}
	}
	return Entity{}, false
}

func (sn *Snapshot) collectEntities(hs []handle, keep func(*Entity) bool) []Entity {
	var out []Entity
	for _, h := range hs {
		r := sn.s.entities[h]
		if !sn.entityVisible(r) {
			continue
		}
		if keep != nil && !keep(&r.Entity) {
			continue
		}
		out = append(out, r.Entity)
	}
	sortEntities(out)
	return out
}

// EntitiesByName returns entities whose simple name is name.
func (sn *Snapshot) EntitiesByName(name string) []Entity {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	return sn.collectEntities(sn.s.byName[name], nil)
}

// EntitiesByQualifiedName returns entities whose qualified name is qname.
func (sn *Snapshot) EntitiesByQualifiedName(qname string) []Entity {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	return sn.collectEntities(sn.s.byQName[qname], nil)
}

// EntitiesByKind returns entities of kind k.
func (sn *Snapshot) EntitiesByKind(k EntityKind) []Entity {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	return sn.collectEntities(sn.s.byKind[k], nil)
}

// EntitiesByFile returns the entities of one file generation.
func (sn *Snapshot) EntitiesByFile(codebaseID, path string) []Entity {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	for _, f := range sn.s.fileHistory[FileKey{codebaseID, path}] {
		if visible(f.born, f.retired, sn.version) {
			return sn.collectEntities(f.entities, nil)
		}
	}
	return nil
}

// Entities returns every visible entity, optionally restricted to one
// codebase. An empty codebaseID matches all codebases.
func (sn *Snapshot) Entities(codebaseID string) []Entity {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	var out []Entity
	for _, r := range sn.s.entities {
		if !sn.entityVisible(r) {
			continue
		}
		if codebaseID != "" && r.CodebaseID != codebaseID {
			continue
		}
		out = append(out, r.Entity)
	}
	sortEntities(out)
	return out
}

// Files returns the visible file generations of a codebase.
func (sn *Snapshot) Files(codebaseID string) []FileInfo {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	var out []FileInfo
	for key, hist := range sn.s.fileHistory {
		if codebaseID != "" && key.CodebaseID != codebaseID {
			continue
		}
		for _, f := range hist {
			if visible(f.born, f.retired, sn.version) {
				out = append(out, f.FileInfo)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CodebaseID != out[j].CodebaseID {
			return out[i].CodebaseID < out[j].CodebaseID
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func (sn *Snapshot) collectRels(hs []handle, keep func(*Relationship) bool) []Relationship {
	var out []Relationship
	for _, h := range hs {
		r := sn.s.rels[h]
		if !sn.relVisible(r) {
			continue
		}
		if keep != nil && !keep(&r.Relationship) {
			continue
		}
		out = append(out, r.Relationship)
	}
	sortRelationships(out)
	return out
}

// Outgoing returns the relationships whose source is id.
func (sn *Snapshot) Outgoing(id string) []Relationship {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	return sn.collectRels(sn.s.outgoing[id], nil)
}

// Incoming returns the resolved relationships whose target is id.
func (sn *Snapshot) Incoming(id string) []Relationship {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	return sn.collectRels(sn.s.incoming[id], func(r *Relationship) bool {
		return r.TargetEntityID == id
	})
}

// Relationship returns the relationship with id as of the snapshot.
func (sn *Snapshot) Relationship(id string) (Relationship, bool) {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	for _, h := range sn.s.relByID[id] {
		if r := sn.s.rels[h]; sn.relVisible(r) {
			return r.Relationship, true
		}
	}
	return Relationship{}, false
}

// RelationshipsByFile returns the relationships declared in a file.
func (sn *Snapshot) RelationshipsByFile(codebaseID, path string) []Relationship {
	sn.s.mu.RLock()
	defer sn.s.mu.RUnlock()
	for _, f := range sn.s.fileHistory[FileKey{codebaseID, path}] {
		if !visible(f.born, f.retired, sn.version) {
			continue
		}
		// Rewrites of this file's relationships after f was installed
		// replace handles in f.rels, so resolve through relByID.
		var hs []handle
		seen := make(map[string]bool)
		for _, h := range f.rels {
			r := sn.s.rels[h]
			if r == nil || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			hs = append(hs, sn.s.relByID[r.ID]...)
		}
		return sn.collectRels(hs, nil)
	}
	return nil
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].FilePath != es[j].FilePath {
			return es[i].FilePath < es[j].FilePath
		}
		if es[i].StartLine != es[j].StartLine {
			return es[i].StartLine < es[j].StartLine
		}
		return es[i].ID < es[j].ID
	})
}

func sortRelationships(rs []Relationship) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i].Location, rs[j].Location
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return rs[i].ID < rs[j].ID
	})
}
