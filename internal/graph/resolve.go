package graph

import (
	"path"
	"sort"
	"strings"
)

// targetKinds lists the entity kinds a relationship kind may point at.
var targetKinds = map[RelationshipKind][]EntityKind{
	RelCall:        {KindFunction, KindMethod, KindClass},
	RelInstantiate: {KindClass, KindType, KindEnum},
	RelExtend:      {KindClass, KindInterface, KindType},
	RelImplement:   {KindInterface, KindClass, KindType},
}

// CompatibleTarget reports whether an entity of kind k may be the target of a
// relationship of kind rel. Imports are never targets.
func CompatibleTarget(rel RelationshipKind, k EntityKind) bool {
	if k == KindImport {
		return false
	}
	kinds, ok := targetKinds[rel]
	if !ok {
		return true
	}
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// resolveLocked looks up a project-wide target for an unresolved
// relationship declared in file. Caller holds mu.
//
// A single candidate reachable through one of the file's imports, or the only
// candidate in the codebase, resolves with ConfidenceImport. Several
// candidates resolve to the best-placed one with ConfidenceAmbiguous.
// Import relationships resolve only through their module.
func (s *Store) resolveLocked(r *Relationship, file FileKey, imports []string) (string, float64) {
	if r.TargetName == "" {
		return "", ConfidenceUnresolved
	}
	var cands []*entityRecord
	for _, h := range s.byName[r.TargetName] {
		e := s.entities[h]
		if e.retired != 0 || e.CodebaseID != file.CodebaseID {
			continue
		}
		if e.ID == r.SourceEntityID || !CompatibleTarget(r.Kind, e.Kind) {
			continue
		}
		cands = append(cands, e)
	}
	if len(cands) == 0 {
		return "", ConfidenceUnresolved
	}

	modules := imports
	if r.TargetModule != "" {
		modules = []string{r.TargetModule}
	}
	var hinted []*entityRecord
	for _, c := range cands {
		for _, m := range modules {
			if ModuleMatches(m, file.Path, c.FilePath) {
				hinted = append(hinted, c)
				break
			}
		}
	}

	if r.Kind == RelImport || r.TargetModule != "" {
		switch len(hinted) {
		case 0:
			return "", ConfidenceUnresolved
		case 1:
			return hinted[0].ID, ConfidenceImport
		}
		return bestCandidate(hinted, file.Path).ID, ConfidenceAmbiguous
	}
	if len(hinted) == 1 {
		return hinted[0].ID, ConfidenceImport
	}
	if len(cands) == 1 {
		return cands[0].ID, ConfidenceImport
	}
	if len(hinted) > 1 {
		cands = hinted
	}
	return bestCandidate(cands, file.Path).ID, ConfidenceAmbiguous
}

// bestCandidate prefers candidates in the same directory as from, then the
// lowest path and line.
func bestCandidate(cands []*entityRecord, from string) *entityRecord {
	dir := path.Dir(from)
	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := path.Dir(cands[i].FilePath) == dir, path.Dir(cands[j].FilePath) == dir
		if di != dj {
			return di
		}
		if cands[i].FilePath != cands[j].FilePath {
			return cands[i].FilePath < cands[j].FilePath
		}
		return cands[i].StartLine < cands[j].StartLine
	})
	return cands[0]
}

// ModuleMatches reports whether an import of module written in file from can
// refer to a declaration in file to. Relative specifiers ("./a", "../lib/b")
// resolve against from's directory; dotted modules ("pkg.mod") and package
// paths ("github.com/x/pkg") match by trailing path segments.
func ModuleMatches(module, from, to string) bool {
	module = strings.TrimSpace(module)
	if module == "" {
		return false
	}
	toNoExt := strings.TrimSuffix(to, path.Ext(to))
	if strings.HasPrefix(module, ".") && strings.Contains(module, "/") {
		target := path.Clean(path.Join(path.Dir(from), module))
		target = strings.TrimSuffix(target, path.Ext(target))
		return toNoExt == target || path.Dir(to) == target || toNoExt == target+"/index"
	}
	if !strings.Contains(module, "/") {
		module = strings.ReplaceAll(strings.Trim(module, "."), ".", "/")
	}
	module = strings.Trim(module, "/")
	if module == "" {
		return false
	}
	if toNoExt == module || strings.HasSuffix(toNoExt, "/"+module) {
		return true
	}
	dir := path.Dir(to)
	if dir == module || strings.HasSuffix(dir, "/"+module) {
		return true
	}
	// Package paths carry a module prefix the tree does not.
	return dir != "." && strings.HasSuffix(module, "/"+dir)
}
