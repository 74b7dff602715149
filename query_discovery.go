package codeindex

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/watch"
)

// Ranking weights. Scores are clamped to [0, 1].
const (
	scoreExact       = 1.0
	scoreFoldedExact = 0.95
	scoreQualified   = 0.9
	scoreSubstrMin   = 0.5
	scoreSubstrSpan  = 0.2 // added in proportion to how much of the name the term covers
	scoreTokenMax    = 0.45
	localityMax      = 0.05

	// strongScore separates name matches from token-overlap matches.
	strongScore = 0.5
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(?:(?:\.|::)[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// isIdentifier reports whether s looks like a symbol name.
func isIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// entityFilter restricts search candidates.
type entityFilter struct {
	codebaseID string
	kinds      map[EntityKind]bool
	globs      []glob.Glob
}

func (f *entityFilter) keep(e *Entity) bool {
	if f.codebaseID != "" && e.CodebaseID != f.codebaseID {
		return false
	}
	if len(f.kinds) > 0 {
		if !f.kinds[e.Kind] {
			return false
		}
	} else if e.Kind == graph.KindImport {
		return false
	}
	return len(f.globs) == 0 || watch.MatchAny(f.globs, e.FilePath)
}

// hit is one ranked entity.
type hit struct {
	entity Entity
	score  float64
}

// search ranks every entity visible in sn against term. When term is a
// symbol name and name matches exist, token-overlap matches are dropped.
func (e *Engine) search(sn *graph.Snapshot, term string, f *entityFilter) []hit {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	termLower := strings.ToLower(term)
	qTokens := tokenize(term)

	var hits []hit
	strong := false
	for _, ent := range sn.Entities(f.codebaseID) {
		if !f.keep(&ent) {
			continue
		}
		s := scoreEntity(&ent, term, termLower, qTokens)
		if s <= 0 {
			continue
		}
		if s >= strongScore {
			strong = true
		}
		s += e.localityBonus(ent.CodebaseID, ent.FilePath)
		hits = append(hits, hit{entity: ent, score: min(1, s)})
	}
	if strong && isIdentifier(term) {
		kept := hits[:0]
		for _, h := range hits {
			if h.score >= strongScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	sortHits(hits)
	return hits
}

func sortHits(hits []hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.entity.FilePath != b.entity.FilePath {
			return a.entity.FilePath < b.entity.FilePath
		}
		if a.entity.StartLine != b.entity.StartLine {
			return a.entity.StartLine < b.entity.StartLine
		}
		return a.entity.ID < b.entity.ID
	})
}

// scoreEntity combines name, qualified-name, substring and token-overlap
// evidence into a base score without the locality bonus.
func scoreEntity(ent *Entity, term, termLower string, qTokens []string) float64 {
	switch {
	case ent.Name == term:
		return scoreExact
	case strings.EqualFold(ent.Name, term):
		return scoreFoldedExact
	}
	if strings.ContainsAny(term, ".:") {
		q := strings.ToLower(ent.QualifiedName)
		norm := strings.ReplaceAll(termLower, "::", ".")
		if q == norm || strings.HasSuffix(q, "."+norm) {
			return scoreQualified
		}
	}
	best := 0.0
	nameLower := strings.ToLower(ent.Name)
	if len(termLower) >= 2 && strings.Contains(nameLower, termLower) {
		best = scoreSubstrMin + scoreSubstrSpan*float64(len(termLower))/float64(len(nameLower))
	}
	if best < scoreTokenMax && len(qTokens) > 0 {
		if t := scoreTokenMax * tokenOverlap(ent, qTokens); t > best {
			best = t
		}
	}
	return best
}

// tokenOverlap is the weighted share of query tokens found in the entity:
// a token in the name or signature counts fully, one only in the body
// counts half.
func tokenOverlap(ent *Entity, qTokens []string) float64 {
	head := make(map[string]bool)
	for _, t := range tokenize(ent.Name + " " + ent.Signature) {
		head[t] = true
	}
	var body map[string]bool
	total := 0.0
	for _, q := range qTokens {
		if head[q] {
			total++
			continue
		}
		if body == nil {
			body = make(map[string]bool)
			for _, t := range tokenize(ent.Source) {
				body[t] = true
			}
		}
		if body[q] {
			total += 0.5
		}
	}
	return total / float64(len(qTokens))
}

// localityBonus favors files that earlier queries returned.
func (e *Engine) localityBonus(codebaseID, path string) float64 {
	e.localityMu.Lock()
	n, ok := e.locality.Peek(codebaseID + "/" + path)
	e.localityMu.Unlock()
	if !ok || n <= 0 {
		return 0
	}
	return localityMax * float64(n) / float64(n+4)
}

func (e *Engine) recordLocality(entities []Entity) {
	seen := make(map[string]bool)
	e.localityMu.Lock()
	defer e.localityMu.Unlock()
	for i := range entities {
		key := entities[i].CodebaseID + "/" + entities[i].FilePath
		if seen[key] {
			continue
		}
		seen[key] = true
		n, _ := e.locality.Get(key)
		e.locality.Add(key, n+1)
	}
}

// tokenize splits text into lower-case words on punctuation, snake_case and
// camelCase boundaries, dropping one-letter words and stop words.
func tokenize(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, part := range splitCamelCase(field) {
			w := strings.ToLower(part)
			if len(w) < 2 || stopWords[w] || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// splitCamelCase splits handleHTTPError into handle, HTTP, Error.
func splitCamelCase(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return []string{s}
	}
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := !unicode.IsUpper(prev) && unicode.IsUpper(cur) ||
			unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) ||
			unicode.IsDigit(prev) != unicode.IsDigit(cur)
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// stopWords are query filler and keywords common to every language.
var stopWords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true, "of": true, "in": true, "to": true,
	"is": true, "are": true, "for": true, "with": true, "on": true, "at": true, "by": true,
	"it": true, "this": true, "that": true, "me": true, "all": true, "any": true,
	"find": true, "show": true, "search": true, "function": true, "functions": true,
	"class": true, "classes": true, "method": true, "methods": true, "code": true,
	"func": true, "def": true, "fn": true, "return": true, "if": true, "else": true,
	"var": true, "let": true, "const": true, "new": true, "self": true,
}
