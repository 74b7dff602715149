package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// EntityKind classifies a named code construct.
type EntityKind string

const (
	KindFunction  EntityKind = "function"
	KindClass     EntityKind = "class"
	KindMethod    EntityKind = "method"
	KindVariable  EntityKind = "variable"
	KindImport    EntityKind = "import"
	KindType      EntityKind = "type"
	KindInterface EntityKind = "interface"
	KindEnum      EntityKind = "enum"
	KindConstant  EntityKind = "constant"
)

// EntityKinds lists every entity kind in a stable order.
var EntityKinds = []EntityKind{
	KindFunction, KindClass, KindMethod, KindVariable, KindImport,
	KindType, KindInterface, KindEnum, KindConstant,
}

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	for _, known := range EntityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Callable reports whether entities of this kind can be the target of a call.
func (k EntityKind) Callable() bool {
	return k == KindFunction || k == KindMethod || k == KindClass
}

// RelationshipKind classifies a directed edge between entities.
type RelationshipKind string

const (
	RelCall        RelationshipKind = "call"
	RelImport      RelationshipKind = "import"
	RelExtend      RelationshipKind = "extend"
	RelImplement   RelationshipKind = "implement"
	RelInstantiate RelationshipKind = "instantiate"
	RelReference   RelationshipKind = "reference"
	RelRead        RelationshipKind = "read"
	RelWrite       RelationshipKind = "write"
	RelDataFlow    RelationshipKind = "data_flow"
)

// RelationshipKinds lists every relationship kind in a stable order.
var RelationshipKinds = []RelationshipKind{
	RelCall, RelImport, RelExtend, RelImplement, RelInstantiate,
	RelReference, RelRead, RelWrite, RelDataFlow,
}

// Valid reports whether k is one of the known relationship kinds.
func (k RelationshipKind) Valid() bool {
	for _, known := range RelationshipKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Confidence levels assigned during resolution.
const (
	ConfidenceExact      = 1.0 // exact qualified-name match in the same module
	ConfidenceImport     = 0.9 // cross-file match through an import or a unique candidate
	ConfidenceAmbiguous  = 0.5 // name-only match among several candidates
	ConfidenceUnresolved = 0.0
)

// Metrics are the per-entity complexity inputs computed from the syntax tree
// at extraction time.
type Metrics struct {
	Cyclomatic   int `json:"cyclomatic"`
	Cognitive    int `json:"cognitive"`
	LinesOfCode  int `json:"lines_of_code"`
	CommentLines int `json:"comment_lines"`
}

// Entity is a named code construct.
type Entity struct {
	ID            string     `json:"id"`
	CodebaseID    string     `json:"codebase_id"`
	Kind          EntityKind `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Language      string     `json:"language"`
	FilePath      string     `json:"file_path"`
	StartLine     int        `json:"start_line"`
	EndLine       int        `json:"end_line"`
	Signature     string     `json:"signature"`
	ContentHash   string     `json:"content_hash"`
	Generation    int64      `json:"generation"`
	Metrics       Metrics    `json:"metrics"`

	// Source is the entity's raw source span. It feeds duplicate detection
	// and rule evaluation and is not part of the wire record.
	Source string `json:"-"`
}

// Lines returns the number of source lines the entity spans.
func (e *Entity) Lines() int {
	if e.EndLine < e.StartLine {
		return 0
	}
	return e.EndLine - e.StartLine + 1
}

// Location is a reference site.
type Location struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// Relationship is a directed, typed edge. An empty TargetEntityID means the
// target could not be determined statically.
type Relationship struct {
	ID             string           `json:"id"`
	SourceEntityID string           `json:"source_entity_id"`
	TargetEntityID string           `json:"target_entity_id,omitempty"`
	TargetName     string           `json:"target_name"`
	Kind           RelationshipKind `json:"kind"`
	Location       Location         `json:"location"`
	Confidence     float64          `json:"confidence"`

	// TargetModule is the import source a relationship was declared
	// through, used as a resolution hint. Empty when unknown.
	TargetModule string `json:"target_module,omitempty"`
}

// Resolved reports whether the relationship has a target entity.
func (r Relationship) Resolved() bool {
	return r.TargetEntityID != ""
}

// EntityID derives the stable identifier for the (file, qualified name, kind)
// triple inside a codebase. The same triple always yields the same id.
func EntityID(codebaseID, filePath, qualifiedName string, kind EntityKind) string {
	h := sha256.New()
	fmt.Fprintf(h, "codebase:%s\n", codebaseID)
	fmt.Fprintf(h, "path:%s\n", filePath)
	fmt.Fprintf(h, "qname:%s\n", qualifiedName)
	fmt.Fprintf(h, "kind:%s\n", kind)
	return "e" + hex.EncodeToString(h.Sum(nil)[:16])
}

// RelationshipID derives the identifier of an edge from its source, kind,
// target name and site.
func RelationshipID(sourceID string, kind RelationshipKind, targetName string, loc Location) string {
	h := sha256.New()
	fmt.Fprintf(h, "source:%s\n", sourceID)
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "target:%s\n", targetName)
	fmt.Fprintf(h, "at:%s:%d:%d\n", loc.FilePath, loc.Line, loc.Column)
	return "r" + hex.EncodeToString(h.Sum(nil)[:16])
}

// ValidID reports whether s has the shape of an entity id.
func ValidID(s string) bool {
	if len(s) != 33 || s[0] != 'e' {
		return false
	}
	_, err := hex.DecodeString(s[1:])
	return err == nil
}

// ContentHash returns the hex SHA-256 of a source span.
func ContentHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// FileKey identifies a file inside a codebase.
type FileKey struct {
	CodebaseID string
	Path       string
}

// FileBatch is everything extracted from one file generation. It is
// installed atomically by Store.Apply.
type FileBatch struct {
	CodebaseID    string
	Path          string
	Language      string
	ContentHash   string
	Entities      []Entity
	Relationships []Relationship
	// Imports lists the module sources the file imports; used as hints for
	// cross-file resolution.
	Imports []string
	// Generation pins the file generation when restoring persisted state.
	// Zero means "previous generation + 1".
	Generation int64
}
