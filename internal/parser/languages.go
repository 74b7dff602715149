package parser

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// extToLanguage maps file extensions to languages.
var extToLanguage = map[string]Language{
	".go":   Go,
	".ts":   TypeScript,
	".mts":  TypeScript,
	".cts":  TypeScript,
	".tsx":  TSX,
	".js":   JavaScript,
	".jsx":  JavaScript,
	".mjs":  JavaScript,
	".cjs":  JavaScript,
	".py":   Python,
	".pyi":  Python,
	".java": Java,
	".rs":   Rust,
}

// adapters holds one Adapter per language. Lazily initialized on first use
// via sync.Once.
var (
	adapters     map[Language]Adapter
	adaptersOnce sync.Once
)

func initAdapters() {
	adaptersOnce.Do(func() {
		adapters = map[Language]Adapter{
			Go:         &adapter{lang: Go, grammar: golang.GetLanguage(), classify: classifyGo},
			TypeScript: &adapter{lang: TypeScript, grammar: ts.GetLanguage(), classify: classifyJS},
			TSX:        &adapter{lang: TSX, grammar: tsx.GetLanguage(), classify: classifyJS},
			JavaScript: &adapter{lang: JavaScript, grammar: javascript.GetLanguage(), classify: classifyJS},
			Python:     &adapter{lang: Python, grammar: python.GetLanguage(), classify: classifyPython},
			Java:       &adapter{lang: Java, grammar: java.GetLanguage(), classify: classifyJava},
			Rust:       &adapter{lang: Rust, grammar: rust.GetLanguage(), classify: classifyRust},
		}
	})
}

// LanguageForFile returns the language for a file path based on its
// extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ForLanguage returns the Adapter for lang. Returns (nil, false) if the
// language is not supported.
func ForLanguage(lang Language) (Adapter, bool) {
	initAdapters()
	a, ok := adapters[lang]
	return a, ok
}

// ForFile returns the Adapter for a file path.
func ForFile(path string) (Adapter, bool) {
	lang, ok := LanguageForFile(path)
	if !ok {
		return nil, false
	}
	return ForLanguage(lang)
}

// ParseLanguage converts a language name to a Language.
func ParseLanguage(s string) (Language, bool) {
	for _, l := range Languages {
		if string(l) == s {
			return l, true
		}
	}
	return "", false
}
