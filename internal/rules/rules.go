// Package rules evaluates Risor security rules against indexed entities.
package rules

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

//go:embed builtin/*.risor
var builtinFS embed.FS

// Severity levels a rule may report.
var severities = map[string]int{"low": 1, "medium": 2, "high": 3, "critical": 4}

// SeverityRank orders severities; unknown values rank zero.
func SeverityRank(s string) int { return severities[s] }

// Target is one entity a rule is evaluated against.
type Target struct {
	EntityID  string
	Name      string
	Kind      string
	Language  string
	FilePath  string
	StartLine int
	Source    string
}

// Finding is one issue reported by a rule.
type Finding struct {
	Rule     string `json:"rule"`
	CWE      string `json:"cwe"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	EntityID string `json:"entity_id"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
}

// libPrefix marks helper modules that rules import but that are not rules
// themselves.
const libPrefix = "lib_"

// Rule is a named Risor script.
type Rule struct {
	Name   string
	Source string
	fsys   fs.FS // import root for the script
}

// Runtime holds the loaded rules and the host functions exposed to them.
type Runtime struct {
	rules    []Rule
	lib      fs.FS
	logger   *slog.Logger
	patterns *lru.Cache[string, *patternEntry]
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	dir       string
	fsys      fs.FS
	logger    *slog.Logger
	noBuiltin bool
}

// WithRulesDir adds every .risor file in dir to the built-in rules. A rule
// with the same name as a built-in replaces it.
func WithRulesDir(dir string) Option {
	return func(c *runtimeConfig) { c.dir = dir }
}

// WithRulesFS adds every .risor file at the root of fsys.
func WithRulesFS(fsys fs.FS) Option {
	return func(c *runtimeConfig) { c.fsys = fsys }
}

// WithoutBuiltin skips the embedded rules.
func WithoutBuiltin() Option {
	return func(c *runtimeConfig) { c.noBuiltin = true }
}

// WithLogger sets the logger behind the scripts' log global.
func WithLogger(l *slog.Logger) Option {
	return func(c *runtimeConfig) { c.logger = l }
}

// New loads the built-in rules plus any configured extras.
func New(opts ...Option) (*Runtime, error) {
	cfg := runtimeConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	byName := make(map[string]Rule)
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("rules: builtin: %w", err)
	}
	if !cfg.noBuiltin {
		if err := loadFS(sub, "", byName); err != nil {
			return nil, err
		}
	}
	if cfg.fsys != nil {
		if err := loadFS(cfg.fsys, "", byName); err != nil {
			return nil, err
		}
	}
	if cfg.dir != "" {
		if err := loadFS(os.DirFS(cfg.dir), cfg.dir, byName); err != nil {
			return nil, err
		}
	}
	patterns, err := lru.New[string, *patternEntry](256)
	if err != nil {
		return nil, fmt.Errorf("rules: pattern cache: %w", err)
	}
	r := &Runtime{lib: sub, logger: cfg.logger, patterns: patterns}
	for _, rule := range byName {
		r.rules = append(r.rules, rule)
	}
	sort.Slice(r.rules, func(i, j int) bool { return r.rules[i].Name < r.rules[j].Name })
	return r, nil
}

func loadFS(fsys fs.FS, dir string, into map[string]Rule) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("rules: reading %s: %w", describe(dir), err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".risor" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return fmt.Errorf("rules: loading %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".risor")
		if strings.HasPrefix(name, libPrefix) {
			continue
		}
		into[name] = Rule{Name: name, Source: string(data), fsys: fsys}
	}
	return nil
}

func describe(dir string) string {
	if dir == "" {
		return "embedded rules"
	}
	return dir
}

// Rules returns the names of the loaded rules.
func (r *Runtime) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Evaluate runs every rule against t. A failing rule does not stop the
// others; its error is joined into the returned error.
func (r *Runtime) Evaluate(ctx context.Context, t Target) ([]Finding, error) {
	var findings []Finding
	var errs []error
	for _, rule := range r.rules {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		got, err := r.run(ctx, rule, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		findings = append(findings, got...)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Rule < findings[j].Rule
	})
	return findings, errors.Join(errs...)
}

// EvaluateSource runs an inline script against t. The script may import
// the built-in helper modules.
func (r *Runtime) EvaluateSource(ctx context.Context, name, source string, t Target) ([]Finding, error) {
	return r.run(ctx, Rule{Name: name, Source: source, fsys: r.lib}, t)
}

func (r *Runtime) run(ctx context.Context, rule Rule, t Target) ([]Finding, error) {
	col := &collector{rule: rule.Name, target: t}
	globals := map[string]any{
		"name":       t.Name,
		"kind":       t.Kind,
		"language":   t.Language,
		"file":       t.FilePath,
		"start_line": t.StartLine,
		"source":     t.Source,
		"matches":    r.makeMatchesFn(t),
		"find":       r.makeFindFn(t),
		"report":     col.reportFn(),
		"log":        mustProxy(&logObject{logger: r.logger.With("rule", rule.Name)}),
	}

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := buildImporter(rule, globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}
	if _, err := risor.Eval(ctx, rule.Source, opts...); err != nil {
		return nil, fmt.Errorf("rules: %s on %s: %w", rule.Name, t.FilePath, err)
	}
	return col.findings, nil
}

// buildImporter lets a rule import helper modules that sit next to it.
func buildImporter(rule Rule, globals map[string]any) importer.Importer {
	if rule.fsys == nil {
		return nil
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	return importer.NewFSImporter(importer.FSImporterOptions{
		GlobalNames: names,
		SourceFS:    rule.fsys,
		Extensions:  []string{".risor"},
	})
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("rules: proxy error: %v", err))
	}
	return p
}

// logObject provides log.Info/Warn/Error methods for rule scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }
