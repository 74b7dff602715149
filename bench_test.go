package codeindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// benchGoSource is a realistic ~100-line Go file with functions, structs,
// interfaces, and method calls for exercising the full extraction pipeline.
const benchGoSource = `package bench

import (
	"fmt"
	"strings"
)

// Logger defines a logging interface.
type Logger interface {
	Log(msg string)
	Logf(format string, args ...interface{})
}

// Config holds application configuration.
type Config struct {
	Name    string
	Debug   bool
	MaxRetry int
	Tags    []string
}

// Validate checks the config for correctness.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.MaxRetry < 0 {
		return fmt.Errorf("max_retry must be non-negative")
	}
	return nil
}

// String returns a human-readable representation.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Name: %s, Debug: %v}", c.Name, c.Debug)
}

// HasTag reports whether the config includes the given tag.
func (c *Config) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// StdoutLogger implements Logger by writing to stdout.
type StdoutLogger struct {
	Prefix string
}

// Log writes a plain message.
func (l *StdoutLogger) Log(msg string) {
	fmt.Printf("[%s] %s\n", l.Prefix, msg)
}

// Logf writes a formatted message.
func (l *StdoutLogger) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.Log(msg)
}

// NewApp creates and returns an initialized App.
func NewApp(cfg *Config, log Logger) *App {
	return &App{config: cfg, logger: log}
}

// App is the main application struct.
type App struct {
	config *Config
	logger Logger
}

// Run starts the application.
func (a *App) Run() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.logger.Logf("starting %s", a.config.Name)
	a.process()
	return nil
}

// process does the main work.
func (a *App) process() {
	tags := strings.Join(a.config.Tags, ", ")
	a.logger.Logf("processing with tags: %s", tags)
}

// BuildGreeting constructs a greeting string.
func BuildGreeting(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}

// CountWords returns the number of words in s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
`

// setupBenchEngine registers a temp tree holding n copies of
// benchGoSource, each in its own package directory.
func setupBenchEngine(b *testing.B, n int) (*Engine, Codebase) {
	b.Helper()
	dir := b.TempDir()
	root := filepath.Join(dir, "src")
	for i := 0; i < n; i++ {
		pkg := filepath.Join(root, fmt.Sprintf("pkg%d", i))
		if err := os.MkdirAll(pkg, 0o755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(pkg, "bench.go"), []byte(benchGoSource), 0o644); err != nil {
			b.Fatal(err)
		}
	}

	e, err := New(filepath.Join(dir, "bench.db"), WithConfig(testConfig()), WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { e.Close() })
	cb, err := e.RegisterCodebase(root)
	if err != nil {
		b.Fatal(err)
	}
	return e, cb
}

func runBenchJob(b *testing.B, e *Engine, cbID string, jobType JobType) {
	b.Helper()
	job, err := e.SubmitIndexJob(cbID, jobType, 5)
	if err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	job, err = e.WaitJob(ctx, job.ID)
	if err != nil {
		b.Fatal(err)
	}
	if job.Status != JobCompleted {
		b.Fatalf("job %s: %s", job.Status, job.ErrorMessage)
	}
}

// BenchmarkFullIndex_Go measures a full index of 20 realistic Go files.
func BenchmarkFullIndex_Go(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e, cb := setupBenchEngine(b, 20)
		b.StartTimer()
		runBenchJob(b, e, cb.ID, JobFullIndex)
	}
}

// BenchmarkIncrementalNoChange measures change detection over an
// unchanged, already indexed tree.
func BenchmarkIncrementalNoChange(b *testing.B) {
	e, cb := setupBenchEngine(b, 20)
	runBenchJob(b, e, cb.ID, JobFullIndex)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		runBenchJob(b, e, cb.ID, JobIncrementalUpdate)
	}
}

// BenchmarkQuery_FindFunction measures the natural-language query path
// with the result cache defeated by varying the limit.
func BenchmarkQuery_FindFunction(b *testing.B) {
	e, cb := setupBenchEngine(b, 20)
	runBenchJob(b, e, cb.ID, JobFullIndex)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := QueryRequest{Text: "find function BuildGreeting", Limit: 1 + i%MaxLimit}
		if _, err := e.Query(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFindReferences measures reference lookup for a method called
// from every package.
func BenchmarkFindReferences(b *testing.B) {
	e, cb := setupBenchEngine(b, 20)
	runBenchJob(b, e, cb.ID, JobFullIndex)
	ctx := context.Background()

	sn := e.index.Snapshot()
	var target string
	for _, ent := range sn.EntitiesByName("Validate") {
		if ent.CodebaseID == cb.ID {
			target = ent.ID
			break
		}
	}
	sn.Release()
	if target == "" {
		b.Fatal("Validate not indexed")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.FindReferences(ctx, target, ReferenceOptions{IncludeIndirect: true}); err != nil {
			b.Fatal(err)
		}
	}
}
