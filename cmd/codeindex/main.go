package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/codeindex"
	"github.com/jward/codeindex/internal/config"
)

var (
	flagDB       string
	flagConfig   string
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "codeindex",
	Short:         "Semantic code index with natural-language queries",
	Long:          "codeindex parses source code with tree-sitter into a versioned graph of entities and relationships, persisted in SQLite, and answers search, reference, flow and analysis queries over it.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .codeindex/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")

	rootCmd.AddCommand(indexCmd, queryCmd, refsCmd, traceCmd, callsCmd, hierarchyCmd,
		complexityCmd, duplicatesCmd, auditCmd, depsCmd, watchCmd, jobsCmd)
}

// loadConfig reads --config and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// openEngine opens the index for the repository containing dir. Logs go to
// stderr so stdout stays parseable.
func openEngine(dir string) (*codeindex.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dbPath := resolveDBPath(findRepoRoot(dir), cfg.DBPath)
	e, err := codeindex.New(dbPath, codeindex.WithConfig(cfg), codeindex.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", dbPath, err)
	}
	return e, nil
}

// openEngineCwd opens the index for the working directory's repository.
func openEngineCwd() (*codeindex.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	return openEngine(cwd)
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag, falling back
// to the configured path. Relative paths are taken from the repo root.
func resolveDBPath(repoRoot, configured string) string {
	p := configured
	if flagDB != "" {
		p = flagDB
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}
