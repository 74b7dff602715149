package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, int64(10<<20), cfg.MaxFileSize)
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounce)
	assert.Contains(t, cfg.ExcludeDirs, "node_modules")
	assert.Positive(t, cfg.Workers)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().QueryCacheSize, cfg.QueryCacheSize)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/idx.db
workers: 3
batch_size: 8
watch_debounce: 50ms
trace_time_budget: 2s
exclude_patterns:
  - "**/*_generated.go"
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.WatchDebounce)
	assert.Equal(t, 2*time.Second, cfg.TraceTimeBudget)
	assert.Equal(t, []string{"**/*_generated.go"}, cfg.ExcludePatterns)
	assert.Equal(t, 256, cfg.QueryCacheSize, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "workers: 3\n")
	t.Setenv("CODEINDEX_WORKERS", "7")
	t.Setenv("CODEINDEX_EXCLUDE_DIRS", "a, b ,,c")
	t.Setenv("CODEINDEX_WATCH_DEBOUNCE", "1s")
	t.Setenv("CODEINDEX_WATCH_RATE", "0.5")
	t.Setenv("CODEINDEX_MAX_FILE_SIZE", "2048")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ExcludeDirs)
	assert.Equal(t, time.Second, cfg.WatchDebounce)
	assert.Equal(t, 0.5, cfg.WatchRate)
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("CODEINDEX_BATCH_SIZE", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODEINDEX_BATCH_SIZE")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "workers: [1, 2\n"))
	require.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }},
		{"zero rate", func(c *Config) { c.WatchRate = 0 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad glob", func(c *Config) { c.IncludePatterns = []string{"[a-"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
