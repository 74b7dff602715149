// Package watch reports file changes under a codebase root. It wraps
// fsnotify with recursive directory registration, glob and directory
// exclusion, and a debounce that coalesces bursts of events into one
// change set.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

var (
	// ErrNotDirectory is returned when the root is not a directory.
	ErrNotDirectory = errors.New("watch: root is not a directory")

	// ErrInvalidPattern is returned when an exclude pattern does not compile.
	ErrInvalidPattern = errors.New("watch: invalid exclude pattern")
)

// Config configures a Watcher.
type Config struct {
	Root            string
	ExcludeDirs     []string // directory base names never descended into
	ExcludePatterns []string // globs over slash-separated paths relative to Root
	Debounce        time.Duration
	Logger          *slog.Logger
}

// ChangeSet is one coalesced burst of changes.
type ChangeSet struct {
	// Paths are slash-separated, relative to the root, sorted and unique.
	Paths []string
	At    time.Time
}

// Watcher watches a directory tree.
type Watcher struct {
	root        string
	debounce    time.Duration
	excludeDirs map[string]bool
	excludes    []glob.Glob
	logger      *slog.Logger

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
}

// New validates cfg and creates the underlying fsnotify watcher.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	excludes := make([]glob.Glob, 0, len(cfg.ExcludePatterns))
	for _, p := range cfg.ExcludePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}
	dirs := make(map[string]bool, len(cfg.ExcludeDirs))
	for _, d := range cfg.ExcludeDirs {
		dirs[d] = true
	}

	w := &Watcher{
		root:        root,
		debounce:    cfg.Debounce,
		excludeDirs: dirs,
		excludes:    excludes,
		logger:      cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return w, nil
}

// Start registers the tree and begins delivering change sets. The channel
// is closed when ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) (<-chan ChangeSet, error) {
	if err := w.addTree(w.root); err != nil {
		w.Close()
		return nil, err
	}
	out := make(chan ChangeSet, 1)
	go w.loop(ctx, out)
	return out, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable entries are skipped; the root itself must work.
			if path == w.root {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, out chan<- ChangeSet) {
	defer close(out)
	defer w.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, keep := w.handle(ev)
			if !keep {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "root", w.root, "error", err)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			cs := ChangeSet{Paths: make([]string, 0, len(pending)), At: time.Now()}
			for p := range pending {
				cs.Paths = append(cs.Paths, p)
			}
			sort.Strings(cs.Paths)
			pending = make(map[string]struct{})
			select {
			case out <- cs:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle filters one event and registers newly created directories. It
// returns the relative path to record.
func (w *Watcher) handle(ev fsnotify.Event) (string, bool) {
	if ev.Op == fsnotify.Chmod {
		return "", false
	}
	isDir := false
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.excluded(ev.Name, isDir) {
		return "", false
	}
	if isDir {
		if err := w.addTree(ev.Name); err != nil {
			w.logger.Warn("watch new directory", "path", ev.Name, "error", err)
		}
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// excluded reports whether path falls under an excluded directory or
// matches an exclude pattern.
func (w *Watcher) excluded(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	parts := splitRel(rel)
	for i, part := range parts {
		if i == len(parts)-1 && !isDir {
			break
		}
		if w.excludeDirs[part] {
			return true
		}
	}
	return MatchAny(w.excludes, rel)
}

// MatchAny reports whether rel, its base name or any of its trailing
// sub-paths matches one of the globs.
func MatchAny(globs []glob.Glob, rel string) bool {
	if len(globs) == 0 {
		return false
	}
	parts := splitRel(rel)
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
		for i := 1; i < len(parts); i++ {
			if g.Match(joinSlash(parts[i:])) {
				return true
			}
		}
	}
	return false
}

func splitRel(rel string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(rel); i++ {
		if i == len(rel) || rel[i] == '/' {
			if i > start {
				parts = append(parts, rel[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

func joinSlash(parts []string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '/')
		}
		b = append(b, p...)
	}
	return string(b)
}
