// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs a role test when files of the role change.
//
// Events are coalesced over a debounce window so an editor saving several files
// (or writing a temp file then renaming it) triggers one run with every changed path.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is not positive.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrInvalidPattern is returned for a pattern doublestar cannot parse.
	ErrInvalidPattern = errors.New("invalid watch pattern")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("watcher already running")

	// defaultPatterns select the files that make up an Ansible role.
	defaultPatterns = []string{
		"**/*.yml",
		"**/*.yaml",
		"**/*.j2",
		"**/*.cfg",
		"**/*.ini",
		"files/**",
		"templates/**",
		"library/**",
		"filter_plugins/**",
		"module_utils/**",
	}

	// defaultIgnores are never watched.
	defaultIgnores = []string{
		"**/.git/**",
		"**/.tox/**",
		"**/.cache/**",
		"**/__pycache__/**",
		"**/*.retry",
		"**/*.swp",
		"**/*.swo",
		"**/*~",
		"**/.DS_Store",
	}
)

type (
	// Config configures a Watcher.
	Config struct {
		// BaseDir is the role directory. Empty means the working directory.
		BaseDir string
		// Patterns select which files trigger a run. Empty means DefaultPatterns.
		Patterns []string
		// Ignore adds to the built-in ignore patterns.
		Ignore []string
		// Debounce is the quiet period after the last event.
		Debounce time.Duration
		// ClearScreen clears the terminal before each run.
		ClearScreen bool
		// OnChange receives the sorted changed paths, relative to BaseDir.
		OnChange func(ctx context.Context, changed []string) error
		// Stdout and Stderr default to os.Stdout and os.Stderr.
		Stdout io.Writer
		Stderr io.Writer
	}

	// Watcher fires Config.OnChange after matching files under BaseDir change.
	// Run may be called once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		patterns []string
		ignores  []string
		stdout   io.Writer
		stderr   io.Writer
		debounce time.Duration
		baseDir  string
		started  atomic.Bool
	}
)

// DefaultPatterns returns a copy of the role file patterns watched by default.
func DefaultPatterns() []string { return slices.Clone(defaultPatterns) }

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string { return slices.Clone(defaultIgnores) }

// New validates cfg and registers every non-ignored directory under BaseDir.
func New(cfg Config) (*Watcher, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	if err := validatePatterns(patterns); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		stdout:   writerOr(cfg.Stdout, os.Stdout),
		stderr:   writerOr(cfg.Stderr, os.Stderr),
		debounce: cfg.Debounce,
		baseDir:  absBase,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	if err := w.addDirectories(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes filesystem events until ctx is canceled. It returns nil on
// cancellation and an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var (
		mu       sync.Mutex
		pending  = make(map[string]struct{})
		timer    *time.Timer
		running  atomic.Bool
		stopped  bool
		inflight sync.WaitGroup
	)

	// fire may run after ctx is canceled; OnChange gets ctx and must honor it.
	// Run does not return until an OnChange call in progress has finished.
	fire := func() {
		mu.Lock()
		if stopped || ctx.Err() != nil {
			mu.Unlock()
			return
		}
		if !running.CompareAndSwap(false, true) {
			// A run is in progress: try again once it has had time to finish.
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		if len(pending) == 0 {
			running.Store(false)
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		inflight.Add(1)
		mu.Unlock()

		defer inflight.Done()
		defer running.Store(false)

		if w.cfg.ClearScreen {
			fmt.Fprint(w.stdout, "\033[2J\033[H")
		}
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				fmt.Fprintf(w.stderr, "watch: %v\n", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		inflight.Wait()
		if err := w.fsw.Close(); err != nil {
			fmt.Fprintf(w.stderr, "watch: close fsnotify: %v\n", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			rel, err := filepath.Rel(w.baseDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			if !w.Matches(rel) {
				continue
			}

			mu.Lock()
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: %w", err)
			}
			fmt.Fprintf(w.stderr, "watch: %v\n", err)
		}
	}
}

// Matches reports whether rel (relative to BaseDir) is watched and not ignored.
func (w *Watcher) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	return !matchAny(w.ignores, rel) && matchAny(w.patterns, rel)
}

// addDirectories registers every non-ignored directory. Patterns are applied
// per event, so directories are added regardless of them.
func (w *Watcher) addDirectories() error {
	err := filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			fmt.Fprintf(w.stderr, "watch: skipping %q: %v\n", path, walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.dirIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", w.baseDir, err)
	}
	return nil
}

// maybeAddDir extends the watch to a directory created after startup.
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || w.dirIgnored(path) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		fmt.Fprintf(w.stderr, "watch: add directory %q: %v\n", path, err)
	}
}

func (w *Watcher) dirIgnored(path string) bool {
	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	return matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/")
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func validatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pat)
		}
	}
	return nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}
