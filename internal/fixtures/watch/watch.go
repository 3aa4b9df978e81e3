// Package watch implements workspace-wide filesystem watching (spec §11):
// it turns fsnotify file events for test/conftest files back into
// Database.AnalyzeFile / Database.CleanupFileCache calls, so files changed
// by something other than the editor attached to this LSP session (git
// checkout, a formatter, a second editor window) don't require a restart
// to be picked up.
//
// Adapted from internal/starlark/tester.Watcher's fsnotify-backed shape:
// same fsWatcher-plus-background-run-loop structure, simplified from
// per-test-file load() dependency tracking down to a flat recursive
// directory watch over one workspace root, since fixture resolution has
// no equivalent of Starlark's load() graph to keep in sync.
package watch

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/fixtures/scanner"
)

// Watcher watches a workspace root for test/conftest file changes and
// keeps a Database in sync with them.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	db        *fixtures.Database
	root      string
	excludes  []string

	mu      sync.Mutex
	watched map[string]bool

	done chan struct{}

	// OnChange, if set, is called after every AnalyzeFile/CleanupFileCache
	// triggered by a filesystem event, so a caller (e.g. the LSP server)
	// can re-publish diagnostics for the affected path. removed is true
	// when the file was deleted/renamed away rather than analyzed.
	OnChange func(path string, removed bool)
}

// New creates a Watcher rooted at root and starts its background event
// loop. Every directory under root not skip-listed by spec §4.6 step 2 or
// matched by excludes is watched recursively. The caller must call Close
// when the workspace is torn down.
func New(db *fixtures.Database, root string, excludes []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		db:        db,
		root:      root,
		excludes:  excludes,
		watched:   make(map[string]bool),
		done:      make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addTree recursively adds dir and every non-skip-listed, non-excluded
// subdirectory beneath it to the underlying fsnotify watch set. Called
// once at startup for root, and again for each directory fsnotify reports
// as newly created.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("watch: walk error at %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && scanner.ExcludedByGlob(filepath.ToSlash(rel), w.excludes) {
			return fs.SkipDir
		}

		name := d.Name()
		if name != "." && strings.HasPrefix(name, ".") && path != w.root {
			return fs.SkipDir
		}
		if scanner.SkipDir(name) {
			return fs.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			log.Printf("watch: could not watch %s: %v", path, err)
			return nil
		}
		w.mu.Lock()
		w.watched[path] = true
		w.mu.Unlock()
		return nil
	})
}

// run processes fsnotify events until Close is called.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("watch: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		delete(w.watched, event.Name)
		w.mu.Unlock()
		if scanner.IsTestFile(name) {
			w.db.CleanupFileCache(event.Name)
			log.Printf("watch: removed %s from cache", event.Name)
			if w.OnChange != nil {
				w.OnChange(event.Name, true)
			}
		}
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // file already gone by the time we stat it
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addTree(event.Name); err != nil {
				log.Printf("watch: could not watch new directory %s: %v", event.Name, err)
			}
		}
		return
	}

	if !scanner.IsTestFile(name) {
		return
	}

	content, err := os.ReadFile(event.Name)
	if err != nil {
		log.Printf("watch: could not read %s: %v", event.Name, err)
		return
	}
	if err := w.db.AnalyzeFile(event.Name, content); err != nil {
		log.Printf("watch: analyze %s: %v", event.Name, err)
		return
	}
	log.Printf("watch: re-analyzed %s", event.Name)
	if w.OnChange != nil {
		w.OnChange(event.Name, false)
	}
}

// WatchedDirs returns every directory currently under fsnotify watch.
func (w *Watcher) WatchedDirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, 0, len(w.watched))
	for d := range w.watched {
		dirs = append(dirs, d)
	}
	return dirs
}

// Close stops the watcher's background loop and releases its native
// resources. A second call does not stop the loop again; it returns
// whatever fsnotify's Close returns for an already-closed watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
