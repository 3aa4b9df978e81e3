package fixtures

import (
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pyfix/pyfixls/internal/fixtures/analyzer"
	"github.com/pyfix/pyfixls/internal/fixtures/cache"
	"github.com/pyfix/pyfixls/internal/fixtures/pyenv"
	"github.com/pyfix/pyfixls/internal/fixtures/resolver"
	"github.com/pyfix/pyfixls/internal/fixtures/scanner"
	"github.com/pyfix/pyfixls/internal/pyast"
)

// Database is the Fixture Database (C8): the central concurrent store
// composing the path/content cache (C1) with the definitions/usages/
// undeclared/imports maps spec §3 names, and the public query surface of
// §4.8.
//
// Invariants (spec §3):
//  1. Every FixtureDefinition and FixtureUsage references a path present in
//     the cache, or is removed atomically together with its cache entry.
//  2. Per-file usage/undeclared lists and that file's definition entries are
//     fully rebuilt on each AnalyzeFile call -- no partial update.
//  3. The line index is valid iff its stored hash equals the current
//     content's hash; see internal/fixtures/cache.
//  4. Fixture-name lookup never returns a definition whose file isn't
//     reachable by the scope rules of resolver.Resolve.
//  5. All public-facing paths are canonicalized before storage or
//     comparison.
type Database struct {
	cache *cache.Cache

	parserMu sync.Mutex
	parsers  []*pyast.Parser // pool, guarded by parserMu

	mu                 sync.RWMutex
	definitions        map[string][]FixtureDefinition    // fixture name -> defs
	usages             map[string][]FixtureUsage         // file -> usages
	undeclaredFixtures map[string][]UndeclaredFixture     // file -> undeclared
	fileImports        map[string]map[string]bool         // file -> module-level bound names

	workspaceRoot        string
	sitePackagesPaths    []string
	editableInstallRoots []pyenv.EditableInstall
}

// New returns an empty Database.
func New() *Database {
	return &Database{
		cache:              cache.New(),
		definitions:        make(map[string][]FixtureDefinition),
		usages:             make(map[string][]FixtureUsage),
		undeclaredFixtures: make(map[string][]UndeclaredFixture),
		fileImports:        make(map[string]map[string]bool),
	}
}

func (db *Database) borrowParser() (*pyast.Parser, error) {
	db.parserMu.Lock()
	if n := len(db.parsers); n > 0 {
		p := db.parsers[n-1]
		db.parsers = db.parsers[:n-1]
		db.parserMu.Unlock()
		return p, nil
	}
	db.parserMu.Unlock()
	return pyast.NewParser()
}

func (db *Database) returnParser(p *pyast.Parser) {
	db.parserMu.Lock()
	db.parsers = append(db.parsers, p)
	db.parserMu.Unlock()
}

// AnalyzeFile canonicalizes path, analyzes content, and replaces that file's
// contribution to the database atomically (spec §4.8 analyze_file).
func (db *Database) AnalyzeFile(path string, content []byte) error {
	return db.analyzeFile(path, content, true)
}

// AnalyzeFileFresh is AnalyzeFile without the cleanup-previous-entries step,
// used only during initial workspace scan when the database is known empty
// (spec §4.8 analyze_file_fresh).
func (db *Database) AnalyzeFileFresh(path string, content []byte) error {
	return db.analyzeFile(path, content, false)
}

func (db *Database) analyzeFile(path string, content []byte, cleanupPrevious bool) error {
	canon := db.cache.Canonicalize(path)
	db.cache.Store(canon, string(content))
	db.cache.LineIndex(canon, string(content))

	parser, err := db.borrowParser()
	if err != nil {
		return fmt.Errorf("analyzeFile: acquiring parser: %w", err)
	}
	defer db.returnParser(parser)

	result, err := analyzer.Analyze(parser, canon, content, db.isThirdPartyPath(canon), db.fixtureAvailable)
	if err != nil {
		log.Printf("fixtures: parse failure for %s: %v", canon, err)
		// Parse failure: the file's prior entries remain cleared; it
		// contributes nothing until it parses again (spec §7).
		db.swapFile(canon, nil, nil, nil, nil, cleanupPrevious)
		return nil
	}

	db.swapFile(canon, result.Definitions, result.Usages, result.Undeclared, result.ModuleNames, cleanupPrevious)
	return nil
}

// swapFile performs the atomic per-file replacement spec §5 requires:
// removal of the file's old definitions/usages/undeclared/imports and
// insertion of the new ones, serialized under a single critical section so
// concurrent analyzeFile calls for *different* files still run their
// (expensive) parse/analyze stage in parallel -- only this swap is
// serialized, and it touches only this file's entries.
func (db *Database) swapFile(path string, defs []FixtureDefinition, usages []FixtureUsage, undeclared []UndeclaredFixture, moduleNames map[string]bool, cleanupPrevious bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if cleanupPrevious {
		db.removeDefinitionsForFileLocked(path)
	}

	if len(defs) > 0 {
		for _, d := range defs {
			db.definitions[d.Name] = append(db.definitions[d.Name], d)
		}
	}
	if len(usages) > 0 {
		db.usages[path] = usages
	} else {
		delete(db.usages, path)
	}
	if len(undeclared) > 0 {
		db.undeclaredFixtures[path] = undeclared
	} else {
		delete(db.undeclaredFixtures, path)
	}
	if len(moduleNames) > 0 {
		db.fileImports[path] = moduleNames
	} else {
		delete(db.fileImports, path)
	}
}

// removeDefinitionsForFileLocked deletes every definition whose FilePath is
// path, snapshotting definitions' keys before mutating to avoid the
// iterate-while-mutating deadlock hazard spec §5 calls out. Must be called
// with db.mu held for writing.
func (db *Database) removeDefinitionsForFileLocked(path string) {
	names := make([]string, 0, len(db.definitions))
	for name := range db.definitions {
		names = append(names, name)
	}
	for _, name := range names {
		defs := db.definitions[name]
		kept := defs[:0:0]
		for _, d := range defs {
			if d.FilePath != path {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(db.definitions, name)
		} else {
			db.definitions[name] = kept
		}
	}
}

// CleanupFileCache drops cached content and line-index entries for path
// (called on file close/delete). Definitions/usages are deliberately left
// for the next AnalyzeFile call to overwrite -- they may still be needed for
// cross-file references in the meantime.
func (db *Database) CleanupFileCache(path string) {
	canon := db.cache.Canonicalize(path)
	db.cache.Forget(canon)
}

// lookup returns every known definition named name, across all files --
// resolver.Lookup's contract.
func (db *Database) lookup(name string) []FixtureDefinition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	defs := db.definitions[name]
	out := make([]FixtureDefinition, len(defs))
	copy(out, defs)
	return out
}

// fixtureAvailable implements analyzer.FixtureAvailable: name is available
// to path iff the resolver can find some definition of it in scope.
func (db *Database) fixtureAvailable(path, name string) bool {
	return resolver.Resolve(db.lookup, path, name, nil) != nil
}

func (db *Database) isThirdPartyPath(path string) bool {
	db.mu.RLock()
	roots := append([]string{}, db.sitePackagesPaths...)
	db.mu.RUnlock()

	for _, sp := range roots {
		if sp == "" {
			continue
		}
		rel, err := filepath.Rel(sp, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ScanWorkspace performs the full C6 workspace scan: discovery, parallel
// ingestion, environment scan (C7), and the import-closure fixed-point loop
// (spec §4.6).
func (db *Database) ScanWorkspace(root string, excludes []string) (scanner.Result, error) {
	canonRoot := db.cache.Canonicalize(root)

	db.mu.Lock()
	db.workspaceRoot = canonRoot
	db.mu.Unlock()

	lock, err := scanner.Lock(canonRoot)
	if err != nil {
		log.Printf("fixtures: could not acquire workspace scan lock: %v", err)
	} else {
		defer func() { _ = lock.Unlock() }()
	}

	result := scanner.Discover(canonRoot, excludes)
	db.ingestParallel(result.Files, false)

	env := pyenv.Discover(canonRoot)
	db.mu.Lock()
	for _, sp := range env.SitePackages {
		db.sitePackagesPaths = append(db.sitePackagesPaths, sp)
	}
	db.editableInstallRoots = env.Editables
	db.mu.Unlock()

	db.scanEnvironmentPlugins(env)
	db.importClosureLoop(result.Files)

	return result, nil
}

// ingestParallel analyzes files concurrently over a bounded worker pool.
func (db *Database) ingestParallel(files []string, cleanupPrevious bool) {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}
	if workers == 0 {
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				content, ok := db.cache.FetchOrRead(db.cache.Canonicalize(path))
				if !ok {
					log.Printf("fixtures: could not read %s during scan", path)
					continue
				}
				var analyzeErr error
				if cleanupPrevious {
					analyzeErr = db.AnalyzeFile(path, []byte(content))
				} else {
					analyzeErr = db.AnalyzeFileFresh(path, []byte(content))
				}
				if analyzeErr != nil {
					log.Printf("fixtures: analyzing %s: %v", path, analyzeErr)
				}
			}
		}()
	}
	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()
}

func (db *Database) scanEnvironmentPlugins(env *pyenv.Environment) {
	for _, sp := range env.SitePackages {
		if dir, ok := pyenv.BuiltinPluginDir(sp); ok {
			db.scanPluginDir(dir)
		}
		for _, plugin := range pyenv.DiscoverEntryPointPlugins(sp) {
			if plugin.IsPackage {
				db.scanPluginDir(plugin.Path)
			} else {
				db.ingestParallel([]string{plugin.Path}, false)
			}
		}
	}
}

// scanPluginDir recursively analyzes a plugin package directory, skipping
// files whose basename begins "test_" and __pycache__ contents (spec §4.7).
func (db *Database) scanPluginDir(dir string) {
	result := scanner.Discover(dir, nil)
	var files []string
	for _, f := range result.Files {
		if strings.HasPrefix(filepath.Base(f), "test_") {
			continue
		}
		files = append(files, f)
	}
	// Plugin directories may contain plain non-test .py files that define
	// fixtures too; Discover's test_*/conftest.py/_test.py filter is
	// loosened here by also walking for any .py file.
	for _, f := range findPythonFiles(dir) {
		if strings.HasPrefix(filepath.Base(f), "test_") {
			continue
		}
		files = append(files, f)
	}
	db.ingestParallel(dedupe(files), false)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// importClosureLoop implements spec §4.6 step 6: resolve star-imports and
// pytest_plugins re-exports to files, analyze newly discovered files, and
// repeat until no new file is discovered.
func (db *Database) importClosureLoop(seed []string) {
	visited := make(map[string]bool, len(seed))
	queue := append([]string{}, seed...)
	for _, f := range queue {
		visited[db.cache.Canonicalize(f)] = true
	}

	db.mu.RLock()
	searchRoots := append([]string{}, db.sitePackagesPaths...)
	for _, e := range db.editableInstallRoots {
		searchRoots = append(searchRoots, e.SourceRoot)
	}
	db.mu.RUnlock()

	for len(queue) > 0 {
		var next []string
		for _, file := range queue {
			refs := db.extractModuleRefsOf(file)
			for _, ref := range refs {
				resolved, ok := scanner.ResolveModule(file, ref, searchRoots)
				if !ok {
					continue
				}
				canon := db.cache.Canonicalize(resolved)
				if visited[canon] {
					continue
				}
				visited[canon] = true
				next = append(next, resolved)
			}
		}
		if len(next) == 0 {
			break
		}
		db.ingestParallel(next, false)
		queue = next
	}
}

func (db *Database) extractModuleRefsOf(file string) []string {
	canon := db.cache.Canonicalize(file)
	content, ok := db.cache.FetchOrRead(canon)
	if !ok {
		return nil
	}
	parser, err := db.borrowParser()
	if err != nil {
		return nil
	}
	defer db.returnParser(parser)

	tree, err := parser.Parse([]byte(content))
	if err != nil {
		return nil
	}
	defer tree.Close()

	refs := scanner.ExtractModuleRefs(tree.RootNode(), []byte(content))
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Module
	}
	return out
}

// findPythonFiles recursively lists every .py file under dir, skipping
// __pycache__ contents (spec §4.7 "Scanning a plugin file ... skips
// __pycache__ contents").
func findPythonFiles(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".py") {
			out = append(out, path)
		}
		return nil
	})
	return out
}
