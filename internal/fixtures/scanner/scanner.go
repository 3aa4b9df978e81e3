// Package scanner implements the Workspace Scanner (C6): the skip-listed
// directory walk, glob-exclude filtering, and a single-flight workspace lock
// (spec §4.6). Parallel file ingestion and the import-closure loop are
// orchestrated by internal/fixtures.Database, which owns analyze_file; this
// package supplies the pure discovery and locking primitives so Database
// stays free of filesystem-walk concerns.
package scanner

import (
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// skipDirs names directories never descended into: version-control dirs,
// cache/build dirs, common virtualenv names, and IDE/package-metadata dirs
// (spec §4.6 step 2).
var skipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".ruff_cache":   true,
	".tox":          true,
	".nox":          true,
	"node_modules":  true,
	"target":        true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	".idea":         true,
	".vscode":       true,
	"build":         true,
	"dist":          true,
}

func skipDir(name string) bool {
	if skipDirs[name] {
		return true
	}
	return strings.HasSuffix(name, ".egg-info")
}

// Category tags an I/O error encountered while walking, for the scan
// summary's per-category counts (spec §4.6 "Errors during traversal are
// logged by category").
type Category int

const (
	CategoryPermission Category = iota
	CategoryOther
)

// Result is a completed scan: the discovered test/conftest files and a count
// of errors encountered, by category. Errors never abort a scan.
type Result struct {
	Files  []string
	Errors map[Category]int
}

// Discover walks root recursively, skipping skip-listed directories and any
// path matching a user-provided glob in excludes (relative to root), and
// returns every file matching conftest.py / test_*.py / *_test.py (spec
// §4.6 steps 2-3).
func Discover(root string, excludes []string) Result {
	res := Result{Errors: make(map[Category]int)}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			res.Errors[classify(err)]++
			log.Printf("scanner: walk error at %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." && excludedByGlob(rel, excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			name := d.Name()
			if name != "." && strings.HasPrefix(name, ".") && path != root {
				return fs.SkipDir
			}
			if skipDir(name) {
				return fs.SkipDir
			}
			return nil
		}

		if isTestFile(d.Name()) {
			res.Files = append(res.Files, path)
		}
		return nil
	})
	if walkErr != nil {
		res.Errors[classify(walkErr)]++
		log.Printf("scanner: scan of %s aborted early: %v", root, walkErr)
	}
	return res
}

func isTestFile(name string) bool {
	return name == "conftest.py" ||
		(strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py")) ||
		strings.HasSuffix(name, "_test.py")
}

// IsTestFile reports whether name (a base filename) matches the
// conftest.py / test_*.py / *_test.py pattern Discover ingests. Exported so
// internal/fixtures/watch can apply the identical filter to fsnotify events.
func IsTestFile(name string) bool {
	return isTestFile(name)
}

// SkipDir reports whether a directory named name is skip-listed (spec
// §4.6 step 2). Exported for internal/fixtures/watch's recursive add.
func SkipDir(name string) bool {
	return skipDir(name)
}

// ExcludedByGlob reports whether rel (a root-relative, slash-separated
// path) matches one of excludes. Exported for internal/fixtures/watch.
func ExcludedByGlob(rel string, excludes []string) bool {
	return excludedByGlob(rel, excludes)
}

func excludedByGlob(rel string, excludes []string) bool {
	slashRel := filepath.ToSlash(rel)
	for _, pattern := range excludes {
		if ok, _ := filepath.Match(pattern, slashRel); ok {
			return true
		}
		// Support "dir/**"-style prefix excludes in addition to filepath.Match's
		// single-level semantics.
		if strings.HasSuffix(pattern, "/**") && strings.HasPrefix(slashRel, strings.TrimSuffix(pattern, "/**")+"/") {
			return true
		}
	}
	return false
}

func classify(err error) Category {
	if strings.Contains(err.Error(), "permission denied") {
		return CategoryPermission
	}
	return CategoryOther
}

// Lock acquires a single-flight guard file at <root>/.fixls.lock for the
// duration of a workspace scan, so two server instances opened against the
// same workspace don't race a full rescan.
func Lock(root string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(root, ".fixls.lock"))
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl, nil
}
