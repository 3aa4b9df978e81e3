// Package resolver implements the Resolver (C5): given (file, fixture name)
// it returns the single FixtureDefinition pytest would bind, per the
// same-file -> conftest-chain -> third-party priority rules of spec §4.5.
package resolver

import (
	"path/filepath"
	"strings"

	"github.com/pyfix/pyfixls/internal/fixtures"
)

// Filter excludes candidate definitions from consideration; used for the
// self-reference rule (spec §4.5): when a fixture named N takes a parameter
// named N, resolving that parameter must skip the enclosing definition so it
// binds to the parent fixture of the same name.
type Filter func(d *fixtures.FixtureDefinition) bool

// Lookup is the resolver's only dependency: given a fixture name, all known
// definitions of that name, in no particular order. Supplied by the
// Database, which owns the definitions map.
type Lookup func(name string) []fixtures.FixtureDefinition

// Resolve returns the definition pytest would bind for fixtureName when
// referenced from file, or nil if none is visible.
//
// Priority (first match wins), per original_source/src/fixtures/resolver.rs:
//  1. Same file (highest priority, last definition wins).
//  2. Search upward through conftest.py files.
//  3. Third-party fixtures (site-packages).
func Resolve(lookup Lookup, file, fixtureName string, filter Filter) *fixtures.FixtureDefinition {
	candidates := lookup(fixtureName)
	if len(candidates) == 0 {
		return nil
	}
	passes := func(d *fixtures.FixtureDefinition) bool {
		return filter == nil || filter(d)
	}

	// Priority 1: same file, greatest line number.
	var best *fixtures.FixtureDefinition
	for i := range candidates {
		d := &candidates[i]
		if d.FilePath != file || !passes(d) {
			continue
		}
		if best == nil || d.Line > best.Line {
			best = d
		}
	}
	if best != nil {
		return best
	}

	// Priority 2: conftest chain, nearest first.
	for _, dir := range ancestorDirs(filepath.Dir(file)) {
		conftest := filepath.Join(dir, "conftest.py")
		for i := range candidates {
			d := &candidates[i]
			if d.FilePath == conftest && passes(d) {
				return d
			}
		}
	}

	// Priority 3: third party.
	for i := range candidates {
		d := &candidates[i]
		if d.IsThirdParty && passes(d) {
			return d
		}
	}

	return nil
}

// ancestorDirs returns dir, dir's parent, dir's parent's parent, ... up to
// and including the filesystem root.
func ancestorDirs(dir string) []string {
	var dirs []string
	cur := dir
	for {
		dirs = append(dirs, cur)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return dirs
}

// SelfReferenceFilter returns a Filter that excludes the definition at
// (file, line) -- the filter applied when a fixture's own parameter shares
// its name, so resolution continues past that definition to an ancestor
// scope (spec §4.5, §8 "self-reference soundness").
func SelfReferenceFilter(file string, line int) Filter {
	return func(d *fixtures.FixtureDefinition) bool {
		return !(d.FilePath == file && d.Line == line)
	}
}

// IsConftest reports whether path's basename is exactly "conftest.py".
func IsConftest(path string) bool {
	return strings.HasSuffix(path, "/conftest.py") || filepath.Base(path) == "conftest.py"
}
