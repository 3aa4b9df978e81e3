package fixtures

import (
	"path/filepath"
	"sort"

	"github.com/pyfix/pyfixls/internal/fixtures/resolver"
)

// identifierAt extracts the maximal run of [A-Za-z0-9_] containing column
// char (0-based byte offset) within line's text, or ("", false) if char
// lies on a non-identifier character (spec §4.9 step 1).
func identifierAt(line string, char int) (name string, start, end int, ok bool) {
	if char < 0 || char >= len(line) {
		return "", 0, 0, false
	}
	if !isIdentChar(line[char]) {
		return "", 0, 0, false
	}
	start, end = char, char+1
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}
	return line[start:end], start, end, true
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// lineText returns the 1-based line's text for path, using the cached
// content and line index.
func (db *Database) lineText(path string, line int) (string, bool) {
	canon := db.cache.Canonicalize(path)
	content, ok := db.cache.FetchOrRead(canon)
	if !ok {
		return "", false
	}
	offsets := db.cache.LineIndex(canon, content)
	idx := line - 1
	if idx < 0 || idx >= len(offsets) {
		return "", false
	}
	start := offsets[idx]
	end := len(content)
	if idx+1 < len(offsets) {
		end = offsets[idx+1] - 1 // exclude the newline
		if end < start {
			end = start
		}
	}
	if end > len(content) {
		end = len(content)
	}
	return content[start:end], true
}

// usageAt returns the usage entry on line whose span contains char, if any.
func (db *Database) usageAt(path string, line, char int) *FixtureUsage {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, u := range db.usages[path] {
		if u.Line == line && u.StartChar <= char && char < u.EndChar {
			v := u
			return &v
		}
	}
	return nil
}

// definitionAtLine returns a definition at path whose Line equals line and
// whose identifier span contains char, if any.
func (db *Database) definitionAtLine(path string, line, char int) *FixtureDefinition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, defs := range db.definitions {
		for _, d := range defs {
			if d.FilePath == path && d.Line == line && d.StartChar <= char && char < d.EndChar {
				v := d
				return &v
			}
		}
	}
	return nil
}

// definitionNamedAt returns a definition at path on line with the given
// name, regardless of exact column (used to detect "cursor is on the
// definition itself" per spec §4.9 step 3).
func (db *Database) definitionNamedAt(path, name string, line int) *FixtureDefinition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, d := range db.definitions[name] {
		if d.FilePath == path && d.Line == line {
			v := d
			return &v
		}
	}
	return nil
}

// FindFixtureDefinition is the "goto" query (spec §4.8, §4.9).
func (db *Database) FindFixtureDefinition(path string, line, character int) *FixtureDefinition {
	text, ok := db.lineText(path, line)
	if !ok {
		return nil
	}
	name, _, _, ok := identifierAt(text, character)
	if !ok {
		return nil
	}

	if u := db.usageAt(path, line, character); u != nil && u.Name == name {
		var filter resolver.Filter
		if d := db.definitionNamedAt(path, name, line); d != nil {
			filter = resolver.SelfReferenceFilter(path, d.Line)
		}
		return resolver.Resolve(db.lookup, path, name, filter)
	}

	// On the definition itself: goto returns absent per spec §4.9 step 3.
	return nil
}

// FindFixtureAtPosition identifies the fixture name under the cursor whether
// it's a usage or a definition site (spec §4.8).
func (db *Database) FindFixtureAtPosition(path string, line, character int) (string, bool) {
	text, ok := db.lineText(path, line)
	if !ok {
		return "", false
	}
	name, _, _, ok := identifierAt(text, character)
	if !ok {
		return "", false
	}
	if u := db.usageAt(path, line, character); u != nil && u.Name == name {
		return name, true
	}
	if d := db.definitionAtLine(path, line, character); d != nil {
		return d.Name, true
	}
	return "", false
}

// FindFixtureReferences returns every recorded usage with matching name,
// across all files (spec §4.8).
func (db *Database) FindFixtureReferences(name string) []FixtureUsage {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []FixtureUsage
	for _, usages := range db.usages {
		for _, u := range usages {
			if u.Name == name {
				out = append(out, u)
			}
		}
	}
	return out
}

// FindReferencesForDefinition returns the usages that resolve to def,
// respecting scope and the self-reference rule (spec §4.8, §4.9 "Reference
// aggregation").
func (db *Database) FindReferencesForDefinition(def FixtureDefinition) []FixtureUsage {
	candidates := db.FindFixtureReferences(def.Name)

	var out []FixtureUsage
	for _, u := range candidates {
		// A usage on a same-named definition's own line is a self-reference:
		// it resolves past that definition, as in FindFixtureDefinition.
		var filter resolver.Filter
		if d := db.definitionNamedAt(u.FilePath, u.Name, u.Line); d != nil {
			filter = resolver.SelfReferenceFilter(u.FilePath, d.Line)
		}
		resolved := resolver.Resolve(db.lookup, u.FilePath, u.Name, filter)
		if resolved != nil && resolved.FilePath == def.FilePath && resolved.Line == def.Line {
			out = append(out, u)
		}
	}
	return out
}

// GetUndeclaredFixtures returns undeclared-fixture diagnostics for path
// (spec §4.8).
func (db *Database) GetUndeclaredFixtures(path string) []UndeclaredFixture {
	canon := db.cache.Canonicalize(path)
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]UndeclaredFixture, len(db.undeclaredFixtures[canon]))
	copy(out, db.undeclaredFixtures[canon])
	return out
}

// GetAvailableFixtures returns the de-duplicated-by-name fixtures visible
// from path, ordered same-file, then nearest conftest, then ancestor
// conftests, then site-packages -- used by completion (spec §4.8).
func (db *Database) GetAvailableFixtures(path string) []FixtureDefinition {
	db.mu.RLock()
	names := make([]string, 0, len(db.definitions))
	for name := range db.definitions {
		names = append(names, name)
	}
	db.mu.RUnlock()
	sort.Strings(names)

	var out []FixtureDefinition
	for _, name := range names {
		if d := resolver.Resolve(db.lookup, path, name, nil); d != nil {
			out = append(out, *d)
		}
	}
	// Same file first, then conftests nearest-first (a nearer ancestor has a
	// longer directory), then third-party; names stay sorted within a level.
	rank := func(d FixtureDefinition) int {
		switch {
		case d.FilePath == path:
			return 0
		case d.IsThirdParty:
			return len(path) + 2
		default:
			return 1 + len(filepath.Dir(path)) - len(filepath.Dir(d.FilePath))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

// AllFixtureDefinitions returns every known fixture definition across the
// whole database, regardless of scope visibility -- used by "fixtures list"
// where the caller wants a full inventory rather than what's visible from a
// single file.
func (db *Database) AllFixtureDefinitions() []FixtureDefinition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []FixtureDefinition
	for _, defs := range db.definitions {
		out = append(out, defs...)
	}
	return out
}

// GetCompletionContext returns the tagged completion context at (path, line,
// character) (spec §4.8). It returns nil when the line cannot be read and
// otherwise falls back to CompletionFunctionBody; CompletionNone is never
// returned.
func (db *Database) GetCompletionContext(path string, line, character int) *CompletionContext {
	text, ok := db.lineText(path, line)
	if !ok {
		return nil
	}
	trimmed := text
	switch {
	case containsAny(trimmed, "usefixtures("):
		return &CompletionContext{Kind: CompletionUsefixturesDecorator}
	case containsAny(trimmed, "parametrize(") && containsAny(trimmed, "indirect"):
		return &CompletionContext{Kind: CompletionParametrizeIndirect}
	}

	if d := db.definitionAtLine(path, line, character); d != nil {
		return &CompletionContext{Kind: CompletionFunctionSignature, FunctionName: d.Name, FunctionLine: d.Line, IsFixture: true}
	}

	return &CompletionContext{Kind: CompletionFunctionBody}
}

func containsAny(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// GetFunctionParamInsertionInfo returns the insertion point used by
// quick-fix actions that insert a missing fixture into a test signature
// (spec §4.8). functionLine is the 1-based line of the def statement.
func (db *Database) GetFunctionParamInsertionInfo(path string, functionLine int) *ParamInsertionInfo {
	text, ok := db.lineText(path, functionLine)
	if !ok {
		return nil
	}
	open := indexByte(text, '(')
	if open < 0 {
		return nil
	}
	close := indexByte(text, ')')
	if close < 0 || close <= open {
		return nil
	}
	inner := text[open+1 : close]
	needsComma := len(trimSpaceASCII(inner)) > 0
	return &ParamInsertionInfo{Line: functionLine, Char: close, NeedsComma: needsComma}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func trimSpaceASCII(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
