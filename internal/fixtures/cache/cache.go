// Package cache provides path canonicalization, file-content caching, and a
// content-hash-validated line-offset index, the three idempotent primitives
// every other fixtures package builds on (spec §4.1).
package cache

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Cache owns the canonical-path memo, the file-content cache, and the
// line-index cache. Every map is guarded by its own RWMutex so readers never
// block on an unrelated write.
type Cache struct {
	pathMu sync.RWMutex
	paths  map[string]string // original -> canonical

	contentMu sync.RWMutex
	content   map[string]string // canonical path -> content

	lineMu sync.RWMutex
	lines  map[string]lineEntry // canonical path -> (hash, offsets)
}

type lineEntry struct {
	hash    uint64
	offsets []int
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		paths:   make(map[string]string),
		content: make(map[string]string),
		lines:   make(map[string]lineEntry),
	}
}

// Canonicalize resolves path to an absolute, symlink-resolved form, memoizing
// the result. If symlink resolution fails (missing file, permission error)
// the absolute form of path is returned and cached as its canonical form (the
// path as given, if even that fails) — callers never see an error from this
// path, matching spec §5's "canonicalize
// calls that fail fall back to the input path without propagating errors".
func (c *Cache) Canonicalize(path string) string {
	c.pathMu.RLock()
	if canon, ok := c.paths[path]; ok {
		c.pathMu.RUnlock()
		return canon
	}
	c.pathMu.RUnlock()

	canon := canonicalize(path)

	c.pathMu.Lock()
	c.paths[path] = canon
	c.pathMu.Unlock()
	return canon
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// Store records content for the canonical path, for later FetchOrRead calls
// and so FileCache invariants (spec §3 invariant 1) hold without a
// synchronous disk read.
func (c *Cache) Store(canonicalPath, content string) {
	c.contentMu.Lock()
	c.content[canonicalPath] = content
	c.contentMu.Unlock()
}

// FetchOrRead returns cached content for canonicalPath, reading it from disk
// on a cache miss. Returns ok=false if the file cannot be read.
func (c *Cache) FetchOrRead(canonicalPath string) (content string, ok bool) {
	c.contentMu.RLock()
	if v, found := c.content[canonicalPath]; found {
		c.contentMu.RUnlock()
		return v, true
	}
	c.contentMu.RUnlock()

	b, err := os.ReadFile(canonicalPath)
	if err != nil {
		return "", false
	}
	s := string(b)
	c.Store(canonicalPath, s)
	return s, true
}

// Forget removes a file's cached content and line index (called on file
// close/delete; see Database.CleanupFileCache). Definitions/usages for the
// path are intentionally left to the next analyze call to overwrite.
func (c *Cache) Forget(canonicalPath string) {
	c.contentMu.Lock()
	delete(c.content, canonicalPath)
	c.contentMu.Unlock()

	c.lineMu.Lock()
	delete(c.lines, canonicalPath)
	c.lineMu.Unlock()
}

// LineIndex returns the byte offset of the start of each line (1-indexed
// conceptually: offsets[0] is line 1's start), rebuilding and caching it if
// the stored hash doesn't match content's hash (spec §3 invariant 3 / §8
// "Cache validity").
func (c *Cache) LineIndex(canonicalPath, content string) []int {
	h := hashContent(content)

	c.lineMu.RLock()
	if e, ok := c.lines[canonicalPath]; ok && e.hash == h {
		c.lineMu.RUnlock()
		return e.offsets
	}
	c.lineMu.RUnlock()

	offsets := buildLineIndex(content)

	c.lineMu.Lock()
	c.lines[canonicalPath] = lineEntry{hash: h, offsets: offsets}
	c.lineMu.Unlock()

	return offsets
}

func buildLineIndex(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

func hashContent(content string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(content))
	return h.Sum64()
}

// LineCol converts a 0-based byte offset into a (1-based line, 0-based
// character-within-line) pair, using a line index previously returned by
// LineIndex.
func LineCol(offsets []int, byteOffset int) (line, char int) {
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] > byteOffset }) - 1
	if i < 0 {
		i = 0
	}
	return i + 1, byteOffset - offsets[i]
}

// Offset converts a (1-based line, 0-based character) pair back to a 0-based
// byte offset, the inverse of LineCol.
func Offset(offsets []int, line, char int) int {
	idx := line - 1
	if idx < 0 || idx >= len(offsets) {
		return -1
	}
	return offsets[idx] + char
}
