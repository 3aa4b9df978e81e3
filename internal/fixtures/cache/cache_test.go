package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalizeMissingFileFallsBack(t *testing.T) {
	c := New()
	missing := filepath.Join(t.TempDir(), "does-not-exist.py")
	got := c.Canonicalize(missing)
	want, _ := filepath.Abs(missing)
	if got != want {
		t.Errorf("Canonicalize(%q) = %q, want %q", missing, got, want)
	}
	// Memoized: a second call returns the same value without re-resolving.
	if got2 := c.Canonicalize(missing); got2 != got {
		t.Errorf("Canonicalize not memoized: %q != %q", got2, got)
	}
}

func TestStoreAndFetchOrRead(t *testing.T) {
	c := New()
	c.Store("/virtual/path.py", "hello")
	got, ok := c.FetchOrRead("/virtual/path.py")
	if !ok || got != "hello" {
		t.Fatalf("FetchOrRead = (%q, %v), want (hello, true)", got, ok)
	}
}

func TestFetchOrReadFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_foo.py")
	if err := os.WriteFile(path, []byte("def test_foo(): pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New()
	got, ok := c.FetchOrRead(path)
	if !ok {
		t.Fatal("FetchOrRead returned ok=false for an existing file")
	}
	if got != "def test_foo(): pass\n" {
		t.Errorf("FetchOrRead = %q", got)
	}
}

func TestFetchOrReadMissingFile(t *testing.T) {
	c := New()
	_, ok := c.FetchOrRead(filepath.Join(t.TempDir(), "missing.py"))
	if ok {
		t.Error("FetchOrRead on a missing file returned ok=true")
	}
}

func TestForgetClearsContentAndLineIndex(t *testing.T) {
	c := New()
	c.Store("/virtual/a.py", "line1\nline2\n")
	c.LineIndex("/virtual/a.py", "line1\nline2\n")

	c.Forget("/virtual/a.py")

	if _, ok := c.FetchOrRead("/virtual/a.py"); ok {
		t.Error("content survived Forget")
	}
	c.lineMu.RLock()
	_, hasIndex := c.lines["/virtual/a.py"]
	c.lineMu.RUnlock()
	if hasIndex {
		t.Error("line index survived Forget")
	}
}

func TestLineIndexInvalidatesOnContentChange(t *testing.T) {
	c := New()
	v1 := "a\nbb\nccc\n"
	offsets1 := c.LineIndex("/virtual/b.py", v1)
	if len(offsets1) != 4 {
		t.Fatalf("LineIndex(v1) = %v, want 4 entries", offsets1)
	}

	v2 := "a\n"
	offsets2 := c.LineIndex("/virtual/b.py", v2)
	if len(offsets2) != 2 {
		t.Fatalf("LineIndex(v2) = %v, want 2 entries after content changed", offsets2)
	}
}

func TestLineColRoundTrip(t *testing.T) {
	content := "aaa\nbb\nc\n"
	offsets := buildLineIndex(content)

	line, char := LineCol(offsets, 4) // start of "bb"
	if line != 2 || char != 0 {
		t.Errorf("LineCol(4) = (%d, %d), want (2, 0)", line, char)
	}

	off := Offset(offsets, 2, 1) // 'b' in "bb"
	if off != 5 {
		t.Errorf("Offset(2, 1) = %d, want 5", off)
	}
}

func TestOffsetOutOfRange(t *testing.T) {
	offsets := buildLineIndex("a\nb\n")
	if got := Offset(offsets, 99, 0); got != -1 {
		t.Errorf("Offset with out-of-range line = %d, want -1", got)
	}
}
