package pyenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverFindsDotVenv(t *testing.T) {
	root := t.TempDir()
	sp := filepath.Join(root, ".venv", "lib", "python3.12", "site-packages")
	if err := os.MkdirAll(sp, 0o755); err != nil {
		t.Fatal(err)
	}

	env := Discover(root)
	if len(env.SitePackages) != 1 || env.SitePackages[0] != sp {
		t.Fatalf("SitePackages = %v, want [%s]", env.SitePackages, sp)
	}
	if env.VenvRoot != filepath.Join(root, ".venv") {
		t.Errorf("VenvRoot = %q", env.VenvRoot)
	}
}

func TestDiscoverNoVenvFound(t *testing.T) {
	root := t.TempDir()
	env := Discover(root)
	if len(env.SitePackages) != 0 {
		t.Errorf("SitePackages = %v, want none", env.SitePackages)
	}
}

func TestBuiltinPluginDir(t *testing.T) {
	sp := t.TempDir()
	if _, ok := BuiltinPluginDir(sp); ok {
		t.Error("BuiltinPluginDir found a _pytest dir that doesn't exist")
	}

	if err := os.MkdirAll(filepath.Join(sp, "_pytest"), 0o755); err != nil {
		t.Fatal(err)
	}
	dir, ok := BuiltinPluginDir(sp)
	if !ok || dir != filepath.Join(sp, "_pytest") {
		t.Errorf("BuiltinPluginDir = (%q, %v)", dir, ok)
	}
}
