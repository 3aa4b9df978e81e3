// Package pyenv implements the Environment Scanner (C7): virtual-environment
// and site-packages discovery, pytest11 entry-point plugin discovery, and
// editable-install discovery (spec §4.7).
package pyenv

import (
	"log"
	"os"
	"path/filepath"
)

// Environment is the discovered Python environment for a workspace.
type Environment struct {
	VenvRoot     string
	SitePackages []string
	Editables    []EditableInstall
}

// EditableInstall mirrors fixtures.EditableInstall; duplicated here (rather
// than importing internal/fixtures) to keep pyenv leaf-level and free of a
// dependency cycle -- internal/fixtures stores these values as they are.
type EditableInstall struct {
	PackageName    string
	RawPackageName string
	SourceRoot     string
	SitePackages   string
}

// Discover locates the active virtual environment for root and its
// site-packages directory, in the order spec §4.7 specifies:
// <root>/.venv, <root>/venv, <root>/env, then $VIRTUAL_ENV.
func Discover(root string) *Environment {
	candidates := []string{
		filepath.Join(root, ".venv"),
		filepath.Join(root, "venv"),
		filepath.Join(root, "env"),
	}
	if v := os.Getenv("VIRTUAL_ENV"); v != "" {
		candidates = append(candidates, v)
	}

	for _, venv := range candidates {
		if sp, ok := sitePackagesOf(venv); ok {
			env := &Environment{VenvRoot: venv, SitePackages: []string{sp}}
			env.Editables = discoverEditables(sp)
			return env
		}
	}
	log.Printf("pyenv: no virtualenv found under %s", root)
	return &Environment{}
}

// sitePackagesOf returns the site-packages directory under venv, checking
// the POSIX "lib/python*/site-packages" layout then the Windows
// "Lib/site-packages" layout.
func sitePackagesOf(venv string) (string, bool) {
	info, err := os.Stat(venv)
	if err != nil || !info.IsDir() {
		return "", false
	}

	libDir := filepath.Join(venv, "lib")
	entries, err := os.ReadDir(libDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			candidate := filepath.Join(libDir, e.Name(), "site-packages")
			if isDir(candidate) {
				return candidate, true
			}
		}
	}

	winCandidate := filepath.Join(venv, "Lib", "site-packages")
	if isDir(winCandidate) {
		return winCandidate, true
	}

	return "", false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// BuiltinPluginDir returns the unconditionally-scanned "_pytest" built-in
// fixtures directory for a site-packages root, and whether it exists.
func BuiltinPluginDir(sitePackages string) (string, bool) {
	dir := filepath.Join(sitePackages, "_pytest")
	return dir, isDir(dir)
}
