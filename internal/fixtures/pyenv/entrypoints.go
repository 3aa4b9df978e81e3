package pyenv

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Plugin is a pytest11 entry-point resolved to a loadable code location.
type Plugin struct {
	Name string // entry-point key
	// Path is the resolved module file, or a package directory to scan
	// recursively when IsPackage is true.
	Path      string
	IsPackage bool
}

// DiscoverEntryPointPlugins scans every *.dist-info and *.egg-info directory
// under sitePackages for a [pytest11] section in entry_points.txt, resolving
// each declared plugin to a file or package on disk (spec §4.7 "Plugin
// discovery via entry points").
func DiscoverEntryPointPlugins(sitePackages string) []Plugin {
	entries, err := os.ReadDir(sitePackages)
	if err != nil {
		return nil
	}

	var plugins []Plugin
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !(strings.HasSuffix(name, ".dist-info") || strings.HasSuffix(name, ".egg-info")) {
			continue
		}
		epPath := filepath.Join(sitePackages, name, "entry_points.txt")
		section, err := parsePytest11Section(epPath)
		if err != nil {
			continue // absent/unreadable entry_points.txt: not an error, just no plugins here
		}
		for key, modulePath := range section {
			p, ok := resolveEntryPointModule(sitePackages, modulePath)
			if !ok {
				continue
			}
			p.Name = key
			plugins = append(plugins, p)
		}
	}
	return plugins
}

// parsePytest11Section reads an entry_points.txt-style INI file and returns
// the key=value pairs of its [pytest11] section. entry_points.txt is not
// TOML/JSON, so it's parsed with a small hand-rolled scanner rather than
// pulling in an INI library no example repo in the corpus demonstrates (see
// DESIGN.md).
func parsePytest11Section(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	section := ""
	result := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}
		if section != "pytest11" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" && val != "" {
			result[key] = val
		}
	}
	return result, scanner.Err()
}

// resolveEntryPointModule turns a "pkg.module:attr"-shaped entry-point value
// into a file or package path rooted at base, rejecting path-escape attempts
// (spec §4.7, §7 "Path-escape attempts").
func resolveEntryPointModule(base, modulePath string) (Plugin, bool) {
	modulePath = strings.SplitN(modulePath, ":", 2)[0]
	modulePath = strings.TrimSpace(modulePath)

	if strings.ContainsRune(modulePath, 0) {
		log.Printf("pyenv: rejecting entry point with NUL byte")
		return Plugin{}, false
	}

	components := strings.Split(modulePath, ".")
	for _, c := range components {
		if c == "" || c == ".." {
			log.Printf("pyenv: rejecting malformed entry point module path %q", modulePath)
			return Plugin{}, false
		}
	}

	rel := filepath.Join(components...)
	candidateFile := filepath.Join(base, rel+".py")
	candidatePkg := filepath.Join(base, rel, "__init__.py")

	if isFile(candidateFile) {
		if !withinBase(base, candidateFile) {
			return Plugin{}, false
		}
		return Plugin{Path: candidateFile}, true
	}
	if isFile(candidatePkg) {
		pkgDir := filepath.Dir(candidatePkg)
		if !withinBase(base, pkgDir) {
			return Plugin{}, false
		}
		return Plugin{Path: pkgDir, IsPackage: true}, true
	}
	return Plugin{}, false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// withinBase canonicalizes candidate and requires it to remain within base,
// guarding against a symlink escaping site-packages (spec §4.7, §9 "Path
// hygiene").
func withinBase(base, candidate string) bool {
	resolvedBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		resolvedBase = base
	}
	resolvedCandidate, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		resolvedCandidate = candidate
	}
	rel, err := filepath.Rel(resolvedBase, resolvedCandidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
