package pyenv

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type directURL struct {
	DirInfo struct {
		Editable bool `json:"editable"`
	} `json:"dir_info"`
}

// discoverEditables finds every editable install registered in sitePackages
// (spec §4.7 "Editable installs").
func discoverEditables(sitePackages string) []EditableInstall {
	entries, err := os.ReadDir(sitePackages)
	if err != nil {
		return nil
	}

	pthIndex := buildPthIndex(sitePackages)

	var installs []EditableInstall
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasSuffix(name, ".dist-info") {
			continue
		}
		if !isEditable(filepath.Join(sitePackages, name, "direct_url.json")) {
			continue
		}

		raw, normalized := packageNamesFromDistInfo(name)
		pth := findPthFor(pthIndex, raw, normalized)
		if pth == "" {
			log.Printf("pyenv: no .pth file found for editable install %s", name)
			continue
		}

		sourceRoot, ok := parsePthSourceRoot(pth, sitePackages)
		if !ok {
			continue
		}

		installs = append(installs, EditableInstall{
			PackageName:    normalized,
			RawPackageName: raw,
			SourceRoot:     sourceRoot,
			SitePackages:   sitePackages,
		})
	}
	return installs
}

func isEditable(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var d directURL
	if err := json.Unmarshal(b, &d); err != nil {
		log.Printf("pyenv: malformed direct_url.json %s: %v", path, err)
		return false
	}
	return d.DirInfo.Editable
}

// packageNamesFromDistInfo derives raw and normalized package names from a
// "<name>-<version>.dist-info" directory name: split on the first '-' that
// precedes a digit (the version separator); raw preserves original
// punctuation, normalized lowercases and replaces '-'/'.' with '_'.
func packageNamesFromDistInfo(dirName string) (raw, normalized string) {
	base := strings.TrimSuffix(dirName, ".dist-info")
	parts := strings.Split(base, "-")
	cut := len(parts)
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 && isDigit(parts[i][0]) {
			cut = i
			break
		}
	}
	raw = strings.Join(parts[:cut], "-")
	normalized = strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(raw))
	return raw, normalized
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// buildPthIndex maps a .pth file's stem (filename without extension) to its
// full path, built once to avoid re-scanning site-packages per install.
func buildPthIndex(sitePackages string) map[string]string {
	entries, err := os.ReadDir(sitePackages)
	if err != nil {
		return nil
	}
	index := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pth") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".pth")
		index[stem] = filepath.Join(sitePackages, e.Name())
	}
	return index
}

// findPthFor looks up the .pth file whose stem matches any of
// __editable__.<name>, _<name>, <name>, tried for both raw and normalized
// package names.
func findPthFor(index map[string]string, raw, normalized string) string {
	for _, name := range []string{raw, normalized} {
		for _, stem := range []string{"__editable__." + name, "_" + name, name} {
			if p, ok := index[stem]; ok {
				return p
			}
		}
	}
	return ""
}

// parsePthSourceRoot reads the first non-blank, non-comment,
// non-"import "-prefixed line of a .pth file as a filesystem path, validates
// it, and resolves it relative to sitePackages.
func parsePthSourceRoot(pthPath, sitePackages string) (string, bool) {
	f, err := os.Open(pthPath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "import ") || strings.HasPrefix(line, "import\t") {
			continue
		}
		if !validPthLine(line) {
			log.Printf("pyenv: rejecting malformed .pth line in %s", pthPath)
			return "", false
		}
		path := line
		if !filepath.IsAbs(path) {
			path = filepath.Join(sitePackages, path)
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Printf("pyenv: .pth source root does not exist: %s", path)
			return "", false
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.IsDir() {
			return "", false
		}
		return resolved, true
	}
	return "", false
}

func validPthLine(line string) bool {
	if strings.Contains(line, "..") {
		return false
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == 0 {
			return false
		}
		if c < 0x20 && c != '\t' {
			return false
		}
	}
	return true
}
