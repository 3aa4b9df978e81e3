package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pyfix/pyfixls/internal/pyast"
)

// ModuleRef is one module reference discovered by the import-closure loop:
// either a star-import target or a pytest_plugins string.
type ModuleRef struct {
	Module string // dotted module path, e.g. "pkg.sub.fixtures"
	Line   int
}

// ExtractModuleRefs scans a parsed file for "from M import *" statements and
// module-level "pytest_plugins = ..." assignments (string or tuple/list of
// strings), the two re-export forms spec §4.6 step 6 names.
func ExtractModuleRefs(root *pyast.Node, source []byte) []ModuleRef {
	var refs []ModuleRef
	for _, stmt := range root.NamedChildren() {
		switch stmt.Kind() {
		case "import_from_statement":
			if hasWildcard(stmt) {
				if mod := moduleNameOf(stmt, source); mod != "" {
					refs = append(refs, ModuleRef{Module: mod, Line: int(stmt.StartPoint().Row) + 1})
				}
			}
		case "expression_statement":
			for _, c := range stmt.NamedChildren() {
				refs = append(refs, pytestPluginsRefs(c, source)...)
			}
		}
	}
	return refs
}

func hasWildcard(importFrom *pyast.Node) bool {
	for _, c := range importFrom.NamedChildren() {
		if c.Kind() == "wildcard_import" {
			return true
		}
	}
	return strings.Contains(importFrom.Text(), "import *")
}

func moduleNameOf(importFrom *pyast.Node, source []byte) string {
	if mod := importFrom.ChildByFieldName("module_name"); mod != nil {
		return relativeAdjustedName(pyast.NodeText(mod, source))
	}
	for _, c := range importFrom.NamedChildren() {
		if c.Kind() == "dotted_name" || c.Kind() == "relative_import" {
			return relativeAdjustedName(pyast.NodeText(c, source))
		}
	}
	return ""
}

// relativeAdjustedName leaves leading dots in place; callers resolve them
// relative to the importing file (see scanner.ResolveModule in
// Database.importClosureLoop).
func relativeAdjustedName(s string) string { return s }

func pytestPluginsRefs(n *pyast.Node, source []byte) []ModuleRef {
	if n.Kind() != "assignment" {
		return nil
	}
	left := n.ChildByFieldName("left")
	if left == nil || left.Kind() != "identifier" || pyast.NodeText(left, source) != "pytest_plugins" {
		return nil
	}
	right := n.ChildByFieldName("right")
	if right == nil {
		return nil
	}
	line := int(n.StartPoint().Row) + 1

	var refs []ModuleRef
	switch right.Kind() {
	case "string":
		if s, ok := unquoteString(pyast.NodeText(right, source)); ok {
			refs = append(refs, ModuleRef{Module: s, Line: line})
		}
	case "list", "tuple":
		for _, c := range right.NamedChildren() {
			if c.Kind() == "string" {
				if s, ok := unquoteString(pyast.NodeText(c, source)); ok {
					refs = append(refs, ModuleRef{Module: s, Line: line})
				}
			}
		}
	}
	return refs
}

func unquoteString(s string) (string, bool) {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return s[len(q) : len(s)-len(q)], true
		}
	}
	return "", false
}

// ResolveModule resolves a dotted module name (possibly prefixed with
// relative-import dots) referenced from fromFile to a file path, first
// relative to fromFile's directory, then by absolute search along
// searchRoots (site-packages paths and editable-install source roots), per
// spec §4.6 step 6.
func ResolveModule(fromFile, module string, searchRoots []string) (string, bool) {
	dots := 0
	for dots < len(module) && module[dots] == '.' {
		dots++
	}
	rest := module[dots:]

	if dots > 0 {
		base := filepath.Dir(fromFile)
		for i := 1; i < dots; i++ {
			base = filepath.Dir(base)
		}
		if rest == "" {
			if p, ok := moduleFileIn(base, ""); ok {
				return p, true
			}
			return "", false
		}
		if p, ok := moduleFileIn(base, rest); ok {
			return p, true
		}
		return "", false
	}

	for _, root := range append([]string{filepath.Dir(fromFile)}, searchRoots...) {
		if p, ok := moduleFileIn(root, rest); ok {
			return p, true
		}
	}
	return "", false
}

func moduleFileIn(root, dotted string) (string, bool) {
	rel := strings.ReplaceAll(dotted, ".", string(filepath.Separator))
	if rel == "" {
		return "", false
	}
	file := filepath.Join(root, rel+".py")
	if fileExists(file) {
		return file, true
	}
	pkgInit := filepath.Join(root, rel, "__init__.py")
	if fileExists(pkgInit) {
		return pkgInit, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
