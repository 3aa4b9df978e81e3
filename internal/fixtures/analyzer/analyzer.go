// Package analyzer implements the File Analyzer (C4): the two-pass walk of
// one Python file's AST that produces fixture definitions, usages,
// undeclared-fixture diagnostics, and the file's module-level bound names
// (spec §4.3, §4.4).
package analyzer

import (
	"strings"

	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/fixtures/decorators"
	"github.com/pyfix/pyfixls/internal/pyast"
)

// Result is everything AnalyzeFile learns about one file.
type Result struct {
	Definitions []fixtures.FixtureDefinition
	Usages      []fixtures.FixtureUsage
	Undeclared  []fixtures.UndeclaredFixture
	// ModuleNames is the set of module-level bound names: imports, classes,
	// non-fixture top-level functions, and assignment targets (spec §4.3
	// step 5).
	ModuleNames map[string]bool
}

// FixtureAvailable reports whether name resolves to some fixture definition
// visible from path per the scope-chain rules of spec §4.5 (same file, any
// ancestor conftest, or third-party) -- the analyzer needs this to classify
// undeclared references (spec §4.4 condition 4) but owns no global state
// itself; the caller (the Database) supplies it from the Resolver.
type FixtureAvailable func(path, name string) bool

// Analyze parses content and extracts definitions/usages/undeclared/module
// names for path. A parse failure is returned as an error; per spec §7 the
// caller (Database.AnalyzeFile) treats that by leaving the file's entries
// cleared rather than propagating a fatal condition.
func Analyze(parser *pyast.Parser, path string, content []byte, isThirdParty bool, available FixtureAvailable) (*Result, error) {
	tree, err := parser.Parse(content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	res := &Result{ModuleNames: make(map[string]bool)}

	a := &fileAnalyzer{
		path:         path,
		source:       content,
		isThirdParty: isThirdParty,
		available:    available,
		res:          res,
	}
	a.collectModuleNames(root)
	a.walkBody(root)
	return res, nil
}

type fileAnalyzer struct {
	path         string
	source       []byte
	isThirdParty bool
	available    FixtureAvailable
	res          *Result
}

// --- first pass: module-level bound names (spec §4.3 step 5) ---

func (a *fileAnalyzer) collectModuleNames(root *pyast.Node) {
	for _, stmt := range root.NamedChildren() {
		a.collectNamesFromStatement(stmt)
	}
}

func (a *fileAnalyzer) collectNamesFromStatement(stmt *pyast.Node) {
	switch stmt.Kind() {
	case "import_statement":
		for _, c := range stmt.NamedChildren() {
			a.addImportName(c)
		}
	case "import_from_statement":
		for _, c := range stmt.NamedChildren() {
			if c.Kind() == "dotted_name" && sameNode(c, stmt.ChildByFieldName("module_name")) {
				continue
			}
			a.addImportName(c)
		}
	case "class_definition":
		if name := stmt.ChildByFieldName("name"); name != nil {
			a.res.ModuleNames[pyast.NodeText(name, a.source)] = true
		}
	case "function_definition":
		if name := stmt.ChildByFieldName("name"); name != nil {
			a.res.ModuleNames[pyast.NodeText(name, a.source)] = true
		}
	case "decorated_definition":
		if a.isFixtureDecorated(stmt) {
			// A fixture-decorated definition is not a "module name" for
			// undeclared-usage purposes (spec §4.4 condition 3): a same-file
			// reference to it is a fixture reference, not a module access.
			return
		}
		if def := innerDefinition(stmt); def != nil {
			if name := def.ChildByFieldName("name"); name != nil {
				a.res.ModuleNames[pyast.NodeText(name, a.source)] = true
			}
		}
	case "expression_statement":
		for _, c := range stmt.NamedChildren() {
			a.collectAssignTargets(c)
		}
	}
}

func (a *fileAnalyzer) addImportName(n *pyast.Node) {
	switch n.Kind() {
	case "dotted_name":
		text := pyast.NodeText(n, a.source)
		if idx := strings.IndexByte(text, '.'); idx >= 0 {
			text = text[:idx]
		}
		a.res.ModuleNames[text] = true
	case "aliased_import":
		if alias := n.ChildByFieldName("alias"); alias != nil {
			a.res.ModuleNames[pyast.NodeText(alias, a.source)] = true
		}
	case "identifier":
		a.res.ModuleNames[pyast.NodeText(n, a.source)] = true
	}
}

func (a *fileAnalyzer) collectAssignTargets(n *pyast.Node) {
	switch n.Kind() {
	case "assignment":
		left := n.ChildByFieldName("left")
		a.collectTargetNames(left)
	}
}

func (a *fileAnalyzer) collectTargetNames(n *pyast.Node) {
	if n == nil {
		return
	}
	switch n.Kind() {
	case "identifier":
		a.res.ModuleNames[pyast.NodeText(n, a.source)] = true
	case "tuple_pattern", "list_pattern", "pattern_list":
		for _, c := range n.NamedChildren() {
			a.collectTargetNames(c)
		}
	}
}

func (a *fileAnalyzer) isFixtureDecorated(decorated *pyast.Node) bool {
	for _, dec := range decoratorsOf(decorated) {
		if decorators.Classify(dec, a.source).Kind == decorators.Fixture {
			return true
		}
	}
	return false
}

func innerDefinition(decorated *pyast.Node) *pyast.Node {
	for _, c := range decorated.NamedChildren() {
		if c.Kind() == "function_definition" || c.Kind() == "class_definition" {
			return c
		}
	}
	return nil
}

func decoratorsOf(decorated *pyast.Node) []*pyast.Node {
	var out []*pyast.Node
	for _, c := range decorated.NamedChildren() {
		if c.Kind() == "decorator" {
			if inner := firstNamed(c); inner != nil {
				out = append(out, inner)
			}
		}
	}
	return out
}

func firstNamed(n *pyast.Node) *pyast.Node {
	children := n.NamedChildren()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// --- second pass: definitions, usages, undeclared (spec §4.3 step 6, §4.4) ---

func (a *fileAnalyzer) walkBody(root *pyast.Node) {
	for _, stmt := range root.NamedChildren() {
		a.visitStatement(stmt)
	}
}

func (a *fileAnalyzer) visitStatement(stmt *pyast.Node) {
	switch stmt.Kind() {
	case "expression_statement":
		for _, c := range stmt.NamedChildren() {
			a.visitAssignForFixtureCall(c)
		}
	case "class_definition":
		a.visitClass(stmt, nil)
	case "function_definition":
		a.visitFunction(stmt, nil)
	case "decorated_definition":
		def := innerDefinition(stmt)
		decs := decoratorsOf(stmt)
		if def == nil {
			return
		}
		if def.Kind() == "class_definition" {
			a.visitClass(def, decs)
		} else {
			a.visitFunction(def, decs)
		}
	}
}

// visitAssignForFixtureCall recognizes the "name = fixture()(func)"
// assignment-style fixture form (spec §4.3 step 6, Assign case).
func (a *fileAnalyzer) visitAssignForFixtureCall(n *pyast.Node) {
	if n.Kind() != "assignment" {
		return
	}
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil || left.Kind() != "identifier" {
		return
	}
	if right.Kind() != "call" {
		return
	}
	inner := right.ChildByFieldName("function")
	if inner == nil {
		return
	}
	cls := decorators.Classify(inner, a.source)
	if cls.Kind != decorators.Fixture {
		return
	}
	name := pyast.NodeText(left, a.source)
	if cls.CustomName != "" {
		name = cls.CustomName
	}
	scope := cls.Scope
	if scope == "" {
		scope = "function"
	}
	a.res.Definitions = append(a.res.Definitions, fixtures.FixtureDefinition{
		Name:         name,
		FilePath:     a.path,
		Line:         int(n.StartPoint().Row) + 1,
		StartChar:    int(left.StartPoint().Column),
		EndChar:      int(left.EndPoint().Column),
		Autouse:      cls.Autouse,
		Scope:        scope,
		IsThirdParty: a.isThirdParty,
	})
}

func (a *fileAnalyzer) visitClass(class *pyast.Node, classDecorators []*pyast.Node) {
	for _, dec := range classDecorators {
		cls := decorators.Classify(dec, a.source)
		if cls.Kind == decorators.Usefixtures {
			a.emitUsages(cls.Names)
		}
	}
	body := class.ChildByFieldName("body")
	if body == nil {
		return
	}
	for _, stmt := range body.NamedChildren() {
		a.visitStatement(stmt)
	}
}

func (a *fileAnalyzer) emitUsages(names []decorators.NameUse) {
	for _, n := range names {
		line, col := a.byteToLineCol(n.StartByte)
		_, endCol := a.byteToLineColSameLine(n.EndByte, line)
		a.res.Usages = append(a.res.Usages, fixtures.FixtureUsage{
			Name:      n.Name,
			FilePath:  a.path,
			Line:      line,
			StartChar: col,
			EndChar:   endCol,
		})
	}
}

// byteToLineCol converts a byte offset to (1-based line, 0-based column)
// within a.source via a linear scan -- files are analyzed once per change,
// so this is acceptable without reusing the shared cache.Cache line index
// (the Database wires that index in for query-time lookups instead).
func (a *fileAnalyzer) byteToLineCol(b int) (line, col int) {
	line = 1
	lastNL := -1
	for i := 0; i < b && i < len(a.source); i++ {
		if a.source[i] == '\n' {
			line++
			lastNL = i
		}
	}
	return line, b - lastNL - 1
}

func (a *fileAnalyzer) byteToLineColSameLine(b, line int) (int, int) {
	_, col := a.byteToLineCol(b)
	return line, col
}

func (a *fileAnalyzer) visitFunction(fn *pyast.Node, fnDecorators []*pyast.Node) {
	nameNode := fn.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := pyast.NodeText(nameNode, a.source)

	var fixtureClass *decorators.Classification
	for _, dec := range fnDecorators {
		cls := decorators.Classify(dec, a.source)
		switch cls.Kind {
		case decorators.Fixture:
			c := cls
			fixtureClass = &c
		case decorators.Usefixtures:
			a.emitUsages(cls.Names)
		case decorators.ParametrizeIndirect:
			a.emitUsages(cls.Names)
		}
	}

	params := extractParams(fn.ChildByFieldName("parameters"))
	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
	}

	effectiveName := funcName
	if fixtureClass != nil && fixtureClass.CustomName != "" {
		effectiveName = fixtureClass.CustomName
	}

	if fixtureClass != nil {
		scope := fixtureClass.Scope
		if scope == "" {
			scope = "function"
		}
		def := fixtures.FixtureDefinition{
			Name:         effectiveName,
			FilePath:     a.path,
			Line:         int(fn.StartPoint().Row) + 1,
			StartChar:    int(nameNode.StartPoint().Column),
			EndChar:      int(nameNode.EndPoint().Column),
			Docstring:    extractDocstring(fn, a.source),
			ReturnType:   extractReturnType(fn, a.source),
			Autouse:      fixtureClass.Autouse,
			Scope:        scope,
			IsThirdParty: a.isThirdParty,
		}
		a.res.Definitions = append(a.res.Definitions, def)

		for _, p := range params {
			if p.Name == "self" || p.Name == "request" || p.Name == effectiveName {
				continue
			}
			a.res.Usages = append(a.res.Usages, fixtures.FixtureUsage{
				Name:      p.Name,
				FilePath:  a.path,
				Line:      p.Line,
				StartChar: p.StartChar,
				EndChar:   p.EndChar,
			})
		}
	} else if strings.HasPrefix(funcName, "test_") {
		for _, p := range params {
			if p.Name == "self" {
				continue
			}
			a.res.Usages = append(a.res.Usages, fixtures.FixtureUsage{
				Name:      p.Name,
				FilePath:  a.path,
				Line:      p.Line,
				StartChar: p.StartChar,
				EndChar:   p.EndChar,
			})
		}
	}

	isTestOrFixture := fixtureClass != nil || strings.HasPrefix(funcName, "test_")
	if isTestOrFixture {
		a.findUndeclared(fn, funcName, declared, effectiveName)
	}

	// Nested definitions (closures, local helper classes) are walked too so
	// their own fixture-relevant shapes aren't missed, though this is rare
	// in practice for test code.
	if body := fn.ChildByFieldName("body"); body != nil {
		for _, stmt := range body.NamedChildren() {
			switch stmt.Kind() {
			case "function_definition", "class_definition", "decorated_definition":
				a.visitStatement(stmt)
			}
		}
	}
}

type param struct {
	Name      string
	Line      int
	StartChar int
	EndChar   int
}

// extractParams walks a "parameters" node, handling positional, default,
// typed, *args, and **kwargs forms (spec §4.3 "Parameters include
// positional-only, regular positional, and keyword-only").
func extractParams(params *pyast.Node) []param {
	if params == nil {
		return nil
	}
	var out []param
	for _, c := range params.NamedChildren() {
		var ident *pyast.Node
		switch c.Kind() {
		case "identifier":
			ident = c
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if n := c.ChildByFieldName("name"); n != nil {
				ident = n
			} else if first := firstNamed(c); first != nil && first.Kind() == "identifier" {
				ident = first
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if first := firstNamed(c); first != nil {
				ident = first
			}
		default:
			continue
		}
		if ident == nil {
			continue
		}
		out = append(out, param{
			Name:      paramName(c, ident),
			Line:      int(ident.StartPoint().Row) + 1,
			StartChar: int(ident.StartPoint().Column),
			EndChar:   int(ident.EndPoint().Column),
		})
	}
	return out
}

func paramName(paramNode, ident *pyast.Node) string {
	return identText(ident)
}

func identText(n *pyast.Node) string {
	return n.Text()
}

// extractDocstring returns the function body's first statement's text if it
// is a bare string-constant expression statement, cleaned of its quotes.
func extractDocstring(fn *pyast.Node, source []byte) string {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	stmts := body.NamedChildren()
	if len(stmts) == 0 || stmts[0].Kind() != "expression_statement" {
		return ""
	}
	inner := firstNamed(stmts[0])
	if inner == nil || inner.Kind() != "string" {
		return ""
	}
	text := pyast.NodeText(inner, source)
	return dedentDocstring(stripQuotes(text))
}

func stripQuotes(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

func dedentDocstring(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= 1 {
		return strings.TrimSpace(s)
	}
	minIndent := -1
	for _, l := range lines[1:] {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(l) - len(trimmed)
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.TrimSpace(s)
	}
	out := []string{strings.TrimSpace(lines[0])}
	for _, l := range lines[1:] {
		if len(l) >= minIndent {
			out = append(out, l[minIndent:])
		} else {
			out = append(out, strings.TrimLeft(l, " \t"))
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// extractReturnType renders the function's return-type annotation, unwrapping
// Generator[T, ...]/Iterator[T] to their first type argument when the body
// contains a yield (spec §3 FixtureDefinition.return_type).
func extractReturnType(fn *pyast.Node, source []byte) string {
	rt := fn.ChildByFieldName("return_type")
	if rt == nil {
		return ""
	}
	text := pyast.NodeText(rt, source)
	if !bodyHasYield(fn.ChildByFieldName("body")) {
		return text
	}
	if unwrapped, ok := unwrapGeneratorType(rt, source); ok {
		return unwrapped
	}
	return text
}

func bodyHasYield(body *pyast.Node) bool {
	if body == nil {
		return false
	}
	found := false
	pyast.Walk(body, func(n *pyast.Node) bool {
		if found {
			return false
		}
		switch n.Kind() {
		case "function_definition", "lambda":
			return false // don't descend into nested scopes
		case "yield":
			found = true
			return false
		}
		return true
	})
	return found
}

// unwrapGeneratorType extracts the first type argument of a
// Generator[T, ...]/Iterator[T]-shaped subscript annotation.
func unwrapGeneratorType(rt *pyast.Node, source []byte) (string, bool) {
	if rt.Kind() != "subscript" {
		return "", false
	}
	base := rt.ChildByFieldName("value")
	if base == nil {
		return "", false
	}
	baseName := pyast.NodeText(base, source)
	if idx := strings.LastIndexByte(baseName, '.'); idx >= 0 {
		baseName = baseName[idx+1:]
	}
	switch baseName {
	case "Generator", "Iterator", "AsyncGenerator", "AsyncIterator":
	default:
		return "", false
	}
	sub := rt.ChildByFieldName("subscript")
	if sub == nil {
		return "", false
	}
	args := sub.NamedChildren()
	if sub.Kind() == "tuple" && len(args) > 0 {
		return pyast.NodeText(args[0], source), true
	}
	return pyast.NodeText(sub, source), true
}
