package analyzer

import (
	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/pyast"
)

// findUndeclared implements spec §4.4: walk fn's body, collecting local
// binding sites first, then flagging every identifier reference that (1)
// isn't a declared parameter or always-shadowed name, (2) isn't locally
// bound on an earlier line, (3) isn't a module-level bound name, and
// (4) does name an in-scope fixture.
func (a *fileAnalyzer) findUndeclared(fn *pyast.Node, funcName string, declaredParams map[string]bool, effectiveFixtureName string) {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return
	}

	bindings := collectLocalBindings(body, a.source)
	funcLine := int(fn.StartPoint().Row) + 1

	walkIdentifierRefs(body, func(ident *pyast.Node) {
		name := pyast.NodeText(ident, a.source)
		if name == "" || name == "self" || name == "request" {
			return
		}
		if declaredParams[name] {
			return
		}
		if effectiveFixtureName != "" && name == effectiveFixtureName {
			return
		}
		line := int(ident.StartPoint().Row) + 1
		if bindLine, ok := bindings[name]; ok && line > bindLine {
			return
		}
		if a.res.ModuleNames[name] {
			return
		}
		if a.available == nil || !a.available(a.path, name) {
			return
		}
		a.res.Undeclared = append(a.res.Undeclared, fixtures.UndeclaredFixture{
			Name:         name,
			FilePath:     a.path,
			Line:         line,
			StartChar:    int(ident.StartPoint().Column),
			EndChar:      int(ident.EndPoint().Column),
			FunctionName: funcName,
			FunctionLine: funcLine,
		})
	})
}

// collectLocalBindings finds every name bound by assignment, augmented
// assignment, for-loop targets, with/except "as" clauses, walrus
// expressions, and nested def/class statements within body (not descending
// into nested function/class bodies, whose own parameters and locals are a
// separate scope), recording the earliest (lowest) line each name is bound
// on -- sufficient because spec §4.4 condition 2 only cares whether *some*
// binding precedes the reference.
func collectLocalBindings(body *pyast.Node, source []byte) map[string]int {
	bindings := make(map[string]int)
	record := func(n *pyast.Node) {
		if n == nil {
			return
		}
		name := pyast.NodeText(n, source)
		line := int(n.StartPoint().Row) + 1
		if existing, ok := bindings[name]; !ok || line < existing {
			bindings[name] = line
		}
	}
	var recordTargets func(n *pyast.Node)
	recordTargets = func(n *pyast.Node) {
		if n == nil {
			return
		}
		switch n.Kind() {
		case "identifier":
			record(n)
		case "tuple_pattern", "list_pattern", "pattern_list":
			for _, c := range n.NamedChildren() {
				recordTargets(c)
			}
		case "attribute", "subscript":
			// x.y = ... / x[i] = ... bind no new local name.
		}
	}

	pyast.Walk(body, func(n *pyast.Node) bool {
		switch n.Kind() {
		case "function_definition", "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				record(name)
			}
			return false // separate scope
		case "lambda":
			return false
		case "assignment":
			recordTargets(n.ChildByFieldName("left"))
		case "augmented_assignment":
			recordTargets(n.ChildByFieldName("left"))
		case "named_expression":
			recordTargets(n.ChildByFieldName("name"))
		case "for_statement":
			recordTargets(n.ChildByFieldName("left"))
		case "with_item":
			if alias := n.ChildByFieldName("alias"); alias != nil {
				recordTargets(alias)
			}
		case "except_clause":
			for _, c := range n.NamedChildren() {
				if c.Kind() == "as_pattern" {
					if children := c.NamedChildren(); len(children) > 1 {
						recordTargets(children[len(children)-1])
					}
				} else if c.Kind() == "identifier" {
					// bare "except Exception:" names no identifier
				}
			}
		}
		return true
	})
	return bindings
}

// walkIdentifierRefs calls fn for every standalone Name *reference* in body:
// plain identifiers that are not the attribute half of an attribute access,
// not keyword-argument names, and not themselves a binding-target occurrence
// (assignment/aug-assignment/for-loop/with/walrus/except-as targets). Binding
// targets are never references -- "x = ..." does not read x -- so they are
// skipped here entirely rather than relying on the bindings-map/line check in
// findUndeclared to filter them out after the fact.
func walkIdentifierRefs(body *pyast.Node, fn func(*pyast.Node)) {
	var visit func(n *pyast.Node)
	visit = func(n *pyast.Node) {
		if n == nil {
			return
		}
		switch n.Kind() {
		case "function_definition", "class_definition", "lambda":
			return // separate parameter/name scope
		case "identifier":
			parent := n.Parent()
			if parent != nil {
				switch parent.Kind() {
				case "attribute":
					if attr := parent.ChildByFieldName("attribute"); sameNode(attr, n) {
						return // only the object half (x in x.y) counts
					}
				case "keyword_argument":
					if key := parent.ChildByFieldName("name"); sameNode(key, n) {
						return
					}
				}
			}
			fn(n)
			return
		case "assignment", "augmented_assignment":
			visitExcept(n, n.ChildByFieldName("left"), visit)
			return
		case "for_statement":
			visitExcept(n, n.ChildByFieldName("left"), visit)
			return
		case "named_expression":
			visitExcept(n, n.ChildByFieldName("name"), visit)
			return
		case "with_item":
			visitExcept(n, n.ChildByFieldName("alias"), visit)
			return
		case "as_pattern":
			// "except Foo as e" / "case Foo() as e": the last child is the
			// bound alias, never a reference; everything before it is.
			children := n.NamedChildren()
			if len(children) > 1 {
				for _, c := range children[:len(children)-1] {
					visit(c)
				}
				return
			}
		}
		for _, c := range n.NamedChildren() {
			visit(c)
		}
	}
	visit(body)
}

// sameNode reports whether a and b denote the same source span -- used to
// compare a node fetched via ChildByFieldName against one fetched via
// NamedChildren, which may be distinct *pyast.Node wrappers over the same
// underlying tree-sitter node.
func sameNode(a, b *pyast.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// visitExcept calls visit on every named child of n other than skip.
func visitExcept(n, skip *pyast.Node, visit func(*pyast.Node)) {
	for _, c := range n.NamedChildren() {
		if skip != nil && sameNode(c, skip) {
			continue
		}
		visit(c)
	}
}
