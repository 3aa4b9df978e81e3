// Package decorators classifies a single Python decorator expression into
// the forms pytest gives special meaning to: @pytest.fixture,
// @pytest.mark.usefixtures(...), and @pytest.mark.parametrize(..., indirect=...)
// (spec §4.2).
package decorators

import (
	"strconv"
	"strings"

	"github.com/pyfix/pyfixls/internal/pyast"
)

// Kind tags which recognized decorator form a Classify call found.
type Kind int

const (
	None Kind = iota
	Fixture
	Usefixtures
	ParametrizeIndirect
)

// NameUse is one name literal extracted from a decorator call argument,
// together with the byte span of the identifier itself (quote marks
// trimmed, per spec §4.2).
type NameUse struct {
	Name      string
	StartByte int
	EndByte   int
}

// Classification is the result of analyzing one decorator node.
type Classification struct {
	Kind Kind

	// Valid when Kind == Fixture.
	CustomName string // from name= kwarg; empty if not supplied
	Autouse    bool
	Scope      string // defaults to "function" by caller when empty

	// Valid when Kind == Usefixtures or Kind == ParametrizeIndirect.
	Names []NameUse
}

// Classify inspects one decorator expression (the node directly under a
// "decorator" wrapper, i.e. the call/attribute/identifier itself) and source
// it was parsed from, and returns its classification.
func Classify(decorator *pyast.Node, source []byte) Classification {
	if decorator == nil {
		return Classification{Kind: None}
	}

	callee, args := splitCall(decorator)
	dotted := dottedName(callee, source)

	switch {
	case dotted == "fixture" || dotted == "pytest.fixture":
		return classifyFixture(args, source)
	case dotted == "pytest.mark.usefixtures" || dotted == "mark.usefixtures":
		return Classification{Kind: Usefixtures, Names: stringLiteralArgs(args, source)}
	case dotted == "pytest.mark.parametrize" || dotted == "mark.parametrize":
		return classifyParametrize(args, source)
	default:
		return Classification{Kind: None}
	}
}

// splitCall returns (callee, argumentsNode) for a "call" node, or
// (decorator, nil) if decorator is a bare name/attribute (no-parens form,
// e.g. plain "@fixture").
func splitCall(decorator *pyast.Node) (*pyast.Node, *pyast.Node) {
	if decorator.Kind() != "call" {
		return decorator, nil
	}
	callee := decorator.ChildByFieldName("function")
	args := decorator.ChildByFieldName("arguments")
	return callee, args
}

// dottedName renders an identifier / attribute chain as "a.b.c".
func dottedName(n *pyast.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return pyast.NodeText(n, source)
	case "attribute":
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		return dottedName(obj, source) + "." + pyast.NodeText(attr, source)
	default:
		return pyast.NodeText(n, source)
	}
}

func classifyFixture(args *pyast.Node, source []byte) Classification {
	c := Classification{Kind: Fixture}
	if args == nil {
		return c
	}
	for _, child := range args.NamedChildren() {
		if child.Kind() != "keyword_argument" {
			continue
		}
		key := child.ChildByFieldName("name")
		val := child.ChildByFieldName("value")
		if key == nil || val == nil {
			continue
		}
		switch pyast.NodeText(key, source) {
		case "name":
			if s, ok := stringLiteralValue(val, source); ok {
				c.CustomName = s
			}
		case "autouse":
			c.Autouse = pyast.NodeText(val, source) == "True"
		case "scope":
			if s, ok := stringLiteralValue(val, source); ok {
				c.Scope = s
			}
		}
	}
	return c
}

func classifyParametrize(args *pyast.Node, source []byte) Classification {
	c := Classification{Kind: ParametrizeIndirect}
	if args == nil {
		return c
	}

	var argnames *pyast.Node
	var indirectVal *pyast.Node
	positional := 0
	for _, child := range args.NamedChildren() {
		if child.Kind() == "keyword_argument" {
			key := child.ChildByFieldName("name")
			val := child.ChildByFieldName("value")
			if key != nil && val != nil && pyast.NodeText(key, source) == "indirect" {
				indirectVal = val
			}
			continue
		}
		if positional == 0 {
			argnames = child
		}
		positional++
	}

	if indirectVal == nil {
		return c // no indirect= means no fixture usages from this call
	}

	text := pyast.NodeText(indirectVal, source)
	if text == "False" {
		return c
	}

	names := argnamesToNames(argnames, source)

	if text == "True" {
		c.Names = names
		return c
	}

	// indirect is a sequence literal: only names present in it are usages.
	allowed := stringLiteralArgs(indirectVal, source)
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a.Name] = true
	}
	for _, n := range names {
		if allowedSet[n.Name] {
			c.Names = append(c.Names, n)
		}
	}
	return c
}

// argnamesToNames parses parametrize's first positional argument: either a
// single comma-separated string literal, or a sequence (list/tuple) of
// string literals.
func argnamesToNames(n *pyast.Node, source []byte) []NameUse {
	if n == nil {
		return nil
	}
	if s, ok := stringLiteralValue(n, source); ok {
		var out []NameUse
		// Comma-split form: "a,b, c" -- no per-name byte spans available
		// beyond the whole-literal span, so each split name is reported at
		// the literal's trimmed span (best-effort; pytest itself only uses
		// this string for binding, not diagnostics).
		start, end := literalInnerSpan(n)
		for _, part := range strings.Split(s, ",") {
			name := strings.TrimSpace(part)
			if name != "" {
				out = append(out, NameUse{Name: name, StartByte: start, EndByte: end})
			}
		}
		return out
	}
	return stringLiteralArgs(n, source)
}

// stringLiteralArgs collects every string-literal positional argument inside
// a "keyword_argument"-less argument list, an explicit list/tuple literal,
// or an arguments node -- whichever shape was passed in. Non-literal
// arguments are silently ignored per spec §7 "decorator-shape mismatch".
func stringLiteralArgs(n *pyast.Node, source []byte) []NameUse {
	if n == nil {
		return nil
	}
	var out []NameUse
	children := n.NamedChildren()
	if len(children) == 0 && isStringNode(n) {
		children = []*pyast.Node{n}
	}
	for _, child := range children {
		if child.Kind() == "keyword_argument" {
			continue
		}
		if s, ok := stringLiteralValue(child, source); ok {
			start, end := literalInnerSpan(child)
			out = append(out, NameUse{Name: s, StartByte: start, EndByte: end})
		}
	}
	return out
}

func isStringNode(n *pyast.Node) bool {
	return n.Kind() == "string"
}

// stringLiteralValue returns a Python string literal's decoded content
// (quotes stripped, no escape processing beyond that -- sufficient for
// identifier-shaped fixture names).
func stringLiteralValue(n *pyast.Node, source []byte) (string, bool) {
	if n == nil || n.Kind() != "string" {
		return "", false
	}
	text := pyast.NodeText(n, source)
	unquoted, ok := unquote(text)
	return unquoted, ok
}

func unquote(s string) (string, bool) {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return s[len(q) : len(s)-len(q)], true
		}
	}
	if v, err := strconv.Unquote(s); err == nil {
		return v, true
	}
	return "", false
}

// literalInnerSpan returns the byte span of a string literal with its
// surrounding quote character trimmed from each end, matching spec §4.2's
// "usage ranges are trimmed by one character on each end to exclude the
// quote marks".
func literalInnerSpan(n *pyast.Node) (start, end int) {
	s, e := int(n.StartByte()), int(n.EndByte())
	if e-s >= 2 {
		return s + 1, e - 1
	}
	return s, e
}
