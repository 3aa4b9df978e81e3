// Package fixtures is the central pytest fixture index: the concurrent
// database of definitions and usages, the scope-aware resolver, and the
// query surface an editor-protocol layer calls into.
package fixtures

// FixtureDefinition is a pytest fixture's declaration site: a function
// decorated with @pytest.fixture (or its equivalent call-assignment form).
type FixtureDefinition struct {
	// Name is the effective fixture name: the decorator's name= kwarg if
	// supplied, else the function's own name.
	Name string
	// FilePath is the absolute canonical path of the defining file.
	FilePath string
	// Line is the 1-based line of the defining function's first token.
	Line int
	// StartChar, EndChar are the 0-based byte span of the function name on
	// that line.
	StartChar int
	EndChar   int
	// Docstring is the cleaned, dedented first string-constant statement of
	// the function body, if any.
	Docstring string
	// ReturnType is the rendered return-type expression. If the body
	// contains a yield, this is the first type argument of a
	// Generator[T, ...]/Iterator[T]-shaped annotation rather than the full
	// annotation text.
	ReturnType string
	// Autouse is true when the decorator's autouse= kwarg is a true literal.
	Autouse bool
	// Scope defaults to "function".
	Scope string
	// IsThirdParty is true when FilePath lies under a site-packages
	// directory.
	IsThirdParty bool
}

// FixtureUsage is a single reference to a fixture by name: a test or fixture
// parameter, a usefixtures() argument, or a parametrize(..., indirect=True)
// name.
type FixtureUsage struct {
	Name      string
	FilePath  string
	Line      int
	StartChar int
	EndChar   int
}

// UndeclaredFixture is a FixtureUsage-shaped identifier reference inside a
// test/fixture body that resolves to an in-scope fixture but was never
// declared as a parameter (see analyzer's findUndeclared / §4.4).
type UndeclaredFixture struct {
	Name      string
	FilePath  string
	Line      int
	StartChar int
	EndChar   int

	FunctionName string
	FunctionLine int
}

// EditableInstall describes a package installed in editable/development mode:
// its metadata lives in site-packages but its importable code lives in a
// developer-controlled source tree, located via a .pth file or
// direct_url.json.
type EditableInstall struct {
	PackageName    string // normalized: lowercased, '-'/'.' -> '_'
	RawPackageName string // as it appeared in the dist-info directory name
	SourceRoot     string
	SitePackages   string
}

// CompletionKind tags the shape of completion context returned by
// GetCompletionContext.
type CompletionKind int

const (
	CompletionNone CompletionKind = iota
	CompletionUsefixturesDecorator
	CompletionParametrizeIndirect
	CompletionFunctionSignature
	CompletionFunctionBody
)

// CompletionContext is the tagged variant returned by GetCompletionContext.
type CompletionContext struct {
	Kind CompletionKind

	// Valid when Kind == CompletionFunctionSignature. GetCompletionContext
	// leaves DeclaredParams empty.
	FunctionName    string
	FunctionLine    int
	IsFixture       bool
	DeclaredParams  []string
}

// ParamInsertionInfo is the location/formatting hint used by quick-fix
// actions that insert a missing fixture parameter into a test signature.
type ParamInsertionInfo struct {
	Line       int
	Char       int
	NeedsComma bool
}
