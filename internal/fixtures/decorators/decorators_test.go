package decorators

import (
	"testing"

	"github.com/pyfix/pyfixls/internal/pyast"
)

// decoratorExprs parses source and returns the expression node (the call,
// attribute, or identifier) under every "decorator" wrapper it finds, in
// source order -- mirroring how internal/fixtures/analyzer locates them.
func decoratorExprs(t *testing.T, source string) (*pyast.Tree, []*pyast.Node) {
	t.Helper()
	p, err := pyast.NewParser()
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	t.Cleanup(p.Close)

	tree, err := p.Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	t.Cleanup(tree.Close)

	var out []*pyast.Node
	pyast.Walk(tree.RootNode(), func(n *pyast.Node) bool {
		if n.Kind() == "decorator" {
			children := n.NamedChildren()
			if len(children) > 0 {
				out = append(out, children[0])
			}
		}
		return true
	})
	return tree, out
}

func TestClassifyBareFixture(t *testing.T) {
	src := `
import pytest

@pytest.fixture
def db_session():
    yield None
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != Fixture {
		t.Fatalf("Kind = %v, want Fixture", c.Kind)
	}
	if c.CustomName != "" || c.Autouse {
		t.Errorf("unexpected Classification: %+v", c)
	}
}

func TestClassifyFixtureWithKwargs(t *testing.T) {
	src := `
import pytest

@pytest.fixture(name="session", autouse=True, scope="module")
def _db_session():
    yield None
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != Fixture {
		t.Fatalf("Kind = %v, want Fixture", c.Kind)
	}
	if c.CustomName != "session" {
		t.Errorf("CustomName = %q, want session", c.CustomName)
	}
	if !c.Autouse {
		t.Error("Autouse = false, want true")
	}
	if c.Scope != "module" {
		t.Errorf("Scope = %q, want module", c.Scope)
	}
}

func TestClassifyUsefixtures(t *testing.T) {
	src := `
import pytest

@pytest.mark.usefixtures("db_session", "tmp_path")
def test_something():
    pass
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != Usefixtures {
		t.Fatalf("Kind = %v, want Usefixtures", c.Kind)
	}
	if len(c.Names) != 2 || c.Names[0].Name != "db_session" || c.Names[1].Name != "tmp_path" {
		t.Errorf("Names = %+v", c.Names)
	}
}

func TestClassifyParametrizeIndirectTrue(t *testing.T) {
	src := `
import pytest

@pytest.mark.parametrize("db_session", ["a", "b"], indirect=True)
def test_something(db_session):
    pass
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != ParametrizeIndirect {
		t.Fatalf("Kind = %v, want ParametrizeIndirect", c.Kind)
	}
	if len(c.Names) != 1 || c.Names[0].Name != "db_session" {
		t.Errorf("Names = %+v", c.Names)
	}
}

func TestClassifyParametrizeNoIndirect(t *testing.T) {
	src := `
import pytest

@pytest.mark.parametrize("x", [1, 2])
def test_something(x):
    pass
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != ParametrizeIndirect {
		t.Fatalf("Kind = %v, want ParametrizeIndirect", c.Kind)
	}
	if len(c.Names) != 0 {
		t.Errorf("Names = %+v, want none (no indirect=)", c.Names)
	}
}

func TestClassifyUnrelatedDecorator(t *testing.T) {
	src := `
@staticmethod
def helper():
    pass
`
	tree, decs := decoratorExprs(t, src)
	if len(decs) != 1 {
		t.Fatalf("found %d decorators, want 1", len(decs))
	}
	c := Classify(decs[0], tree.Source)
	if c.Kind != None {
		t.Errorf("Kind = %v, want None", c.Kind)
	}
}

func TestClassifyNilDecorator(t *testing.T) {
	c := Classify(nil, nil)
	if c.Kind != None {
		t.Errorf("Classify(nil) Kind = %v, want None", c.Kind)
	}
}
