package resolver

import (
	"testing"

	"github.com/pyfix/pyfixls/internal/fixtures"
)

func lookupFrom(defs []fixtures.FixtureDefinition) Lookup {
	return func(name string) []fixtures.FixtureDefinition {
		var out []fixtures.FixtureDefinition
		for _, d := range defs {
			if d.Name == name {
				out = append(out, d)
			}
		}
		return out
	}
}

func TestResolvePrefersSameFile(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "db", FilePath: "/repo/conftest.py", Line: 3},
		{Name: "db", FilePath: "/repo/test_a.py", Line: 10},
	}
	got := Resolve(lookupFrom(defs), "/repo/test_a.py", "db", nil)
	if got == nil || got.FilePath != "/repo/test_a.py" {
		t.Fatalf("Resolve = %+v, want same-file definition", got)
	}
}

func TestResolveSameFileLastDefinitionWins(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "db", FilePath: "/repo/test_a.py", Line: 5},
		{Name: "db", FilePath: "/repo/test_a.py", Line: 20},
	}
	got := Resolve(lookupFrom(defs), "/repo/test_a.py", "db", nil)
	if got == nil || got.Line != 20 {
		t.Fatalf("Resolve = %+v, want line 20", got)
	}
}

func TestResolveFallsBackToConftestChain(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "db", FilePath: "/repo/conftest.py", Line: 3},
		{Name: "db", FilePath: "/repo/sub/conftest.py", Line: 7},
	}
	got := Resolve(lookupFrom(defs), "/repo/sub/test_a.py", "db", nil)
	if got == nil || got.FilePath != "/repo/sub/conftest.py" {
		t.Fatalf("Resolve = %+v, want nearest conftest", got)
	}
}

func TestResolveFallsBackToAncestorConftest(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "db", FilePath: "/repo/conftest.py", Line: 3},
	}
	got := Resolve(lookupFrom(defs), "/repo/sub/deep/test_a.py", "db", nil)
	if got == nil || got.FilePath != "/repo/conftest.py" {
		t.Fatalf("Resolve = %+v, want ancestor conftest", got)
	}
}

func TestResolveFallsBackToThirdParty(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "tmp_path", FilePath: "/venv/site-packages/_pytest/tmpdir.py", Line: 100, IsThirdParty: true},
	}
	got := Resolve(lookupFrom(defs), "/repo/test_a.py", "tmp_path", nil)
	if got == nil || !got.IsThirdParty {
		t.Fatalf("Resolve = %+v, want third-party fallback", got)
	}
}

func TestResolveUnknownNameReturnsNil(t *testing.T) {
	got := Resolve(lookupFrom(nil), "/repo/test_a.py", "missing", nil)
	if got != nil {
		t.Fatalf("Resolve = %+v, want nil", got)
	}
}

func TestSelfReferenceFilterExcludesOwnDefinition(t *testing.T) {
	defs := []fixtures.FixtureDefinition{
		{Name: "db", FilePath: "/repo/conftest.py", Line: 3},
		{Name: "db", FilePath: "/repo/sub/conftest.py", Line: 7},
	}
	filter := SelfReferenceFilter("/repo/sub/conftest.py", 7)
	got := Resolve(lookupFrom(defs), "/repo/sub/conftest.py", "db", filter)
	if got == nil || got.FilePath != "/repo/conftest.py" {
		t.Fatalf("Resolve with self-reference filter = %+v, want parent scope", got)
	}
}

func TestIsConftest(t *testing.T) {
	cases := map[string]bool{
		"/repo/conftest.py":     true,
		"conftest.py":           true,
		"/repo/test_foo.py":     false,
		"/repo/sub/conftest.py": true,
	}
	for path, want := range cases {
		if got := IsConftest(path); got != want {
			t.Errorf("IsConftest(%q) = %v, want %v", path, got, want)
		}
	}
}
