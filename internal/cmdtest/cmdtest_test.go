package cmdtest

import (
	"testing"
)

func TestMain(m *testing.M) {
	Main(m)
}

func TestFixturesList(t *testing.T) {
	Run(t, "testdata/fixtureslist")
}

func TestFixturesUndeclared(t *testing.T) {
	Run(t, "testdata/fixturesundeclared")
}
