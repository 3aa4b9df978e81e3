// Package cmdtest provides a testscript-based test harness for the fixtures
// CLI tools.
//
// It uses txtar format test files to specify input files and expected outputs,
// making it easy to write comprehensive CLI tests.
//
// Example test file (testdata/fixtureslist/basic.txtar):
//
//	# Test that fixtures-list finds a simple fixture
//	exec fixtures-list .
//	stdout 'db_session'
//
//	-- conftest.py --
//	import pytest
//
//	@pytest.fixture
//	def db_session():
//	    yield None
package cmdtest

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/pyfix/pyfixls/internal/cmd/fixtureslist"
	"github.com/pyfix/pyfixls/internal/cmd/fixtureslsp"
	"github.com/pyfix/pyfixls/internal/cmd/fixturesundeclared"
)

// Run executes the testscript tests in the given directory.
func Run(t *testing.T, dir string) {
	testscript.Run(t, testscript.Params{
		Dir: dir,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			// Custom commands can be added here if needed
		},
		Setup: func(env *testscript.Env) error {
			// Set up environment variables if needed
			return nil
		},
	})
}

// Main is the TestMain function that should be called from test files.
// It sets up the CLI tools as testscript commands.
func Main(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"fixtures-list":       wrapRun(fixtureslist.Run),
		"fixtures-undeclared": wrapRun(fixturesundeclared.Run),
		"fixtures-ls":         wrapRun(fixtureslsp.Run),
	}))
}

// wrapRun wraps a Run(args []string) int function to func() int for testscript.
// The args are taken from os.Args[1:].
func wrapRun(run func(args []string) int) func() int {
	return func() int {
		return run(os.Args[1:])
	}
}
