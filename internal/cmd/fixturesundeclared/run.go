// Package fixturesundeclared implements "fixtures undeclared": a workspace
// scan that prints every fixture usage resolving to an in-scope fixture that
// was never declared as a test/fixture parameter.
package fixturesundeclared

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"

	"github.com/pyfix/pyfixls/internal/cli"
	"github.com/pyfix/pyfixls/internal/fixconfig"
	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/fixtures/report"
)

// Run parses args and executes "fixtures undeclared", writing to
// os.Stdout/Stderr.
func Run(args []string) int {
	return RunWithIO(context.Background(), args, os.Stdout, os.Stderr)
}

// RunWithIO is Run with explicit output streams, for testing.
func RunWithIO(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fixtures undeclared", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		cli.Writeln(stderr, "usage: fixtures undeclared [flags] <path>")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Scans path and lists fixture usages that resolve to an in-scope")
		cli.Writeln(stderr, "fixture but were never declared as a parameter of the using function.")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cli.ExitOK
		}
		return cli.ExitError
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cli.ExitError
	}

	root := fs.Arg(0)
	cfg, err := fixconfig.Load(root)
	if err != nil {
		cli.Writeln(stderr, "fixtures undeclared:", err)
		return cli.ExitError
	}

	db := fixtures.New()
	result, err := db.ScanWorkspace(root, cfg.Excludes)
	if err != nil {
		cli.Writeln(stderr, "fixtures undeclared:", err)
		return cli.ExitError
	}

	var undeclared []fixtures.UndeclaredFixture
	for _, path := range result.Files {
		undeclared = append(undeclared, db.GetUndeclaredFixtures(path)...)
	}

	if err := report.WriteUndeclared(stdout, undeclared); err != nil {
		cli.Writeln(stderr, "fixtures undeclared:", err)
		return cli.ExitError
	}
	if len(undeclared) > 0 {
		return cli.ExitWarning
	}
	return cli.ExitOK
}
