// Package fixtureslist implements "fixtures list": a workspace scan that
// prints every known pytest fixture definition plus its reference count.
package fixtureslist

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

// Run parses args and executes "fixtures list", writing to os.Stdout/Stderr.
func Run(args []string) int {
	return RunWithIO(context.Background(), args, os.Stdout, os.Stderr)
}

// RunWithIO is Run with explicit output streams, for testing.
func RunWithIO(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fixtures list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	formatFlag := fs.String("format", "name", "output format: name, location, json, or count")
	skipUnused := fs.Bool("skip-unused", false, "omit fixtures with zero references")
	onlyUnused := fs.Bool("only-unused", false, "list only fixtures with zero references")
	fs.Usage = func() {
		cli.Writeln(stderr, "usage: fixtures list [flags] <path>")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Scans path (a file or a workspace directory) and lists every pytest")
		cli.Writeln(stderr, "fixture definition found, along with how many times it is referenced.")
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
	if *skipUnused && *onlyUnused {
		cli.Writeln(stderr, "fixtures list: --skip-unused and --only-unused are mutually exclusive")
		return cli.ExitError
	}

	format, err := report.ParseFormat(*formatFlag)
	if err != nil {
		cli.Writeln(stderr, "fixtures list:", err)
		return cli.ExitError
	}

	root := fs.Arg(0)
	cfg, err := fixconfig.Load(root)
	if err != nil {
		cli.Writeln(stderr, "fixtures list:", err)
		return cli.ExitError
	}

	db := fixtures.New()
	if _, err := db.ScanWorkspace(root, cfg.Excludes); err != nil {
		cli.Writeln(stderr, "fixtures list:", err)
		return cli.ExitError
	}

	defs := db.AllFixtureDefinitions()
	entries := make([]report.Entry, 0, len(defs))
	for _, d := range defs {
		count := len(db.FindFixtureReferences(d.Name))
		unused := count == 0
		if *skipUnused && unused {
			continue
		}
		if *onlyUnused && !unused {
			continue
		}
		entries = append(entries, report.Entry{Def: d, UsageCount: count, Unused: unused})
	}

	if err := report.WriteEntries(stdout, entries, format); err != nil {
		cli.Writeln(stderr, "fixtures list:", err)
		return cli.ExitError
	}
	return cli.ExitOK
}
