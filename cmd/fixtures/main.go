// Command fixtures is the pytest fixture analysis CLI: list, undeclared, and
// lsp subcommands over a shared Fixture Database.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pyfix/pyfixls/internal/cmd/fixtureslist"
	"github.com/pyfix/pyfixls/internal/cmd/fixtureslsp"
	"github.com/pyfix/pyfixls/internal/cmd/fixturesundeclared"
	"github.com/pyfix/pyfixls/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(stderr)
		return 0
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "fixtures %s\n", version.String())
		return 0
	case "list":
		return fixtureslist.Run(args[1:])
	case "undeclared":
		return fixturesundeclared.Run(args[1:])
	case "lsp":
		return fixtureslsp.Run(args[1:])
	default:
		fmt.Fprintf(stderr, "fixtures: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: fixtures <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  list        list pytest fixture definitions and their reference counts")
	fmt.Fprintln(w, "  undeclared  list fixture usages missing a parameter declaration")
	fmt.Fprintln(w, "  lsp         run the Language Server Protocol server over stdio")
	fmt.Fprintln(w, "  version     print version and exit")
}
