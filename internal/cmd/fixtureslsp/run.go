// Package fixtureslsp implements "fixtures lsp": a JSON-RPC 2.0 Language
// Server Protocol server over stdio for pytest fixture navigation.
package fixtureslsp

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/pyfix/pyfixls/internal/cli"
	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/logx"
	"github.com/pyfix/pyfixls/internal/lsp"
	"github.com/pyfix/pyfixls/internal/version"
)

// Run executes the LSP server with the given arguments.
func Run(args []string) int {
	return RunWithIO(context.Background(), args, os.Stdin, os.Stdout, os.Stderr)
}

// RunWithIO allows custom IO for testing.
func RunWithIO(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		versionFlag bool
		verboseFlag bool
	)

	fs := flag.NewFlagSet("fixtures lsp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")
	fs.BoolVar(&verboseFlag, "v", false, "verbose logging to stderr")

	fs.Usage = func() {
		cli.Writeln(stderr, "usage: fixtures lsp [flags]")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "pytest fixture Language Server Protocol (LSP) implementation.")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "The server communicates over stdio using JSON-RPC 2.0.")
		cli.Writeln(stderr, "Configure your editor to launch this binary (or fixtures-ls) as")
		cli.Writeln(stderr, "an LSP server for Python workspaces using pytest.")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Features:")
		cli.Writeln(stderr, "  - Hover documentation for a fixture")
		cli.Writeln(stderr, "  - Go to fixture definition")
		cli.Writeln(stderr, "  - Find fixture references")
		cli.Writeln(stderr, "  - Document symbols for fixtures defined in a file")
		cli.Writeln(stderr, "  - Completion inside usefixtures()/parametrize(indirect=...)")
		cli.Writeln(stderr, "  - Diagnostics for undeclared fixture usage")
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return cli.ExitOK
		}
		return cli.ExitError
	}

	if versionFlag {
		cli.Writeln(stdout, "fixtures-ls", version.String())
		return cli.ExitOK
	}

	if verboseFlag {
		log.SetOutput(stderr)
		log.SetFlags(log.Ltime | log.Lshortfile)
	} else {
		log.SetOutput(io.Discard)
	}
	if verboseFlag {
		logx.SetLevel("debug")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db := fixtures.New()
	server := lsp.NewServer(db, cancel)

	rwc := &stdioConn{Reader: stdin, Writer: stdout}
	conn := lsp.NewConn(rwc, server)
	server.SetConn(conn)

	log.Printf("fixtures-ls: starting server")

	if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
		cli.Writeln(stderr, "fixtures-ls:", err)
		return cli.ExitError
	}

	log.Printf("fixtures-ls: server stopped")
	return cli.ExitOK
}

// stdioConn wraps stdin/stdout as an io.ReadWriteCloser.
type stdioConn struct {
	io.Reader
	io.Writer
}

func (s *stdioConn) Close() error {
	return nil
}
