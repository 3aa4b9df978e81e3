package fixtureslsp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pyfix/pyfixls/internal/cli"
)

func TestRunWithIOVersionFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), []string{"--version"}, strings.NewReader(""), &stdout, &stderr)
	if code != cli.ExitOK {
		t.Fatalf("exit code = %d, want ExitOK", code)
	}
	if !strings.Contains(stdout.String(), "fixtures-ls") {
		t.Errorf("stdout = %q, want to mention fixtures-ls", stdout.String())
	}
}

func TestRunWithIOHelpFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), []string{"--help"}, strings.NewReader(""), &stdout, &stderr)
	if code != cli.ExitOK {
		t.Fatalf("exit code = %d, want ExitOK", code)
	}
	if !strings.Contains(stderr.String(), "Language Server Protocol") {
		t.Errorf("stderr usage text = %q", stderr.String())
	}
}

func TestRunWithIOEmptyStdinExitsCleanly(t *testing.T) {
	var stdout, stderr bytes.Buffer
	// No frames on stdin means the JSON-RPC loop sees EOF immediately and the
	// server shuts down without error.
	code := RunWithIO(context.Background(), nil, strings.NewReader(""), &stdout, &stderr)
	if code != cli.ExitOK {
		t.Fatalf("exit code = %d, want ExitOK; stderr = %q", code, stderr.String())
	}
}

func TestRunWithIORejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), []string{"--nope"}, strings.NewReader(""), &stdout, &stderr)
	if code != cli.ExitError {
		t.Fatalf("exit code = %d, want ExitError", code)
	}
}
