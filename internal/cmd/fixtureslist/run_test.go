package fixtureslist

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pyfix/pyfixls/internal/cli"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunListsFixtures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conftest.py", `
import pytest

@pytest.fixture
def db_session():
    yield None
`)
	writeFile(t, dir, "test_foo.py", `
def test_uses(db_session):
    pass
`)

	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), []string{dir}, &stdout, &stderr)
	if code != cli.ExitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "db_session") {
		t.Errorf("stdout = %q, want it to contain db_session", stdout.String())
	}
}

func TestRunRejectsConflictingFlags(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), []string{"--skip-unused", "--only-unused", dir}, &stdout, &stderr)
	if code != cli.ExitError {
		t.Fatalf("exit code = %d, want ExitError", code)
	}
}

func TestRunRequiresPathArg(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := RunWithIO(context.Background(), nil, &stdout, &stderr)
	if code != cli.ExitError {
		t.Fatalf("exit code = %d, want ExitError", code)
	}
}
