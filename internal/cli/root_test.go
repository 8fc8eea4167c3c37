package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/repomedic/internal/bugs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "repomedic 1.2.3") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestClassifyCommand(t *testing.T) {
	log := `Traceback (most recent call last):
  File "workspace/repo/app.py", line 10
    def broken(
SyntaxError: invalid syntax
`
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte(log), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "classify", path)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	var found []bugs.Record
	if err := json.Unmarshal([]byte(out), &found); err != nil {
		t.Fatalf("output not JSON: %v\n%s", err, out)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 bug, got %d", len(found))
	}
	if found[0].File != "app.py" || found[0].Type != bugs.Syntax || found[0].Line != 10 {
		t.Errorf("unexpected record: %+v", found[0])
	}
}

func TestClassifyCommand_MissingFile(t *testing.T) {
	if _, err := execute(t, "classify", "/nonexistent.log"); err == nil {
		t.Fatal("expected error for missing log file")
	}
}
