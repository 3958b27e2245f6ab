package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunExprPrintsReadableForm(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"-e", "(+ 1 2)"}, strings.NewReader(""), &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	if strings.TrimSpace(out.String()) != "3" {
		t.Errorf("stdout = %q, want \"3\"", out.String())
	}
}

func TestRunExprReportsEvalErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"-e", "(/ 1 0)"}, strings.NewReader(""), &out, &errOut)
	if code == 0 {
		t.Fatalf("expected non-zero exit code for a failing eval")
	}
	if errOut.Len() == 0 {
		t.Errorf("expected an error message on stderr")
	}
}

func TestRunFileEvaluatesSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.lmn")
	if err := os.WriteFile(path, []byte("(def x 10) (println (* x 2))"), 0o644); err != nil {
		t.Fatal(err)
	}

	// biPrintln writes to the process's real os.Stdout (internal/corelib's
	// print family isn't parameterized by an io.Writer), so this is the
	// one place that captures it via a redirected os.Stdout pipe rather
	// than the injected stdout buffer, which only sees what cli itself
	// writes (errors, REPL/`-e` results).
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	var errOut bytes.Buffer
	code := Run([]string{path}, strings.NewReader(""), &bytes.Buffer{}, &errOut)
	os.Stdout = origStdout
	w.Close()
	var captured bytes.Buffer
	captured.ReadFrom(r)

	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	if strings.TrimSpace(captured.String()) != "20" {
		t.Errorf("stdout = %q, want \"20\"", captured.String())
	}
}

func TestRunREPLEvaluatesEachLineInOneSession(t *testing.T) {
	in := strings.NewReader("(def x 5)\n(+ x 1)\n")
	var out, errOut bytes.Buffer
	code := Run(nil, in, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[1] != "6" {
		t.Errorf("repl output = %q, want last line \"6\"", out.String())
	}
}

func TestRunREPLIsNotInteractiveOverAPipe(t *testing.T) {
	in := strings.NewReader("(+ 1 1)\n")
	var out, errOut bytes.Buffer
	Run(nil, in, &out, &errOut)
	if strings.Contains(out.String(), "=>") {
		t.Errorf("expected no prompt when stdout is not a terminal, got %q", out.String())
	}
}
