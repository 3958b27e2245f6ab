// Package cli implements the lumen command's REPL and file-execution
// modes. It is a thin wrapper over pkg/lumen's Env — spec.md scopes
// host I/O and the REPL itself out of the core, but a real CLI entry
// point is still the ambient texture the teacher's own cmd/funxy
// provides, so it is kept here rather than left unbuilt.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/lumen-run/lumen/pkg/lumen"
)

// Run is cmd/lumen's entire body: parse argv, dispatch to expression
// evaluation (`-e`), file execution, or an interactive REPL, and return
// a process exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) >= 2 && args[0] == "-e" {
		return runExpr(args[1], stdout, stderr)
	}
	if len(args) >= 1 {
		return runFile(args[0], stdout, stderr)
	}
	return runREPL(stdin, stdout, stderr)
}

func runExpr(src string, stdout, stderr io.Writer) int {
	e, err := lumen.New()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	v, err := e.EvalString(src)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, lumen.PrStr(v))
	return 0
}

func runFile(path string, stdout, stderr io.Writer) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	e, err := lumen.New()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if _, err := e.EvalString(string(src)); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// runREPL drives an interactive read-eval-print loop over one Env, so
// each line's top-level `def`s are visible to the next line (spec.md
// §5's source-order def visibility applies the same way across a REPL
// session as within one source string). The prompt is only colored,
// and only shown at all, when stdout is a real terminal — go-isatty is
// how funxy's own term builtins make the same call
// (internal/evaluator/builtins_term.go's detectColorLevel), rather than
// always printing ANSI codes into a pipe.
func runREPL(stdin io.Reader, stdout, stderr io.Writer) int {
	e, err := lumen.New()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	interactive := false
	if f, ok := stdout.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	sc := bufio.NewScanner(stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		if interactive {
			fmt.Fprintf(stdout, "\033[36m%s=>\033[39m ", e.CurrentNamespace())
		}
		if !sc.Scan() {
			if interactive {
				fmt.Fprintln(stdout)
			}
			return 0
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := e.EvalString(line)
		if err != nil {
			fmt.Fprintln(stderr, err)
			continue
		}
		fmt.Fprintln(stdout, lumen.PrStr(v))
	}
}
