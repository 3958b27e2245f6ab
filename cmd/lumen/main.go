// Command lumen is the thin host binary: a REPL by default, or a
// one-shot file/expression runner, over pkg/lumen's evaluator.
package main

import (
	"os"

	"github.com/lumen-run/lumen/pkg/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
