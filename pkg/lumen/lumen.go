// Package lumen is the external evaluator surface spec.md §6.1 promises
// host programs: EvalString (tree-walk), EvalStringVM (bytecode), and
// EvalCompare (both, checked against each other). Everything else in
// this module — the reader, analyzer, compiler, VM, tree-walk evaluator
// — is an internal implementation detail a host never touches directly,
// mirroring the teacher's own pkg/embed split between a small public
// surface and a large internal engine.
package lumen

import (
	"github.com/lumen-run/lumen/internal/analyzer"
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/backend"
	"github.com/lumen-run/lumen/internal/reader"
	"github.com/lumen-run/lumen/internal/treewalk"
	"github.com/lumen-run/lumen/internal/value"
	"github.com/lumen-run/lumen/internal/vm"
)

// Env is one evaluation session: a bootstrapped Environment (native
// builtins installed, core.lmn loaded, current namespace set to user)
// plus the cross-backend Dispatcher. Top-level forms evaluated through
// one Env see each other's `def`s in source order (spec.md §5), exactly
// like a single REPL session.
type Env struct {
	sess *backend.Session
}

// New bootstraps a fresh session: a new Environment, native builtins,
// and the bundled standard library, ready to evaluate user source.
func New() (*Env, error) {
	sess, err := backend.NewSession()
	if err != nil {
		return nil, err
	}
	return &Env{sess: sess}, nil
}

// parse runs source through the reader and analyzer against the
// session's current namespace, producing the typed AST both backends
// share. Shared by EvalString, EvalStringVM, and EvalCompare so a
// syntax or analysis error is reported identically regardless of which
// backend a caller asked for.
func (e *Env) parse(source, file string) (*ast.Program, error) {
	ns := e.sess.Env.CurrentNamespace()
	r := reader.New(source, file, e.sess.Env.Interner)
	forms, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	a := analyzer.New(e.sess.Env, ns, e.sess.Dispatcher)
	vs := make([]value.Value, len(forms))
	for i, f := range forms {
		vs[i] = f.Value
	}
	pos := ast.Pos{}
	if len(forms) > 0 {
		pos = forms[0].Pos
	}
	return a.AnalyzeProgram(vs, pos)
}

// EvalString reads, analyzes, and evaluates source through the
// tree-walk backend, returning the value of its last top-level form.
func (e *Env) EvalString(source string) (value.Value, error) {
	prog, err := e.parse(source, "<eval>")
	if err != nil {
		return nil, err
	}
	ns := e.sess.Env.CurrentNamespace()
	tw := treewalk.New(e.sess.Env, ns)
	return tw.Run(prog)
}

// EvalStringVM reads, analyzes, compiles, and evaluates source through
// the bytecode VM backend, returning the value of its last top-level
// form.
func (e *Env) EvalStringVM(source string) (value.Value, error) {
	prog, err := e.parse(source, "<eval>")
	if err != nil {
		return nil, err
	}
	ns := e.sess.Env.CurrentNamespace()
	c := vm.NewCompiler(e.sess.Env, ns)
	proto, err := c.CompileProgram(prog)
	if err != nil {
		return nil, err
	}
	return e.sess.Dispatcher.VM.Run(proto)
}

// CompareResult is spec.md §6.1's eval_compare result: both backends'
// outcomes for the same source, plus whether they agree.
type CompareResult struct {
	TreeWalk value.Value
	TWErr    error
	VMVal    value.Value
	VMErr    error
	Match    bool
}

// EvalCompare evaluates source through both backends against the same
// analyzed AST and the same session state, reporting whether they
// agree under value.Equals (spec.md §8's parity property). Analysis
// itself only runs once: a syntax/analysis error is reported as the
// same error on both sides rather than attempted separately per
// backend.
func (e *Env) EvalCompare(source string) (CompareResult, error) {
	prog, err := e.parse(source, "<eval>")
	if err != nil {
		return CompareResult{}, err
	}
	ns := e.sess.Env.CurrentNamespace()

	tw := treewalk.New(e.sess.Env, ns)
	twVal, twErr := tw.Run(prog)

	c := vm.NewCompiler(e.sess.Env, ns)
	proto, cerr := c.CompileProgram(prog)
	var vmVal value.Value
	vmErr := cerr
	if cerr == nil {
		vmVal, vmErr = e.sess.Dispatcher.VM.Run(proto)
	}

	match := (twErr == nil) == (vmErr == nil)
	if match && twErr == nil {
		match = value.Equals(twVal, vmVal)
	}

	return CompareResult{
		TreeWalk: twVal,
		TWErr:    twErr,
		VMVal:    vmVal,
		VMErr:    vmErr,
		Match:    match,
	}, nil
}

// CurrentNamespace exposes the session's current namespace name, e.g.
// for a host REPL prompt.
func (e *Env) CurrentNamespace() string {
	return e.sess.Env.CurrentNamespace().Name
}

// PrStr renders v in readable (`pr`) form per spec.md §6.3.
func PrStr(v value.Value) string {
	return value.PrStr(v, value.Unbounded)
}

// PrintStr renders v in non-readable (`print`) form per spec.md §6.3.
func PrintStr(v value.Value) string {
	return value.PrintStr(v, value.Unbounded)
}
