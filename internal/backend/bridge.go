// Package backend wires the two evaluation engines (internal/vm's
// compiler+bytecode interpreter and internal/treewalk's direct AST
// evaluator) and the analyzer into one running session: it is the
// concrete Dispatcher both engines expect at runtime.Environment.
// Dispatcher, the concrete analyzer.MacroExpander that evaluates a
// macro's body through the tree-walk engine, and the bootstrap
// sequence that installs native builtins and loads the bundled
// standard library before any user code runs.
package backend

import (
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/treewalk"
	"github.com/lumen-run/lumen/internal/value"
	"github.com/lumen-run/lumen/internal/vm"
)

// Dispatcher is the cross-backend bridge: it satisfies both
// ApplyTreeWalk (what vm.VM needs to call a tree-walk closure) and
// ApplyBytecode (what treewalk.Evaluator needs to call a compiled
// closure), and is installed as both runtime.Environment.Applier (the
// generic call-back-into-user-code entry point builtins and lazy-seq
// realization use) and runtime.Environment.Dispatcher (the typed
// cross-backend hook the two engines type-assert back to).
type Dispatcher struct {
	VM *vm.VM
	TW *treewalk.Evaluator
}

// Apply is the generic value.Applier entry point. A bytecode-kind Fn
// runs on the VM, a tree-walk-kind Fn runs on the tree-walk evaluator,
// and anything else (a BuiltinFn, a VarRef) is handed to whichever
// engine is cheaper to dispatch through — the tree-walk evaluator,
// since it needs no compiled proto to invoke a builtin or deref a Var.
func (d *Dispatcher) Apply(fn value.Value, args []value.Value) (value.Value, error) {
	if f, ok := fn.(*value.Fn); ok && f.BackendKind == value.FnBytecode {
		return d.VM.Apply(f, args)
	}
	return d.TW.Apply(fn, args)
}

// ApplyTreeWalk lets vm.VM cross into a tree-walk closure.
func (d *Dispatcher) ApplyTreeWalk(fn *value.Fn, args []value.Value) (value.Value, error) {
	return d.TW.ApplyTreeWalk(fn, args)
}

// ApplyBytecode lets treewalk.Evaluator cross into a compiled closure.
func (d *Dispatcher) ApplyBytecode(fn *value.Fn, args []value.Value) (value.Value, error) {
	return d.VM.Apply(fn, args)
}

// ExpandMacro implements analyzer.MacroExpander: a macro's Fn is always
// tree-walk code (core.lmn and user macros are analyzed and defined
// long before any compilation happens, so their bodies never reach
// the VM), making the tree-walk evaluator the natural home for macro
// expansion regardless of which engine will eventually run the
// expanded code.
func (d *Dispatcher) ExpandMacro(fn value.Value, args []value.Value) (value.Value, error) {
	return d.TW.Apply(fn, args)
}

// New builds the Dispatcher for env and wires it into both engines and
// the environment. vm.New and treewalk.New are constructed fresh here
// (vm.New's constructor unconditionally claims env.Applier for itself,
// so the Dispatcher must reclaim it afterward to see both backends).
func New(env *runtime.Environment) *Dispatcher {
	v := vm.New(env)
	tw := treewalk.New(env, env.FindOrCreateNamespace(runtime.CoreNamespace))
	d := &Dispatcher{VM: v, TW: tw}
	env.Applier = d
	env.Dispatcher = d
	return d
}
