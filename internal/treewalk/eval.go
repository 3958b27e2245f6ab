// Package treewalk is the reference evaluator: a direct recursive walk
// over the analyzed ast.Node tree, using ordinary Go closures and an
// environment-frame chain instead of internal/vm's compiled bytecode.
// It exists for the same reason funxy keeps both a compiled and an
// interpreted path: `eval` and the REPL's line-at-a-time execution don't
// pay compilation cost, and it doubles as the parity oracle the VM is
// checked against (pkg/lumen.EvalCompare).
package treewalk

import (
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/config"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// maxCallDepth bounds recursive Go calls through Eval/apply; tail calls
// made via `recur` never grow this (they loop in place), so this only
// limits genuine non-tail recursion, matching internal/vm's own bound.
const maxCallDepth = config.MaxCallDepth

// recurSignal is returned as an error by Eval when a `recur` form is
// evaluated; the nearest enclosing loop/fn body catches it by type
// assertion and rebinds its slots instead of letting it propagate as a
// real error, giving `recur` the proper, stack-safe tail-loop semantics
// spec.md requires instead of an ordinary (stack-growing) recursive call.
type recurSignal struct {
	args []value.Value
}

func (r *recurSignal) Error() string { return "recur outside loop/fn (analyzer should have rejected this)" }

// thrown is the in-flight-exception carrier `throw` and any runtime
// error raised during evaluation get normalized into, so a `try` form
// many Go call frames up the tree can still catch it uniformly.
type thrown struct {
	v value.Value
}

func (t *thrown) Error() string { return "uncaught exception: " + value.Inspect(t.v) }
func (t *thrown) Value() value.Value { return t.v }

func throwable(env *runtime.Environment, err error) error {
	if err == nil {
		return nil
	}
	if t, ok := err.(*thrown); ok {
		return t
	}
	if le, ok := err.(*runtime.LumenError); ok {
		return &thrown{v: le.ToValue(env.Interner)}
	}
	return &thrown{v: value.NewString(err.Error())}
}

// Evaluator is the tree-walk backend. It implements value.Applier so
// builtins and lazy-seq realization can call back into tree-walk
// closures, and satisfies the ApplyTreeWalk half of the VM<->tree-walk
// bridge internal/backend wires up.
type Evaluator struct {
	env *runtime.Environment
	ns  *runtime.Namespace
}

func New(env *runtime.Environment, ns *runtime.Namespace) *Evaluator {
	return &Evaluator{env: env, ns: ns}
}

// Run evaluates every top-level form of prog in order against a single
// top-level frame, returning the last form's value (spec.md §4.9's
// module-body evaluation, mirroring vm.Compiler.CompileProgram's
// zero-arg top-level fn framing without needing to compile one).
func (tw *Evaluator) Run(prog *ast.Program) (value.Value, error) {
	f := newFrame(nil)
	var result value.Value = value.Nil
	for _, form := range prog.Forms {
		v, err := tw.eval(form, f, tw.ns.Name, 0)
		if err != nil {
			if t, ok := err.(*thrown); ok {
				return nil, t
			}
			return nil, err
		}
		result = v
	}
	return result, nil
}

// Apply implements value.Applier over any callable value.
func (tw *Evaluator) Apply(fn value.Value, args []value.Value) (value.Value, error) {
	return tw.applyValue(fn, args, 0)
}

// ApplyTreeWalk is the half of the cross-backend bridge the VM calls
// into when it needs to invoke a tree-walk-backed closure.
func (tw *Evaluator) ApplyTreeWalk(fn *value.Fn, args []value.Value) (value.Value, error) {
	return tw.applyValue(fn, args, 0)
}

func (tw *Evaluator) applyValue(callee value.Value, args []value.Value, depth int) (value.Value, error) {
	if depth > maxCallDepth {
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "call stack depth exceeded", ast.Pos{})
	}
	switch fn := callee.(type) {
	case *value.BuiltinFn:
		return fn.Impl(tw.env, args)
	case *value.Fn:
		switch fn.BackendKind {
		case value.FnTreeWalk:
			return tw.callClosure(fn, args, depth)
		case value.FnBytecode:
			d, ok := tw.env.Dispatcher.(interface {
				ApplyBytecode(fn *value.Fn, args []value.Value) (value.Value, error)
			})
			if !ok {
				return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "no bytecode dispatcher configured for cross-backend call", ast.Pos{})
			}
			return d.ApplyBytecode(fn, args)
		}
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "fn has unknown backend kind", ast.Pos{})
	case *value.VarRef:
		return tw.applyValue(fn.Deref(), args, depth)
	case *value.Keyword:
		return keywordLookup(fn, args)
	default:
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, value.Inspect(callee)+" is not callable", ast.Pos{})
	}
}

func (tw *Evaluator) callClosure(fn *value.Fn, args []value.Value, depth int) (value.Value, error) {
	cl, ok := fn.Extra.(*twClosure)
	if !ok {
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "tree-walk fn missing closure payload", ast.Pos{})
	}
	arity, ok := selectTWArity(cl.arities, len(args))
	if !ok {
		return nil, runtime.NewError(runtime.ArityError, runtime.PhaseEval,
			fnLabel(cl.name)+": no matching arity for given argument count", ast.Pos{})
	}

	f := newFrame(cl.captured)
	for i, idx := range arity.ParamIdx {
		f.set(idx, args[i])
	}
	if arity.Variadic {
		rest := args[len(arity.ParamIdx):]
		f.set(arity.RestIdx, value.ListFrom(append([]value.Value{}, rest...)))
	}
	if arity.SelfIdx >= 0 {
		f.set(arity.SelfIdx, fn)
	}

	for {
		result, err := tw.evalBody(arity.Body, f, cl.definingNS, depth+1)
		if err == nil {
			return result, nil
		}
		rs, ok := err.(*recurSignal)
		if !ok {
			return nil, err
		}
		for i, idx := range arity.ParamIdx {
			f.set(idx, rs.args[i])
		}
		if arity.Variadic {
			rest := rs.args[len(arity.ParamIdx):]
			f.set(arity.RestIdx, value.ListFrom(append([]value.Value{}, rest...)))
		}
	}
}

func fnLabel(name string) string {
	if name != "" {
		return name
	}
	return "fn"
}

func (tw *Evaluator) evalBody(body []ast.Node, f *frame, ns string, depth int) (value.Value, error) {
	var result value.Value = value.Nil
	for _, n := range body {
		v, err := tw.eval(n, f, ns, depth)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

// eval dispatches one analyzed node. ns is the DefiningNS in effect for
// unqualified Var lookups (fixed at closure-creation time, mirroring
// vm.FnProto.DefiningNS); depth is the Go-call recursion counter.
func (tw *Evaluator) eval(node ast.Node, f *frame, ns string, depth int) (value.Value, error) {
	switch n := node.(type) {
	case *ast.Constant:
		return n.Value.(value.Value), nil
	case *ast.Quote:
		return n.Value.(value.Value), nil

	case *ast.LocalRef:
		target := f.ancestor(n.Depth)
		if target == nil {
			return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "local reference escaped its frame: "+n.Name, ast.Pos{})
		}
		return target.get(n.Idx), nil

	case *ast.VarRef:
		targetNS := tw.nsFor(ns)
		v, ok := tw.env.Resolve(targetNS, n.Namespace, n.Name)
		if !ok {
			return nil, throwable(tw.env, runtime.NewError(runtime.NameError, runtime.PhaseEval,
				"unable to resolve symbol: "+qualifiedName(n.Namespace, n.Name), n.Position()))
		}
		return v.Deref(), nil

	case *ast.If:
		cond, err := tw.eval(n.Test, f, ns, depth)
		if err != nil {
			return nil, err
		}
		if value.Truthy(cond) {
			return tw.eval(n.Then, f, ns, depth)
		}
		if n.Else == nil {
			return value.Nil, nil
		}
		return tw.eval(n.Else, f, ns, depth)

	case *ast.Do:
		return tw.evalBody(n.Body, f, ns, depth)

	case *ast.Let, *ast.Letfn:
		return tw.evalLet(n, f, ns, depth)

	case *ast.Loop:
		return tw.evalLoop(n, f, ns, depth)

	case *ast.Recur:
		args := make([]value.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := tw.eval(a, f, ns, depth)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return nil, &recurSignal{args: args}

	case *ast.Fn:
		arities := make([]*ast.Arity, len(n.Arities))
		for i := range n.Arities {
			arities[i] = &n.Arities[i]
		}
		return &value.Fn{
			Name:        n.Name,
			BackendKind: value.FnTreeWalk,
			Extra:       &twClosure{name: n.Name, arities: arities, captured: f, definingNS: ns},
			DefiningNS:  ns,
		}, nil

	case *ast.Call:
		calleeVal, err := tw.eval(n.Callee, f, ns, depth)
		if err != nil {
			return nil, err
		}
		args := make([]value.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := tw.eval(a, f, ns, depth)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		result, err := tw.applyValue(calleeVal, args, depth+1)
		if err != nil {
			return nil, throwable(tw.env, err)
		}
		return result, nil

	case *ast.Def:
		return tw.evalDef(n, f, ns, depth)

	case *ast.SetBang:
		val, err := tw.eval(n.Expr, f, ns, depth)
		if err != nil {
			return nil, err
		}
		targetNS := tw.nsFor(ns)
		v, ok := tw.env.Resolve(targetNS, n.VarNamespace, n.VarName)
		if !ok {
			return nil, throwable(tw.env, runtime.NewError(runtime.NameError, runtime.PhaseEval,
				"unable to resolve symbol: "+qualifiedName(n.VarNamespace, n.VarName), n.Position()))
		}
		if !v.Set(val) {
			return nil, throwable(tw.env, runtime.NewError(runtime.ValueError, runtime.PhaseEval,
				"set! on a var that is not dynamically bound: "+n.VarName, n.Position()))
		}
		return val, nil

	case *ast.Throw:
		v, err := tw.eval(n.Expr, f, ns, depth)
		if err != nil {
			return nil, err
		}
		return nil, &thrown{v: v}

	case *ast.Try:
		return tw.evalTry(n, f, ns, depth)

	case *ast.LazySeqNode:
		body, cns, cf, cdepth := n.Body, ns, f, depth
		return value.NewLazy(func() (value.Value, error) { return tw.evalBody(body, cf, cns, cdepth+1) }), nil

	case *ast.DefMulti:
		dispatch, err := tw.eval(n.DispatchFn, f, ns, depth)
		if err != nil {
			return nil, err
		}
		tw.env.DefMultimethod(tw.nsFor(ns), n.Name, dispatch)
		return value.Nil, nil

	case *ast.DefMethod:
		dispatchVal, err := tw.eval(n.DispatchVal, f, ns, depth)
		if err != nil {
			return nil, err
		}
		fnVal, err := tw.eval(n.Fn, f, ns, depth)
		if err != nil {
			return nil, err
		}
		mm, ok := tw.env.Multimethod(n.Name)
		if !ok {
			return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "defmethod on unknown multimethod "+n.Name, n.Position())
		}
		methodFn, ok := fnVal.(*value.Fn)
		if !ok {
			return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "defmethod body must be a fn", n.Position())
		}
		mm.AddMethod(runtime.DispatchKeyOf(dispatchVal), methodFn)
		return fnVal, nil

	case *ast.DefProtocol:
		names := make([]string, len(n.Methods))
		for i, m := range n.Methods {
			names[i] = m.Name
		}
		tw.env.DefProtocol(tw.nsFor(ns), n.Name, names)
		return value.Nil, nil

	case *ast.ExtendType:
		methods := make(map[string]*value.Fn, len(n.Methods))
		for _, m := range n.Methods {
			fnVal, err := tw.eval(m.Fn, f, ns, depth)
			if err != nil {
				return nil, err
			}
			methodFn, ok := fnVal.(*value.Fn)
			if !ok {
				return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "extend-type method "+m.Name+" must be a fn", n.Position())
			}
			methods[m.Name] = methodFn
		}
		if err := tw.env.ExtendType(n.TypeName, n.Protocol, methods); err != nil {
			return nil, throwable(tw.env, err)
		}
		return value.Nil, nil

	default:
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "tree-walk evaluator: unhandled node type", node.Position())
	}
}

func (tw *Evaluator) evalLet(node ast.Node, f *frame, ns string, depth int) (value.Value, error) {
	var bindings []ast.Binding
	var body []ast.Node
	switch n := node.(type) {
	case *ast.Let:
		bindings, body = n.Bindings, n.Body
	case *ast.Letfn:
		bindings, body = n.Bindings, n.Body
	}
	for _, b := range bindings {
		v, err := tw.eval(b.Init, f, ns, depth)
		if err != nil {
			return nil, err
		}
		f.set(b.Idx, v)
	}
	return tw.evalBody(body, f, ns, depth)
}

func (tw *Evaluator) evalLoop(n *ast.Loop, f *frame, ns string, depth int) (value.Value, error) {
	for _, b := range n.Bindings {
		v, err := tw.eval(b.Init, f, ns, depth)
		if err != nil {
			return nil, err
		}
		f.set(b.Idx, v)
	}
	for {
		result, err := tw.evalBody(n.Body, f, ns, depth)
		if err == nil {
			return result, nil
		}
		rs, ok := err.(*recurSignal)
		if !ok {
			return nil, err
		}
		for i, b := range n.Bindings {
			f.set(b.Idx, rs.args[i])
		}
	}
}

func (tw *Evaluator) evalTry(n *ast.Try, f *frame, ns string, depth int) (result value.Value, rerr error) {
	runFinally := func() error {
		if len(n.Finally) == 0 {
			return nil
		}
		_, err := tw.evalBody(n.Finally, f, ns, depth)
		return err
	}

	result, err := tw.evalBody(n.Body, f, ns, depth)
	if err == nil {
		if ferr := runFinally(); ferr != nil {
			return nil, ferr
		}
		return result, nil
	}

	t, ok := err.(*thrown)
	if !ok {
		if ferr := runFinally(); ferr != nil {
			return nil, ferr
		}
		return nil, err
	}

	for _, c := range n.Catches {
		if !runtime.ClassMatches(c.ClassName, t.v) {
			continue
		}
		f.set(c.BindIdx, t.v)
		cresult, cerr := tw.evalBody(c.Body, f, ns, depth)
		if ferr := runFinally(); ferr != nil {
			return nil, ferr
		}
		return cresult, cerr
	}
	if ferr := runFinally(); ferr != nil {
		return nil, ferr
	}
	return nil, t
}

func (tw *Evaluator) evalDef(n *ast.Def, f *frame, ns string, depth int) (value.Value, error) {
	nsObj := tw.nsFor(ns)
	v := nsObj.Intern(n.Name)
	if n.Init != nil {
		val, err := tw.eval(n.Init, f, ns, depth)
		if err != nil {
			return nil, err
		}
		v.SetRoot(val)
		if asFn, ok := val.(*value.Fn); ok {
			tw.env.Retain(asFn)
		}
	}
	v.SetMacro(n.IsMacro)
	v.SetDynamic(n.IsDynamic)
	v.IsPrivate = n.IsPrivate
	v.Doc = n.Doc
	v.ArgLists = n.ArgLists
	return value.NewVarRef(v, nsObj.Name, n.Name), nil
}

// keywordLookup implements keywords-as-functions: `(:k coll)` and
// `(:k coll default)` desugar to `(get coll :k)`/`(get coll :k
// default)` (spec.md §4.8/§9), the idiom defmulti dispatch functions
// like `:shape` rely on.
func keywordLookup(kw *value.Keyword, args []value.Value) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, runtime.NewError(runtime.ArityError, runtime.PhaseEval, "keyword call requires 1 or 2 arguments", ast.Pos{})
	}
	notFound := value.Nil
	if len(args) == 2 {
		notFound = args[1]
	}
	return value.Get(args[0], kw, notFound), nil
}

func (tw *Evaluator) nsFor(name string) *runtime.Namespace {
	if name == "" {
		return tw.env.CurrentNamespace()
	}
	return tw.env.FindOrCreateNamespace(name)
}

func qualifiedName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "/" + name
}
