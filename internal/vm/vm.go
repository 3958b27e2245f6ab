package vm

import (
	"fmt"
	"math"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/config"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// maxCallDepth bounds recursive Lumen calls (each one a nested Go call to
// VM.call); a Lumen-level stack overflow becomes an ordinary evaluation
// error instead of a Go runtime crash, mirroring the bounded recursion
// depth spec.md §4.2 requires of the tree-walk evaluator too. Shared
// with internal/treewalk via internal/config so both backends fail at
// the same Lumen-level recursion depth.
const maxCallDepth = config.MaxCallDepth

// thrownError is the in-flight-exception carrier that threads an ordinary
// Go error return through however many nested frame.runFrame calls
// separate the `throw`/failing op from the `try` that catches it (one
// Lumen try can catch an exception raised deep inside a callee it
// invoked). It is never sentinel-compared; runFrame type-asserts it to
// decide whether its own frame's handler stack can absorb it.
type thrownError struct {
	v value.Value
}

func (t *thrownError) Error() string { return "uncaught exception: " + value.Inspect(t.v) }

// Value returns the thrown payload, for callers (pkg/lumen, tests) that
// want to inspect what was thrown rather than just its string form.
func (t *thrownError) Value() value.Value { return t.v }

// throwable normalizes any error surfacing during instruction execution
// into a *thrownError so it can be caught by a catch clause the same way
// an explicit `throw` would be: a runtime.LumenError becomes its ex-info
// value via ToValue, a plain Go error becomes a bare string payload.
func (vm *VM) throwable(err error) error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*thrownError); ok {
		return te
	}
	if le, ok := err.(*runtime.LumenError); ok {
		return &thrownError{v: le.ToValue(vm.env.Interner)}
	}
	return &thrownError{v: value.NewString(err.Error())}
}

// handler is one live `try`'s catch entry: the byte offset OpCatchTest
// resumes at, and the operand-stack depth to restore to before the
// thrown value is pushed for it (spec.md §4.6: "sp is restored to
// saved_sp, the exception value is pushed").
type handler struct {
	sp int
	ip int
}

// frame is one call's mutable execution state: its compiled code, its
// flat local-slot array, the upvalues it closed over, the instruction
// pointer, this call's own operand stack, and its try-handler stack.
// The operand stack lives on the frame (not a local in runFrameOnce) so
// it survives across the repeated runFrameOnce invocations runFrame
// makes while unwinding to and resuming from a handler.
type frame struct {
	proto    *FnProto
	locals   []value.Value
	upvalues []value.Value
	ip       int
	stack    []value.Value
	handlers []handler
	depth    int
}

// VM executes compiled Chunks. It implements value.Applier so builtins,
// multimethod/protocol dispatch, and lazy-seq realization can call back
// into compiled Lumen code uniformly.
type VM struct {
	env *runtime.Environment
}

func New(env *runtime.Environment) *VM {
	vm := &VM{env: env}
	env.Applier = vm
	return vm
}

// Run invokes a zero-arg top-level proto (spec.md §4.9's module-body
// evaluation), typically one produced by Compiler.CompileProgram.
func (vm *VM) Run(proto *FnProto) (value.Value, error) {
	fn := &value.Fn{Name: proto.Name, BackendKind: value.FnBytecode, Proto: proto, DefiningNS: proto.DefiningNS}
	return vm.call(fn, nil, 0)
}

// Apply implements value.Applier.
func (vm *VM) Apply(fn value.Value, args []value.Value) (value.Value, error) {
	return vm.call(fn, args, 0)
}

func (vm *VM) errf(kind runtime.ErrorKind, format string, a ...interface{}) error {
	return runtime.NewError(kind, runtime.PhaseEval, fmt.Sprintf(format, a...), ast.Pos{})
}

// call dispatches a Value as something callable: a BuiltinFn, a
// bytecode *value.Fn (selecting the matching arity), or a tree-walk
// *value.Fn (crossing the bridge via env.Dispatcher).
func (vm *VM) call(callee value.Value, args []value.Value, depth int) (value.Value, error) {
	if depth > maxCallDepth {
		return nil, vm.errf(runtime.InternalError, "call stack depth exceeded")
	}
	switch fn := callee.(type) {
	case *value.BuiltinFn:
		return fn.Impl(vm.env, args)
	case *value.Fn:
		switch fn.BackendKind {
		case value.FnBytecode:
			return vm.callBytecode(fn, args, depth)
		case value.FnTreeWalk:
			d, ok := vm.env.Dispatcher.(interface {
				ApplyTreeWalk(fn *value.Fn, args []value.Value) (value.Value, error)
			})
			if !ok {
				return nil, vm.errf(runtime.InternalError, "no tree-walk dispatcher configured for cross-backend call")
			}
			return d.ApplyTreeWalk(fn, args)
		}
		return nil, vm.errf(runtime.InternalError, "fn has unknown backend kind")
	case *value.VarRef:
		return vm.call(fn.Deref(), args, depth)
	case *value.Keyword:
		return keywordLookup(fn, args)
	default:
		return nil, vm.errf(runtime.TypeError, "%s is not callable", value.Inspect(callee))
	}
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

func (vm *VM) callBytecode(fn *value.Fn, args []value.Value, depth int) (value.Value, error) {
	arity, err := selectArity(fn, len(args))
	if err != nil {
		return nil, err
	}
	proto := arity.Proto.(*FnProto)

	locals := make([]value.Value, proto.NumLocals)
	for i := range locals {
		locals[i] = value.Nil
	}
	for i, slot := range proto.ParamSlots {
		locals[slot] = args[i]
	}
	if proto.IsVariadic() {
		rest := args[len(proto.ParamSlots):]
		locals[proto.RestSlot] = value.ListFrom(append([]value.Value{}, rest...))
	}
	if proto.SelfSlot >= 0 {
		locals[proto.SelfSlot] = fn
	}

	f := &frame{proto: proto, locals: locals, upvalues: arity.ClosedOver, depth: depth}
	return vm.runFrame(f)
}

// selectArity picks which arity of fn matches argc, exact arities first,
// then the variadic arity with the largest fixed prefix that still fits
// (spec.md §9 Open Question on arity tie-break, resolved this way).
func selectArity(fn *value.Fn, argc int) (*value.Fn, error) {
	candidates := make([]*value.Fn, 0, 1+len(fn.ExtraArities))
	candidates = append(candidates, fn)
	candidates = append(candidates, fn.ExtraArities...)

	for _, c := range candidates {
		proto, ok := c.Proto.(value.BytecodeProto)
		if !ok {
			continue
		}
		if !proto.IsVariadic() && proto.Arity() == argc {
			return c, nil
		}
	}
	var best *value.Fn
	bestArity := -1
	for _, c := range candidates {
		proto, ok := c.Proto.(value.BytecodeProto)
		if !ok || !proto.IsVariadic() {
			continue
		}
		if argc >= proto.Arity() && proto.Arity() > bestArity {
			best, bestArity = c, proto.Arity()
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, runtime.NewError(runtime.ArityError, runtime.PhaseEval,
		fmt.Sprintf("%s: no matching arity for %d argument(s)", fnLabel(fn), argc), ast.Pos{})
}

func fnLabel(fn *value.Fn) string {
	if fn.Name != "" {
		return fn.Name
	}
	return "fn"
}

// runFrame drives a frame's instructions to completion. When
// runFrameOnce surfaces a *thrownError and this frame still has a live
// handler, the operand stack is truncated back to the depth it held
// when that handler's OpPushHandler ran, the thrown value is pushed
// onto it, and the handler's byte offset is installed as the resume
// point — execution continues in the SAME frame rather than unwinding
// further, and with the SAME persistent f.stack, so values pushed
// before the `try` (e.g. a callee already on the stack for an
// enclosing call) survive the unwind instead of being discarded. This
// is how a `try` catches an exception raised by a callee many nested
// calls deep without any special-casing at the call site.
func (vm *VM) runFrame(f *frame) (value.Value, error) {
	for {
		result, err := vm.runFrameOnce(f)
		if err == nil {
			return result, nil
		}
		te, ok := err.(*thrownError)
		if !ok || len(f.handlers) == 0 {
			return nil, err
		}
		h := f.handlers[len(f.handlers)-1]
		f.handlers = f.handlers[:len(f.handlers)-1]
		f.stack = append(f.stack[:h.sp], te.v)
		f.ip = h.ip
	}
}

// runFrameOnce executes from f.ip until OpReturn or an error. Errors
// from ordinary evaluation failures (arithmetic, var resolution, nested
// calls) are normalized into *thrownError via vm.throwable so runFrame's
// handler stack can catch them exactly like an explicit `throw`. The
// operand stack (f.stack) is frame-persistent, not a local, so a
// handler resume (runFrame calling back in after truncating/pushing to
// it) picks up exactly where the unwound `try` body left the stack.
func (vm *VM) runFrameOnce(f *frame) (value.Value, error) {
	push := func(v value.Value) { f.stack = append(f.stack, v) }
	pop := func() value.Value {
		v := f.stack[len(f.stack)-1]
		f.stack = f.stack[:len(f.stack)-1]
		return v
	}
	popN := func(n int) []value.Value {
		out := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			out[i] = pop()
		}
		return out
	}

	chunk := f.proto.Chunk

	for f.ip < len(chunk.Code) {
		op, operands, next := chunk.readOp(f.ip)
		pos := chunk.posAt(f.ip)
		f.ip = next

		switch op {
		case OpNil:
			push(value.Nil)
		case OpTrue:
			push(value.True)
		case OpFalse:
			push(value.False)
		case OpConstant:
			push(chunk.Constants[operands[0]])

		case OpLoadLocal:
			push(f.locals[operands[0]])
		case OpStoreLocal:
			f.locals[operands[0]] = pop()
		case OpLoadUpvalue:
			push(f.upvalues[operands[0]])

		case OpLoadVar:
			ns := ""
			if operands[0] != noClass {
				ns = chunk.Constants[operands[0]].(*value.String).V
			}
			name := chunk.Constants[operands[1]].(*value.String).V
			targetNS := vm.nsFor(f.proto.DefiningNS)
			v, ok := vm.env.Resolve(targetNS, ns, name)
			if !ok {
				return nil, vm.throwable(vm.errf(runtime.NameError, "unable to resolve symbol: %s", qualifiedName(ns, name)))
			}
			push(v.Deref())

		case OpDefVar:
			spec := chunk.DefSpecs[operands[0]]
			val := pop()
			ns := vm.nsFor(f.proto.DefiningNS)
			v := ns.Intern(spec.Name)
			v.SetRoot(val)
			v.SetMacro(spec.IsMacro)
			v.SetDynamic(spec.IsDynamic)
			v.IsPrivate = spec.IsPrivate
			v.Doc = spec.Doc
			v.ArgLists = spec.ArgLists
			if asFn, ok := val.(*value.Fn); ok {
				vm.env.Retain(asFn)
			}
			push(value.NewVarRef(v, ns.Name, spec.Name))

		case OpSetVar:
			ns := ""
			if operands[0] != noClass {
				ns = chunk.Constants[operands[0]].(*value.String).V
			}
			name := chunk.Constants[operands[1]].(*value.String).V
			val := pop()
			targetNS := vm.nsFor(f.proto.DefiningNS)
			v, ok := vm.env.Resolve(targetNS, ns, name)
			if !ok {
				return nil, vm.throwable(vm.errf(runtime.NameError, "unable to resolve symbol: %s", qualifiedName(ns, name)))
			}
			if !v.Set(val) {
				return nil, vm.throwable(vm.errf(runtime.ValueError, "set! on a var that is not dynamically bound: %s", name))
			}
			push(val)

		case OpPop:
			pop()

		case OpJump:
			f.ip = operands[0]
		case OpJumpIfFalse:
			cond := pop()
			if !value.Truthy(cond) {
				f.ip = operands[0]
			}

		case OpCall:
			argc := operands[0]
			args := popN(argc)
			calleeVal := pop()
			result, err := vm.call(calleeVal, args, f.depth+1)
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(result)

		case OpReturn:
			return pop(), nil

		case OpMakeFn:
			proto := chunk.Protos[operands[0]]
			captures := popN(operands[1])
			push(&value.Fn{Name: proto.Name, BackendKind: value.FnBytecode, Proto: proto, ClosedOver: captures, DefiningNS: proto.DefiningNS})
		case OpAddArity:
			extra := pop().(*value.Fn)
			base := pop().(*value.Fn)
			base.ExtraArities = append(base.ExtraArities, extra)
			push(base)
		case OpLazySeq:
			proto := chunk.Protos[operands[0]]
			captures := popN(operands[1])
			thunkFn := &value.Fn{Name: "lazy-seq", BackendKind: value.FnBytecode, Proto: proto, ClosedOver: captures, DefiningNS: proto.DefiningNS}
			push(value.NewLazy(func() (value.Value, error) { return vm.call(thunkFn, nil, f.depth+1) }))

		case OpMakeVector:
			push(value.VectorFrom(popN(operands[0])))
		case OpMakeList:
			push(value.ListFrom(popN(operands[0])))
		case OpMakeMap:
			push(value.ArrayMapFrom(popN(2 * operands[0])))
		case OpMakeSet:
			push(value.SetFrom(popN(operands[0])))

		case OpThrow:
			return nil, &thrownError{v: pop()}
		case OpPushHandler:
			f.handlers = append(f.handlers, handler{sp: len(f.stack), ip: operands[0]})
		case OpPopHandler:
			if len(f.handlers) > 0 {
				f.handlers = f.handlers[:len(f.handlers)-1]
			}
		case OpCatchTest:
			top := f.stack[len(f.stack)-1]
			class := ""
			if operands[0] != noClass {
				class = chunk.Constants[operands[0]].(*value.String).V
			}
			push(value.Bool_(runtime.ClassMatches(class, top)))

		case OpDefMulti:
			spec := chunk.DefSpecs[operands[0]]
			dispatch := pop()
			vm.env.DefMultimethod(vm.nsFor(f.proto.DefiningNS), spec.Name, dispatch)
			push(value.Nil)
		case OpDefMethod:
			spec := chunk.DefSpecs[operands[0]]
			fnVal := pop()
			dispatchVal := pop()
			mm, ok := vm.env.Multimethod(spec.Name)
			if !ok {
				return nil, vm.throwable(vm.errf(runtime.InternalError, "defmethod on unknown multimethod %s", spec.Name))
			}
			fn, ok := fnVal.(*value.Fn)
			if !ok {
				return nil, vm.throwable(vm.errf(runtime.TypeError, "defmethod body must be a fn"))
			}
			mm.AddMethod(runtime.DispatchKeyOf(dispatchVal), fn)
			push(fnVal)
		case OpDefProtocol:
			spec := chunk.ProtocolSpecs[operands[0]]
			vm.env.DefProtocol(vm.nsFor(f.proto.DefiningNS), spec.Name, spec.Methods)
			push(value.Nil)
		case OpExtendType:
			spec := chunk.ExtendSpecs[operands[0]]
			fns := popN(len(spec.Methods))
			methods := make(map[string]*value.Fn, len(spec.Methods))
			for i, name := range spec.Methods {
				fn, ok := fns[i].(*value.Fn)
				if !ok {
					return nil, vm.throwable(vm.errf(runtime.TypeError, "extend-type method %s must be a fn", name))
				}
				methods[name] = fn
			}
			if err := vm.env.ExtendType(spec.TypeName, spec.Protocol, methods); err != nil {
				return nil, vm.throwable(err)
			}
			push(value.Nil)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpRem:
			b, a := pop(), pop()
			r, err := arith(op, a, b)
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(r)
		case OpLt, OpLe, OpGt, OpGe:
			b, a := pop(), pop()
			r, err := numCompare(op, a, b)
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(value.Bool_(r))
		case OpEq:
			b, a := pop(), pop()
			push(value.Bool_(value.Equals(a, b)))
		case OpNot:
			push(value.Bool_(!value.Truthy(pop())))

		case OpAddLL:
			r, err := arith(OpAdd, f.locals[operands[0]], f.locals[operands[1]])
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(r)
		case OpSubLL:
			r, err := arith(OpSub, f.locals[operands[0]], f.locals[operands[1]])
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(r)
		case OpLtLL:
			r, err := numCompare(OpLt, f.locals[operands[0]], f.locals[operands[1]])
			if err != nil {
				return nil, vm.throwable(err)
			}
			push(value.Bool_(r))

		default:
			return nil, vm.errf(runtime.InternalError, "unhandled opcode %d at %d:%d", op, pos.Line, pos.Column)
		}
	}
	return value.Nil, nil
}

func (vm *VM) nsFor(name string) *runtime.Namespace {
	if name == "" {
		return vm.env.CurrentNamespace()
	}
	return vm.env.FindOrCreateNamespace(name)
}

func qualifiedName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "/" + name
}

func asFloat(v value.Value) (float64, bool) {
	switch t := v.(type) {
	case *value.Int:
		return float64(t.V), true
	case *value.Float:
		return t.V, true
	}
	return 0, false
}

func bothInt(a, b value.Value) (int64, int64, bool) {
	ai, ok1 := a.(*value.Int)
	bi, ok2 := b.(*value.Int)
	if ok1 && ok2 {
		return ai.V, bi.V, true
	}
	return 0, 0, false
}

func arith(op Op, a, b value.Value) (value.Value, error) {
	if ai, bi, ok := bothInt(a, b); ok {
		switch op {
		case OpAdd:
			return value.NewInt(ai + bi), nil
		case OpSub:
			return value.NewInt(ai - bi), nil
		case OpMul:
			return value.NewInt(ai * bi), nil
		case OpDiv:
			if bi == 0 {
				return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
			}
			if ai%bi == 0 {
				return value.NewInt(ai / bi), nil
			}
			return value.NewFloat(float64(ai) / float64(bi)), nil
		case OpMod:
			if bi == 0 {
				return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
			}
			m := ai % bi
			if m != 0 && (m < 0) != (bi < 0) {
				m += bi
			}
			return value.NewInt(m), nil
		case OpRem:
			if bi == 0 {
				return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
			}
			return value.NewInt(ai % bi), nil
		}
	}
	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if !ok1 || !ok2 {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval,
			fmt.Sprintf("cannot apply arithmetic to %s and %s", value.Inspect(a), value.Inspect(b)), ast.Pos{})
	}
	switch op {
	case OpAdd:
		return value.NewFloat(af + bf), nil
	case OpSub:
		return value.NewFloat(af - bf), nil
	case OpMul:
		return value.NewFloat(af * bf), nil
	case OpDiv:
		if bf == 0 {
			return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
		}
		return value.NewFloat(af / bf), nil
	case OpMod:
		return value.NewFloat(math.Mod(math.Mod(af, bf)+bf, bf)), nil
	case OpRem:
		return value.NewFloat(math.Mod(af, bf)), nil
	}
	return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "bad arithmetic opcode", ast.Pos{})
}

func numCompare(op Op, a, b value.Value) (bool, error) {
	af, ok1 := asFloat(a)
	bf, ok2 := asFloat(b)
	if !ok1 || !ok2 {
		return false, runtime.NewError(runtime.TypeError, runtime.PhaseEval,
			fmt.Sprintf("cannot compare %s and %s", value.Inspect(a), value.Inspect(b)), ast.Pos{})
	}
	switch op {
	case OpLt:
		return af < bf, nil
	case OpLe:
		return af <= bf, nil
	case OpGt:
		return af > bf, nil
	case OpGe:
		return af >= bf, nil
	}
	return false, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "bad comparison opcode", ast.Pos{})
}
