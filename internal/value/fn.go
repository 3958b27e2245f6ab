package value

import "fmt"

// FnKind discriminates which backend produced a closure's code, so the
// VM and the tree-walk evaluator can each recognize when a call needs to
// cross into the other backend via the bridge (spec.md §4.6, §4.9).
type FnKind uint8

const (
	FnBytecode FnKind = iota
	FnTreeWalk
)

// BytecodeProto is satisfied by vm.FnProto. value can't import vm
// (vm imports value for the Value interface), so this marker interface
// lets Fn carry a compiled proto without an import cycle; the VM type-
// asserts back to *vm.FnProto when it owns the call.
type BytecodeProto interface {
	Arity() int
	IsVariadic() bool
}

// TreeWalkProto is satisfied by ast.Arity wrapped with its closure's
// captured environment; kept as interface{} here deliberately — the
// tree-walk evaluator and bridge are the only consumers and they know
// the concrete shape (*ast.Fn plus captured bindings), stored in Extra.

// Fn is the `fn_val` variant: a closure over zero or more arities.
type Fn struct {
	Name         string
	BackendKind  FnKind
	Proto        BytecodeProto // non-nil when BackendKind == FnBytecode
	Extra        interface{}   // tree-walk proto (ast.Fn) + captured env, opaque here
	ClosedOver   []Value       // captured upvalues/locals, in capture order
	DefiningNS   string        // unqualified var lookups in the body resolve here
	Meta         Value
	ExtraArities []*Fn // additional arity bodies sharing this Fn's identity for multi-arity dispatch
}

func (f *Fn) Kind() Type { return TFn }

func (f *Fn) Inspect() string {
	if f.Name != "" {
		return fmt.Sprintf("#<fn %s>", f.Name)
	}
	return "#<fn>"
}

func (f *Fn) Hash() uint32 { return uint32(uintptr(0)) ^ fnv32(f.Name) }

// BuiltinImpl is a host-native function: `(Allocator, args) -> Value`.
// The allocator here is represented as the runtime.Environment pointer,
// injected as interface{} to avoid value importing runtime; callers in
// internal/runtime and internal/corelib type-assert to *runtime.Environment.
type BuiltinImpl func(env interface{}, args []Value) (Value, error)

type BuiltinFn struct {
	Name string
	Impl BuiltinImpl
}

func (b *BuiltinFn) Kind() Type      { return TBuiltinFn }
func (b *BuiltinFn) Inspect() string { return fmt.Sprintf("#<builtin-fn %s>", b.Name) }
func (b *BuiltinFn) Hash() uint32    { return fnv32(b.Name) }

func NewBuiltin(name string, impl BuiltinImpl) *BuiltinFn {
	return &BuiltinFn{Name: name, Impl: impl}
}
