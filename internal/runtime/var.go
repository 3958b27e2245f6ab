package runtime

import (
	"sync"

	"github.com/lumen-run/lumen/internal/value"
)

// Var is spec.md §3.2's mutable cell: a root value plus flags, owned by
// its defining namespace. It implements value.VarLike so first-class
// `#'sym` references (value.VarRef) can deref it without runtime
// importing back into value or value importing runtime.
type Var struct {
	mu        sync.Mutex
	Namespace string
	Name      string
	root      value.Value
	isMacro   bool
	isDynamic bool
	IsPrivate bool
	IsConst   bool
	Doc       string
	ArgLists  string

	// dynStack is the thread-local (here: call-stack-local) rebinding
	// stack for dynamic vars, pushed/popped through PushBinding and
	// PopBinding; empty when not currently rebound.
	dynStack []value.Value
}

func NewVar(ns, name string, root value.Value) *Var {
	return &Var{Namespace: ns, Name: name, root: root}
}

func (v *Var) VarNamespace() string { return v.Namespace }
func (v *Var) VarName() string      { return v.Name }
func (v *Var) IsMacro() bool        { return v.isMacro }
func (v *Var) IsDynamic() bool      { return v.isDynamic }
func (v *Var) SetMacro(b bool)      { v.isMacro = b }
func (v *Var) SetDynamic(b bool)    { v.isDynamic = b }

func (v *Var) Deref() value.Value {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.dynStack) > 0 {
		return v.dynStack[len(v.dynStack)-1]
	}
	return v.root
}

func (v *Var) SetRoot(val value.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.root = val
}

// Set implements `set!`: valid only on a dynamic var that is currently
// thread-bound (spec.md §9 Open Questions, resolved: otherwise a
// value_error, decided in DESIGN.md).
func (v *Var) Set(val value.Value) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.dynStack) == 0 {
		return false
	}
	v.dynStack[len(v.dynStack)-1] = val
	return true
}

func (v *Var) PushBinding(val value.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dynStack = append(v.dynStack, val)
}

func (v *Var) PopBinding() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.dynStack) > 0 {
		v.dynStack = v.dynStack[:len(v.dynStack)-1]
	}
}
