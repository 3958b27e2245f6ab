package treewalk

import (
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/value"
)

// frame is one function invocation's lexical scope: a flat, lazily-grown
// local slot array (ast.Binding/ast.LocalRef indices are assigned by the
// analyzer against a per-function flat counter, the same scheme
// internal/vm compiles against) plus a pointer to the enclosing
// function's frame so a LocalRef with Depth > 0 can walk out to an
// upvalue without the compiler's explicit capture-list bookkeeping the
// bytecode backend needs — the tree-walker just follows Go pointers.
type frame struct {
	locals []value.Value
	parent *frame
}

func newFrame(parent *frame) *frame { return &frame{parent: parent} }

func (f *frame) get(idx int) value.Value {
	if idx < len(f.locals) {
		return f.locals[idx]
	}
	return value.Nil
}

func (f *frame) set(idx int, v value.Value) {
	for len(f.locals) <= idx {
		f.locals = append(f.locals, value.Nil)
	}
	f.locals[idx] = v
}

func (f *frame) ancestor(depth int) *frame {
	for ; depth > 0 && f != nil; depth-- {
		f = f.parent
	}
	return f
}

// twClosure is the tree-walk backend's value.Fn.Extra payload: the
// closure's arities plus the lexical frame chain captured at definition
// time (value-sharing, not value-copying — mutation of an outer atom is
// still observed, but Lumen's only mutable cell is the atom itself, so
// this never lets two closures alias the same local slot unexpectedly).
type twClosure struct {
	name       string
	arities    []*ast.Arity
	captured   *frame
	definingNS string
}

// selectTWArity mirrors vm.selectArity's tie-break rule (exact arity
// first, then the variadic arity with the largest fixed prefix that
// still admits argc) against a tree-walk closure's arity list.
func selectTWArity(arities []*ast.Arity, argc int) (*ast.Arity, bool) {
	for _, a := range arities {
		if !a.Variadic && len(a.Params) == argc {
			return a, true
		}
	}
	var best *ast.Arity
	for _, a := range arities {
		if !a.Variadic {
			continue
		}
		if argc >= len(a.Params) && (best == nil || len(a.Params) > len(best.Params)) {
			best = a
		}
	}
	if best != nil {
		return best, true
	}
	return nil, false
}
