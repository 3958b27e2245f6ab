package runtime

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/value"
)

// ErrorKind is spec.md §4.2/§7's 12-kind taxonomy.
type ErrorKind uint8

const (
	SyntaxError ErrorKind = iota
	NumberError
	StringError
	NameError
	ArityError
	ValueError
	TypeError
	ArithmeticError
	IndexError
	IOError
	InternalError
	OutOfMemoryError
)

func (k ErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "syntax_error"
	case NumberError:
		return "number_error"
	case StringError:
		return "string_error"
	case NameError:
		return "name_error"
	case ArityError:
		return "arity_error"
	case ValueError:
		return "value_error"
	case TypeError:
		return "type_error"
	case ArithmeticError:
		return "arithmetic_error"
	case IndexError:
		return "index_error"
	case IOError:
		return "io_error"
	case InternalError:
		return "internal_error"
	case OutOfMemoryError:
		return "out_of_memory"
	}
	return "unknown_error"
}

type Phase uint8

const (
	PhaseParse Phase = iota
	PhaseAnalysis
	PhaseMacroexpand
	PhaseEval
)

func (p Phase) String() string {
	switch p {
	case PhaseParse:
		return "parse"
	case PhaseAnalysis:
		return "analysis"
	case PhaseMacroexpand:
		return "macroexpand"
	case PhaseEval:
		return "eval"
	}
	return "unknown"
}

// LumenError is a machine-detected error: kind, phase, message, and
// source location (spec.md §4.2, §7). It implements Go's error
// interface so it composes with fmt.Errorf("...: %w", err) the way
// funxy's internal/vm/vm.go wraps its sentinel errors.
type LumenError struct {
	Kind    ErrorKind
	Phase   Phase
	Message string
	Pos     ast.Pos
	Stack   []Frame
}

func (e *LumenError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%s (%s): %s at %s:%d:%d", e.Kind, e.Phase, e.Message, e.Pos.File, e.Pos.Line, e.Pos.Column)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Phase, e.Message)
}

func NewError(kind ErrorKind, phase Phase, msg string, pos ast.Pos) *LumenError {
	return &LumenError{Kind: kind, Phase: phase, Message: msg, Pos: pos}
}

// ToValue represents a machine error as a thrown value: an ex-info-style
// map carrying :message and :type, so `catch` clauses can match it the
// same way they match a user-thrown map (spec.md §4.2's "errors are
// thrown as ordinary values" resolution of the host-error/user-error
// unification open question).
func (e *LumenError) ToValue(in *Interner) value.Value {
	return value.ArrayMapFrom([]value.Value{
		in.Keyword("", "type"), in.Keyword("", e.Kind.String()),
		in.Keyword("", "message"), value.NewString(e.Message),
		in.Keyword("", "phase"), value.NewString(e.Phase.String()),
	})
}

// ExceptionClass reports the catch-matching class tag for a thrown value:
// a map's :type keyword if present (ex-info style), otherwise its runtime
// Kind name.
func ExceptionClass(v value.Value) string {
	if m, ok := v.(value.Associative); ok {
		if t, ok := m.Get(value.NewKeyword("", "type")); ok {
			if kw, ok := t.(*value.Keyword); ok {
				return kw.Name
			}
		}
	}
	return v.Kind().String()
}

// ClassMatches reports whether a `catch` clause's class symbol matches
// a thrown value. No class (`""`, a bare binding with no class symbol)
// and `Exception` both match unconditionally — every value this
// runtime throws (an ex-info map, a machine LumenError's ToValue map,
// or a bare thrown value) is exception-shaped, so `Exception` is the
// conventional catch-anything root rather than one more specific tag
// to compare against ExceptionClass. Anything else requires an exact
// match.
func ClassMatches(className string, v value.Value) bool {
	return className == "" || className == "Exception" || className == ExceptionClass(v)
}

// Frame is one call-stack entry captured for error traces and `try`
// snapshots (spec.md §4.2).
type Frame struct {
	FnName    string
	Namespace string
	File      string
	Line      int
	Column    int
}

// maxStackDepth bounds the call-stack trace; pushes beyond it are
// dropped silently (spec.md §4.2: "bounded depth, drop silently when full").
const maxStackDepth = 2048

// ErrorContext is per-session state (spec.md §4.2, §9 "move them into an
// ErrorContext instance owned by the environment; never reintroduce
// process-wide storage"): the current machine error, a bounded call
// stack, and the last N argument source locations for pinpointing the
// offending argument in an arity/type error.
type ErrorContext struct {
	current   *LumenError
	stack     []Frame
	argLocs   []ast.Pos
	maxArgLoc int
}

func NewErrorContext() *ErrorContext {
	return &ErrorContext{maxArgLoc: 8}
}

// Set overwrites the current error (spec.md §4.2: "set overwrites").
func (ec *ErrorContext) Set(err *LumenError) {
	err.Stack = append([]Frame{}, ec.stack...)
	ec.current = err
}

// Get reads and clears the current error (spec.md §4.2: "get reads-and-clears").
func (ec *ErrorContext) Get() *LumenError {
	e := ec.current
	ec.current = nil
	return e
}

func (ec *ErrorContext) Push(f Frame) {
	if len(ec.stack) >= maxStackDepth {
		return
	}
	ec.stack = append(ec.stack, f)
}

func (ec *ErrorContext) Pop() {
	if len(ec.stack) > 0 {
		ec.stack = ec.stack[:len(ec.stack)-1]
	}
}

func (ec *ErrorContext) Depth() int { return len(ec.stack) }

func (ec *ErrorContext) Snapshot() []Frame {
	return append([]Frame{}, ec.stack...)
}

func (ec *ErrorContext) PushArgLoc(pos ast.Pos) {
	ec.argLocs = append(ec.argLocs, pos)
	if len(ec.argLocs) > ec.maxArgLoc {
		ec.argLocs = ec.argLocs[len(ec.argLocs)-ec.maxArgLoc:]
	}
}

func (ec *ErrorContext) LastArgLoc() (ast.Pos, bool) {
	if len(ec.argLocs) == 0 {
		return ast.Pos{}, false
	}
	return ec.argLocs[len(ec.argLocs)-1], true
}
